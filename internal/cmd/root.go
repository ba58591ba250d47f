package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "metafsd",
	Short: "Project event-sourced file metadata into a virtual filesystem",
	Long:  `metafsd consumes an event-sourced metadata store and maintains an in-memory projection of files under user-configurable organized paths, serving lookups over a local HTTP Query API for an external FUSE driver and WebDAV gateway.`,
	// config.Load reads the config file path from METAFS_CONFIG, so --config
	// is passed through that variable.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if p, _ := cmd.Root().PersistentFlags().GetString("config"); p != "" {
			return os.Setenv("METAFS_CONFIG", p)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: ~/.config/metafs-projector/config.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
}
