package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jra3/metafs-projector/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate configuration without connecting to the store",
	RunE:  runValidateConfig,
}

func init() {
	rootCmd.AddCommand(validateConfigCmd)
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Printf("config OK: filesRoot=%s storeUrl=%s apiHost=%s apiPort=%d configDir=%s\n",
		cfg.FilesRoot, cfg.StoreURL, cfg.APIHost, cfg.APIPort, cfg.ConfigDir)
	return nil
}
