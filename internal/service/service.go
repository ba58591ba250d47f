// Package service wires the Store Client, Rule Config Store, State
// Builder, Projection, and Query API into one process, following the
// single-root-struct shape this codebase uses for its top-level
// filesystem type: one struct owning every subsystem, a constructor that
// wires them together, and Start/Close lifecycle methods.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jra3/metafs-projector/internal/api"
	"github.com/jra3/metafs-projector/internal/config"
	"github.com/jra3/metafs-projector/internal/logging"
	"github.com/jra3/metafs-projector/internal/metrics"
	"github.com/jra3/metafs-projector/internal/projection"
	"github.com/jra3/metafs-projector/internal/ruleconfig"
	"github.com/jra3/metafs-projector/internal/rules"
	"github.com/jra3/metafs-projector/internal/state"
	"github.com/jra3/metafs-projector/internal/store"
)

// Service owns every subsystem spec.md §2 lists, plus the HTTP server that
// exposes the Query API.
type Service struct {
	cfg *config.Config
	log zerolog.Logger

	client    *store.Client
	ruleStore *ruleconfig.Store
	tree      *projection.Tree
	builder   *state.Builder
	api       *api.Server
	httpSrv   *http.Server
}

// New wires every subsystem per spec.md §2's startup order: (1) obtain a
// store handle, (2) load rule config, (3) compute relevance, building the
// initial evaluator and Projection ahead of (4) bootstrap, which callers
// trigger via Start.
func New(cfg *config.Config, log zerolog.Logger) (*Service, error) {
	client, err := store.New(store.Config{URL: cfg.StoreURL})
	if err != nil {
		return nil, fmt.Errorf("service: connect to store: %w", err)
	}

	ruleStore, err := ruleconfig.New(cfg.ConfigDir, logging.Adapter{Log: log})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("service: open rule config store: %w", err)
	}

	initialCfg, err := ruleStore.GetRulesConfig()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("service: load rule config: %w", err)
	}

	tree := projection.New(cfg.FilesRoot, cfg.WebDAVBaseURL, rules.NewEvaluator(initialCfg))

	builder := state.New(client, rules.ExtractRelevance(initialCfg), state.Callbacks{
		OnFileComplete: tree.OnFileComplete,
		OnFileDelete:   tree.OnFileDelete,
	}, logging.Adapter{Log: log}, state.Config{})

	reg := metrics.NewRegistry(prometheus.NewRegistry(), func() metrics.TreeStats {
		st := tree.GetStats()
		return metrics.TreeStats{FileCount: st.FileCount, DirectoryCount: st.DirectoryCount, TotalSize: st.TotalSize}
	}, func() metrics.EventCounters {
		c := builder.Counters()
		return metrics.EventCounters{
			EventsProcessed:   c.EventsProcessed,
			PropertiesFetched: c.PropertiesFetched,
			PropertiesSkipped: c.PropertiesSkipped,
			FilesCompleted:    c.FilesCompleted,
		}
	})

	apiSrv := api.New(tree, builder, ruleStore, reg, logging.Adapter{Log: log}, api.FileAttrConfig{
		FileMode: cfg.FileMode,
		DirMode:  cfg.DirMode,
		UID:      cfg.UID,
		GID:      cfg.GID,
	})
	apiSrv.SetInitialConfig(initialCfg)

	svc := &Service{
		cfg:       cfg,
		log:       log,
		client:    client,
		ruleStore: ruleStore,
		tree:      tree,
		builder:   builder,
		api:       apiSrv,
	}

	if err := ruleStore.WatchExternalChanges(apiSrv.OnExternalConfigChange); err != nil {
		log.Warn().Err(err).Msg("rule config file watch disabled")
	}

	return svc, nil
}

// Start launches the State Builder's event-processing task and the Query
// API's HTTP server, per spec.md §2 steps 4-6: backlog replay, then live
// tail, with the API serving concurrently throughout.
func (s *Service) Start(ctx context.Context) error {
	s.builder.Start(ctx)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler:           s.api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("query API listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("service: http server: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the HTTP server, stops the State Builder, closes the
// rule config watcher, and disconnects from the store, in that order so
// in-flight requests drain before their dependencies disappear.
func (s *Service) Close(ctx context.Context) error {
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("http server shutdown")
		}
	}
	s.api.Close()
	s.builder.Stop()
	if err := s.ruleStore.Close(); err != nil {
		s.log.Warn().Err(err).Msg("rule config watcher close")
	}
	return s.client.Close()
}
