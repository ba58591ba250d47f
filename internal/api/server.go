// Package api is the Query API: the local HTTP surface spec.md §6 defines,
// read by the external FUSE driver and WebDAV gateway (neither implemented
// here). It is a thin, mostly-stateless layer over the Projection, the Rule
// Config Store, and the State Builder.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jra3/metafs-projector/internal/cache"
	"github.com/jra3/metafs-projector/internal/metrics"
	"github.com/jra3/metafs-projector/internal/projection"
	"github.com/jra3/metafs-projector/internal/ruleconfig"
	"github.com/jra3/metafs-projector/internal/rules"
	"github.com/jra3/metafs-projector/internal/state"
)

// Logger is the minimal logging surface handlers need.
type Logger interface {
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
}

// FileAttrConfig is the OS-level presentation settings spec.md §6 lists
// (fileMode, dirMode, uid, gid) — the Tree itself is agnostic to these, so
// the API layer supplies them on every getattr call.
type FileAttrConfig struct {
	FileMode uint32
	DirMode  uint32
	UID      uint32
	GID      uint32
}

// Server wires the Projection, State Builder, and Rule Config Store into
// the REST surface. The current rule config (and any startup load error)
// lives behind cfgMu so a concurrent PUT
// /api/fuse/rules and a GET /api/fuse/rules see a consistent snapshot.
type Server struct {
	tree      *projection.Tree
	builder   *state.Builder
	ruleStore *ruleconfig.Store
	metrics   *metrics.Registry
	log       Logger
	attrs     FileAttrConfig
	startedAt time.Time

	cfgMu  sync.RWMutex
	cfg    rules.Config
	cfgErr error // non-nil if startup failed to load a rule config

	previewCache *cache.Cache[previewResponse]
}

// New builds a Server. Callers must call LoadInitialConfig or
// SetInitialConfig before Router serves traffic, and should wire
// OnExternalConfigChange as the fsnotify external-change callback.
func New(tree *projection.Tree, builder *state.Builder, ruleStore *ruleconfig.Store, reg *metrics.Registry, log Logger, attrs FileAttrConfig) *Server {
	return &Server{
		tree:         tree,
		builder:      builder,
		ruleStore:    ruleStore,
		metrics:      reg,
		log:          log,
		attrs:        attrs,
		startedAt:    time.Now(),
		previewCache: cache.New[previewResponse](10*time.Second, 64),
	}
}

// LoadInitialConfig reads the rule config store and wires the initial
// evaluator and relevance set, without triggering a refresh (the caller is
// expected to Bootstrap the State Builder against this relevance set
// directly, per spec.md §2's startup order).
func (s *Server) LoadInitialConfig() (rules.Config, rules.RelevanceSet, error) {
	cfg, err := s.ruleStore.GetRulesConfig()
	if err != nil {
		s.cfgMu.Lock()
		s.cfgErr = err
		s.cfgMu.Unlock()
		return rules.Config{}, nil, err
	}
	relevance := rules.ExtractRelevance(cfg)
	s.SetInitialConfig(cfg)
	return cfg, relevance, nil
}

// SetInitialConfig wires an already-loaded config (the caller read it once
// to build the Tree's and State Builder's initial evaluator/relevance
// before the Server existed) without re-reading the rule config store.
func (s *Server) SetInitialConfig(cfg rules.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	s.tree.SetEvaluator(rules.NewEvaluator(cfg))
}

func (s *Server) currentConfig() rules.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// ApplyRuleConfig implements spec.md §4.6/§4.4's save-then-refresh
// sequence: persist the config, recompute relevance, swap the evaluator,
// re-run the State Builder's bootstrap against the new relevance set, and
// prune the Projection down to exactly the fileIds the replay re-observed.
// It is the single path both PUT /api/fuse/rules and an external fsnotify
// edit funnel through.
func (s *Server) ApplyRuleConfig(ctx context.Context, cfg rules.Config) error {
	if err := s.ruleStore.SaveRulesConfig(cfg); err != nil {
		return fmt.Errorf("api: save rule config: %w", err)
	}
	return s.refreshFrom(ctx, cfg)
}

// refreshFrom swaps in cfg without writing it back to disk — used when an
// external fsnotify edit already landed the bytes on disk.
func (s *Server) refreshFrom(ctx context.Context, cfg rules.Config) error {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()

	relevance := rules.ExtractRelevance(cfg)
	s.tree.SetEvaluator(rules.NewEvaluator(cfg))
	s.previewCache.Clear()

	seen, err := s.builder.Refresh(ctx, relevance)
	if err != nil {
		return fmt.Errorf("api: refresh state: %w", err)
	}
	s.tree.PruneExcept(seen)
	s.tree.MarkRefreshed(time.Now())
	return nil
}

// OnExternalConfigChange is wired to ruleconfig.Store.WatchExternalChanges:
// an edit made outside the API (a human editing the JSON file directly)
// reloads and refreshes the same way a PUT would.
func (s *Server) OnExternalConfigChange() {
	cfg, err := s.ruleStore.GetRulesConfig()
	if err != nil {
		s.log.Warnf("api: reload after external rule edit failed: %v", err)
		return
	}
	if err := s.refreshFrom(context.Background(), cfg); err != nil {
		s.log.Warnf("api: refresh after external rule edit failed: %v", err)
	}
}

// Close stops the preview cache's background sweep goroutine. Callers
// should invoke it once, after Router has stopped serving traffic.
func (s *Server) Close() {
	s.previewCache.Stop()
}

// Router builds the chi mux for the full REST surface in spec.md §6.
// Mutating routes (refresh, rules PUT) are rate limited via httprate per
// SPEC_FULL.md's domain-stack wiring.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/fuse", func(fr chi.Router) {
		fr.Get("/stats", s.handleStats)
		fr.Post("/readdir", s.handleReaddir)
		fr.Post("/getattr", s.handleGetattr)
		fr.Post("/exists", s.handleExists)
		fr.Post("/read", s.handleRead)
		fr.Post("/metadata", s.handleMetadata)
		fr.Get("/files", s.handleFiles)
		fr.Get("/directories", s.handleDirectories)

		fr.Group(func(mr chi.Router) {
			mr.Use(httprate.LimitByIP(5, time.Minute))
			mr.Post("/refresh", s.handleRefresh)
			mr.Put("/rules", s.handleRulesPut)
		})

		fr.Get("/rules", s.handleRulesGet)
		fr.Post("/rules/preview", s.handleRulesPreview)
		fr.Post("/rules/validate", s.handleRulesValidate)
		fr.Get("/rules/variables", s.handleRulesVariables)
	})

	return r
}
