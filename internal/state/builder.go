// Package state implements the State Builder: a stateful consumer of the
// event log that maintains an in-memory per-file property map and notifies
// the Projection when a file becomes complete, changes, or disappears.
//
// Its lifecycle mirrors a ticker-driven background worker this codebase
// already used for incremental synchronization — Start/Stop/Running plus a
// "drain the backlog, then keep polling" run loop — adapted here from a
// fixed-interval poll to a blocking stream read.
package state

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jra3/metafs-projector/internal/rules"
	"github.com/jra3/metafs-projector/internal/store"
)

// Callbacks is the Projection-facing notification set the State Builder
// emits events through, per spec.md §4.4.
type Callbacks struct {
	OnFileComplete   func(fileID string, props rules.PropertyMap)
	OnPropertyChange func(fileID, prop, value string)
	OnPropertyDelete func(fileID, prop string)
	OnFileDelete     func(fileID string)
}

// Logger is the minimal logging surface the Builder needs, satisfied by
// internal/logging's zerolog-backed logger or a test stub.
type Logger interface {
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
}

// Counters are the process-wide counters spec.md §4.4 and §9 require the
// State Builder to track, read by the metrics layer and /api/fuse/stats.
type Counters struct {
	EventsProcessed   int64
	PropertiesFetched int64
	PropertiesSkipped int64
	FilesCompleted    int64
}

// Builder is the State Builder.
type Builder struct {
	client    *store.Client
	streamKey string
	batchSize int64
	block     time.Duration
	callbacks Callbacks
	log       Logger

	relMu     sync.RWMutex
	relevance rules.RelevanceSet

	stateMu    sync.Mutex
	filesState map[string]rules.PropertyMap

	counterMu sync.Mutex
	counters  Counters

	lifecycleMu sync.RWMutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	bootstrapped chan struct{}

	lastMu  sync.RWMutex
	lastID  string

	refreshGroup singleflight.Group
}

// Config configures batch sizes and timeouts; zero values select spec.md's
// suggested defaults (batch 100, block 5s).
type Config struct {
	StreamKey string
	BatchSize int64
	Block     time.Duration
}

// New builds a State Builder bound to a Store Client.
func New(client *store.Client, relevance rules.RelevanceSet, callbacks Callbacks, log Logger, cfg Config) *Builder {
	if cfg.StreamKey == "" {
		cfg.StreamKey = "meta:events"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return &Builder{
		client:       client,
		streamKey:    cfg.StreamKey,
		batchSize:    cfg.BatchSize,
		block:        cfg.Block,
		callbacks:    callbacks,
		log:          log,
		relevance:    relevance,
		filesState:   make(map[string]rules.PropertyMap),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		bootstrapped: make(chan struct{}),
	}
}

// SetRelevance swaps the relevance set used to filter incoming set events,
// called whenever the rule config changes.
func (b *Builder) SetRelevance(set rules.RelevanceSet) {
	b.relMu.Lock()
	defer b.relMu.Unlock()
	b.relevance = set
}

func (b *Builder) relevanceSet() rules.RelevanceSet {
	b.relMu.RLock()
	defer b.relMu.RUnlock()
	return b.relevance
}

// Start launches the bootstrap-then-live-tail goroutine. It returns
// immediately; callers observe bootstrap completion via WaitBootstrapped.
// Running reports true from Start onward, before bootstrap completes.
func (b *Builder) Start(ctx context.Context) {
	b.lifecycleMu.Lock()
	if b.running {
		b.lifecycleMu.Unlock()
		return
	}
	b.running = true
	b.lifecycleMu.Unlock()

	go b.run(ctx)
}

// Stop signals the event task to exit and waits for it to drain any
// in-flight property fetch before returning, per spec.md §5's cancellation
// contract.
func (b *Builder) Stop() {
	b.lifecycleMu.Lock()
	if !b.running {
		b.lifecycleMu.Unlock()
		return
	}
	b.lifecycleMu.Unlock()

	close(b.stopCh)
	<-b.doneCh
}

// Running reports whether the event task is active.
func (b *Builder) Running() bool {
	b.lifecycleMu.RLock()
	defer b.lifecycleMu.RUnlock()
	return b.running
}

// WaitBootstrapped blocks until the initial bootstrap has completed (or ctx
// is cancelled), for the Query API's optional startup grace period.
func (b *Builder) WaitBootstrapped(ctx context.Context) error {
	select {
	case <-b.bootstrapped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastEventID returns the last stream id applied to the Projection.
func (b *Builder) LastEventID() string {
	b.lastMu.RLock()
	defer b.lastMu.RUnlock()
	return b.lastID
}

func (b *Builder) setLastID(id string) {
	b.lastMu.Lock()
	b.lastID = id
	b.lastMu.Unlock()
}

// Counters returns a snapshot of the process counters.
func (b *Builder) Counters() Counters {
	b.counterMu.Lock()
	defer b.counterMu.Unlock()
	return b.counters
}

func (b *Builder) run(ctx context.Context) {
	defer func() {
		b.lifecycleMu.Lock()
		b.running = false
		b.lifecycleMu.Unlock()
		close(b.doneCh)
	}()

	lastID, err := b.Bootstrap(ctx)
	if err != nil {
		b.log.Warnf("state: bootstrap failed: %v", err)
	}
	b.setLastID(lastID)
	close(b.bootstrapped)

	b.liveTail(ctx, lastID)
}

// Bootstrap implements spec.md §4.4's bootstrap: read the stream from
// position 0 in batches, applying handleSet/handleDelete to each entry,
// until a batch returns fewer than batchSize entries (the backlog is
// drained). It returns the last processed event id.
func (b *Builder) Bootstrap(ctx context.Context) (string, error) {
	return b.replay(ctx, "0", nil)
}

// replay drains the stream from fromID, invoking onSeen with the fileId of
// every "del" event and of every "set" event whose value was fetched, whether
// or not the file is complete — used both by
// Bootstrap and by a rule-config-triggered Refresh (spec.md §4.5's
// "replay the stream from position 0 against a tracking variant of the
// callback").
func (b *Builder) replay(ctx context.Context, fromID string, onSeen func(fileID string)) (string, error) {
	cursor := fromID
	for {
		entries, next, err := b.client.ReadStream(ctx, b.streamKey, cursor, b.batchSize)
		if err != nil {
			if waitErr := b.client.WaitForReconnectSlot(ctx); waitErr != nil {
				return cursor, waitErr
			}
			return cursor, fmt.Errorf("state: bootstrap read: %w", err)
		}
		for _, e := range entries {
			b.applyEntry(ctx, e, onSeen)
		}
		cursor = next
		if int64(len(entries)) < b.batchSize {
			return cursor, nil
		}
		select {
		case <-ctx.Done():
			return cursor, ctx.Err()
		default:
		}
	}
}

// liveTail implements spec.md §4.4's live tail: resume from lastId,
// blocking with a bounded timeout, applying the same handler. A transport
// error pauses briefly and retries without resetting the cursor — ordering
// is never sacrificed to avoid a stall.
func (b *Builder) liveTail(ctx context.Context, fromID string) {
	cursor := fromID
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		default:
		}

		entries, next, err := b.client.ReadStreamBlocking(ctx, b.streamKey, cursor, b.batchSize, b.block)
		if err != nil {
			if _, trimmed := err.(*store.StreamTrimmed); trimmed {
				b.log.Warnf("state: stream trimmed past cursor %q, restarting bootstrap", cursor)
				newLast, rerr := b.Bootstrap(ctx)
				if rerr == nil {
					cursor = newLast
					b.setLastID(cursor)
				}
				continue
			}
			b.log.Warnf("state: live tail read failed: %v", err)
			if waitErr := b.client.WaitForReconnectSlot(ctx); waitErr != nil {
				return
			}
			continue
		}
		for _, e := range entries {
			b.applyEntry(ctx, e, nil)
		}
		if next != cursor {
			cursor = next
			b.setLastID(cursor)
		}
	}
}

// applyEntry decodes one stream entry into (type, key), parses the key
// into (fileId, property), and dispatches to handleSet/handleDelete.
func (b *Builder) applyEntry(ctx context.Context, e store.StreamEntry, onSeen func(fileID string)) {
	b.counterMu.Lock()
	b.counters.EventsProcessed++
	b.counterMu.Unlock()

	typ := e.Fields["type"]
	key := e.Fields["key"]

	fileID, prop, ok := parseKey(key)
	if !ok {
		return
	}

	switch typ {
	case "del":
		b.handleDelete(fileID, prop)
	case "set":
		if !b.relevanceSet().IsRelevant(prop) {
			b.counterMu.Lock()
			b.counters.PropertiesSkipped++
			b.counterMu.Unlock()
			return
		}
		value, found, err := b.client.Get(ctx, key)
		if err != nil {
			b.log.Warnf("state: get %q failed: %v", key, err)
			return
		}
		if !found {
			// DataSkew (spec.md §7): the key was deleted between emit and
			// fetch; a subsequent del event will arrive (or already have).
			return
		}
		b.counterMu.Lock()
		b.counters.PropertiesFetched++
		b.counterMu.Unlock()
		b.handleSet(fileID, prop, value)
	default:
		b.log.Warnf("state: unknown event type %q for key %q", typ, key)
	}

	if onSeen != nil {
		onSeen(fileID)
	}
}

// parseKey parses "file:<id>/<prop>" into (fileId, prop). Keys not of this
// form are ignored, per spec.md §4.4 step 2.
func parseKey(key string) (fileID, prop string, ok bool) {
	const pfx = "file:"
	if !strings.HasPrefix(key, pfx) {
		return "", "", false
	}
	rest := key[len(pfx):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rules.NormalizePath(rest[idx+1:]), true
}

// handleSet mutates filesState[id][prop] and notifies the Projection, per
// spec.md §4.4.
func (b *Builder) handleSet(id, prop, value string) {
	b.stateMu.Lock()
	props, ok := b.filesState[id]
	if !ok {
		props = make(rules.PropertyMap)
		b.filesState[id] = props
	}
	wasComplete := props.Has("filePath")
	props[prop] = value
	snapshot := props.Clone()
	nowComplete := snapshot.Has("filePath")
	b.stateMu.Unlock()

	if nowComplete {
		if !wasComplete {
			b.counterMu.Lock()
			b.counters.FilesCompleted++
			b.counterMu.Unlock()
		}
		if b.callbacks.OnFileComplete != nil {
			b.callbacks.OnFileComplete(id, snapshot)
		}
	}
	if b.callbacks.OnPropertyChange != nil {
		b.callbacks.OnPropertyChange(id, prop, value)
	}
}

// handleDelete removes prop from the map; if prop is filePath or the map
// becomes empty, the file entry is destroyed and onFileDelete fires;
// otherwise this is a property removal that may still affect the virtual
// path, so onFileComplete fires again if the file remains complete.
func (b *Builder) handleDelete(id, prop string) {
	b.stateMu.Lock()
	props, ok := b.filesState[id]
	if !ok {
		b.stateMu.Unlock()
		return
	}
	delete(props, prop)
	empty := len(props) == 0
	stillComplete := props.Has("filePath")
	var snapshot rules.PropertyMap
	if stillComplete {
		snapshot = props.Clone()
	}
	destroyed := prop == "filePath" || empty
	if destroyed {
		delete(b.filesState, id)
	}
	b.stateMu.Unlock()

	if destroyed {
		if b.callbacks.OnFileDelete != nil {
			b.callbacks.OnFileDelete(id)
		}
		return
	}

	if b.callbacks.OnPropertyDelete != nil {
		b.callbacks.OnPropertyDelete(id, prop)
	}
	if stillComplete && b.callbacks.OnFileComplete != nil {
		b.callbacks.OnFileComplete(id, snapshot)
	}
}

// Refresh implements spec.md §4.5's refresh: wipe filesState (NOT the
// Projection), replay the stream from position 0 recording every fileId
// seen, and return that set so the caller (api.Server, which swaps the
// Projection's evaluator) can prune anything not in it. Concurrent refresh
// triggers are deduplicated via singleflight so a rule save racing a
// `/refresh` call only replays once.
func (b *Builder) Refresh(ctx context.Context, newRelevance rules.RelevanceSet) (map[string]struct{}, error) {
	v, err, _ := b.refreshGroup.Do("refresh", func() (any, error) {
		b.stateMu.Lock()
		b.filesState = make(map[string]rules.PropertyMap)
		b.stateMu.Unlock()
		b.SetRelevance(newRelevance)

		seen := make(map[string]struct{})
		lastID, err := b.replay(ctx, "0", func(fileID string) { seen[fileID] = struct{}{} })
		if err != nil {
			return seen, err
		}
		b.setLastID(lastID)
		return seen, nil
	})
	seen, _ := v.(map[string]struct{})
	return seen, err
}

// ParseEventTimestamp is a small helper for logging/diagnostics: the
// writer stamps each event with an epoch-ms `ts` field (spec.md §6).
func ParseEventTimestamp(fields map[string]string) (time.Time, bool) {
	raw, ok := fields["ts"]
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
