// Package store is the read-only adapter onto the external key-value
// store: point GET, SMEMBERS, prefix SCAN, and ordered stream reads with a
// blocking live-tail variant. It is backed by Redis, whose native commands
// map directly onto these four primitives.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// StreamEntry is one record read from the event stream: its monotonic id
// and the fields the writer attached (spec.md §6: {type, key, ts}).
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// Client is a thin read-only wrapper around a Redis connection.
type Client struct {
	rdb     *redis.Client
	limiter *rate.Limiter
}

// Config configures the backing Redis connection and reconnect pacing.
type Config struct {
	URL string // redis://[:password@]host:port/db

	// BackoffCeiling is the fixed spacing between reconnect attempts; the
	// spacing does not grow exponentially. Zero selects 30s.
	BackoffCeiling time.Duration
}

// New dials Redis and returns a Client. Dialing is lazy in go-redis (the
// connection pool connects on first use), so New only validates the URL.
func New(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, &TransportError{Op: "parse store url", Err: err}
	}
	ceiling := cfg.BackoffCeiling
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}
	// One reconnect attempt per Burst(1)-token refilled over the ceiling:
	// this governs the pacing of our own retry loop around go-redis's
	// per-command retries, so a wedged store cannot spin the event task.
	limiter := rate.NewLimiter(rate.Every(ceiling), 1)

	return &Client{rdb: redis.NewClient(opts), limiter: limiter}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Get performs a point GET. A missing key returns ("", false, nil) — not an
// error — since spec.md §4.1 treats absence as a normal outcome (the
// DataSkew case: a set event whose key later reads as none).
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &TransportError{Op: "get " + key, Err: err}
	}
	return v, true, nil
}

// SMembers returns the members of a Redis set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, &TransportError{Op: "smembers " + key, Err: err}
	}
	return members, nil
}

// ScanByPrefix iterates all keys matching prefix+"*", cursor-looping SCAN
// until exhausted.
func (c *Client) ScanByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	match := prefix + "*"
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, match, 0).Result()
		if err != nil {
			return nil, &TransportError{Op: "scan " + prefix, Err: err}
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// ReadStream reads up to maxCount entries from stream starting after fromId
// (exclusive — callers pass the previous call's last id; "0" bootstraps from
// the beginning). It does not block: use ReadStreamBlocking for live tail.
func (c *Client) ReadStream(ctx context.Context, stream, fromID string, maxCount int64) ([]StreamEntry, string, error) {
	res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, fromID},
		Count:   maxCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fromID, nil
	}
	if err != nil {
		if isTrimmedErr(err) {
			return nil, fromID, &StreamTrimmed{Stream: stream}
		}
		return nil, fromID, &TransportError{Op: "xread " + stream, Err: err}
	}
	return convertXStream(res, fromID)
}

// ReadStreamBlocking is the live-tail variant: it blocks up to block for new
// entries after fromId. A timeout is not an error — callers simply loop,
// per spec.md §5's "on timeout they simply loop".
func (c *Client) ReadStreamBlocking(ctx context.Context, stream, fromID string, maxCount int64, block time.Duration) ([]StreamEntry, string, error) {
	res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, fromID},
		Count:   maxCount,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fromID, nil // timed out, no new entries
	}
	if err != nil {
		if isTrimmedErr(err) {
			return nil, fromID, &StreamTrimmed{Stream: stream}
		}
		return nil, fromID, &TransportError{Op: "xread block " + stream, Err: err}
	}
	return convertXStream(res, fromID)
}

func convertXStream(res []redis.XStream, fromID string) ([]StreamEntry, string, error) {
	if len(res) == 0 {
		return nil, fromID, nil
	}
	lastID := fromID
	entries := make([]StreamEntry, 0, len(res[0].Messages))
	for _, msg := range res[0].Messages {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			fields[k] = toString(v)
		}
		entries = append(entries, StreamEntry{ID: msg.ID, Fields: fields})
		lastID = msg.ID
	}
	return entries, lastID, nil
}

// toString converts an XREAD field value to a string. go-redis decodes
// stream field values as strings; this guards the rare case of a numeric
// value surfacing as another Go type.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Subscribe is the Pub/Sub fallback named in spec.md §4.1, used only if
// event-log (stream) integration is unavailable in a given deployment. It
// blocks until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, channel string, onMessage func(payload string)) error {
	sub := c.rdb.Subscribe(ctx, channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			onMessage(msg.Payload)
		}
	}
}

// WaitForReconnectSlot blocks until the reconnect-pacing limiter admits
// another attempt, bounding how fast the event task retries against a
// persistently unreachable store.
func (c *Client) WaitForReconnectSlot(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// Ping verifies connectivity. The Query API does not call it: /api/fuse/stats
// reports its connection flag from the State Builder's Running state.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return &TransportError{Op: "ping", Err: err}
	}
	return nil
}

func isTrimmedErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "stream reader needed an entry") || strings.Contains(msg, "NOGROUP")
}
