// Package hotcache implements the short-TTL key/value tier holding full
// paper records, relation views and pages, search results, negative
// entries, and single-flight coordination tokens.
//
// It is backed by a NATS JetStream Key-Value bucket; KV's Create
// (create-if-absent) operation is the substrate for the atomic
// "set if absent with TTL" single-flight primitive.
package hotcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	scerrors "scicache-backend/internal/errors"
)

// Namespace enumerates the Hot Cache key families: full paper records,
// merged relation views, raw relation pages, ingest progress, search
// results, single-flight tokens, and negative entries.
type Namespace string

const (
	NamespacePaperFull      Namespace = "paper"
	NamespaceRelation       Namespace = "relation"
	NamespaceRelationPage   Namespace = "relation_page"
	NamespaceIngestProgress Namespace = "ingest_progress"
	NamespaceSearch         Namespace = "search"
	NamespaceLock           Namespace = "lock"
	NamespaceNegative       Namespace = "negative"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("hotcache: key not found")

// ErrLockHeld is returned by AcquireLock when another holder already owns
// the single-flight token.
var ErrLockHeld = errors.New("hotcache: lock already held")

// Cache is the Hot Cache contract consumed by the Paper Resolver, Relation
// Ingestor and Search Coordinator.
type Cache interface {
	// Set writes value under key with the given TTL, replacing any prior
	// value whole — there is no update-in-place on structured values.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the raw bytes stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key if present; it is not an error if key is absent.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key of the form prefix.<token>[.<token>...];
	// a key equal to prefix itself is not removed. Used by
	// invalidate(paper_id) to drop every paper:{id}:* key at once.
	DeletePrefix(ctx context.Context, prefix string) error
	// AcquireLock attempts to atomically create key with the given TTL,
	// succeeding only if no live value exists yet — the single-flight token
	// acquisition primitive. token identifies the caller for ReleaseLock.
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// ReleaseLock deletes key only if its stored value equals token, so a
	// holder never releases a lock it doesn't own (e.g. after its own TTL
	// already expired and a new holder acquired it).
	ReleaseLock(ctx context.Context, key, token string) error
}

// JetStreamCache is a Cache backed by a jetstream.KeyValue bucket.
type JetStreamCache struct {
	kv     jetstream.KeyValue
	logger *slog.Logger
}

// NewJetStreamCache wraps an already-bound KeyValue bucket (created by
// the caller from the nats.kv_store configuration).
func NewJetStreamCache(kv jetstream.KeyValue, logger *slog.Logger) *JetStreamCache {
	return &JetStreamCache{kv: kv, logger: logger}
}

// jetstream KV entries carry a single bucket-wide default TTL in the
// versions this repository targets; per-key TTL below that default is
// approximated by storing an explicit expiry alongside the value and
// treating a stale read as a miss.
type envelope struct {
	ExpiresAt time.Time
	Value     []byte
}

func encodeEnvelope(value []byte, ttl time.Duration) []byte {
	exp := time.Now().Add(ttl).Format(time.RFC3339Nano)
	return append([]byte(exp+"\n"), value...)
}

func decodeEnvelope(raw []byte) (envelope, error) {
	for i, b := range raw {
		if b == '\n' {
			t, err := time.Parse(time.RFC3339Nano, string(raw[:i]))
			if err != nil {
				return envelope{}, fmt.Errorf("hotcache: malformed envelope: %w", err)
			}
			return envelope{ExpiresAt: t, Value: raw[i+1:]}, nil
		}
	}
	return envelope{}, fmt.Errorf("hotcache: malformed envelope: no delimiter")
}

func (c *JetStreamCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.kv.Put(ctx, key, encodeEnvelope(value, ttl))
	if err != nil {
		return scerrors.NewInternalError("hot cache write failed", err)
	}
	return nil
}

func (c *JetStreamCache) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, scerrors.NewInternalError("hot cache read failed", err)
	}
	env, err := decodeEnvelope(entry.Value())
	if err != nil {
		return nil, ErrNotFound
	}
	if time.Now().After(env.ExpiresAt) {
		return nil, ErrNotFound
	}
	return env.Value, nil
}

func (c *JetStreamCache) Delete(ctx context.Context, key string) error {
	if err := c.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return scerrors.NewInternalError("hot cache delete failed", err)
	}
	return nil
}

func (c *JetStreamCache) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := c.kv.ListKeysFiltered(ctx, prefix+".>")
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}
		return scerrors.NewInternalError("hot cache key listing failed", err)
	}
	for key := range keys.Keys() {
		if err := c.Delete(ctx, key); err != nil {
			c.logger.Warn("failed to delete key during prefix invalidation",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (c *JetStreamCache) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	_, err := c.kv.Create(ctx, key, encodeEnvelope([]byte(token), ttl))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		// The bucket entry may exist but have logically expired (our TTL is
		// envelope-based, not bucket-enforced); reclaim it if so.
		existing, getErr := c.kv.Get(ctx, key)
		if getErr != nil {
			return false, nil
		}
		env, decErr := decodeEnvelope(existing.Value())
		if decErr != nil || time.Now().After(env.ExpiresAt) {
			_, updErr := c.kv.Update(ctx, key, encodeEnvelope([]byte(token), ttl), existing.Revision())
			if updErr != nil {
				return false, nil
			}
			return true, nil
		}
		return false, nil
	}
	return false, scerrors.NewInternalError("lock acquisition failed", err)
}

func (c *JetStreamCache) ReleaseLock(ctx context.Context, key, token string) error {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return scerrors.NewInternalError("lock release read failed", err)
	}
	env, err := decodeEnvelope(entry.Value())
	if err != nil || string(env.Value) != token {
		// Not ours (or already reclaimed) — do not release another holder's lock.
		return nil
	}
	if err := c.kv.Delete(ctx, key, jetstream.LastRevision(entry.Revision())); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return scerrors.NewInternalError("lock release failed", err)
	}
	return nil
}

// LazyCache defers bucket binding until first use. The NATS connection —
// and with it the JetStream context — only exists once the messaging
// manager has started, which happens after dependency wiring; binding on
// first operation decouples construction order from connection order.
type LazyCache struct {
	bind   func(ctx context.Context) (jetstream.KeyValue, error)
	logger *slog.Logger

	once  sync.Once
	cache *JetStreamCache
	err   error
}

// NewLazyCache creates a Cache that resolves its KeyValue bucket through
// bind on first use.
func NewLazyCache(bind func(ctx context.Context) (jetstream.KeyValue, error), logger *slog.Logger) *LazyCache {
	return &LazyCache{bind: bind, logger: logger}
}

func (c *LazyCache) resolve(ctx context.Context) (*JetStreamCache, error) {
	c.once.Do(func() {
		kv, err := c.bind(ctx)
		if err != nil {
			c.err = scerrors.NewInternalError("hot cache bucket binding failed", err)
			return
		}
		c.cache = NewJetStreamCache(kv, c.logger)
	})
	return c.cache, c.err
}

func (c *LazyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cache, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	return cache.Set(ctx, key, value, ttl)
}

func (c *LazyCache) Get(ctx context.Context, key string) ([]byte, error) {
	cache, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return cache.Get(ctx, key)
}

func (c *LazyCache) Delete(ctx context.Context, key string) error {
	cache, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	return cache.Delete(ctx, key)
}

func (c *LazyCache) DeletePrefix(ctx context.Context, prefix string) error {
	cache, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	return cache.DeletePrefix(ctx, prefix)
}

func (c *LazyCache) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	cache, err := c.resolve(ctx)
	if err != nil {
		return false, err
	}
	return cache.AcquireLock(ctx, key, token, ttl)
}

func (c *LazyCache) ReleaseLock(ctx context.Context, key, token string) error {
	cache, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	return cache.ReleaseLock(ctx, key, token)
}

// Key builders for the cache's namespaces.

func PaperFullKey(paperID string) string {
	return fmt.Sprintf("%s.%s.full", NamespacePaperFull, paperID)
}

func RelationKey(paperID, kind string) string {
	return fmt.Sprintf("%s.%s.%s", NamespaceRelation, paperID, kind)
}

func RelationPageKey(paperID, kind string, page int) string {
	return fmt.Sprintf("%s.%s.%s.%d", NamespaceRelationPage, paperID, kind, page)
}

func IngestProgressKey(paperID, kind string) string {
	return fmt.Sprintf("%s.%s.%s", NamespaceIngestProgress, paperID, kind)
}

func SearchKey(fingerprint string) string {
	return fmt.Sprintf("%s.%s", NamespaceSearch, fingerprint)
}

// LockKey builds a single-flight token key for any named scope
// ("paper.{id}", "alias.{kind}.{value}", "ingest.{id}.{kind}"). Scope
// characters outside the KV key alphabet are folded to underscores so
// alias values with arbitrary punctuation still form valid keys.
func LockKey(scope string) string {
	return fmt.Sprintf("%s.%s", NamespaceLock, sanitizeKey(scope))
}

func sanitizeKey(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '_', c == '-', c == '/', c == '=', c == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func NegativeKey(paperID string) string {
	return fmt.Sprintf("%s.paper.%s", NamespaceNegative, paperID)
}
