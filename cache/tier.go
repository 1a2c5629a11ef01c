// Package cache implements Cache Tiering (C12): a three-tier key/value
// cache (in-memory LRU, on-disk, remote Redis) with promotion on hit.
package cache

import (
	"container/list"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/telemetry"
)

// Tier names used as Prometheus label values and audit metadata.
const (
	TierMemory = "memory"
	TierDisk   = "disk"
	TierRemote = "remote"
)

// entry is the value stored at every tier, carrying an optional TTL.
type entry struct {
	Value     []byte
	ExpiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Tiered is the three-tier cache. Safe for concurrent use.
type Tiered struct {
	mu        sync.Mutex
	memBytes  int64
	memLimit  int64
	memList   *list.List
	memIndex  map[string]*list.Element

	diskDir string

	redisClient *redis.Client

	logger  core.Logger
	metrics *telemetry.Metrics
}

type memElement struct {
	key   string
	value entry
	size  int64
}

// Config configures the three tiers. RemoteAddr may be empty to
// disable the remote tier entirely.
type Config struct {
	MemoryLimitBytes int64
	DiskDir          string
	RemoteAddr       string
}

// New constructs a Tiered cache. The memory tier defaults to 2 GiB per
// spec.md §4.12.
func New(cfg Config, logger core.Logger, metrics *telemetry.Metrics) *Tiered {
	if cfg.MemoryLimitBytes <= 0 {
		cfg.MemoryLimitBytes = 2 << 30
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	t := &Tiered{
		memLimit: cfg.MemoryLimitBytes,
		memList:  list.New(),
		memIndex: make(map[string]*list.Element),
		diskDir:  cfg.DiskDir,
		logger:   logger,
		metrics:  metrics,
	}

	if cfg.RemoteAddr != "" {
		t.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RemoteAddr})
	}
	return t
}

// Get looks up key, checking memory, then disk, then remote, promoting
// the value to every faster tier it missed on the way.
func (t *Tiered) Get(ctx context.Context, namespace, key string) ([]byte, bool) {
	fullKey := namespacedKey(namespace, key)
	now := time.Now()

	if v, ok := t.getMemory(fullKey, now); ok {
		t.hit(TierMemory)
		return v, true
	}

	if v, ok := t.getDisk(fullKey, now); ok {
		t.hit(TierDisk)
		t.setMemory(fullKey, v, 0)
		return v, true
	}

	if t.redisClient != nil {
		if v, ok := t.getRemote(ctx, fullKey); ok {
			t.hit(TierRemote)
			t.setMemory(fullKey, v, 0)
			t.setDisk(fullKey, v, 0)
			return v, true
		}
	}

	t.miss(namespace)
	return nil, false
}

// Set writes to every configured tier. ttl of zero means no expiry.
func (t *Tiered) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	fullKey := namespacedKey(namespace, key)
	t.setMemory(fullKey, value, ttl)
	t.setDisk(fullKey, value, ttl)
	if t.redisClient != nil {
		if err := t.redisClient.Set(ctx, fullKey, value, ttl).Err(); err != nil {
			t.logger.Warn("cache: remote set failed", map[string]interface{}{"error": err.Error()})
			return err
		}
	}
	return nil
}

// Delete removes key from every tier.
func (t *Tiered) Delete(ctx context.Context, namespace, key string) {
	fullKey := namespacedKey(namespace, key)

	t.mu.Lock()
	if el, ok := t.memIndex[fullKey]; ok {
		t.evictElement(el)
	}
	t.mu.Unlock()

	if t.diskDir != "" {
		_ = os.Remove(t.diskPath(fullKey))
	}
	if t.redisClient != nil {
		_ = t.redisClient.Del(ctx, fullKey).Err()
	}
}

func namespacedKey(namespace, key string) string {
	return namespace + ":" + key
}

func (t *Tiered) hit(tier string) {
	if t.metrics != nil {
		t.metrics.CacheHits.WithLabelValues(tier).Inc()
	}
}

func (t *Tiered) miss(namespace string) {
	if t.metrics != nil {
		t.metrics.CacheMisses.WithLabelValues(namespace).Inc()
	}
}

// --- memory tier: byte-size-bounded LRU ---

func (t *Tiered) getMemory(fullKey string, now time.Time) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.memIndex[fullKey]
	if !ok {
		return nil, false
	}
	me := el.Value.(*memElement)
	if me.value.expired(now) {
		t.evictElementLocked(el)
		return nil, false
	}
	t.memList.MoveToFront(el)
	return me.value.Value, true
}

func (t *Tiered) setMemory(fullKey string, value []byte, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := int64(len(value))
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	if el, ok := t.memIndex[fullKey]; ok {
		me := el.Value.(*memElement)
		t.memBytes += size - me.size
		me.value = entry{Value: value, ExpiresAt: expires}
		me.size = size
		t.memList.MoveToFront(el)
	} else {
		me := &memElement{key: fullKey, value: entry{Value: value, ExpiresAt: expires}, size: size}
		el := t.memList.PushFront(me)
		t.memIndex[fullKey] = el
		t.memBytes += size
	}

	for t.memBytes > t.memLimit && t.memList.Len() > 0 {
		back := t.memList.Back()
		t.evictElementLocked(back)
		if t.metrics != nil {
			t.metrics.CacheMisses.WithLabelValues("eviction").Inc()
		}
	}
}

func (t *Tiered) evictElement(el *list.Element) {
	t.evictElementLocked(el)
}

func (t *Tiered) evictElementLocked(el *list.Element) {
	me := el.Value.(*memElement)
	delete(t.memIndex, me.key)
	t.memList.Remove(el)
	t.memBytes -= me.size
}

// --- disk tier: gob-encoded entries, one file per key ---

func (t *Tiered) diskPath(fullKey string) string {
	return filepath.Join(t.diskDir, fmt.Sprintf("%x.gob", hashKey(fullKey)))
}

func (t *Tiered) getDisk(fullKey string, now time.Time) ([]byte, bool) {
	if t.diskDir == "" {
		return nil, false
	}
	f, err := os.Open(t.diskPath(fullKey))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var e entry
	if err := gob.NewDecoder(f).Decode(&e); err != nil {
		return nil, false
	}
	if e.expired(now) {
		_ = os.Remove(t.diskPath(fullKey))
		return nil, false
	}
	return e.Value, true
}

func (t *Tiered) setDisk(fullKey string, value []byte, ttl time.Duration) {
	if t.diskDir == "" {
		return
	}
	if err := os.MkdirAll(t.diskDir, 0o755); err != nil {
		t.logger.Warn("cache: failed to create disk tier directory", map[string]interface{}{"error": err.Error()})
		return
	}

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	f, err := os.Create(t.diskPath(fullKey))
	if err != nil {
		t.logger.Warn("cache: disk set failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer f.Close()

	_ = gob.NewEncoder(f).Encode(entry{Value: value, ExpiresAt: expires})
}

func hashKey(key string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return h
}

// --- remote tier: redis ---

func (t *Tiered) getRemote(ctx context.Context, fullKey string) ([]byte, bool) {
	v, err := t.redisClient.Get(ctx, fullKey).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

// Close releases the remote client, if any.
func (t *Tiered) Close() error {
	if t.redisClient != nil {
		return t.redisClient.Close()
	}
	return nil
}
