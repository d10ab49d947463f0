// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package configcache is the two-tier read path: a short-TTL pointer tier
// that bounds staleness after an activation, and a long-TTL content tier
// keyed by hash, where entries are immutable and never wrong. Concurrent
// misses on one key coalesce into a single database fetch.
package configcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/cardinalhq/confighub/configdb"
	"github.com/cardinalhq/confighub/internal/canonical"
	"github.com/cardinalhq/confighub/internal/logctx"
)

// ErrNotSet is returned when no pointer has ever been activated for a key.
// Callers fall back to the schema defaults.
var ErrNotSet = errors.New("no active pointer for key")

// Fetcher is the slice of configdb the cache reads through to.
type Fetcher interface {
	GetActivePointer(ctx context.Context, configType, profileKey string) (configdb.ActivePointer, error)
	GetBlob(ctx context.Context, configType, profileKey, contentHash string) (configdb.ConfigBlob, error)
}

// Validator re-checks fetched content before it enters the content tier,
// normally the schema registry. A nil Validator skips the check.
type Validator interface {
	Validate(configType string, content []byte) error
}

// Config tunes the cache tiers. Zero values take the defaults.
type Config struct {
	// PointerTTL bounds how stale an active-pointer read may be. Lower
	// values tighten activation propagation at the cost of more pointer
	// fetches.
	PointerTTL time.Duration

	// ContentTTL bounds memory held by immutable content entries. Content
	// is hash-addressed, so a longer TTL never serves wrong data.
	ContentTTL time.Duration

	// FetchTimeout caps a single database fetch on the read path.
	FetchTimeout time.Duration

	// StaleGrace is how long a previously served value may keep being
	// served after fetches start failing. Zero disables stale serving.
	StaleGrace time.Duration
}

const (
	defaultPointerTTL   = 15 * time.Second
	defaultContentTTL   = 10 * time.Minute
	defaultFetchTimeout = 5 * time.Second
)

type pointerKey struct {
	ConfigType string
	ProfileKey string
}

type pointerValue struct {
	ptr    configdb.ActivePointer
	notSet bool
}

type contentKey struct {
	ConfigType  string
	ProfileKey  string
	ContentHash string
}

type lastGoodEntry struct {
	blob     configdb.ConfigBlob
	servedAt time.Time
}

// Cache serves active config content with bounded staleness.
type Cache struct {
	fetcher      Fetcher
	validator    Validator
	fetchTimeout time.Duration
	staleGrace   time.Duration

	pointers *ttlcache.Cache[pointerKey, pointerValue]
	contents *ttlcache.Cache[contentKey, configdb.ConfigBlob]
	group    singleflight.Group

	// epoch is bumped by Invalidate so a fetch that was already in flight
	// cannot repopulate the pointer tier with a pre-invalidation value.
	epoch atomic.Uint64

	mu       sync.Mutex
	lastGood map[pointerKey]lastGoodEntry
	inflight map[string]int
}

func New(fetcher Fetcher, validator Validator, cfg Config) *Cache {
	if cfg.PointerTTL <= 0 {
		cfg.PointerTTL = defaultPointerTTL
	}
	if cfg.ContentTTL <= 0 {
		cfg.ContentTTL = defaultContentTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}

	// The pointer TTL is the cross-process propagation bound, so hits must
	// not extend an entry's life. Content entries are immutable and may be
	// kept hot.
	pointers := ttlcache.New(
		ttlcache.WithTTL[pointerKey, pointerValue](cfg.PointerTTL),
		ttlcache.WithDisableTouchOnHit[pointerKey, pointerValue](),
	)
	contents := ttlcache.New(
		ttlcache.WithTTL[contentKey, configdb.ConfigBlob](cfg.ContentTTL),
	)
	go pointers.Start()
	go contents.Start()

	return &Cache{
		fetcher:      fetcher,
		validator:    validator,
		fetchTimeout: cfg.FetchTimeout,
		staleGrace:   cfg.StaleGrace,
		pointers:     pointers,
		contents:     contents,
		lastGood:     map[pointerKey]lastGoodEntry{},
		inflight:     map[string]int{},
	}
}

// Close stops the cache background goroutines.
func (c *Cache) Close() {
	c.pointers.Stop()
	c.contents.Stop()
}

// GetActive returns the currently active blob for a key. Concurrent callers
// for the same key share one fetch. Returns ErrNotSet when the key has no
// activation.
func (c *Cache) GetActive(ctx context.Context, configType, profileKey string) (configdb.ConfigBlob, error) {
	k := pointerKey{ConfigType: configType, ProfileKey: profileKey}
	sfKey := configType + "|" + profileKey

	c.mu.Lock()
	c.inflight[sfKey]++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inflight[sfKey]--
		if c.inflight[sfKey] <= 0 {
			delete(c.inflight, sfKey)
		}
		c.mu.Unlock()
	}()

	v, err, _ := c.group.Do(sfKey, func() (any, error) {
		return c.getActive(ctx, k)
	})
	if err != nil {
		return configdb.ConfigBlob{}, err
	}
	return v.(configdb.ConfigBlob), nil
}

// GetActiveHash returns just the active content hash for a key, from the
// pointer tier only.
func (c *Cache) GetActiveHash(ctx context.Context, configType, profileKey string) (string, error) {
	k := pointerKey{ConfigType: configType, ProfileKey: profileKey}
	ptr, err := c.pointer(ctx, k)
	if err != nil {
		return "", err
	}
	return ptr.ActiveHash, nil
}

func (c *Cache) getActive(ctx context.Context, k pointerKey) (configdb.ConfigBlob, error) {
	ptr, err := c.pointer(ctx, k)
	if err != nil {
		if errors.Is(err, ErrNotSet) {
			return configdb.ConfigBlob{}, err
		}
		return c.serveStale(ctx, k, err)
	}

	blob, err := c.content(ctx, k, ptr.ActiveHash)
	if err != nil {
		return c.serveStale(ctx, k, err)
	}

	c.mu.Lock()
	c.lastGood[k] = lastGoodEntry{blob: blob, servedAt: time.Now()}
	c.mu.Unlock()
	return blob, nil
}

func (c *Cache) pointer(ctx context.Context, k pointerKey) (configdb.ActivePointer, error) {
	if item := c.pointers.Get(k); item != nil {
		recordHit(ctx, "pointer")
		v := item.Value()
		if v.notSet {
			return configdb.ActivePointer{}, ErrNotSet
		}
		return v.ptr, nil
	}
	recordMiss(ctx, "pointer")

	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	// An Invalidate between here and the Set below means the fetched value
	// may predate an activation; such results are served once but not cached.
	epoch := c.epoch.Load()

	ptr, err := c.fetcher.GetActivePointer(fctx, k.ConfigType, k.ProfileKey)
	if errors.Is(err, configdb.ErrNotFound) {
		// Negative entries are cached too: default-serving keys should not
		// hammer the database.
		if c.epoch.Load() == epoch {
			c.pointers.Set(k, pointerValue{notSet: true}, ttlcache.DefaultTTL)
		}
		return configdb.ActivePointer{}, ErrNotSet
	}
	if err != nil {
		return configdb.ActivePointer{}, fmt.Errorf("fetch pointer %s/%s: %w", k.ConfigType, k.ProfileKey, err)
	}
	if c.epoch.Load() == epoch {
		c.pointers.Set(k, pointerValue{ptr: ptr}, ttlcache.DefaultTTL)
	}
	return ptr, nil
}

func (c *Cache) content(ctx context.Context, k pointerKey, contentHash string) (configdb.ConfigBlob, error) {
	ck := contentKey{ConfigType: k.ConfigType, ProfileKey: k.ProfileKey, ContentHash: contentHash}
	if item := c.contents.Get(ck); item != nil {
		recordHit(ctx, "content")
		return item.Value(), nil
	}
	recordMiss(ctx, "content")

	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	blob, err := c.fetcher.GetBlob(fctx, ck.ConfigType, ck.ProfileKey, ck.ContentHash)
	if err != nil {
		return configdb.ConfigBlob{}, fmt.Errorf("fetch blob %s/%s@%s: %w", ck.ConfigType, ck.ProfileKey, ck.ContentHash, err)
	}
	if got := canonical.Hash([]byte(blob.Content)); got != contentHash {
		return configdb.ConfigBlob{}, fmt.Errorf("content hash mismatch for %s/%s: stored %s, computed %s",
			ck.ConfigType, ck.ProfileKey, contentHash, got)
	}
	if c.validator != nil {
		if err := c.validator.Validate(ck.ConfigType, []byte(blob.Content)); err != nil {
			return configdb.ConfigBlob{}, fmt.Errorf("stored content failed validation for %s/%s@%s: %w",
				ck.ConfigType, ck.ProfileKey, ck.ContentHash, err)
		}
	}
	c.contents.Set(ck, blob, ttlcache.DefaultTTL)
	return blob, nil
}

// serveStale returns the last good value for a key when a fetch fails inside
// the grace window, otherwise the fetch error.
func (c *Cache) serveStale(ctx context.Context, k pointerKey, fetchErr error) (configdb.ConfigBlob, error) {
	if c.staleGrace <= 0 {
		return configdb.ConfigBlob{}, fetchErr
	}

	c.mu.Lock()
	entry, ok := c.lastGood[k]
	c.mu.Unlock()
	if !ok || time.Since(entry.servedAt) > c.staleGrace {
		return configdb.ConfigBlob{}, fetchErr
	}

	recordStaleServe(ctx)
	logctx.FromContext(ctx).Warn("Serving stale config after fetch failure",
		"configType", k.ConfigType,
		"profileKey", k.ProfileKey,
		"contentHash", entry.blob.ContentHash,
		"age", time.Since(entry.servedAt).String(),
		"error", fetchErr)
	return entry.blob, nil
}

// Invalidate drops pointer entries for a key. An empty profileKey drops all
// profiles of the type; an empty configType drops everything. Content
// entries are hash-addressed and immutable, so they are left in place.
// In-flight fetches for affected keys are forgotten so late joiners start a
// fresh fetch instead of sharing a pre-invalidation result.
func (c *Cache) Invalidate(configType, profileKey string) {
	c.epoch.Add(1)

	switch {
	case configType == "":
		c.pointers.DeleteAll()
		c.mu.Lock()
		c.lastGood = map[pointerKey]lastGoodEntry{}
		for sfKey := range c.inflight {
			c.group.Forget(sfKey)
		}
		c.mu.Unlock()
	case profileKey == "":
		var keys []pointerKey
		c.pointers.Range(func(item *ttlcache.Item[pointerKey, pointerValue]) bool {
			if item.Key().ConfigType == configType {
				keys = append(keys, item.Key())
			}
			return true
		})
		for _, k := range keys {
			c.pointers.Delete(k)
		}
		c.mu.Lock()
		for k := range c.lastGood {
			if k.ConfigType == configType {
				delete(c.lastGood, k)
			}
		}
		for sfKey := range c.inflight {
			if strings.HasPrefix(sfKey, configType+"|") {
				c.group.Forget(sfKey)
			}
		}
		c.mu.Unlock()
	default:
		k := pointerKey{ConfigType: configType, ProfileKey: profileKey}
		c.pointers.Delete(k)
		c.mu.Lock()
		delete(c.lastGood, k)
		c.mu.Unlock()
		c.group.Forget(configType + "|" + profileKey)
	}
}
