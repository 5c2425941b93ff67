// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package rescache memoizes the results of read operations per logical key.
// Entries are gated by a staleness predicate: a collection containing any
// member still in a transient state is handed back to the caller but never
// stored, so the next read goes to the backend again. Concurrent refreshes
// of one key are collapsed behind a per-key lock so a hot, frequently-polled
// collection is only fetched once at a time.
package rescache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("cirrus.rescache")

// controlParam is the reserved cache-control parameter name; it is always
// excluded from key construction so "fetch with cache disabled" and the
// plain fetch share one logical key.
const controlParam = "cache"

// Key identifies one memoized read: operation name, owning cloud identity,
// and the canonicalized arguments.
type Key struct {
	op  string
	arg string
}

// NewKey builds a Key from the operation name, the connection identity
// (cloud name and region, typically "name:region") and the positional
// arguments in order.
func NewKey(op, cloudID string, args ...string) Key {
	return Key{op: op, arg: cloudID + "|" + strings.Join(args, ",")}
}

// WithParams folds named parameters into the key. Parameter order is
// irrelevant: names are sorted, and the reserved cache-control parameter is
// skipped.
func (k Key) WithParams(params map[string]string) Key {
	if len(params) == 0 {
		return k
	}
	names := make([]string, 0, len(params))
	for name := range params {
		if name == controlParam {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.WriteString(",")
		b.WriteString(name)
		b.WriteString(":")
		b.WriteString(params[name])
	}
	return Key{op: k.op, arg: k.arg + b.String()}
}

// Op returns the operation name the key was built from.
func (k Key) Op() string { return k.op }

func (k Key) String() string { return k.op + "|" + k.arg }

type entry struct {
	value   any
	expires time.Time
}

// Cache is the per-connection entry store. The zero value is not usable;
// construct with New.
type Cache struct {
	enabled bool
	ttl     time.Duration
	clock   clock.Clock

	mu      sync.Mutex
	entries map[string]entry

	// refresh serialises concurrent computes of the same key.
	refresh *kmutex.Kmutex
}

// Config holds cache construction parameters.
type Config struct {
	// Enabled false degrades every read to a plain fetch and makes
	// invalidation a no-op.
	Enabled bool
	// TTL is the entry lifetime. Absence of an entry is
	// indistinguishable from expiry.
	TTL time.Duration
	// Clock defaults to clock.WallClock.
	Clock clock.Clock
}

// New returns a Cache for one cloud connection.
func New(cfg Config) *Cache {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Cache{
		enabled: cfg.Enabled,
		ttl:     cfg.TTL,
		clock:   clk,
		entries: make(map[string]entry),
		refresh: kmutex.New(),
	}
}

// Enabled reports whether entries are being stored at all.
func (c *Cache) Enabled() bool { return c.enabled }

// Read returns the live entry for key if one exists, and otherwise computes
// the value. The computed value is stored only when steady accepts it (a nil
// steady always stores); either way the caller gets the computed value. When
// the cache is disabled Read calls compute every time and stores nothing.
func Read[T any](c *Cache, key Key, steady func(T) bool, compute func() (T, error)) (T, error) {
	if !c.enabled {
		return compute()
	}

	lockID := key.String()
	c.refresh.Lock(lockID)
	defer c.refresh.Unlock(lockID)

	if v, ok := c.lookup(lockID); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
		// A stored value of the wrong type means two operations
		// collided on one key; drop it and refetch.
		logger.Warningf("cache entry for %q has unexpected type, discarding", lockID)
		c.Invalidate(key)
	}

	v, err := compute()
	if err != nil {
		return v, err
	}
	if steady == nil || steady(v) {
		c.store(lockID, v)
	} else {
		logger.Tracef("not caching %q: collection not steady", lockID)
	}
	return v, nil
}

func (c *Cache) lookup(id string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || !c.clock.Now().Before(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(id string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = entry{value: v, expires: c.clock.Now().Add(c.ttl)}
}

// Invalidate removes the entry for key, if any. A no-op when the cache is
// disabled: callers must not rely on invalidation side effects then.
func (c *Cache) Invalidate(key Key) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key.String())
}

// InvalidateOps removes every entry belonging to the named operations,
// whatever arguments they were read with. Mutation verbs call this with all
// the operations the mutated resource could appear under, before returning
// control to the caller.
func (c *Cache) InvalidateOps(ops ...string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		for _, op := range ops {
			if strings.HasPrefix(id, op+"|") {
				delete(c.entries, id)
				break
			}
		}
	}
}
