// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package inventory guards a hot, time-windowed collection fetch (the server
// inventory being the canonical case) with a single-flight snapshot. Since
// callers of such a collection are usually polling it, serving data up to a
// small age limit is fine; what must never happen is a stampede of identical
// backend calls the moment the window lapses.
package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("cirrus.inventory")

// Guard holds the last-fetched snapshot of a collection and collapses
// concurrent refreshes into one backend call.
type Guard[T any] struct {
	fetch func(context.Context) ([]T, error)
	clock clock.Clock

	// refresh is held for the duration of one backend fetch.
	refresh sync.Mutex

	// mu protects the snapshot fields below.
	mu       sync.Mutex
	snapshot []T
	fetched  time.Time
	filled   bool
}

// New returns a Guard around the given fetch function.
func New[T any](clk clock.Clock, fetch func(context.Context) ([]T, error)) *Guard[T] {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Guard[T]{fetch: fetch, clock: clk}
}

// Get returns the snapshot, refreshing it when older than ageLimit.
//
// The rules, in order:
//   - a snapshot younger than ageLimit is returned with no backend call;
//   - otherwise the caller tries to take the refresh lock without blocking;
//     on success it fetches, stores and returns the fresh snapshot;
//   - a caller that loses that race returns the existing snapshot, stale as
//     it may be, rather than waiting;
//   - unless there is no snapshot at all, in which case it blocks until the
//     in-flight refresh completes and returns its result. The very first
//     caller always pays the full fetch cost; concurrent callers never
//     duplicate it.
//
// An ageLimit of zero disables the age check, not the single-flight: a
// caller that takes the refresh lock always fetches, but one arriving
// while a refresh is in flight still returns the existing snapshot.
func (g *Guard[T]) Get(ctx context.Context, ageLimit time.Duration) ([]T, error) {
	if snap, ok := g.freshSnapshot(ageLimit); ok {
		return snap, nil
	}
	if g.refresh.TryLock() {
		defer g.refresh.Unlock()
		return g.doFetch(ctx)
	}
	if snap, ok := g.anySnapshot(); ok {
		logger.Tracef("refresh in flight, returning stale snapshot")
		return snap, nil
	}
	// First fill is racing somewhere else; wait for it.
	g.refresh.Lock()
	defer g.refresh.Unlock()
	if ageLimit > 0 {
		if snap, ok := g.anySnapshot(); ok {
			return snap, nil
		}
	}
	return g.doFetch(ctx)
}

func (g *Guard[T]) doFetch(ctx context.Context) ([]T, error) {
	snap, err := g.fetch(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	g.mu.Lock()
	g.snapshot = snap
	g.fetched = g.clock.Now()
	g.filled = true
	g.mu.Unlock()
	return snap, nil
}

func (g *Guard[T]) freshSnapshot(ageLimit time.Duration) ([]T, bool) {
	if ageLimit <= 0 {
		return nil, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.filled || g.clock.Now().Sub(g.fetched) >= ageLimit {
		return nil, false
	}
	return g.snapshot, true
}

func (g *Guard[T]) anySnapshot() ([]T, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot, g.filled
}

// Expire marks the snapshot as over-age without discarding it: the next Get
// refreshes, while concurrent callers during that refresh still see the old
// data. Mutation verbs use this instead of dropping the snapshot outright,
// which would force every waiting caller through a cold fetch.
func (g *Guard[T]) Expire() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetched = time.Time{}
}

// Drop discards the snapshot entirely; the next Get blocks on a cold fetch.
func (g *Guard[T]) Drop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshot = nil
	g.filled = false
	g.fetched = time.Time{}
}
