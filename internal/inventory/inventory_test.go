// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package inventory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/go-cirrus/cirrus/internal/inventory"
)

type inventorySuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&inventorySuite{})

func (s *inventorySuite) TestSnapshotReusedWithinAgeLimit(c *gc.C) {
	clk := testclock.NewClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	fetches := 0
	guard := inventory.New(clk, func(context.Context) ([]string, error) {
		fetches++
		return []string{"srv-0"}, nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		snap, err := guard.Get(ctx, 5*time.Second)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(snap, gc.DeepEquals, []string{"srv-0"})
	}
	c.Check(fetches, gc.Equals, 1)

	clk.Advance(5 * time.Second)
	_, err := guard.Get(ctx, 5*time.Second)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(fetches, gc.Equals, 2)
}

func (s *inventorySuite) TestZeroAgeLimitAlwaysRefreshes(c *gc.C) {
	clk := testclock.NewClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	fetches := 0
	guard := inventory.New(clk, func(context.Context) ([]string, error) {
		fetches++
		return nil, nil
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := guard.Get(ctx, 0)
		c.Assert(err, jc.ErrorIsNil)
	}
	c.Check(fetches, gc.Equals, 3)
}

func (s *inventorySuite) TestConcurrentColdCallersShareOneFetch(c *gc.C) {
	const callers = 5
	var fetches atomic.Int32
	entered := make(chan struct{})
	proceed := make(chan struct{})
	guard := inventory.New(nil, func(context.Context) ([]string, error) {
		if fetches.Add(1) == 1 {
			close(entered)
			<-proceed
		}
		return []string{"srv-0", "srv-1"}, nil
	})

	ctx := context.Background()
	results := make(chan []string, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		snap, err := guard.Get(ctx, time.Hour)
		c.Check(err, jc.ErrorIsNil)
		results <- snap
	}()
	// Let the first caller own the in-flight fetch before piling on.
	<-entered
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := guard.Get(ctx, time.Hour)
			c.Check(err, jc.ErrorIsNil)
			results <- snap
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(proceed)
	wg.Wait()

	for i := 0; i < callers; i++ {
		c.Check(<-results, gc.DeepEquals, []string{"srv-0", "srv-1"})
	}
	c.Check(fetches.Load(), gc.Equals, int32(1))
}

func (s *inventorySuite) TestNonBlockingCallerGetsStaleSnapshot(c *gc.C) {
	var snapshot atomic.Value
	snapshot.Store([]string{"old"})
	entered := make(chan struct{})
	proceed := make(chan struct{})
	first := true
	guard := inventory.New(nil, func(context.Context) ([]string, error) {
		if !first {
			close(entered)
			<-proceed
		}
		first = false
		return snapshot.Load().([]string), nil
	})

	ctx := context.Background()
	snap, err := guard.Get(ctx, time.Hour)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(snap, gc.DeepEquals, []string{"old"})

	// Force a refresh and hold it in flight.
	guard.Expire()
	snapshot.Store([]string{"new"})
	done := make(chan []string, 1)
	go func() {
		snap, err := guard.Get(ctx, time.Hour)
		c.Check(err, jc.ErrorIsNil)
		done <- snap
	}()
	<-entered

	// A concurrent caller must not wait for the refresh: it gets the
	// stale snapshot immediately.
	snap, err = guard.Get(ctx, time.Hour)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(snap, gc.DeepEquals, []string{"old"})

	close(proceed)
	select {
	case snap = <-done:
		c.Check(snap, gc.DeepEquals, []string{"new"})
	case <-time.After(5 * time.Second):
		c.Fatal("refresh never completed")
	}
}

func (s *inventorySuite) TestExpireForcesRefreshKeepingSnapshot(c *gc.C) {
	fetches := 0
	guard := inventory.New(nil, func(context.Context) ([]string, error) {
		fetches++
		return []string{"srv-0"}, nil
	})
	ctx := context.Background()
	_, err := guard.Get(ctx, time.Hour)
	c.Assert(err, jc.ErrorIsNil)
	guard.Expire()
	_, err = guard.Get(ctx, time.Hour)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(fetches, gc.Equals, 2)
}

func (s *inventorySuite) TestFetchErrorLeavesSnapshotUntouched(c *gc.C) {
	calls := 0
	guard := inventory.New(nil, func(context.Context) ([]string, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("backend down")
		}
		return []string{"srv-0"}, nil
	})
	ctx := context.Background()
	_, err := guard.Get(ctx, time.Hour)
	c.Assert(err, jc.ErrorIsNil)

	guard.Expire()
	_, err = guard.Get(ctx, time.Hour)
	c.Assert(err, gc.ErrorMatches, "backend down")

	// The old snapshot is still there for non-blocking callers.
	guard.Expire()
	snap, err := guard.Get(ctx, time.Hour)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(snap, gc.DeepEquals, []string{"srv-0"})
}
