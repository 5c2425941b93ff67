// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package converge drives a freshly-submitted backend operation from a
// transient state to a terminal one by bounded-time polling. It is the one
// place in the tree that sleeps waiting for a backend, and is shared by the
// server, volume, snapshot, image, floating IP and stack workflows.
package converge

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"

	"github.com/go-cirrus/cirrus/core/resource"
)

var logger = loggo.GetLogger("cirrus.converge")

// Outcome classifies a polled descriptor.
type Outcome int

const (
	// Pending means the resource has not reached a terminal state.
	Pending Outcome = iota
	// Success means the resource reached the desired terminal state.
	Success
	// Failure means the resource reached a terminal failure state.
	Failure
)

// NotFoundPolicy says what a nil descriptor from Poll means.
type NotFoundPolicy int

const (
	// NotFoundPending treats absence as "not materialised yet". This is
	// the default: freshly created resources routinely take a few polls
	// to appear in list results on an eventually-consistent cloud.
	NotFoundPending NotFoundPolicy = iota
	// NotFoundTerminal treats absence as successful completion. Delete
	// workflows want this.
	NotFoundTerminal
)

// defaultInterval is used when a session does not name a poll cadence.
const defaultInterval = time.Second

// Session holds the ephemeral state for one polling loop. A Session is owned
// by the calling verb, used for a single Wait, and then discarded.
type Session struct {
	// Name appears in errors and log messages ("volume vol-0 to become
	// available").
	Name string

	// Poll performs one backend read. A nil descriptor with a nil error
	// means the resource was not found; the NotFound policy decides what
	// that implies.
	Poll func(ctx context.Context) (*resource.Descriptor, error)

	// Classify maps the latest descriptor onto an Outcome. It is
	// re-evaluated after every poll.
	Classify func(*resource.Descriptor) Outcome

	// NotFound selects the interpretation of a nil poll result.
	NotFound NotFoundPolicy

	// Timeout bounds the whole wait. Zero polls indefinitely; the caller
	// is then expected to bound the wait through ctx.
	Timeout time.Duration

	// Interval is the minimum spacing between polls. Verbs whose reads
	// are answered from a time-windowed snapshot set this to the snapshot
	// age so that polling any faster would only re-read stale data.
	Interval time.Duration

	// IsTransient, with Resubmit, implements the one-shot recovery for
	// backends with a documented transient failure mode: when Classify
	// reports Failure and IsTransient accepts the descriptor, the
	// original operation is resubmitted once for that occurrence and
	// polling resumes instead of failing.
	IsTransient func(*resource.Descriptor) bool
	Resubmit    func(ctx context.Context) error

	// Clock defaults to clock.WallClock.
	Clock clock.Clock
}

// errStillPending is the internal retry signal; it never escapes Wait.
var errStillPending = errors.New("still pending")

// Wait polls until the session classifies a terminal outcome, the timeout
// elapses, or ctx is cancelled. On Success the terminal descriptor is
// returned (nil when a NotFoundTerminal session completed by disappearance).
// Terminal failure returns a *FailedError and timeout a *TimeoutError, both
// carrying the last observed descriptor for diagnostics. The targeted
// backend resource is never rolled back: on timeout it remains exactly as
// the backend last reported it.
func (s Session) Wait(ctx context.Context) (*resource.Descriptor, error) {
	if s.Poll == nil || s.Classify == nil {
		return nil, errors.New("converge session needs Poll and Classify")
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	interval := s.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	var last *resource.Descriptor
	polls := 0
	args := retry.CallArgs{
		Clock: clk,
		Delay: interval,
		Stop:  ctx.Done(),
		Func: func() error {
			desc, err := s.Poll(ctx)
			if err != nil {
				return errors.Annotatef(err, "polling %s", s.Name)
			}
			polls++
			if desc == nil {
				if s.NotFound == NotFoundTerminal {
					last = nil
					return nil
				}
				return errStillPending
			}
			last = desc
			switch s.Classify(desc) {
			case Success:
				return nil
			case Failure:
				if s.IsTransient != nil && s.Resubmit != nil && s.IsTransient(desc) {
					logger.Debugf("%s reported a transient failure, resubmitting", s.Name)
					if err := s.Resubmit(ctx); err != nil {
						return errors.Annotatef(err, "resubmitting %s", s.Name)
					}
					return errStillPending
				}
				return &FailedError{Name: s.Name, Last: desc}
			}
			return errStillPending
		},
		IsFatalError: func(err error) bool {
			return err != errStillPending
		},
	}
	if s.Timeout > 0 {
		args.MaxDuration = s.Timeout
	} else {
		args.Attempts = retry.UnlimitedAttempts
	}

	err := retry.Call(args)
	switch {
	case err == nil:
		return last, nil
	case retry.IsDurationExceeded(err):
		logger.Debugf("%s: gave up after %d polls", s.Name, polls)
		return nil, &TimeoutError{Name: s.Name, Last: last, After: s.Timeout}
	case retry.IsRetryStopped(err):
		return nil, errors.Annotatef(ctx.Err(), "waiting for %s", s.Name)
	}
	return nil, errors.Trace(err)
}

// TerminalStatus returns a Classify function for the common case of a fixed
// success status and a fixed failure status, anything else pending.
func TerminalStatus(success, failure string) func(*resource.Descriptor) Outcome {
	return func(d *resource.Descriptor) Outcome {
		switch d.Status {
		case success:
			return Success
		case failure:
			return Failure
		}
		return Pending
	}
}
