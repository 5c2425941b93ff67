// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package converge

import (
	"fmt"
	"time"

	"github.com/juju/errors"

	"github.com/go-cirrus/cirrus/core/resource"
)

// FailedError reports that polling observed a terminal failure state. Last
// holds the descriptor that was classified as failed.
type FailedError struct {
	Name string
	Last *resource.Descriptor
}

// Error implements error.
func (e *FailedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%s failed with status %q", e.Name, e.Last.Status)
	}
	return fmt.Sprintf("%s failed", e.Name)
}

// IsFailed reports whether err (or its cause) is a *FailedError.
func IsFailed(err error) bool {
	_, ok := errors.Cause(err).(*FailedError)
	return ok
}

// TimeoutError reports that the deadline elapsed before any terminal
// classification. The resource may still converge later; a caller that
// cares must re-query.
type TimeoutError struct {
	Name  string
	Last  *resource.Descriptor
	After time.Duration
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for %s", e.After, e.Name)
}

// IsTimeout reports whether err (or its cause) is a *TimeoutError.
func IsTimeout(err error) bool {
	_, ok := errors.Cause(err).(*TimeoutError)
	return ok
}

// LastSeen extracts the last observed descriptor from a convergence error,
// if any.
func LastSeen(err error) *resource.Descriptor {
	switch e := errors.Cause(err).(type) {
	case *FailedError:
		return e.Last
	case *TimeoutError:
		return e.Last
	}
	return nil
}
