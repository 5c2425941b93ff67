// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cirrus

import (
	gooseerrors "github.com/go-goose/goose/v5/errors"
	"github.com/juju/errors"

	"github.com/go-cirrus/cirrus/core/resource"
	"github.com/go-cirrus/cirrus/internal/converge"
	"github.com/go-cirrus/cirrus/internal/selector"
)

// IsNotFound reports whether err says the requested entity is absent,
// whichever backend or gateway produced it.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return gooseerrors.IsNotFound(errors.Cause(err)) ||
		errors.Is(err, errors.NotFound)
}

// IsDuplicate reports whether err says an entity with the same identity
// already exists.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	return gooseerrors.IsDuplicateValue(errors.Cause(err))
}

// IsUnsupported reports whether err means the capability has no backend
// bound on this cloud.
func IsUnsupported(err error) bool {
	return selector.IsUnsupported(err)
}

// IsConvergenceFailure reports whether err is a terminal failure state
// observed while waiting for a resource. LastSeen extracts the final
// descriptor for diagnostics.
func IsConvergenceFailure(err error) bool {
	return converge.IsFailed(err)
}

// LastSeen extracts the final descriptor observed before a convergence
// failure or timeout, or nil for any other error.
func LastSeen(err error) *resource.Descriptor {
	return converge.LastSeen(err)
}

// IsConvergenceTimeout reports whether err means the wait deadline
// elapsed before the resource reached a terminal state. The resource may
// still converge later; callers that care must re-query.
func IsConvergenceTimeout(err error) bool {
	return converge.IsTimeout(err)
}
