// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package selector picks which backend variant serves a capability. Some
// capabilities (floating IPs, security groups) can be answered by either the
// network service or a legacy compute extension, depending on how the cloud
// has arranged itself; a binding fixes the preference once per connection,
// and the only error that ever causes a second attempt is the designated
// "this capability is not here" signal from the primary.
package selector

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("cirrus.selector")

// Variant names one concrete backend implementation of a capability. The
// set is closed per binding; there is no runtime discovery.
type Variant string

const (
	// VariantNetwork is the standalone network service implementation.
	VariantNetwork Variant = "network"
	// VariantCompute is the legacy compute-extension implementation.
	VariantCompute Variant = "compute"
	// VariantNone marks an unbound side.
	VariantNone Variant = ""
)

// ParamRule maps canonical parameter names to the names one variant (or one
// API major version) expects on the wire. Rules are resolved when the
// binding is built and applied before every call, never negotiated per
// request.
type ParamRule map[string]string

// Translate renames the canonical params per the rule. Unlisted names pass
// through unchanged.
func (r ParamRule) Translate(params map[string]any) map[string]any {
	if len(r) == 0 || len(params) == 0 {
		return params
	}
	out := make(map[string]any, len(params))
	for name, v := range params {
		if renamed, ok := r[name]; ok {
			name = renamed
		}
		out[name] = v
	}
	return out
}

// Binding is the static configuration for one capability on one connection.
type Binding struct {
	// Capability names the cloud feature, e.g. "floating-ips".
	Capability string

	// Primary is tried first. VariantNone means the capability has no
	// backend on this cloud at all, and every invocation fails with a
	// not-supported error without touching any backend.
	Primary Variant

	// Secondary, when set, is tried if the primary reports the
	// designated not-found signal.
	Secondary Variant

	// IsNotFound classifies the one error that triggers fallback. Any
	// error it rejects propagates unchanged.
	IsNotFound func(error) bool

	// Rules holds per-variant parameter renamings.
	Rules map[Variant]ParamRule

	// OnFallback, when set, observes each fallback decision.
	OnFallback func(capability string, from, to Variant, cause error)
}

// Params translates canonical parameters for the given variant.
func (b Binding) Params(v Variant, params map[string]any) map[string]any {
	return b.Rules[v].Translate(params)
}

// Supported reports whether the capability has any backend at all.
func (b Binding) Supported() bool {
	return b.Primary != VariantNone
}

// Invoke runs call against the binding's primary variant, falling back to
// the secondary exactly once when the primary raises the binding's
// not-found signal. Errors are never swallowed otherwise.
func Invoke[T any](b Binding, call func(Variant) (T, error)) (T, error) {
	var zero T
	if !b.Supported() {
		return zero, errors.NotSupportedf("capability %q", b.Capability)
	}
	result, err := call(b.Primary)
	if err == nil {
		return result, nil
	}
	if b.Secondary == VariantNone || b.IsNotFound == nil || !b.IsNotFound(err) {
		return zero, errors.Trace(err)
	}
	logger.Debugf("capability %q not found on %s backend: %v; trying %s",
		b.Capability, b.Primary, err, b.Secondary)
	if b.OnFallback != nil {
		b.OnFallback(b.Capability, b.Primary, b.Secondary, err)
	}
	result, err = call(b.Secondary)
	if err != nil {
		return zero, errors.Trace(err)
	}
	return result, nil
}

// IsUnsupported reports whether err is the no-backend-bound failure.
func IsUnsupported(err error) bool {
	return errors.Is(err, errors.NotSupported)
}
