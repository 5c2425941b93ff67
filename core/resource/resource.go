// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package resource holds the canonical, backend-agnostic view of a cloud
// object. Every raw result coming back from a backend is normalized into a
// Descriptor before it crosses a package boundary, so callers see the same
// field names and types no matter which backend, or which API major version,
// produced the data.
package resource

import (
	"strings"

	"github.com/juju/collections/set"
)

// Kind identifies the resource kind a Descriptor describes.
type Kind string

const (
	KindServer         Kind = "server"
	KindVolume         Kind = "volume"
	KindVolumeSnapshot Kind = "volume-snapshot"
	KindImage          Kind = "image"
	KindFloatingIP     Kind = "floating-ip"
	KindSecurityGroup  Kind = "security-group"
	KindNetwork        Kind = "network"
	KindStack          Kind = "stack"
)

// Descriptor is the canonical representation of a cloud object. Descriptors
// are refreshed by replacement, never mutated in place; a fresher poll or
// cache entry simply supersedes the old value.
type Descriptor struct {
	Kind   Kind
	ID     string
	Name   string
	Status string

	// Attrs holds normalized, kind-specific attributes under stable keys.
	Attrs map[string]any
}

// Attr returns the named normalized attribute, or nil.
func (d *Descriptor) Attr(key string) any {
	if d == nil || d.Attrs == nil {
		return nil
	}
	return d.Attrs[key]
}

// StringAttr returns the named attribute as a string, or "" when absent or
// of another type.
func (d *Descriptor) StringAttr(key string) string {
	s, _ := d.Attr(key).(string)
	return s
}

// Well-known normalized attribute keys. A given logical field always appears
// under the same key regardless of originating backend.
const (
	AttrAddress       = "address"
	AttrAttachedTo    = "attached_to"
	AttrAttachments   = "attachments"
	AttrDevice        = "device"
	AttrExternal      = "external"
	AttrFixedAddress  = "fixed_address"
	AttrNetworkID     = "network_id"
	AttrPortID        = "port_id"
	AttrSizeGiB       = "size_gib"
	AttrVolumeID      = "volume_id"
	AttrDescription   = "description"
	AttrStatusMessage = "status_message"
)

// Volume statuses are the only ones spelled consistently across every
// backend we bind; the terminal sets below come from the status vocabularies
// the backends actually emit.
var (
	volumeTerminal = set.NewStrings("available", "error", "in-use")
	imageTerminal  = set.NewStrings("active", "deleted", "killed")
	serverTerminal = set.NewStrings("ACTIVE", "ERROR", "SHUTOFF", "DELETED")
)

// IsTerminalStatus reports whether status is one from which no further
// backend-driven transition is expected for the given resource kind without
// a new operation being submitted.
func IsTerminalStatus(kind Kind, status string) bool {
	switch kind {
	case KindVolume, KindVolumeSnapshot:
		return volumeTerminal.Contains(status)
	case KindImage:
		return imageTerminal.Contains(strings.ToLower(status))
	case KindServer:
		return serverTerminal.Contains(status)
	case KindStack:
		return strings.HasSuffix(status, "_COMPLETE") ||
			strings.HasSuffix(status, "_FAILED")
	}
	// Kinds with no transient states (floating IPs, security groups,
	// networks) are always steady.
	return true
}

// Steady reports whether every member of a collection is in a terminal
// status for its kind. A collection with any member still in flight is not
// steady, and must not be cached: the caller is very likely polling it.
func Steady(kind Kind, descriptors []Descriptor) bool {
	for i := range descriptors {
		if !IsTerminalStatus(kind, descriptors[i].Status) {
			return false
		}
	}
	return true
}
