// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package normalize maps raw backend records onto canonical resource
// descriptors. Where a logical object has two wire shapes (floating IPs
// and security groups exist both on the network service and as compute
// extensions), both normalizers emit the same attribute keys, so
// nothing above this package can tell which backend answered.
package normalize

import (
	"github.com/go-goose/goose/v5/cinder"
	"github.com/go-goose/goose/v5/neutron"
	"github.com/go-goose/goose/v5/nova"

	"github.com/go-cirrus/cirrus/core/resource"
	"github.com/go-cirrus/cirrus/internal/gateway"
)

// Server maps a compute server record.
func Server(s nova.ServerDetail) resource.Descriptor {
	attrs := map[string]any{}
	var addresses []string
	for _, pool := range s.Addresses {
		for _, addr := range pool {
			addresses = append(addresses, addr.Address)
		}
	}
	if len(addresses) > 0 {
		attrs[resource.AttrAddress] = addresses[0]
		attrs["addresses"] = addresses
	}
	if s.Flavor.Id != "" {
		attrs["flavor_id"] = s.Flavor.Id
	}
	if s.Image.Id != "" {
		attrs["image_id"] = s.Image.Id
	}
	if len(s.Metadata) > 0 {
		attrs["metadata"] = s.Metadata
	}
	return resource.Descriptor{
		Kind:   resource.KindServer,
		ID:     s.Id,
		Name:   s.Name,
		Status: s.Status,
		Attrs:  attrs,
	}
}

// Servers maps a compute server listing.
func Servers(raw []nova.ServerDetail) []resource.Descriptor {
	out := make([]resource.Descriptor, len(raw))
	for i, s := range raw {
		out[i] = Server(s)
	}
	return out
}

// Volume maps a volume record.
func Volume(v cinder.Volume) resource.Descriptor {
	attrs := map[string]any{
		resource.AttrSizeGiB: v.Size,
	}
	if v.Description != "" {
		attrs[resource.AttrDescription] = v.Description
	}
	if len(v.Attachments) > 0 {
		attachments := make([]map[string]string, len(v.Attachments))
		for i, a := range v.Attachments {
			attachments[i] = map[string]string{
				"server_id": a.ServerId,
				"device":    a.Device,
			}
		}
		attrs[resource.AttrAttachments] = attachments
		attrs[resource.AttrAttachedTo] = v.Attachments[0].ServerId
	}
	return resource.Descriptor{
		Kind:   resource.KindVolume,
		ID:     v.ID,
		Name:   v.Name,
		Status: v.Status,
		Attrs:  attrs,
	}
}

// Volumes maps a volume listing.
func Volumes(raw []cinder.Volume) []resource.Descriptor {
	out := make([]resource.Descriptor, len(raw))
	for i, v := range raw {
		out[i] = Volume(v)
	}
	return out
}

// Snapshot maps a volume snapshot record.
func Snapshot(s cinder.Snapshot) resource.Descriptor {
	return resource.Descriptor{
		Kind:   resource.KindVolumeSnapshot,
		ID:     s.ID,
		Name:   s.Name,
		Status: s.Status,
		Attrs: map[string]any{
			resource.AttrVolumeID: s.VolumeID,
			resource.AttrSizeGiB:  s.Size,
		},
	}
}

// Snapshots maps a snapshot listing.
func Snapshots(raw []cinder.Snapshot) []resource.Descriptor {
	out := make([]resource.Descriptor, len(raw))
	for i, s := range raw {
		out[i] = Snapshot(s)
	}
	return out
}

// Image maps an image record. Custom properties travel as-is under
// "properties".
func Image(img gateway.Image) resource.Descriptor {
	attrs := map[string]any{
		"visibility": img.Visibility,
		"protected":  img.Protected,
	}
	if img.SizeBytes > 0 {
		attrs["size_bytes"] = img.SizeBytes
	}
	if img.Checksum != "" {
		attrs["checksum"] = img.Checksum
	}
	if img.DiskFormat != "" {
		attrs["disk_format"] = img.DiskFormat
	}
	if len(img.Properties) > 0 {
		attrs["properties"] = img.Properties
	}
	return resource.Descriptor{
		Kind:   resource.KindImage,
		ID:     img.ID,
		Name:   img.Name,
		Status: img.Status,
		Attrs:  attrs,
	}
}

// Images maps an image listing.
func Images(raw []gateway.Image) []resource.Descriptor {
	out := make([]resource.Descriptor, len(raw))
	for i, img := range raw {
		out[i] = Image(img)
	}
	return out
}

// FloatingIPNetwork maps the network-service floating IP shape. An
// empty fixed address means the IP is unattached.
func FloatingIPNetwork(fip neutron.FloatingIPV2) resource.Descriptor {
	attrs := map[string]any{
		resource.AttrAddress:   fip.IP,
		resource.AttrNetworkID: fip.FloatingNetworkId,
	}
	status := "DOWN"
	if fip.FixedIP != "" {
		attrs[resource.AttrFixedAddress] = fip.FixedIP
		status = "ACTIVE"
	}
	return resource.Descriptor{
		Kind:   resource.KindFloatingIP,
		ID:     fip.Id,
		Status: status,
		Attrs:  attrs,
	}
}

// FloatingIPCompute maps the compute-extension floating IP shape onto
// the same attribute keys as the network shape.
func FloatingIPCompute(fip nova.FloatingIP) resource.Descriptor {
	attrs := map[string]any{
		resource.AttrAddress: fip.IP,
	}
	status := "DOWN"
	if fip.InstanceId != nil && *fip.InstanceId != "" {
		attrs[resource.AttrAttachedTo] = *fip.InstanceId
		status = "ACTIVE"
	}
	if fip.FixedIP != nil && *fip.FixedIP != "" {
		attrs[resource.AttrFixedAddress] = *fip.FixedIP
	}
	return resource.Descriptor{
		Kind:   resource.KindFloatingIP,
		ID:     fip.Id,
		Status: status,
		Attrs:  attrs,
	}
}

// SecurityGroupNetwork maps the network-service security group shape.
func SecurityGroupNetwork(g neutron.SecurityGroupV2) resource.Descriptor {
	rules := make([]map[string]any, len(g.Rules))
	for i, r := range g.Rules {
		rule := map[string]any{
			"id":        r.Id,
			"direction": r.Direction,
		}
		if r.IPProtocol != nil {
			rule["protocol"] = *r.IPProtocol
		}
		if r.PortRangeMin != nil {
			rule["port_min"] = *r.PortRangeMin
		}
		if r.PortRangeMax != nil {
			rule["port_max"] = *r.PortRangeMax
		}
		if r.RemoteIPPrefix != "" {
			rule["remote_prefix"] = r.RemoteIPPrefix
		}
		rules[i] = rule
	}
	return resource.Descriptor{
		Kind: resource.KindSecurityGroup,
		ID:   g.Id,
		Name: g.Name,
		Attrs: map[string]any{
			resource.AttrDescription: g.Description,
			"rules":                  rules,
		},
	}
}

// SecurityGroupCompute maps the compute-extension security group shape
// onto the same attribute keys as the network shape. Compute rules are
// ingress by definition.
func SecurityGroupCompute(g nova.SecurityGroup) resource.Descriptor {
	rules := make([]map[string]any, len(g.Rules))
	for i, r := range g.Rules {
		rule := map[string]any{
			"id":        r.Id,
			"direction": "ingress",
		}
		if r.IPProtocol != nil {
			rule["protocol"] = *r.IPProtocol
		}
		if r.FromPort != nil {
			rule["port_min"] = *r.FromPort
		}
		if r.ToPort != nil {
			rule["port_max"] = *r.ToPort
		}
		if cidr, ok := r.IPRange["cidr"]; ok {
			rule["remote_prefix"] = cidr
		}
		rules[i] = rule
	}
	return resource.Descriptor{
		Kind: resource.KindSecurityGroup,
		ID:   g.Id,
		Name: g.Name,
		Attrs: map[string]any{
			resource.AttrDescription: g.Description,
			"rules":                  rules,
		},
	}
}

// Network maps a network record.
func Network(n neutron.NetworkV2) resource.Descriptor {
	return resource.Descriptor{
		Kind:   resource.KindNetwork,
		ID:     n.Id,
		Name:   n.Name,
		Status: "ACTIVE",
		Attrs: map[string]any{
			resource.AttrExternal: n.External,
			"subnet_ids":          n.SubnetIds,
		},
	}
}

// Networks maps a network listing.
func Networks(raw []neutron.NetworkV2) []resource.Descriptor {
	out := make([]resource.Descriptor, len(raw))
	for i, n := range raw {
		out[i] = Network(n)
	}
	return out
}

// Stack maps an orchestration stack record.
func Stack(s gateway.Stack) resource.Descriptor {
	attrs := map[string]any{}
	if s.StatusReason != "" {
		attrs[resource.AttrStatusMessage] = s.StatusReason
	}
	if len(s.Outputs) > 0 {
		attrs["outputs"] = s.Outputs
	}
	return resource.Descriptor{
		Kind:   resource.KindStack,
		ID:     s.ID,
		Name:   s.Name,
		Status: s.Status,
		Attrs:  attrs,
	}
}

// Stacks maps a stack listing.
func Stacks(raw []gateway.Stack) []resource.Descriptor {
	out := make([]resource.Descriptor, len(raw))
	for i, s := range raw {
		out[i] = Stack(s)
	}
	return out
}
