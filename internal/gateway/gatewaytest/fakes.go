// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package gatewaytest provides scripted in-memory gateways for tests.
// Each fake records calls on an embedded Stub, returns canned data by
// default, and lets a test override any single method with a function
// field.
package gatewaytest

import (
	"github.com/go-goose/goose/v5/cinder"
	"github.com/go-goose/goose/v5/neutron"
	"github.com/go-goose/goose/v5/nova"
	"github.com/juju/errors"
	"github.com/juju/testing"

	"github.com/go-cirrus/cirrus/internal/gateway"
)

func errNotFound(kind, id string) error {
	return errors.NotFoundf("%s %q", kind, id)
}

// Compute is a scripted gateway.Compute.
type Compute struct {
	testing.Stub

	Servers     []nova.ServerDetail
	Flavors     []nova.FlavorDetail
	FloatingIPs []nova.FloatingIP
	Groups      []nova.SecurityGroup
	Attachments []nova.VolumeAttachment

	GetServerFn       func(serverID string) (*nova.ServerDetail, error)
	RunServerFn       func(opts nova.RunServerOpts) (*nova.Entity, error)
	AllocateIPFn      func() (*nova.FloatingIP, error)
	GroupByNameFn     func(name string) (*nova.SecurityGroup, error)
	CreateGroupFn     func(name, description string) (*nova.SecurityGroup, error)
	CreateRuleFn      func(rule nova.RuleInfo) (*nova.SecurityGroupRule, error)
	AttachVolumeFn    func(serverID, volumeID, device string) (*nova.VolumeAttachment, error)
	ListAttachmentsFn func(serverID string) ([]nova.VolumeAttachment, error)
}

func (f *Compute) ListServers(filter *nova.Filter) ([]nova.ServerDetail, error) {
	f.AddCall("ListServers", filter)
	return f.Servers, f.NextErr()
}

func (f *Compute) GetServer(serverID string) (*nova.ServerDetail, error) {
	f.AddCall("GetServer", serverID)
	if f.GetServerFn != nil {
		return f.GetServerFn(serverID)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	for i := range f.Servers {
		if f.Servers[i].Id == serverID {
			return &f.Servers[i], nil
		}
	}
	return nil, errNotFound("server", serverID)
}

func (f *Compute) RunServer(opts nova.RunServerOpts) (*nova.Entity, error) {
	f.AddCall("RunServer", opts)
	if f.RunServerFn != nil {
		return f.RunServerFn(opts)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &nova.Entity{Id: "server-new"}, nil
}

func (f *Compute) DeleteServer(serverID string) error {
	f.AddCall("DeleteServer", serverID)
	return f.NextErr()
}

func (f *Compute) ListFlavors() ([]nova.FlavorDetail, error) {
	f.AddCall("ListFlavors")
	return f.Flavors, f.NextErr()
}

func (f *Compute) AddServerFloatingIP(serverID, address string) error {
	f.AddCall("AddServerFloatingIP", serverID, address)
	return f.NextErr()
}

func (f *Compute) RemoveServerFloatingIP(serverID, address string) error {
	f.AddCall("RemoveServerFloatingIP", serverID, address)
	return f.NextErr()
}

func (f *Compute) ListVolumeAttachments(serverID string) ([]nova.VolumeAttachment, error) {
	f.AddCall("ListVolumeAttachments", serverID)
	if f.ListAttachmentsFn != nil {
		return f.ListAttachmentsFn(serverID)
	}
	return f.Attachments, f.NextErr()
}

func (f *Compute) AttachVolume(serverID, volumeID, device string) (*nova.VolumeAttachment, error) {
	f.AddCall("AttachVolume", serverID, volumeID, device)
	if f.AttachVolumeFn != nil {
		return f.AttachVolumeFn(serverID, volumeID, device)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &nova.VolumeAttachment{
		ServerId: serverID, VolumeId: volumeID, Device: &device,
	}, nil
}

func (f *Compute) DetachVolume(serverID, attachmentID string) error {
	f.AddCall("DetachVolume", serverID, attachmentID)
	return f.NextErr()
}

func (f *Compute) ListFloatingIPs() ([]nova.FloatingIP, error) {
	f.AddCall("ListFloatingIPs")
	return f.FloatingIPs, f.NextErr()
}

func (f *Compute) AllocateFloatingIP() (*nova.FloatingIP, error) {
	f.AddCall("AllocateFloatingIP")
	if f.AllocateIPFn != nil {
		return f.AllocateIPFn()
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &nova.FloatingIP{Id: "fip-new", IP: "10.9.9.9"}, nil
}

func (f *Compute) DeleteFloatingIP(ipID string) error {
	f.AddCall("DeleteFloatingIP", ipID)
	return f.NextErr()
}

func (f *Compute) ListSecurityGroups() ([]nova.SecurityGroup, error) {
	f.AddCall("ListSecurityGroups")
	return f.Groups, f.NextErr()
}

func (f *Compute) SecurityGroupByName(name string) (*nova.SecurityGroup, error) {
	f.AddCall("SecurityGroupByName", name)
	if f.GroupByNameFn != nil {
		return f.GroupByNameFn(name)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	for i := range f.Groups {
		if f.Groups[i].Name == name {
			return &f.Groups[i], nil
		}
	}
	return nil, errNotFound("security group", name)
}

func (f *Compute) CreateSecurityGroup(name, description string) (*nova.SecurityGroup, error) {
	f.AddCall("CreateSecurityGroup", name, description)
	if f.CreateGroupFn != nil {
		return f.CreateGroupFn(name, description)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &nova.SecurityGroup{Id: "sg-new", Name: name, Description: description}, nil
}

func (f *Compute) DeleteSecurityGroup(groupID string) error {
	f.AddCall("DeleteSecurityGroup", groupID)
	return f.NextErr()
}

func (f *Compute) CreateSecurityGroupRule(rule nova.RuleInfo) (*nova.SecurityGroupRule, error) {
	f.AddCall("CreateSecurityGroupRule", rule)
	if f.CreateRuleFn != nil {
		return f.CreateRuleFn(rule)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &nova.SecurityGroupRule{Id: "rule-new", ParentGroupId: rule.ParentGroupId}, nil
}

func (f *Compute) DeleteSecurityGroupRule(ruleID string) error {
	f.AddCall("DeleteSecurityGroupRule", ruleID)
	return f.NextErr()
}

// Network is a scripted gateway.Network.
type Network struct {
	testing.Stub

	Networks    []neutron.NetworkV2
	FloatingIPs []neutron.FloatingIPV2
	Groups      []neutron.SecurityGroupV2

	AllocateIPFn  func(externalNetworkID string) (*neutron.FloatingIPV2, error)
	CreateGroupFn func(name, description string) (*neutron.SecurityGroupV2, error)
	CreateRuleFn  func(rule neutron.RuleInfoV2) (*neutron.SecurityGroupRuleV2, error)
}

func (f *Network) ListNetworks(filter *neutron.Filter) ([]neutron.NetworkV2, error) {
	f.AddCall("ListNetworks", filter)
	return f.Networks, f.NextErr()
}

func (f *Network) GetNetwork(networkID string) (*neutron.NetworkV2, error) {
	f.AddCall("GetNetwork", networkID)
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	for i := range f.Networks {
		if f.Networks[i].Id == networkID {
			return &f.Networks[i], nil
		}
	}
	return nil, errNotFound("network", networkID)
}

func (f *Network) ListFloatingIPs() ([]neutron.FloatingIPV2, error) {
	f.AddCall("ListFloatingIPs")
	return f.FloatingIPs, f.NextErr()
}

func (f *Network) AllocateFloatingIP(externalNetworkID string) (*neutron.FloatingIPV2, error) {
	f.AddCall("AllocateFloatingIP", externalNetworkID)
	if f.AllocateIPFn != nil {
		return f.AllocateIPFn(externalNetworkID)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &neutron.FloatingIPV2{
		Id: "fip-new", IP: "10.9.9.9", FloatingNetworkId: externalNetworkID,
	}, nil
}

func (f *Network) DeleteFloatingIP(ipID string) error {
	f.AddCall("DeleteFloatingIP", ipID)
	return f.NextErr()
}

func (f *Network) ListSecurityGroups() ([]neutron.SecurityGroupV2, error) {
	f.AddCall("ListSecurityGroups")
	return f.Groups, f.NextErr()
}

func (f *Network) SecurityGroupByName(name string) ([]neutron.SecurityGroupV2, error) {
	f.AddCall("SecurityGroupByName", name)
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	var matched []neutron.SecurityGroupV2
	for _, g := range f.Groups {
		if g.Name == name {
			matched = append(matched, g)
		}
	}
	return matched, nil
}

func (f *Network) CreateSecurityGroup(name, description string) (*neutron.SecurityGroupV2, error) {
	f.AddCall("CreateSecurityGroup", name, description)
	if f.CreateGroupFn != nil {
		return f.CreateGroupFn(name, description)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &neutron.SecurityGroupV2{Id: "sg-new", Name: name, Description: description}, nil
}

func (f *Network) DeleteSecurityGroup(groupID string) error {
	f.AddCall("DeleteSecurityGroup", groupID)
	return f.NextErr()
}

func (f *Network) CreateSecurityGroupRule(rule neutron.RuleInfoV2) (*neutron.SecurityGroupRuleV2, error) {
	f.AddCall("CreateSecurityGroupRule", rule)
	if f.CreateRuleFn != nil {
		return f.CreateRuleFn(rule)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &neutron.SecurityGroupRuleV2{
		Id: "rule-new", ParentGroupId: rule.ParentGroupId,
	}, nil
}

func (f *Network) DeleteSecurityGroupRule(ruleID string) error {
	f.AddCall("DeleteSecurityGroupRule", ruleID)
	return f.NextErr()
}

// BlockStorage is a scripted gateway.BlockStorage.
type BlockStorage struct {
	testing.Stub

	Volumes   []cinder.Volume
	Snapshots []cinder.Snapshot

	GetVolumeFn      func(volumeID string) (*cinder.Volume, error)
	CreateVolumeFn   func(params map[string]any) (*cinder.Volume, error)
	GetSnapshotFn    func(snapshotID string) (*cinder.Snapshot, error)
	CreateSnapshotFn func(args cinder.CreateSnapshotSnapshotParams) (*cinder.Snapshot, error)
}

func (f *BlockStorage) ListVolumes() ([]cinder.Volume, error) {
	f.AddCall("ListVolumes")
	return f.Volumes, f.NextErr()
}

func (f *BlockStorage) GetVolume(volumeID string) (*cinder.Volume, error) {
	f.AddCall("GetVolume", volumeID)
	if f.GetVolumeFn != nil {
		return f.GetVolumeFn(volumeID)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	for i := range f.Volumes {
		if f.Volumes[i].ID == volumeID {
			return &f.Volumes[i], nil
		}
	}
	return nil, errNotFound("volume", volumeID)
}

func (f *BlockStorage) CreateVolume(params map[string]any) (*cinder.Volume, error) {
	f.AddCall("CreateVolume", params)
	if f.CreateVolumeFn != nil {
		return f.CreateVolumeFn(params)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	size, _ := params["size"].(int)
	return &cinder.Volume{ID: "vol-new", Size: size, Status: "creating"}, nil
}

func (f *BlockStorage) DeleteVolume(volumeID string) error {
	f.AddCall("DeleteVolume", volumeID)
	return f.NextErr()
}

func (f *BlockStorage) SetVolumeMetadata(volumeID string, metadata map[string]string) (map[string]string, error) {
	f.AddCall("SetVolumeMetadata", volumeID, metadata)
	return metadata, f.NextErr()
}

func (f *BlockStorage) ListSnapshots() ([]cinder.Snapshot, error) {
	f.AddCall("ListSnapshots")
	return f.Snapshots, f.NextErr()
}

func (f *BlockStorage) GetSnapshot(snapshotID string) (*cinder.Snapshot, error) {
	f.AddCall("GetSnapshot", snapshotID)
	if f.GetSnapshotFn != nil {
		return f.GetSnapshotFn(snapshotID)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	for i := range f.Snapshots {
		if f.Snapshots[i].ID == snapshotID {
			return &f.Snapshots[i], nil
		}
	}
	return nil, errNotFound("snapshot", snapshotID)
}

func (f *BlockStorage) CreateSnapshot(args cinder.CreateSnapshotSnapshotParams) (*cinder.Snapshot, error) {
	f.AddCall("CreateSnapshot", args)
	if f.CreateSnapshotFn != nil {
		return f.CreateSnapshotFn(args)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &cinder.Snapshot{ID: "snap-new", VolumeID: args.VolumeId, Status: "creating"}, nil
}

func (f *BlockStorage) DeleteSnapshot(snapshotID string) error {
	f.AddCall("DeleteSnapshot", snapshotID)
	return f.NextErr()
}

// Imaging is a scripted gateway.Imaging.
type Imaging struct {
	testing.Stub

	Images []gateway.Image
	Tasks  map[string]*gateway.ImageTask

	CreateImageFn func(args gateway.CreateImageArgs) (*gateway.Image, error)
	CreateTaskFn  func(args gateway.ImportTaskArgs) (*gateway.ImageTask, error)
	GetTaskFn     func(taskID string) (*gateway.ImageTask, error)
}

func (f *Imaging) ListImages() ([]gateway.Image, error) {
	f.AddCall("ListImages")
	return f.Images, f.NextErr()
}

func (f *Imaging) GetImage(imageID string) (*gateway.Image, error) {
	f.AddCall("GetImage", imageID)
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	for i := range f.Images {
		if f.Images[i].ID == imageID {
			return &f.Images[i], nil
		}
	}
	return nil, errNotFound("image", imageID)
}

func (f *Imaging) CreateImage(args gateway.CreateImageArgs) (*gateway.Image, error) {
	f.AddCall("CreateImage", args)
	if f.CreateImageFn != nil {
		return f.CreateImageFn(args)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &gateway.Image{ID: "image-new", Name: args.Name, Status: "queued"}, nil
}

func (f *Imaging) UploadImageData(imageID string, data []byte) error {
	f.AddCall("UploadImageData", imageID, data)
	return f.NextErr()
}

func (f *Imaging) UpdateImageProperties(imageID string, properties map[string]string) error {
	f.AddCall("UpdateImageProperties", imageID, properties)
	return f.NextErr()
}

func (f *Imaging) DeleteImage(imageID string) error {
	f.AddCall("DeleteImage", imageID)
	return f.NextErr()
}

func (f *Imaging) CreateImportTask(args gateway.ImportTaskArgs) (*gateway.ImageTask, error) {
	f.AddCall("CreateImportTask", args)
	if f.CreateTaskFn != nil {
		return f.CreateTaskFn(args)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &gateway.ImageTask{ID: "task-new", Type: "import", Status: "pending"}, nil
}

func (f *Imaging) GetTask(taskID string) (*gateway.ImageTask, error) {
	f.AddCall("GetTask", taskID)
	if f.GetTaskFn != nil {
		return f.GetTaskFn(taskID)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	if t, ok := f.Tasks[taskID]; ok {
		return t, nil
	}
	return nil, errNotFound("task", taskID)
}

// Orchestration is a scripted gateway.Orchestration.
type Orchestration struct {
	testing.Stub

	Stacks []gateway.Stack

	GetStackFn    func(nameOrID string) (*gateway.Stack, error)
	CreateStackFn func(args gateway.CreateStackArgs) (*gateway.Stack, error)
}

func (f *Orchestration) ListStacks() ([]gateway.Stack, error) {
	f.AddCall("ListStacks")
	return f.Stacks, f.NextErr()
}

func (f *Orchestration) GetStack(nameOrID string) (*gateway.Stack, error) {
	f.AddCall("GetStack", nameOrID)
	if f.GetStackFn != nil {
		return f.GetStackFn(nameOrID)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	for i := range f.Stacks {
		if f.Stacks[i].ID == nameOrID || f.Stacks[i].Name == nameOrID {
			return &f.Stacks[i], nil
		}
	}
	return nil, errNotFound("stack", nameOrID)
}

func (f *Orchestration) CreateStack(args gateway.CreateStackArgs) (*gateway.Stack, error) {
	f.AddCall("CreateStack", args)
	if f.CreateStackFn != nil {
		return f.CreateStackFn(args)
	}
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return &gateway.Stack{
		ID: "stack-new", Name: args.Name, Status: "CREATE_IN_PROGRESS",
	}, nil
}

func (f *Orchestration) UpdateStack(stackID string, args gateway.CreateStackArgs) error {
	f.AddCall("UpdateStack", stackID, args)
	return f.NextErr()
}

func (f *Orchestration) DeleteStack(nameOrID string) error {
	f.AddCall("DeleteStack", nameOrID)
	return f.NextErr()
}
