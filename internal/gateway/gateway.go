// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package gateway defines the narrow service interfaces the rest of the
// module programs against, together with goose-backed implementations.
// Each interface covers one catalog service; callers never touch a raw
// goose client directly, which keeps every verb testable against the
// fakes in gatewaytest.
package gateway

import (
	"time"

	"github.com/go-goose/goose/v5/cinder"
	"github.com/go-goose/goose/v5/neutron"
	"github.com/go-goose/goose/v5/nova"
)

// Compute is the compute service surface, including the legacy
// nova-network and security group extensions used as fallbacks when the
// cloud runs no standalone network service.
type Compute interface {
	ListServers(filter *nova.Filter) ([]nova.ServerDetail, error)
	GetServer(serverID string) (*nova.ServerDetail, error)
	RunServer(opts nova.RunServerOpts) (*nova.Entity, error)
	DeleteServer(serverID string) error
	ListFlavors() ([]nova.FlavorDetail, error)

	AddServerFloatingIP(serverID, address string) error
	RemoveServerFloatingIP(serverID, address string) error

	ListVolumeAttachments(serverID string) ([]nova.VolumeAttachment, error)
	AttachVolume(serverID, volumeID, device string) (*nova.VolumeAttachment, error)
	DetachVolume(serverID, attachmentID string) error

	// Legacy nova-network floating IPs.
	ListFloatingIPs() ([]nova.FloatingIP, error)
	AllocateFloatingIP() (*nova.FloatingIP, error)
	DeleteFloatingIP(ipID string) error

	// Legacy compute security groups.
	ListSecurityGroups() ([]nova.SecurityGroup, error)
	SecurityGroupByName(name string) (*nova.SecurityGroup, error)
	CreateSecurityGroup(name, description string) (*nova.SecurityGroup, error)
	DeleteSecurityGroup(groupID string) error
	CreateSecurityGroupRule(rule nova.RuleInfo) (*nova.SecurityGroupRule, error)
	DeleteSecurityGroupRule(ruleID string) error
}

// Network is the standalone network service surface.
type Network interface {
	ListNetworks(filter *neutron.Filter) ([]neutron.NetworkV2, error)
	GetNetwork(networkID string) (*neutron.NetworkV2, error)

	ListFloatingIPs() ([]neutron.FloatingIPV2, error)
	AllocateFloatingIP(externalNetworkID string) (*neutron.FloatingIPV2, error)
	DeleteFloatingIP(ipID string) error

	ListSecurityGroups() ([]neutron.SecurityGroupV2, error)
	SecurityGroupByName(name string) ([]neutron.SecurityGroupV2, error)
	CreateSecurityGroup(name, description string) (*neutron.SecurityGroupV2, error)
	DeleteSecurityGroup(groupID string) error
	CreateSecurityGroupRule(rule neutron.RuleInfoV2) (*neutron.SecurityGroupRuleV2, error)
	DeleteSecurityGroupRule(ruleID string) error
}

// BlockStorage is the volume service surface. CreateVolume takes its
// parameters as a map already translated to the connection's wire
// dialect, so the v1 display_name naming and the v2 naming travel
// through the same call.
type BlockStorage interface {
	ListVolumes() ([]cinder.Volume, error)
	GetVolume(volumeID string) (*cinder.Volume, error)
	CreateVolume(params map[string]any) (*cinder.Volume, error)
	DeleteVolume(volumeID string) error
	SetVolumeMetadata(volumeID string, metadata map[string]string) (map[string]string, error)

	ListSnapshots() ([]cinder.Snapshot, error)
	GetSnapshot(snapshotID string) (*cinder.Snapshot, error)
	CreateSnapshot(args cinder.CreateSnapshotSnapshotParams) (*cinder.Snapshot, error)
	DeleteSnapshot(snapshotID string) error
}

// Image is the raw image record as the image service reports it. Goose
// carries no v2 image client, so the shape is declared here.
type Image struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	Visibility string            `json:"visibility"`
	Protected  bool              `json:"protected"`
	Checksum   string            `json:"checksum"`
	SizeBytes  int64             `json:"size"`
	Owner      string            `json:"owner"`
	DiskFormat string            `json:"disk_format"`
	Properties map[string]string `json:"-"`
}

// ImageTask is an asynchronous import task on the image service.
type ImageTask struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
	// ImageID is filled in by the service once the import lands.
	ImageID string `json:"image_id"`
}

// CreateImageArgs describes a direct image upload.
type CreateImageArgs struct {
	Name            string
	DiskFormat      string
	ContainerFormat string
	Visibility      string
	Properties      map[string]string
}

// ImportTaskArgs describes a task-based image import from an object
// store location.
type ImportTaskArgs struct {
	Name       string
	ImportFrom string
	DiskFormat string
}

// Imaging is the image service surface.
type Imaging interface {
	ListImages() ([]Image, error)
	GetImage(imageID string) (*Image, error)
	CreateImage(args CreateImageArgs) (*Image, error)
	UploadImageData(imageID string, data []byte) error
	UpdateImageProperties(imageID string, properties map[string]string) error
	DeleteImage(imageID string) error

	CreateImportTask(args ImportTaskArgs) (*ImageTask, error)
	GetTask(taskID string) (*ImageTask, error)
}

// Stack is the raw orchestration stack record.
type Stack struct {
	ID           string            `json:"id"`
	Name         string            `json:"stack_name"`
	Status       string            `json:"stack_status"`
	StatusReason string            `json:"stack_status_reason"`
	Description  string            `json:"description"`
	Outputs      map[string]string `json:"-"`
}

// CreateStackArgs describes a stack launch.
type CreateStackArgs struct {
	Name        string
	Template    []byte
	Environment []byte
	Parameters  map[string]string
	Timeout     time.Duration
	RollbackOn  bool
}

// Orchestration is the stack service surface.
type Orchestration interface {
	ListStacks() ([]Stack, error)
	GetStack(nameOrID string) (*Stack, error)
	CreateStack(args CreateStackArgs) (*Stack, error)
	UpdateStack(stackID string, args CreateStackArgs) error
	DeleteStack(nameOrID string) error
}

// Connection bundles the per-service gateways for one authenticated
// session against one region.
type Connection struct {
	Compute       Compute
	Network       Network
	BlockStorage  BlockStorage
	Imaging       Imaging
	Orchestration Orchestration
}
