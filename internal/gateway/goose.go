// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package gateway

import (
	"net/url"

	"github.com/go-goose/goose/v5/cinder"
	"github.com/go-goose/goose/v5/client"
	"github.com/go-goose/goose/v5/neutron"
	"github.com/go-goose/goose/v5/nova"
	"github.com/juju/errors"
)

// NewCompute returns a Compute gateway backed by the compute service
// reachable through authClient.
func NewCompute(authClient client.AuthenticatingClient) Compute {
	return &gooseCompute{nova.New(authClient)}
}

type gooseCompute struct {
	*nova.Client
}

func (c *gooseCompute) ListServers(filter *nova.Filter) ([]nova.ServerDetail, error) {
	return c.Client.ListServersDetail(filter)
}

func (c *gooseCompute) ListFlavors() ([]nova.FlavorDetail, error) {
	return c.Client.ListFlavorsDetail()
}

// NewNetwork returns a Network gateway backed by the standalone network
// service reachable through authClient.
func NewNetwork(authClient client.AuthenticatingClient) Network {
	return &gooseNetwork{neutron.New(authClient)}
}

type gooseNetwork struct {
	*neutron.Client
}

func (c *gooseNetwork) ListNetworks(filter *neutron.Filter) ([]neutron.NetworkV2, error) {
	if filter == nil {
		return c.Client.ListNetworksV2()
	}
	return c.Client.ListNetworksV2(filter)
}

func (c *gooseNetwork) GetNetwork(networkID string) (*neutron.NetworkV2, error) {
	return c.Client.GetNetworkV2(networkID)
}

func (c *gooseNetwork) ListFloatingIPs() ([]neutron.FloatingIPV2, error) {
	return c.Client.ListFloatingIPsV2()
}

func (c *gooseNetwork) AllocateFloatingIP(externalNetworkID string) (*neutron.FloatingIPV2, error) {
	return c.Client.AllocateFloatingIPV2(externalNetworkID)
}

func (c *gooseNetwork) DeleteFloatingIP(ipID string) error {
	return c.Client.DeleteFloatingIPV2(ipID)
}

func (c *gooseNetwork) ListSecurityGroups() ([]neutron.SecurityGroupV2, error) {
	return c.Client.ListSecurityGroupsV2()
}

func (c *gooseNetwork) SecurityGroupByName(name string) ([]neutron.SecurityGroupV2, error) {
	return c.Client.SecurityGroupByNameV2(name)
}

func (c *gooseNetwork) CreateSecurityGroup(name, description string) (*neutron.SecurityGroupV2, error) {
	return c.Client.CreateSecurityGroupV2(name, description)
}

func (c *gooseNetwork) DeleteSecurityGroup(groupID string) error {
	return c.Client.DeleteSecurityGroupV2(groupID)
}

func (c *gooseNetwork) CreateSecurityGroupRule(rule neutron.RuleInfoV2) (*neutron.SecurityGroupRuleV2, error) {
	return c.Client.CreateSecurityGroupRuleV2(rule)
}

func (c *gooseNetwork) DeleteSecurityGroupRule(ruleID string) error {
	return c.Client.DeleteSecurityGroupRuleV2(ruleID)
}

// NewBlockStorage returns a BlockStorage gateway talking to the volume
// endpoint registered for region in the catalog. apiVersion selects the
// wire dialect: 2 uses the native client, 1 a REST shim speaking the
// display_name naming.
func NewBlockStorage(authClient client.AuthenticatingClient, region string, apiVersion int) (BlockStorage, error) {
	if apiVersion == 1 {
		base, err := endpointForRegion(authClient, region, "volume")
		if err != nil {
			return nil, errors.Trace(err)
		}
		return NewBlockStorageV1Endpoint(base, authClient.Token), nil
	}
	endpoint, ok := authClient.EndpointsForRegion(region)["volume"]
	if !ok {
		return nil, errors.NotFoundf("volume endpoint for region %q", region)
	}
	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Annotate(err, "parsing volume endpoint")
	}
	return &gooseBlockStorage{
		cinder.Basic(endpointURL, authClient.TenantId(), authClient.Token),
	}, nil
}

type gooseBlockStorage struct {
	*cinder.Client
}

func (c *gooseBlockStorage) ListVolumes() ([]cinder.Volume, error) {
	resp, err := c.Client.GetVolumesDetail()
	if err != nil {
		return nil, err
	}
	return resp.Volumes, nil
}

func (c *gooseBlockStorage) GetVolume(volumeID string) (*cinder.Volume, error) {
	resp, err := c.Client.GetVolume(volumeID)
	if err != nil {
		return nil, err
	}
	return &resp.Volume, nil
}

func (c *gooseBlockStorage) CreateVolume(params map[string]any) (*cinder.Volume, error) {
	var args cinder.CreateVolumeVolumeParams
	for name, value := range params {
		switch name {
		case "size":
			args.Size, _ = value.(int)
		case "name":
			args.Name, _ = value.(string)
		case "description":
			args.Description, _ = value.(string)
		case "volume_type":
			args.VolumeType, _ = value.(string)
		case "availability_zone":
			args.AvailabilityZone, _ = value.(string)
		case "snapshot_id":
			args.SnapshotId, _ = value.(string)
		case "metadata":
			args.Metadata = value
		}
	}
	resp, err := c.Client.CreateVolume(args)
	if err != nil {
		return nil, err
	}
	return &resp.Volume, nil
}

func (c *gooseBlockStorage) ListSnapshots() ([]cinder.Snapshot, error) {
	resp, err := c.Client.GetSnapshotsDetail()
	if err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

func (c *gooseBlockStorage) GetSnapshot(snapshotID string) (*cinder.Snapshot, error) {
	resp, err := c.Client.GetSnapshot(snapshotID)
	if err != nil {
		return nil, err
	}
	return &resp.Snapshot, nil
}

func (c *gooseBlockStorage) CreateSnapshot(args cinder.CreateSnapshotSnapshotParams) (*cinder.Snapshot, error) {
	resp, err := c.Client.CreateSnapshot(args)
	if err != nil {
		return nil, err
	}
	return &resp.Snapshot, nil
}
