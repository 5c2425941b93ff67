// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cirrus_test

import (
	"context"

	"github.com/go-goose/goose/v5/neutron"
	"github.com/go-goose/goose/v5/nova"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/go-cirrus/cirrus"
	"github.com/go-cirrus/cirrus/core/resource"
)

type floatingIPsSuite struct {
	baseSuite
}

var _ = gc.Suite(&floatingIPsSuite{})

func (s *floatingIPsSuite) TestFloatingIPsFromNetwork(c *gc.C) {
	s.network.FloatingIPs = []neutron.FloatingIPV2{
		{Id: "fip-0", IP: "203.0.113.5", FixedIP: "10.0.0.4", FloatingNetworkId: "ext-net"},
		{Id: "fip-1", IP: "203.0.113.6"},
	}
	fips, err := s.cloud.FloatingIPs(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(fips, gc.HasLen, 2)
	c.Check(fips[0].Status, gc.Equals, "ACTIVE")
	c.Check(fips[0].StringAttr(resource.AttrAddress), gc.Equals, "203.0.113.5")
	c.Check(fips[1].Status, gc.Equals, "DOWN")
	// The compute extension was never consulted.
	s.compute.CheckCallNames(c)
}

func (s *floatingIPsSuite) TestFloatingIPsFallBackToCompute(c *gc.C) {
	s.network.SetErrors(errors.NotFoundf("floating ip extension"))
	instance := serverUUID
	s.compute.FloatingIPs = []nova.FloatingIP{
		{Id: "fip-0", IP: "203.0.113.5", InstanceId: &instance},
	}

	fips, err := s.cloud.FloatingIPs(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(fips, gc.HasLen, 1)
	c.Check(fips[0].Status, gc.Equals, "ACTIVE")
	c.Check(fips[0].StringAttr(resource.AttrAttachedTo), gc.Equals, serverUUID)
	s.network.CheckCallNames(c, "ListFloatingIPs")
	s.compute.CheckCallNames(c, "ListFloatingIPs")
}

func (s *floatingIPsSuite) TestFloatingIPsOtherErrorDoesNotFallBack(c *gc.C) {
	s.network.SetErrors(errors.New("neutron melted"))

	_, err := s.cloud.FloatingIPs(context.Background())
	c.Assert(err, gc.ErrorMatches, ".*neutron melted.*")
	s.compute.CheckCallNames(c)
}

func (s *floatingIPsSuite) TestFloatingIPsUnsupported(c *gc.C) {
	cloud := s.newCloud(c, map[string]interface{}{"floatingip-source": "none"})

	_, err := cloud.FloatingIPs(context.Background())
	c.Assert(cirrus.IsUnsupported(err), jc.IsTrue)
	s.network.CheckCallNames(c)
	s.compute.CheckCallNames(c)
}

func (s *floatingIPsSuite) TestCreateFloatingIPUsesExternalNetwork(c *gc.C) {
	s.network.Networks = []neutron.NetworkV2{
		{Id: "net-int", Name: "internal"},
		{Id: "net-ext", Name: "public", External: true},
	}
	d, err := s.cloud.CreateFloatingIP(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(d.ID, gc.Equals, "fip-new")
	s.network.CheckCall(c, 1, "AllocateFloatingIP", "net-ext")
}

func (s *floatingIPsSuite) TestCreateFloatingIPMemoisesExternalNetwork(c *gc.C) {
	s.network.Networks = []neutron.NetworkV2{
		{Id: "net-ext", Name: "public", External: true},
	}
	_, err := s.cloud.CreateFloatingIP(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	_, err = s.cloud.CreateFloatingIP(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	// The external network was discovered once and stamped.
	s.network.CheckCallNames(c,
		"ListNetworks", "AllocateFloatingIP", "AllocateFloatingIP")
}

func (s *floatingIPsSuite) TestCreateFloatingIPConfiguredNetwork(c *gc.C) {
	cloud := s.newCloud(c, map[string]interface{}{"external-network": "public"})
	s.network.Networks = []neutron.NetworkV2{
		{Id: "net-a", Name: "other", External: true},
		{Id: "net-b", Name: "public", External: true},
	}
	_, err := cloud.CreateFloatingIP(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	s.network.CheckCall(c, 1, "AllocateFloatingIP", "net-b")
}

func (s *floatingIPsSuite) TestCreateFloatingIPFailureInvalidatesCache(c *gc.C) {
	cloud := s.newCloud(c, map[string]interface{}{"cache-enabled": true})
	s.network.Networks = []neutron.NetworkV2{
		{Id: "net-ext", Name: "public", External: true},
	}
	_, err := cloud.FloatingIPs(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	s.network.SetErrors(nil, errors.New("quota exceeded")) // ListNetworks, AllocateFloatingIP
	_, err = cloud.CreateFloatingIP(context.Background())
	c.Assert(err, gc.ErrorMatches, ".*quota exceeded.*")

	// The backend may have acted before failing; the memoised listing
	// must not outlive the attempt.
	s.network.ResetCalls()
	_, err = cloud.FloatingIPs(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	s.network.CheckCallNames(c, "ListFloatingIPs")
}

func (s *floatingIPsSuite) TestCreateFloatingIPNoExternalNetwork(c *gc.C) {
	_, err := s.cloud.CreateFloatingIP(context.Background())
	c.Assert(err, gc.ErrorMatches, ".*external network.*")
	// A missing external network is not a capability miss; the compute
	// fallback stays untouched.
	s.compute.CheckCallNames(c)
}

func (s *floatingIPsSuite) TestAvailableFloatingIPPrefersFree(c *gc.C) {
	s.network.FloatingIPs = []neutron.FloatingIPV2{
		{Id: "fip-0", IP: "203.0.113.5", FixedIP: "10.0.0.4"},
		{Id: "fip-1", IP: "203.0.113.6"},
	}
	d, err := s.cloud.AvailableFloatingIP(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(d.ID, gc.Equals, "fip-1")
	s.network.CheckCallNames(c, "ListFloatingIPs")
}

func (s *floatingIPsSuite) TestAvailableFloatingIPAllocates(c *gc.C) {
	s.network.Networks = []neutron.NetworkV2{
		{Id: "net-ext", Name: "public", External: true},
	}
	d, err := s.cloud.AvailableFloatingIP(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(d.ID, gc.Equals, "fip-new")
}

func (s *floatingIPsSuite) TestDeleteFloatingIP(c *gc.C) {
	s.network.FloatingIPs = []neutron.FloatingIPV2{{Id: "fip-0", IP: "203.0.113.5"}}

	gone, err := s.cloud.DeleteFloatingIP(context.Background(), "fip-0")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(gone, jc.IsTrue)
	s.network.CheckCallNames(c, "ListFloatingIPs", "DeleteFloatingIP")
	s.compute.CheckCallNames(c)
}

func (s *floatingIPsSuite) TestDeleteFloatingIPAbsentNoFallback(c *gc.C) {
	gone, err := s.cloud.DeleteFloatingIP(context.Background(), "fip-0")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(gone, jc.IsFalse)
	// An IP the cloud does not carry is not a missing capability; no
	// delete was issued anywhere.
	s.network.CheckCallNames(c, "ListFloatingIPs")
	s.compute.CheckCallNames(c)
}

func (s *floatingIPsSuite) TestDeleteFloatingIPRacingRelease(c *gc.C) {
	s.network.FloatingIPs = []neutron.FloatingIPV2{{Id: "fip-0", IP: "203.0.113.5"}}
	s.network.SetErrors(nil, errors.NotFoundf("floating ip %q", "fip-0")) // ListFloatingIPs, DeleteFloatingIP
	s.compute.SetErrors(errors.NotFoundf("floating ip %q", "fip-0"))

	gone, err := s.cloud.DeleteFloatingIP(context.Background(), "fip-0")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(gone, jc.IsFalse)
}

func (s *floatingIPsSuite) TestAttachFloatingIP(c *gc.C) {
	s.compute.Servers = []nova.ServerDetail{{
		Id: serverUUID, Name: "web-0", Status: "ACTIVE",
		Addresses: map[string][]nova.IPAddress{
			"internal": {{Address: "10.0.0.4", Version: 4}},
		},
	}}
	err := s.cloud.AttachFloatingIP(context.Background(), serverUUID, "203.0.113.5")
	c.Assert(err, jc.ErrorIsNil)
	s.compute.CheckCallNames(c, "GetServer", "AddServerFloatingIP")
	s.compute.CheckCall(c, 1, "AddServerFloatingIP", serverUUID, "203.0.113.5")
}

func (s *floatingIPsSuite) TestAttachFloatingIPIdempotent(c *gc.C) {
	s.compute.Servers = []nova.ServerDetail{{
		Id: serverUUID, Name: "web-0", Status: "ACTIVE",
		Addresses: map[string][]nova.IPAddress{
			"internal": {{Address: "10.0.0.4", Version: 4}},
			"public":   {{Address: "203.0.113.5", Version: 4}},
		},
	}}
	err := s.cloud.AttachFloatingIP(context.Background(), serverUUID, "203.0.113.5")
	c.Assert(err, jc.ErrorIsNil)
	// The server already carries the address, so nothing was issued.
	s.compute.CheckCallNames(c, "GetServer")
}

func (s *floatingIPsSuite) TestDetachFloatingIPNotCarried(c *gc.C) {
	s.compute.Servers = []nova.ServerDetail{{
		Id: serverUUID, Name: "web-0", Status: "ACTIVE",
	}}
	detached, err := s.cloud.DetachFloatingIP(context.Background(), serverUUID, "203.0.113.5")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(detached, jc.IsFalse)
	s.compute.CheckCallNames(c, "GetServer")
}
