// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cirrus_test

import (
	"context"
	"time"

	"github.com/go-goose/goose/v5/cinder"
	"github.com/go-goose/goose/v5/nova"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/go-cirrus/cirrus"
	"github.com/go-cirrus/cirrus/core/resource"
)

type volumesSuite struct {
	baseSuite
}

var _ = gc.Suite(&volumesSuite{})

func (s *volumesSuite) TestVolumesCachedWhenSteady(c *gc.C) {
	cloud := s.newCloud(c, map[string]interface{}{"cache-enabled": true})
	s.storage.Volumes = []cinder.Volume{{ID: "vol-0", Status: "available", Size: 10}}

	_, err := cloud.Volumes(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	_, err = cloud.Volumes(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	s.storage.CheckCallNames(c, "ListVolumes")
}

func (s *volumesSuite) TestVolumesTransientNeverCached(c *gc.C) {
	cloud := s.newCloud(c, map[string]interface{}{"cache-enabled": true})
	s.storage.Volumes = []cinder.Volume{{ID: "vol-0", Status: "creating", Size: 10}}

	_, err := cloud.Volumes(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	_, err = cloud.Volumes(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	// A listing with a volume mid-transition is served but not stored.
	s.storage.CheckCallNames(c, "ListVolumes", "ListVolumes")
}

func (s *volumesSuite) TestVolumesCacheExpires(c *gc.C) {
	cloud := s.newCloud(c, map[string]interface{}{
		"cache-enabled": true,
		"cache-ttl":     "1m",
	})
	s.storage.Volumes = []cinder.Volume{{ID: "vol-0", Status: "available", Size: 10}}

	_, err := cloud.Volumes(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	s.clock.Advance(2 * time.Minute)
	_, err = cloud.Volumes(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	s.storage.CheckCallNames(c, "ListVolumes", "ListVolumes")
}

func (s *volumesSuite) TestCreateVolumeInvalidatesCache(c *gc.C) {
	cloud := s.newCloud(c, map[string]interface{}{"cache-enabled": true})
	s.storage.Volumes = []cinder.Volume{{ID: "vol-0", Status: "available", Size: 10}}

	_, err := cloud.Volumes(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	_, err = cloud.CreateVolume(context.Background(), cirrus.CreateVolumeArgs{
		SizeGiB: 20, Name: "scratch",
	}, false, 0)
	c.Assert(err, jc.ErrorIsNil)
	_, err = cloud.Volumes(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	// The post-create read goes back to the backend.
	s.storage.CheckCallNames(c, "ListVolumes", "CreateVolume", "ListVolumes")
}

func (s *volumesSuite) TestCreateVolumeV2Dialect(c *gc.C) {
	_, err := s.cloud.CreateVolume(context.Background(), cirrus.CreateVolumeArgs{
		SizeGiB: 5, Name: "data",
	}, false, 0)
	c.Assert(err, jc.ErrorIsNil)
	s.storage.CheckCall(c, 0, "CreateVolume", map[string]any{
		"size": 5,
		"name": "data",
	})
}

func (s *volumesSuite) TestCreateVolumeV1Dialect(c *gc.C) {
	cloud := s.newCloud(c, map[string]interface{}{"volume-api-version": 1})

	_, err := cloud.CreateVolume(context.Background(), cirrus.CreateVolumeArgs{
		SizeGiB: 5, Name: "data", Description: "scratch space",
	}, false, 0)
	c.Assert(err, jc.ErrorIsNil)
	// The connection's dialect rule renamed the parameters before the
	// request was issued.
	s.storage.CheckCall(c, 0, "CreateVolume", map[string]any{
		"size":                5,
		"display_name":        "data",
		"display_description": "scratch space",
	})
}

func (s *volumesSuite) TestSetVolumeMetadata(c *gc.C) {
	s.storage.Volumes = []cinder.Volume{{ID: "vol-0", Status: "available", Size: 10}}

	err := s.cloud.SetVolumeMetadata(context.Background(), "vol-0", map[string]string{
		"purpose": "scratch",
	})
	c.Assert(err, jc.ErrorIsNil)
	s.storage.CheckCall(c, 1, "SetVolumeMetadata", "vol-0", map[string]string{
		"purpose": "scratch",
	})
}

func (s *volumesSuite) TestSetVolumeMetadataUnknownVolume(c *gc.C) {
	err := s.cloud.SetVolumeMetadata(context.Background(), "no-such", nil)
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *volumesSuite) TestCreateVolumeBadSize(c *gc.C) {
	_, err := s.cloud.CreateVolume(context.Background(), cirrus.CreateVolumeArgs{}, false, 0)
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *volumesSuite) TestCreateVolumeImmediateError(c *gc.C) {
	s.storage.CreateVolumeFn = func(params map[string]any) (*cinder.Volume, error) {
		return &cinder.Volume{ID: "vol-new", Status: "error"}, nil
	}
	_, err := s.cloud.CreateVolume(context.Background(), cirrus.CreateVolumeArgs{
		SizeGiB: 20,
	}, false, 0)
	c.Assert(cirrus.IsConvergenceFailure(err), jc.IsTrue)
}

func (s *volumesSuite) TestCreateVolumeWait(c *gc.C) {
	polls := 0
	s.storage.GetVolumeFn = func(volumeID string) (*cinder.Volume, error) {
		polls++
		status := "creating"
		if polls >= 2 {
			status = "available"
		}
		return &cinder.Volume{ID: volumeID, Status: status, Size: 20}, nil
	}

	type result struct {
		d   *resource.Descriptor
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, err := s.cloud.CreateVolume(context.Background(), cirrus.CreateVolumeArgs{
			SizeGiB: 20, Name: "scratch",
		}, true, 5*time.Second)
		done <- result{d, err}
	}()

	s.waitAdvance(c, time.Second)
	select {
	case r := <-done:
		c.Assert(r.err, jc.ErrorIsNil)
		c.Check(r.d.Status, gc.Equals, "available")
		c.Check(polls, gc.Equals, 2)
	case <-time.After(longWait):
		c.Fatalf("create never completed")
	}
}

func (s *volumesSuite) TestCreateVolumeWaitTimeout(c *gc.C) {
	s.storage.GetVolumeFn = func(volumeID string) (*cinder.Volume, error) {
		return &cinder.Volume{ID: volumeID, Status: "creating", Size: 20}, nil
	}

	start := s.clock.Now()
	done := make(chan error, 1)
	go func() {
		_, err := s.cloud.CreateVolume(context.Background(), cirrus.CreateVolumeArgs{
			SizeGiB: 20,
		}, true, 3*time.Second)
		done <- err
	}()

	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			c.Assert(cirrus.IsConvergenceTimeout(err), jc.IsTrue)
			// The deadline cannot have fired early.
			c.Check(s.clock.Now().Sub(start) >= 3*time.Second, jc.IsTrue)
			return
		case <-time.After(shortWait):
			s.clock.Advance(time.Second)
		}
	}
	c.Fatalf("wait never timed out")
}

func (s *volumesSuite) TestDeleteVolumeIdempotent(c *gc.C) {
	s.storage.Volumes = []cinder.Volume{{ID: "vol-0", Name: "scratch", Status: "available"}}

	gone, err := s.cloud.DeleteVolume(context.Background(), "scratch", false, 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(gone, jc.IsTrue)

	s.storage.Volumes = nil
	gone, err = s.cloud.DeleteVolume(context.Background(), "scratch", false, 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(gone, jc.IsFalse)
}

func (s *volumesSuite) TestDeleteVolumeBackendRace(c *gc.C) {
	s.storage.Volumes = []cinder.Volume{{ID: "vol-0", Status: "available"}}
	s.storage.SetErrors(nil, errors.NotFoundf("volume")) // ListVolumes, DeleteVolume

	gone, err := s.cloud.DeleteVolume(context.Background(), "vol-0", false, 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(gone, jc.IsFalse)
}

func (s *volumesSuite) TestAttachVolumeIdempotent(c *gc.C) {
	s.addTestServer()
	s.storage.Volumes = []cinder.Volume{{ID: "vol-0", Status: "in-use"}}
	s.compute.Attachments = []nova.VolumeAttachment{{ServerId: serverUUID, VolumeId: "vol-0"}}

	d, err := s.cloud.AttachVolume(context.Background(), serverUUID, "vol-0", "", false, 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(d.ID, gc.Equals, "vol-0")
	// The pairing already exists, so no attach was issued.
	s.compute.CheckCallNames(c, "GetServer", "ListVolumeAttachments")
}

func (s *volumesSuite) TestAttachVolume(c *gc.C) {
	s.addTestServer()
	s.storage.Volumes = []cinder.Volume{{ID: "vol-0", Status: "available"}}

	_, err := s.cloud.AttachVolume(context.Background(), serverUUID, "vol-0", "/dev/vdb", false, 0)
	c.Assert(err, jc.ErrorIsNil)
	s.compute.CheckCallNames(c, "GetServer", "ListVolumeAttachments", "AttachVolume")
	s.compute.CheckCall(c, 2, "AttachVolume", serverUUID, "vol-0", "/dev/vdb")
}

func (s *volumesSuite) TestDetachVolumeNotAttached(c *gc.C) {
	s.addTestServer()
	s.storage.Volumes = []cinder.Volume{{ID: "vol-0", Status: "available"}}

	err := s.cloud.DetachVolume(context.Background(), serverUUID, "vol-0", false, 0)
	c.Assert(err, jc.ErrorIsNil)
	s.compute.CheckCallNames(c, "GetServer", "ListVolumeAttachments")
}

func (s *volumesSuite) TestSnapshotLifecycle(c *gc.C) {
	s.storage.Volumes = []cinder.Volume{{ID: "vol-0", Status: "available"}}

	d, err := s.cloud.CreateVolumeSnapshot(context.Background(), "vol-0", "snap", "", false, false, 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(d.StringAttr(resource.AttrVolumeID), gc.Equals, "vol-0")

	s.storage.Snapshots = []cinder.Snapshot{{ID: "snap-new", VolumeID: "vol-0", Status: "available"}}
	gone, err := s.cloud.DeleteVolumeSnapshot(context.Background(), "snap-new")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(gone, jc.IsTrue)

	s.storage.Snapshots = nil
	gone, err = s.cloud.DeleteVolumeSnapshot(context.Background(), "snap-new")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(gone, jc.IsFalse)
}

func (s *volumesSuite) addTestServer() {
	s.compute.Servers = append(s.compute.Servers, nova.ServerDetail{
		Id: serverUUID, Name: "web-0", Status: "ACTIVE",
	})
}
