// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cirrus

import (
	"context"
	"time"

	"github.com/go-goose/goose/v5/cinder"
	"github.com/juju/errors"

	"github.com/go-cirrus/cirrus/core/resource"
	"github.com/go-cirrus/cirrus/internal/converge"
	"github.com/go-cirrus/cirrus/internal/normalize"
	"github.com/go-cirrus/cirrus/internal/rescache"
	"github.com/go-cirrus/cirrus/internal/selector"
)

// Cache operation names for the block storage verbs.
const (
	opVolumes   = "volumes"
	opSnapshots = "volume-snapshots"
)

const (
	volumeStatusAvailable = "available"
	volumeStatusError     = "error"
	volumeStatusInUse     = "in-use"
)

// Volumes returns all volumes. Results are cached for the configured
// TTL, but a listing containing any volume still in a transient state
// (creating, deleting, attaching) is never stored: the caller is very
// likely polling it.
func (c *Cloud) Volumes(ctx context.Context) ([]resource.Descriptor, error) {
	return rescache.Read(c.cache, c.key(opVolumes),
		func(ds []resource.Descriptor) bool {
			return resource.Steady(resource.KindVolume, ds)
		},
		func() ([]resource.Descriptor, error) {
			stor, err := c.blockStorage()
			if err != nil {
				return nil, errors.Trace(err)
			}
			b := c.binding(capVolumes)
			raw, err := selector.Invoke(b, func(selector.Variant) ([]cinder.Volume, error) {
				return stor.ListVolumes()
			})
			if err != nil {
				return nil, errors.Annotate(err, "listing volumes")
			}
			return normalize.Volumes(raw), nil
		})
}

// Volume resolves nameOrID to a single volume, or nil when absent.
func (c *Cloud) Volume(ctx context.Context, nameOrID string) (*resource.Descriptor, error) {
	volumes, err := c.Volumes(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return match(volumes, nameOrID), nil
}

// CreateVolumeArgs describes a volume create request. Names follow the
// canonical (v2) dialect; the connection's volume binding translates
// them for v1 clouds.
type CreateVolumeArgs struct {
	SizeGiB          int
	Name             string
	Description      string
	VolumeType       string
	AvailabilityZone string
	SnapshotID       string
	Metadata         map[string]string
}

// CreateVolume submits a volume create and, with wait, blocks until the
// volume becomes available or lands in the error status.
func (c *Cloud) CreateVolume(ctx context.Context, args CreateVolumeArgs, wait bool, timeout time.Duration) (*resource.Descriptor, error) {
	if args.SizeGiB <= 0 {
		return nil, errors.NotValidf("volume size %d", args.SizeGiB)
	}
	stor, err := c.blockStorage()
	if err != nil {
		return nil, errors.Trace(err)
	}
	canonical := map[string]any{"size": args.SizeGiB}
	if args.Name != "" {
		canonical["name"] = args.Name
	}
	if args.Description != "" {
		canonical["description"] = args.Description
	}
	if args.VolumeType != "" {
		canonical["volume_type"] = args.VolumeType
	}
	if args.AvailabilityZone != "" {
		canonical["availability_zone"] = args.AvailabilityZone
	}
	if args.SnapshotID != "" {
		canonical["snapshot_id"] = args.SnapshotID
	}
	if len(args.Metadata) > 0 {
		canonical["metadata"] = args.Metadata
	}
	b := c.binding(capVolumes)
	raw, err := selector.Invoke(b, func(v selector.Variant) (*cinder.Volume, error) {
		return stor.CreateVolume(b.Params(v, canonical))
	})
	c.cache.InvalidateOps(opVolumes)
	if err != nil {
		return nil, errors.Annotatef(err, "creating volume %q", args.Name)
	}
	// Some backends report the terminal error status on the create
	// response itself; surface that immediately rather than letting a
	// waitless caller believe the create is in flight.
	d := normalize.Volume(*raw)
	if d.Status == volumeStatusError {
		return nil, &converge.FailedError{Name: "volume " + d.ID, Last: &d}
	}
	if !wait {
		return &d, nil
	}
	final, err := c.waitVolumeStatus(ctx, d.ID, volumeStatusAvailable, timeout)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.cache.InvalidateOps(opVolumes)
	return final, nil
}

func (c *Cloud) pollVolume(volumeID string) func(context.Context) (*resource.Descriptor, error) {
	return func(ctx context.Context) (*resource.Descriptor, error) {
		stor, err := c.blockStorage()
		if err != nil {
			return nil, errors.Trace(err)
		}
		raw, err := stor.GetVolume(volumeID)
		if IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
		d := normalize.Volume(*raw)
		return &d, nil
	}
}

func (c *Cloud) waitVolumeStatus(ctx context.Context, volumeID, want string, timeout time.Duration) (*resource.Descriptor, error) {
	session := converge.Session{
		Name:     "volume " + volumeID + " to become " + want,
		Timeout:  timeout,
		Clock:    c.clock,
		Poll:     c.pollVolume(volumeID),
		Classify: converge.TerminalStatus(want, volumeStatusError),
	}
	return session.Wait(ctx)
}

// DeleteVolume removes the named volume, returning false without error
// when it is already absent. The volume cache is invalidated before the
// backend call, so a racing read never resurrects the doomed entry.
func (c *Cloud) DeleteVolume(ctx context.Context, nameOrID string, wait bool, timeout time.Duration) (bool, error) {
	target, err := c.Volume(ctx, nameOrID)
	if err != nil {
		return false, errors.Trace(err)
	}
	if target == nil {
		return false, nil
	}
	stor, err := c.blockStorage()
	if err != nil {
		return false, errors.Trace(err)
	}
	c.cache.InvalidateOps(opVolumes)
	if err := stor.DeleteVolume(target.ID); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, errors.Annotatef(err, "deleting volume %q", target.ID)
	}
	if wait {
		session := converge.Session{
			Name:     "volume " + target.ID + " to be removed",
			Timeout:  timeout,
			Clock:    c.clock,
			NotFound: converge.NotFoundTerminal,
			Poll:     c.pollVolume(target.ID),
			Classify: func(d *resource.Descriptor) converge.Outcome {
				if d.Status == volumeStatusError {
					return converge.Failure
				}
				return converge.Pending
			},
		}
		if _, err := session.Wait(ctx); err != nil {
			return false, errors.Trace(err)
		}
	}
	c.cache.InvalidateOps(opVolumes)
	return true, nil
}

// AttachVolume attaches a volume to a server at device (empty lets the
// backend pick). Attachment is idempotent by inspection: when the
// backend already reports the pairing, the current volume descriptor is
// returned without issuing another attach.
func (c *Cloud) AttachVolume(ctx context.Context, serverNameOrID, volumeNameOrID, device string, wait bool, timeout time.Duration) (*resource.Descriptor, error) {
	server, err := c.Server(ctx, serverNameOrID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if server == nil {
		return nil, errors.NotFoundf("server %q", serverNameOrID)
	}
	volume, err := c.Volume(ctx, volumeNameOrID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if volume == nil {
		return nil, errors.NotFoundf("volume %q", volumeNameOrID)
	}

	compute, err := c.compute()
	if err != nil {
		return nil, errors.Trace(err)
	}
	existing, err := compute.ListVolumeAttachments(server.ID)
	if err != nil {
		return nil, errors.Annotatef(err, "listing attachments of server %q", server.ID)
	}
	for _, a := range existing {
		if a.VolumeId == volume.ID {
			logger.Debugf("volume %q already attached to server %q", volume.ID, server.ID)
			return volume, nil
		}
	}

	_, err = compute.AttachVolume(server.ID, volume.ID, device)
	c.cache.InvalidateOps(opVolumes)
	if err != nil {
		return nil, errors.Annotatef(err, "attaching volume %q to server %q", volume.ID, server.ID)
	}
	if !wait {
		return volume, nil
	}
	final, err := c.waitVolumeStatus(ctx, volume.ID, volumeStatusInUse, timeout)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.cache.InvalidateOps(opVolumes)
	return final, nil
}

// DetachVolume detaches a volume from a server. A pairing the backend
// does not report is a successful no-op.
func (c *Cloud) DetachVolume(ctx context.Context, serverNameOrID, volumeNameOrID string, wait bool, timeout time.Duration) error {
	server, err := c.Server(ctx, serverNameOrID)
	if err != nil {
		return errors.Trace(err)
	}
	if server == nil {
		return errors.NotFoundf("server %q", serverNameOrID)
	}
	volume, err := c.Volume(ctx, volumeNameOrID)
	if err != nil {
		return errors.Trace(err)
	}
	if volume == nil {
		return errors.NotFoundf("volume %q", volumeNameOrID)
	}

	compute, err := c.compute()
	if err != nil {
		return errors.Trace(err)
	}
	existing, err := compute.ListVolumeAttachments(server.ID)
	if err != nil {
		return errors.Annotatef(err, "listing attachments of server %q", server.ID)
	}
	var attached bool
	for _, a := range existing {
		if a.VolumeId == volume.ID {
			attached = true
			break
		}
	}
	if !attached {
		return nil
	}

	// The attachment id is the volume id on every backend we bind.
	err = compute.DetachVolume(server.ID, volume.ID)
	c.cache.InvalidateOps(opVolumes)
	if err != nil {
		return errors.Annotatef(err, "detaching volume %q from server %q", volume.ID, server.ID)
	}
	if wait {
		if _, err := c.waitVolumeStatus(ctx, volume.ID, volumeStatusAvailable, timeout); err != nil {
			return errors.Trace(err)
		}
		c.cache.InvalidateOps(opVolumes)
	}
	return nil
}

// SetVolumeMetadata merges metadata into the named volume's metadata.
func (c *Cloud) SetVolumeMetadata(ctx context.Context, nameOrID string, metadata map[string]string) error {
	target, err := c.Volume(ctx, nameOrID)
	if err != nil {
		return errors.Trace(err)
	}
	if target == nil {
		return errors.NotFoundf("volume %q", nameOrID)
	}
	stor, err := c.blockStorage()
	if err != nil {
		return errors.Trace(err)
	}
	_, err = stor.SetVolumeMetadata(target.ID, metadata)
	c.cache.InvalidateOps(opVolumes)
	if err != nil {
		return errors.Annotatef(err, "setting metadata on volume %q", target.ID)
	}
	return nil
}

// VolumeSnapshots returns all volume snapshots, cached with the same
// staleness gating as volumes.
func (c *Cloud) VolumeSnapshots(ctx context.Context) ([]resource.Descriptor, error) {
	return rescache.Read(c.cache, c.key(opSnapshots),
		func(ds []resource.Descriptor) bool {
			return resource.Steady(resource.KindVolumeSnapshot, ds)
		},
		func() ([]resource.Descriptor, error) {
			stor, err := c.blockStorage()
			if err != nil {
				return nil, errors.Trace(err)
			}
			raw, err := stor.ListSnapshots()
			if err != nil {
				return nil, errors.Annotate(err, "listing volume snapshots")
			}
			return normalize.Snapshots(raw), nil
		})
}

// CreateVolumeSnapshot snapshots the named volume. force permits
// snapshotting a volume that is currently attached.
func (c *Cloud) CreateVolumeSnapshot(ctx context.Context, volumeNameOrID, name, description string, force bool, wait bool, timeout time.Duration) (*resource.Descriptor, error) {
	volume, err := c.Volume(ctx, volumeNameOrID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if volume == nil {
		return nil, errors.NotFoundf("volume %q", volumeNameOrID)
	}
	stor, err := c.blockStorage()
	if err != nil {
		return nil, errors.Trace(err)
	}
	raw, err := stor.CreateSnapshot(cinder.CreateSnapshotSnapshotParams{
		VolumeId:    volume.ID,
		Name:        name,
		Description: description,
		Force:       force,
	})
	c.cache.InvalidateOps(opSnapshots)
	if err != nil {
		return nil, errors.Annotatef(err, "snapshotting volume %q", volume.ID)
	}
	d := normalize.Snapshot(*raw)
	if !wait {
		return &d, nil
	}
	session := converge.Session{
		Name:    "snapshot " + d.ID + " to become available",
		Timeout: timeout,
		Clock:   c.clock,
		Poll: func(ctx context.Context) (*resource.Descriptor, error) {
			raw, err := stor.GetSnapshot(d.ID)
			if IsNotFound(err) {
				return nil, nil
			}
			if err != nil {
				return nil, errors.Trace(err)
			}
			d := normalize.Snapshot(*raw)
			return &d, nil
		},
		Classify: converge.TerminalStatus(volumeStatusAvailable, volumeStatusError),
	}
	final, err := session.Wait(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.cache.InvalidateOps(opSnapshots)
	return final, nil
}

// DeleteVolumeSnapshot removes a snapshot, returning false without
// error when it is already absent.
func (c *Cloud) DeleteVolumeSnapshot(ctx context.Context, nameOrID string) (bool, error) {
	snapshots, err := c.VolumeSnapshots(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	target := match(snapshots, nameOrID)
	if target == nil {
		return false, nil
	}
	stor, err := c.blockStorage()
	if err != nil {
		return false, errors.Trace(err)
	}
	c.cache.InvalidateOps(opSnapshots)
	if err := stor.DeleteSnapshot(target.ID); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, errors.Annotatef(err, "deleting snapshot %q", target.ID)
	}
	c.cache.InvalidateOps(opSnapshots)
	return true, nil
}
