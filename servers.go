// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cirrus

import (
	"context"
	"time"

	"github.com/go-goose/goose/v5/nova"
	"github.com/juju/errors"

	"github.com/go-cirrus/cirrus/core/resource"
	"github.com/go-cirrus/cirrus/internal/converge"
	"github.com/go-cirrus/cirrus/internal/normalize"
	"github.com/go-cirrus/cirrus/internal/rescache"
)

const opFlavors = "flavors"

// resolveFlavorID maps a flavor name or id to the backend id. The
// flavor catalogue rarely changes, so the listing shares the resource
// cache with everything else.
func (c *Cloud) resolveFlavorID(nameOrID string) (string, error) {
	compute, err := c.compute()
	if err != nil {
		return "", errors.Trace(err)
	}
	flavors, err := rescache.Read(c.cache, c.key(opFlavors), nil,
		func() ([]nova.FlavorDetail, error) {
			return compute.ListFlavors()
		})
	if err != nil {
		return "", errors.Annotate(err, "listing flavors")
	}
	for _, f := range flavors {
		if f.Id == nameOrID {
			return f.Id, nil
		}
	}
	for _, f := range flavors {
		if f.Name == nameOrID {
			return f.Id, nil
		}
	}
	return "", errors.NotFoundf("flavor %q", nameOrID)
}

// fetchServers is the inventory guard's refresh function.
func (c *Cloud) fetchServers(ctx context.Context) ([]resource.Descriptor, error) {
	compute, err := c.compute()
	if err != nil {
		return nil, errors.Trace(err)
	}
	raw, err := compute.ListServers(nil)
	if err != nil {
		return nil, errors.Annotate(err, "listing servers")
	}
	return normalize.Servers(raw), nil
}

// Servers returns the server inventory. Reads within the configured
// server age are answered from the shared snapshot; concurrent cold
// reads collapse into a single backend fetch.
func (c *Cloud) Servers(ctx context.Context) ([]resource.Descriptor, error) {
	return c.servers.Get(ctx, c.cfg.ServerAge())
}

// FilterServers returns the descriptors accepted by every given
// attribute filter. Filtering is client side, over whatever listing the
// caller already holds.
func FilterServers(descriptors []resource.Descriptor, filters map[string]string) []resource.Descriptor {
	if len(filters) == 0 {
		return descriptors
	}
	var out []resource.Descriptor
	for _, d := range descriptors {
		if serverMatches(d, filters) {
			out = append(out, d)
		}
	}
	return out
}

func serverMatches(d resource.Descriptor, filters map[string]string) bool {
	for key, want := range filters {
		var got string
		switch key {
		case "name":
			got = d.Name
		case "status":
			got = d.Status
		default:
			got = d.StringAttr(key)
		}
		if got != want {
			return false
		}
	}
	return true
}

// Server resolves nameOrID to a single server, or nil when no server
// matches.
func (c *Cloud) Server(ctx context.Context, nameOrID string) (*resource.Descriptor, error) {
	if looksLikeID(nameOrID) {
		compute, err := c.compute()
		if err != nil {
			return nil, errors.Trace(err)
		}
		raw, err := compute.GetServer(nameOrID)
		if IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Annotatef(err, "fetching server %q", nameOrID)
		}
		d := normalize.Server(*raw)
		return &d, nil
	}
	servers, err := c.Servers(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return match(servers, nameOrID), nil
}

// CreateServerArgs describes a server boot request. Flavor may be a
// flavor name or id; names are resolved against the flavor catalogue
// before the boot is submitted.
type CreateServerArgs struct {
	Name             string
	Flavor           string
	ImageID          string
	Networks         []string
	SecurityGroups   []string
	AvailabilityZone string
	Metadata         map[string]string
	UserData         []byte

	// AutoIP attaches an available floating IP once the server is
	// active. Only honoured on waited creates.
	AutoIP bool
}

// CreateServer boots a server. With wait the call blocks until the
// server reaches ACTIVE (or fails on ERROR); without it the freshly
// submitted record is returned as the backend reports it. timeout zero
// means no limit beyond ctx.
func (c *Cloud) CreateServer(ctx context.Context, args CreateServerArgs, wait bool, timeout time.Duration) (*resource.Descriptor, error) {
	if args.Name == "" {
		return nil, errors.NotValidf("server without a name")
	}
	if args.Flavor == "" {
		return nil, errors.NotValidf("server without a flavor")
	}
	flavorID, err := c.resolveFlavorID(args.Flavor)
	if err != nil {
		return nil, errors.Trace(err)
	}
	compute, err := c.compute()
	if err != nil {
		return nil, errors.Trace(err)
	}
	opts := nova.RunServerOpts{
		Name:             args.Name,
		FlavorId:         flavorID,
		ImageId:          args.ImageID,
		AvailabilityZone: args.AvailabilityZone,
		Metadata:         args.Metadata,
		UserData:         args.UserData,
	}
	for _, groupName := range args.SecurityGroups {
		opts.SecurityGroupNames = append(opts.SecurityGroupNames, nova.SecurityGroupName{Name: groupName})
	}
	for _, networkID := range args.Networks {
		opts.Networks = append(opts.Networks, nova.ServerNetworks{NetworkId: networkID})
	}
	entity, err := compute.RunServer(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "creating server %q", args.Name)
	}
	c.servers.Expire()

	if !wait {
		raw, err := compute.GetServer(entity.Id)
		if err != nil {
			return nil, errors.Annotatef(err, "fetching server %q", entity.Id)
		}
		d := normalize.Server(*raw)
		return &d, nil
	}

	d, err := c.waitServerStatus(ctx, entity.Id, timeout)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if args.AutoIP {
		if err := c.autoAttachFloatingIP(ctx, d); err != nil {
			return nil, errors.Annotatef(err, "attaching floating IP to server %q", d.ID)
		}
	}
	return d, nil
}

func (c *Cloud) waitServerStatus(ctx context.Context, serverID string, timeout time.Duration) (*resource.Descriptor, error) {
	compute, err := c.compute()
	if err != nil {
		return nil, errors.Trace(err)
	}
	// Polling faster than the inventory age only re-reads data the
	// backend considers current; pace the loop accordingly.
	interval := c.cfg.ServerAge()
	session := converge.Session{
		Name:     "server " + serverID + " to become active",
		Interval: interval,
		Timeout:  timeout,
		Clock:    c.clock,
		Poll: func(ctx context.Context) (*resource.Descriptor, error) {
			raw, err := compute.GetServer(serverID)
			if IsNotFound(err) {
				return nil, nil
			}
			if err != nil {
				return nil, errors.Trace(err)
			}
			d := normalize.Server(*raw)
			return &d, nil
		},
		Classify: converge.TerminalStatus("ACTIVE", "ERROR"),
	}
	d, err := session.Wait(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.servers.Expire()
	return d, nil
}

// DeleteServer removes the named server. It returns false without error
// when no such server exists, so deletion workflows are naturally
// idempotent. With wait the call blocks until the backend stops
// reporting the server at all.
func (c *Cloud) DeleteServer(ctx context.Context, nameOrID string, wait bool, timeout time.Duration) (bool, error) {
	target, err := c.Server(ctx, nameOrID)
	if err != nil {
		return false, errors.Trace(err)
	}
	if target == nil {
		return false, nil
	}
	compute, err := c.compute()
	if err != nil {
		return false, errors.Trace(err)
	}
	if err := compute.DeleteServer(target.ID); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, errors.Annotatef(err, "deleting server %q", target.ID)
	}
	// The server list changed, and so may have any volume attachments
	// the server held.
	c.servers.Expire()
	c.cache.InvalidateOps(opVolumes)

	if wait {
		session := converge.Session{
			Name:     "server " + target.ID + " to be removed",
			Interval: c.cfg.ServerAge(),
			Timeout:  timeout,
			Clock:    c.clock,
			NotFound: converge.NotFoundTerminal,
			Poll: func(ctx context.Context) (*resource.Descriptor, error) {
				raw, err := compute.GetServer(target.ID)
				if IsNotFound(err) {
					return nil, nil
				}
				if err != nil {
					return nil, errors.Trace(err)
				}
				d := normalize.Server(*raw)
				return &d, nil
			},
			// Deletion has no failure status; anything still
			// visible is pending.
			Classify: func(*resource.Descriptor) converge.Outcome {
				return converge.Pending
			},
		}
		if _, err := session.Wait(ctx); err != nil {
			return false, errors.Trace(err)
		}
		c.servers.Expire()
	}
	return true, nil
}
