// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cirrus

import (
	"context"

	"github.com/juju/errors"

	"github.com/go-cirrus/cirrus/core/resource"
	"github.com/go-cirrus/cirrus/internal/normalize"
	"github.com/go-cirrus/cirrus/internal/rescache"
	"github.com/go-cirrus/cirrus/internal/selector"
)

const opFloatingIPs = "floating-ips"

// FloatingIPs returns all floating IPs, whichever backend variant
// serves them on this cloud.
func (c *Cloud) FloatingIPs(ctx context.Context) ([]resource.Descriptor, error) {
	return rescache.Read(c.cache, c.key(opFloatingIPs), nil,
		func() ([]resource.Descriptor, error) {
			return c.listFloatingIPs()
		})
}

func (c *Cloud) listFloatingIPs() ([]resource.Descriptor, error) {
	return selector.Invoke(c.binding(capFloatingIPs),
		func(v selector.Variant) ([]resource.Descriptor, error) {
			switch v {
			case selector.VariantNetwork:
				network, err := c.network()
				if err != nil {
					return nil, errors.Trace(err)
				}
				raw, err := network.ListFloatingIPs()
				if err != nil {
					return nil, errors.Trace(err)
				}
				out := make([]resource.Descriptor, len(raw))
				for i, fip := range raw {
					out[i] = normalize.FloatingIPNetwork(fip)
				}
				return out, nil
			default:
				compute, err := c.compute()
				if err != nil {
					return nil, errors.Trace(err)
				}
				raw, err := compute.ListFloatingIPs()
				if err != nil {
					return nil, errors.Trace(err)
				}
				out := make([]resource.Descriptor, len(raw))
				for i, fip := range raw {
					out[i] = normalize.FloatingIPCompute(fip)
				}
				return out, nil
			}
		})
}

// CreateFloatingIP allocates a new floating IP from the external
// network (network variant) or the default pool (compute variant).
func (c *Cloud) CreateFloatingIP(ctx context.Context) (*resource.Descriptor, error) {
	d, err := selector.Invoke(c.binding(capFloatingIPs),
		func(v selector.Variant) (*resource.Descriptor, error) {
			switch v {
			case selector.VariantNetwork:
				network, err := c.network()
				if err != nil {
					return nil, errors.Trace(err)
				}
				extNetID, err := c.externalNetworkID(ctx)
				if err != nil {
					// Not finding an external network must not read
					// as "capability not here" and trigger fallback.
					return nil, errors.Errorf("resolving external network: %v", err)
				}
				raw, err := network.AllocateFloatingIP(extNetID)
				if err != nil {
					return nil, errors.Trace(err)
				}
				d := normalize.FloatingIPNetwork(*raw)
				return &d, nil
			default:
				compute, err := c.compute()
				if err != nil {
					return nil, errors.Trace(err)
				}
				raw, err := compute.AllocateFloatingIP()
				if err != nil {
					return nil, errors.Trace(err)
				}
				d := normalize.FloatingIPCompute(*raw)
				return &d, nil
			}
		})
	// Invalidate even on failure: the backend may have acted before
	// the error surfaced.
	c.cache.InvalidateOps(opFloatingIPs)
	if err != nil {
		return nil, errors.Annotate(err, "allocating floating IP")
	}
	return d, nil
}

// AvailableFloatingIP returns an unattached floating IP, allocating a
// fresh one when none is free.
func (c *Cloud) AvailableFloatingIP(ctx context.Context) (*resource.Descriptor, error) {
	fips, err := c.FloatingIPs(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i := range fips {
		if fips[i].Status == "DOWN" {
			return &fips[i], nil
		}
	}
	return c.CreateFloatingIP(ctx)
}

// DeleteFloatingIP releases a floating IP by id, returning false
// without error when it is already gone. The target is resolved from
// the listing first: an entity the backend does not carry must not read
// as the fallback's not-found signal.
func (c *Cloud) DeleteFloatingIP(ctx context.Context, ipID string) (bool, error) {
	fips, err := c.FloatingIPs(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	if match(fips, ipID) == nil {
		return false, nil
	}
	c.cache.InvalidateOps(opFloatingIPs)
	_, err = selector.Invoke(c.binding(capFloatingIPs),
		func(v selector.Variant) (struct{}, error) {
			switch v {
			case selector.VariantNetwork:
				network, err := c.network()
				if err != nil {
					return struct{}{}, errors.Trace(err)
				}
				return struct{}{}, network.DeleteFloatingIP(ipID)
			default:
				compute, err := c.compute()
				if err != nil {
					return struct{}{}, errors.Trace(err)
				}
				return struct{}{}, compute.DeleteFloatingIP(ipID)
			}
		})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, errors.Annotatef(err, "deleting floating IP %q", ipID)
	}
	return true, nil
}

// AttachFloatingIP points address at the named server. The attach is
// idempotent by inspection: when the server already carries the
// address, no backend call is made.
func (c *Cloud) AttachFloatingIP(ctx context.Context, serverNameOrID, address string) error {
	server, err := c.Server(ctx, serverNameOrID)
	if err != nil {
		return errors.Trace(err)
	}
	if server == nil {
		return errors.NotFoundf("server %q", serverNameOrID)
	}
	if serverHasAddress(server, address) {
		logger.Debugf("server %q already carries %s", server.ID, address)
		return nil
	}
	compute, err := c.compute()
	if err != nil {
		return errors.Trace(err)
	}
	err = compute.AddServerFloatingIP(server.ID, address)
	c.servers.Expire()
	c.cache.InvalidateOps(opFloatingIPs)
	if err != nil {
		return errors.Annotatef(err, "attaching %s to server %q", address, server.ID)
	}
	return nil
}

// DetachFloatingIP removes address from the named server, returning
// false without error when the server does not carry it.
func (c *Cloud) DetachFloatingIP(ctx context.Context, serverNameOrID, address string) (bool, error) {
	server, err := c.Server(ctx, serverNameOrID)
	if err != nil {
		return false, errors.Trace(err)
	}
	if server == nil {
		return false, nil
	}
	if !serverHasAddress(server, address) {
		return false, nil
	}
	compute, err := c.compute()
	if err != nil {
		return false, errors.Trace(err)
	}
	err = compute.RemoveServerFloatingIP(server.ID, address)
	c.servers.Expire()
	c.cache.InvalidateOps(opFloatingIPs)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, errors.Annotatef(err, "detaching %s from server %q", address, server.ID)
	}
	return true, nil
}

// autoAttachFloatingIP gives a freshly-active server a public address.
func (c *Cloud) autoAttachFloatingIP(ctx context.Context, server *resource.Descriptor) error {
	fip, err := c.AvailableFloatingIP(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	return c.AttachFloatingIP(ctx, server.ID, fip.StringAttr(resource.AttrAddress))
}

func serverHasAddress(server *resource.Descriptor, address string) bool {
	addresses, _ := server.Attr("addresses").([]string)
	for _, a := range addresses {
		if a == address {
			return true
		}
	}
	return false
}
