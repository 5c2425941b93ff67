// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cirrus

import (
	"context"

	"github.com/juju/errors"

	"github.com/go-cirrus/cirrus/core/resource"
	"github.com/go-cirrus/cirrus/internal/normalize"
	"github.com/go-cirrus/cirrus/internal/rescache"
)

const opNetworks = "networks"

// Networks returns all networks visible to the tenant. Networks have
// no transitional states that matter here, so every snapshot is
// steady.
func (c *Cloud) Networks(ctx context.Context) ([]resource.Descriptor, error) {
	return rescache.Read(c.cache, c.key(opNetworks), nil,
		func() ([]resource.Descriptor, error) {
			network, err := c.network()
			if err != nil {
				return nil, errors.Trace(err)
			}
			raw, err := network.ListNetworks(nil)
			if err != nil {
				return nil, errors.Trace(err)
			}
			out := make([]resource.Descriptor, len(raw))
			for i, n := range raw {
				out[i] = normalize.Network(n)
			}
			return out, nil
		})
}

// Network resolves nameOrID to a single network, or nil when absent.
func (c *Cloud) Network(ctx context.Context, nameOrID string) (*resource.Descriptor, error) {
	if looksLikeID(nameOrID) {
		network, err := c.network()
		if err != nil {
			return nil, errors.Trace(err)
		}
		raw, err := network.GetNetwork(nameOrID)
		if err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, errors.Trace(err)
		}
		d := normalize.Network(*raw)
		return &d, nil
	}
	networks, err := c.Networks(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return match(networks, nameOrID), nil
}

// ExternalNetworks returns the networks flagged as external routers.
func (c *Cloud) ExternalNetworks(ctx context.Context) ([]resource.Descriptor, error) {
	networks, err := c.Networks(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var external []resource.Descriptor
	for _, n := range networks {
		if ext, _ := n.Attr(resource.AttrExternal).(bool); ext {
			external = append(external, n)
		}
	}
	return external, nil
}

// externalNetworkID resolves the network floating IPs are allocated
// from. The external-network config name wins when set; otherwise the
// first router:external network is used. The result is stamped on the
// connection so repeated allocations skip the discovery listing.
func (c *Cloud) externalNetworkID(ctx context.Context) (string, error) {
	c.extMu.Lock()
	if c.extStamped {
		id := c.extNetID
		c.extMu.Unlock()
		if id == "" {
			return "", errors.NotFoundf("external network on cloud %q", c.Name())
		}
		return id, nil
	}
	c.extMu.Unlock()

	var id string
	if name := c.cfg.ExternalNetwork(); name != "" {
		network, err := c.Network(ctx, name)
		if err != nil {
			return "", errors.Trace(err)
		}
		if network == nil {
			return "", errors.NotFoundf("external network %q", name)
		}
		id = network.ID
	} else {
		external, err := c.ExternalNetworks(ctx)
		if err != nil {
			return "", errors.Trace(err)
		}
		if len(external) > 0 {
			id = external[0].ID
			if len(external) > 1 {
				logger.Debugf("multiple external networks, using %q", id)
			}
		}
	}

	c.extMu.Lock()
	c.extStamped = true
	c.extNetID = id
	c.extMu.Unlock()
	if id == "" {
		return "", errors.NotFoundf("external network on cloud %q", c.Name())
	}
	return id, nil
}
