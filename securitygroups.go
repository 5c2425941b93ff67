// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cirrus

import (
	"context"

	"github.com/go-goose/goose/v5/neutron"
	"github.com/go-goose/goose/v5/nova"
	"github.com/juju/errors"

	"github.com/go-cirrus/cirrus/core/resource"
	"github.com/go-cirrus/cirrus/internal/normalize"
	"github.com/go-cirrus/cirrus/internal/rescache"
	"github.com/go-cirrus/cirrus/internal/selector"
)

const opSecurityGroups = "security-groups"

// SecurityGroups returns all security groups from the configured
// source. A connection configured with secgroup-source "none" reports
// the capability as unsupported.
func (c *Cloud) SecurityGroups(ctx context.Context) ([]resource.Descriptor, error) {
	if !c.binding(capSecurityGroups).Supported() {
		return nil, errors.NotSupportedf("security groups on cloud %q", c.Name())
	}
	return rescache.Read(c.cache, c.key(opSecurityGroups), nil,
		func() ([]resource.Descriptor, error) {
			return c.listSecurityGroups()
		})
}

func (c *Cloud) listSecurityGroups() ([]resource.Descriptor, error) {
	return selector.Invoke(c.binding(capSecurityGroups),
		func(v selector.Variant) ([]resource.Descriptor, error) {
			switch v {
			case selector.VariantNetwork:
				network, err := c.network()
				if err != nil {
					return nil, errors.Trace(err)
				}
				raw, err := network.ListSecurityGroups()
				if err != nil {
					return nil, errors.Trace(err)
				}
				out := make([]resource.Descriptor, len(raw))
				for i, g := range raw {
					out[i] = normalize.SecurityGroupNetwork(g)
				}
				return out, nil
			default:
				compute, err := c.compute()
				if err != nil {
					return nil, errors.Trace(err)
				}
				raw, err := compute.ListSecurityGroups()
				if err != nil {
					return nil, errors.Trace(err)
				}
				out := make([]resource.Descriptor, len(raw))
				for i, g := range raw {
					out[i] = normalize.SecurityGroupCompute(g)
				}
				return out, nil
			}
		})
}

// SecurityGroup resolves nameOrID to a single group, or nil when
// absent. Names go through the backend's by-name lookup; identifiers
// resolve against the (possibly cached) listing.
func (c *Cloud) SecurityGroup(ctx context.Context, nameOrID string) (*resource.Descriptor, error) {
	if !c.binding(capSecurityGroups).Supported() {
		return nil, errors.NotSupportedf("security groups on cloud %q", c.Name())
	}
	if looksLikeID(nameOrID) {
		groups, err := c.SecurityGroups(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return match(groups, nameOrID), nil
	}
	d, err := selector.Invoke(c.binding(capSecurityGroups),
		func(v selector.Variant) (*resource.Descriptor, error) {
			switch v {
			case selector.VariantNetwork:
				network, err := c.network()
				if err != nil {
					return nil, errors.Trace(err)
				}
				matched, err := network.SecurityGroupByName(nameOrID)
				if err != nil {
					return nil, errors.Trace(err)
				}
				if len(matched) == 0 {
					return nil, nil
				}
				if len(matched) > 1 {
					return nil, errors.Errorf("security group name %q matches %d groups", nameOrID, len(matched))
				}
				d := normalize.SecurityGroupNetwork(matched[0])
				return &d, nil
			default:
				compute, err := c.compute()
				if err != nil {
					return nil, errors.Trace(err)
				}
				raw, err := compute.SecurityGroupByName(nameOrID)
				if err != nil {
					return nil, errors.Trace(err)
				}
				d := normalize.SecurityGroupCompute(*raw)
				return &d, nil
			}
		})
	if err != nil {
		// The compute extension reports an unknown name as not found;
		// that is an absent group, not a failure.
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Trace(err)
	}
	return d, nil
}

// CreateSecurityGroup creates a group with the given name. Creating a
// name that already exists returns the existing group, so setup
// workflows are naturally idempotent.
func (c *Cloud) CreateSecurityGroup(ctx context.Context, name, description string) (*resource.Descriptor, error) {
	if !c.binding(capSecurityGroups).Supported() {
		return nil, errors.NotSupportedf("security groups on cloud %q", c.Name())
	}
	d, err := selector.Invoke(c.binding(capSecurityGroups),
		func(v selector.Variant) (*resource.Descriptor, error) {
			switch v {
			case selector.VariantNetwork:
				network, err := c.network()
				if err != nil {
					return nil, errors.Trace(err)
				}
				raw, err := network.CreateSecurityGroup(name, description)
				if err != nil {
					return nil, errors.Trace(err)
				}
				d := normalize.SecurityGroupNetwork(*raw)
				return &d, nil
			default:
				compute, err := c.compute()
				if err != nil {
					return nil, errors.Trace(err)
				}
				raw, err := compute.CreateSecurityGroup(name, description)
				if err != nil {
					return nil, errors.Trace(err)
				}
				d := normalize.SecurityGroupCompute(*raw)
				return &d, nil
			}
		})
	// Invalidate even on failure: the backend may have acted before
	// the error surfaced.
	c.cache.InvalidateOps(opSecurityGroups)
	if IsDuplicate(err) {
		logger.Debugf("security group %q already exists, reusing it", name)
		return c.SecurityGroup(ctx, name)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "creating security group %q", name)
	}
	return d, nil
}

// DeleteSecurityGroup removes the named group, returning false without
// error when it is already absent.
func (c *Cloud) DeleteSecurityGroup(ctx context.Context, nameOrID string) (bool, error) {
	target, err := c.SecurityGroup(ctx, nameOrID)
	if err != nil {
		return false, errors.Trace(err)
	}
	if target == nil {
		return false, nil
	}
	c.cache.InvalidateOps(opSecurityGroups)
	_, err = selector.Invoke(c.binding(capSecurityGroups),
		func(v selector.Variant) (struct{}, error) {
			switch v {
			case selector.VariantNetwork:
				network, err := c.network()
				if err != nil {
					return struct{}{}, errors.Trace(err)
				}
				return struct{}{}, network.DeleteSecurityGroup(target.ID)
			default:
				compute, err := c.compute()
				if err != nil {
					return struct{}{}, errors.Trace(err)
				}
				return struct{}{}, compute.DeleteSecurityGroup(target.ID)
			}
		})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, errors.Annotatef(err, "deleting security group %q", target.ID)
	}
	c.cache.InvalidateOps(opSecurityGroups)
	return true, nil
}

// SecurityGroupRuleArgs describes one ingress rule in canonical form.
type SecurityGroupRuleArgs struct {
	Protocol     string
	PortMin      int
	PortMax      int
	RemotePrefix string
}

// AddSecurityGroupRule adds an ingress rule to the named group. A rule
// the backend reports as duplicate is a successful no-op.
func (c *Cloud) AddSecurityGroupRule(ctx context.Context, groupNameOrID string, args SecurityGroupRuleArgs) error {
	target, err := c.SecurityGroup(ctx, groupNameOrID)
	if err != nil {
		return errors.Trace(err)
	}
	if target == nil {
		return errors.NotFoundf("security group %q", groupNameOrID)
	}
	_, err = selector.Invoke(c.binding(capSecurityGroups),
		func(v selector.Variant) (struct{}, error) {
			switch v {
			case selector.VariantNetwork:
				network, err := c.network()
				if err != nil {
					return struct{}{}, errors.Trace(err)
				}
				rule := neutron.RuleInfoV2{
					Direction:      "ingress",
					ParentGroupId:  target.ID,
					IPProtocol:     args.Protocol,
					RemoteIPPrefix: args.RemotePrefix,
					EthernetType:   "IPv4",
				}
				if args.Protocol != "icmp" {
					rule.PortRangeMin = args.PortMin
					rule.PortRangeMax = args.PortMax
				}
				_, err = network.CreateSecurityGroupRule(rule)
				return struct{}{}, err
			default:
				compute, err := c.compute()
				if err != nil {
					return struct{}{}, errors.Trace(err)
				}
				_, err = compute.CreateSecurityGroupRule(nova.RuleInfo{
					ParentGroupId: target.ID,
					IPProtocol:    args.Protocol,
					FromPort:      args.PortMin,
					ToPort:        args.PortMax,
					Cidr:          args.RemotePrefix,
				})
				return struct{}{}, err
			}
		})
	c.cache.InvalidateOps(opSecurityGroups)
	if err != nil && !IsDuplicate(err) {
		return errors.Annotatef(err, "adding rule to security group %q", target.ID)
	}
	return nil
}
