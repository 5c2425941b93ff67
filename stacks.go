// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cirrus

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/go-cirrus/cirrus/core/resource"
	"github.com/go-cirrus/cirrus/internal/converge"
	"github.com/go-cirrus/cirrus/internal/gateway"
	"github.com/go-cirrus/cirrus/internal/normalize"
	"github.com/go-cirrus/cirrus/internal/rescache"
)

const opStacks = "stacks"

// Stacks returns all orchestration stacks. Snapshots containing a
// stack still in an _IN_PROGRESS state are not memoised, so pollers
// watching a launch see fresh status on every read.
func (c *Cloud) Stacks(ctx context.Context) ([]resource.Descriptor, error) {
	return rescache.Read(c.cache, c.key(opStacks),
		func(stacks []resource.Descriptor) bool {
			return resource.Steady(resource.KindStack, stacks)
		},
		func() ([]resource.Descriptor, error) {
			orch, err := c.orchestration()
			if err != nil {
				return nil, errors.Trace(err)
			}
			raw, err := orch.ListStacks()
			if err != nil {
				return nil, errors.Trace(err)
			}
			return normalize.Stacks(raw), nil
		})
}

// Stack resolves nameOrID to a single stack, or nil when absent. The
// orchestration service accepts either form directly, so no listing is
// needed.
func (c *Cloud) Stack(ctx context.Context, nameOrID string) (*resource.Descriptor, error) {
	orch, err := c.orchestration()
	if err != nil {
		return nil, errors.Trace(err)
	}
	raw, err := orch.GetStack(nameOrID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Trace(err)
	}
	d := normalize.Stack(*raw)
	return &d, nil
}

// CreateStackArgs describes a stack launch.
type CreateStackArgs struct {
	Name        string
	Template    []byte
	Environment []byte
	Parameters  map[string]string
	Timeout     time.Duration
	Rollback    bool
}

// CreateStack launches a stack from the given template. With wait set
// the call blocks until the stack reaches CREATE_COMPLETE, returning a
// FailedError when it lands on a _FAILED status instead.
func (c *Cloud) CreateStack(ctx context.Context, args CreateStackArgs, wait bool, timeout time.Duration) (*resource.Descriptor, error) {
	if args.Name == "" {
		return nil, errors.NotValidf("stack name missing")
	}
	if len(args.Template) == 0 {
		return nil, errors.NotValidf("stack template missing")
	}
	orch, err := c.orchestration()
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.cache.InvalidateOps(opStacks)
	raw, err := orch.CreateStack(gateway.CreateStackArgs{
		Name:        args.Name,
		Template:    args.Template,
		Environment: args.Environment,
		Parameters:  args.Parameters,
		Timeout:     args.Timeout,
		RollbackOn:  args.Rollback,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "creating stack %q", args.Name)
	}
	c.cache.InvalidateOps(opStacks)
	if !wait {
		d := normalize.Stack(*raw)
		return &d, nil
	}
	final, err := c.waitStack(ctx, raw.ID, "CREATE", timeout)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.cache.InvalidateOps(opStacks)
	return final, nil
}

// UpdateStack applies a new template to an existing stack. With wait
// set the call blocks until the update completes or fails.
func (c *Cloud) UpdateStack(ctx context.Context, nameOrID string, args CreateStackArgs, wait bool, timeout time.Duration) (*resource.Descriptor, error) {
	target, err := c.Stack(ctx, nameOrID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if target == nil {
		return nil, errors.NotFoundf("stack %q", nameOrID)
	}
	orch, err := c.orchestration()
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.cache.InvalidateOps(opStacks)
	err = orch.UpdateStack(target.ID, gateway.CreateStackArgs{
		Name:        target.Name,
		Template:    args.Template,
		Environment: args.Environment,
		Parameters:  args.Parameters,
		Timeout:     args.Timeout,
		RollbackOn:  args.Rollback,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "updating stack %q", target.ID)
	}
	c.cache.InvalidateOps(opStacks)
	if !wait {
		return c.Stack(ctx, target.ID)
	}
	final, err := c.waitStack(ctx, target.ID, "UPDATE", timeout)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.cache.InvalidateOps(opStacks)
	return final, nil
}

// DeleteStack removes the stack, returning false without error when it
// is already absent. With wait set the call blocks until the service
// forgets the stack, treating DELETE_FAILED as a hard failure.
func (c *Cloud) DeleteStack(ctx context.Context, nameOrID string, wait bool, timeout time.Duration) (bool, error) {
	target, err := c.Stack(ctx, nameOrID)
	if err != nil {
		return false, errors.Trace(err)
	}
	if target == nil {
		return false, nil
	}
	orch, err := c.orchestration()
	if err != nil {
		return false, errors.Trace(err)
	}
	c.cache.InvalidateOps(opStacks)
	if err := orch.DeleteStack(target.ID); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, errors.Annotatef(err, "deleting stack %q", target.ID)
	}
	c.cache.InvalidateOps(opStacks)
	if !wait {
		return true, nil
	}
	session := converge.Session{
		Name:     "stack " + target.ID,
		Poll:     c.pollStack(target.ID),
		NotFound: converge.NotFoundTerminal,
		Classify: func(d *resource.Descriptor) converge.Outcome {
			if strings.HasSuffix(d.Status, "DELETE_FAILED") {
				return converge.Failure
			}
			return converge.Pending
		},
		Timeout:  timeout,
		Interval: c.cfg.ServerAge(),
		Clock:    c.clock,
	}
	if _, err := session.Wait(ctx); err != nil {
		return false, errors.Trace(err)
	}
	c.cache.InvalidateOps(opStacks)
	return true, nil
}

func (c *Cloud) pollStack(stackID string) func(context.Context) (*resource.Descriptor, error) {
	return func(ctx context.Context) (*resource.Descriptor, error) {
		orch, err := c.orchestration()
		if err != nil {
			return nil, errors.Trace(err)
		}
		raw, err := orch.GetStack(stackID)
		if err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, errors.Trace(err)
		}
		d := normalize.Stack(*raw)
		return &d, nil
	}
}

func (c *Cloud) waitStack(ctx context.Context, stackID, action string, timeout time.Duration) (*resource.Descriptor, error) {
	session := converge.Session{
		Name:     "stack " + stackID,
		Poll:     c.pollStack(stackID),
		Classify: converge.TerminalStatus(action+"_COMPLETE", action+"_FAILED"),
		NotFound: converge.NotFoundPending,
		Timeout:  timeout,
		Interval: c.cfg.ServerAge(),
		Clock:    c.clock,
	}
	return session.Wait(ctx)
}
