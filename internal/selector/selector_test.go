// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package selector_test

import (
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/go-cirrus/cirrus/internal/selector"
)

type selectorSuite struct{}

var _ = gc.Suite(&selectorSuite{})

var errEndpointMissing = errors.New("resource not found: 404")

func isEndpointMissing(err error) bool {
	return errors.Cause(err) == errEndpointMissing
}

func (s *selectorSuite) TestPrimaryServes(c *gc.C) {
	b := selector.Binding{
		Capability: "floating-ips",
		Primary:    selector.VariantNetwork,
		Secondary:  selector.VariantCompute,
		IsNotFound: isEndpointMissing,
	}
	var tried []selector.Variant
	result, err := selector.Invoke(b, func(v selector.Variant) (string, error) {
		tried = append(tried, v)
		return "from-" + string(v), nil
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, "from-network")
	c.Check(tried, jc.DeepEquals, []selector.Variant{selector.VariantNetwork})
}

func (s *selectorSuite) TestFallbackOnNotFoundSignal(c *gc.C) {
	var events int
	b := selector.Binding{
		Capability: "floating-ips",
		Primary:    selector.VariantNetwork,
		Secondary:  selector.VariantCompute,
		IsNotFound: isEndpointMissing,
		OnFallback: func(capability string, from, to selector.Variant, cause error) {
			events++
			c.Check(capability, gc.Equals, "floating-ips")
			c.Check(from, gc.Equals, selector.VariantNetwork)
			c.Check(to, gc.Equals, selector.VariantCompute)
			c.Check(errors.Cause(cause), gc.Equals, errEndpointMissing)
		},
	}
	var tried []selector.Variant
	result, err := selector.Invoke(b, func(v selector.Variant) (string, error) {
		tried = append(tried, v)
		if v == selector.VariantNetwork {
			return "", errEndpointMissing
		}
		return "from-" + string(v), nil
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result, gc.Equals, "from-compute")
	c.Check(tried, jc.DeepEquals, []selector.Variant{
		selector.VariantNetwork, selector.VariantCompute,
	})
	c.Check(events, gc.Equals, 1)
}

func (s *selectorSuite) TestOtherErrorsDoNotFallBack(c *gc.C) {
	b := selector.Binding{
		Capability: "floating-ips",
		Primary:    selector.VariantNetwork,
		Secondary:  selector.VariantCompute,
		IsNotFound: isEndpointMissing,
	}
	boom := errors.New("quota exceeded")
	calls := 0
	_, err := selector.Invoke(b, func(v selector.Variant) (string, error) {
		calls++
		return "", boom
	})
	c.Assert(errors.Cause(err), gc.Equals, boom)
	c.Check(calls, gc.Equals, 1)
}

func (s *selectorSuite) TestSecondaryErrorPropagates(c *gc.C) {
	b := selector.Binding{
		Capability: "floating-ips",
		Primary:    selector.VariantNetwork,
		Secondary:  selector.VariantCompute,
		IsNotFound: isEndpointMissing,
	}
	boom := errors.New("compute says no")
	_, err := selector.Invoke(b, func(v selector.Variant) (string, error) {
		if v == selector.VariantNetwork {
			return "", errEndpointMissing
		}
		return "", boom
	})
	c.Assert(errors.Cause(err), gc.Equals, boom)
}

func (s *selectorSuite) TestNoFallbackWithoutSecondary(c *gc.C) {
	b := selector.Binding{
		Capability: "security-groups",
		Primary:    selector.VariantNetwork,
		IsNotFound: isEndpointMissing,
	}
	calls := 0
	_, err := selector.Invoke(b, func(v selector.Variant) (string, error) {
		calls++
		return "", errEndpointMissing
	})
	c.Assert(errors.Cause(err), gc.Equals, errEndpointMissing)
	c.Check(calls, gc.Equals, 1)
}

func (s *selectorSuite) TestUnboundCapability(c *gc.C) {
	b := selector.Binding{Capability: "security-groups"}
	called := false
	_, err := selector.Invoke(b, func(v selector.Variant) (string, error) {
		called = true
		return "", nil
	})
	c.Assert(err, jc.ErrorIs, errors.NotSupported)
	c.Check(selector.IsUnsupported(err), jc.IsTrue)
	c.Check(called, jc.IsFalse)
}

func (s *selectorSuite) TestParamTranslation(c *gc.C) {
	b := selector.Binding{
		Capability: "volumes",
		Primary:    selector.VariantCompute,
		Rules: map[selector.Variant]selector.ParamRule{
			selector.VariantCompute: {"name": "display_name", "description": "display_description"},
		},
	}
	got := b.Params(selector.VariantCompute, map[string]any{
		"name": "vol1", "description": "d", "size": 10,
	})
	c.Check(got, jc.DeepEquals, map[string]any{
		"display_name": "vol1", "display_description": "d", "size": 10,
	})
	// A variant with no rule passes params through untouched.
	passthrough := map[string]any{"name": "vol1"}
	c.Check(b.Params(selector.VariantNetwork, passthrough), jc.DeepEquals, passthrough)
}
