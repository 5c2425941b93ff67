// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cirrus is a resource-oriented control layer for OpenStack-style
// clouds. A Cloud value represents one authenticated connection to one
// region and exposes orchestration verbs (servers, volumes, images,
// floating IPs, security groups, networks, stacks) that hide which
// backend variant serves each capability, when results are cached, and
// how long-running operations are driven to a terminal state.
package cirrus

import (
	"sync"

	"github.com/go-goose/goose/v5/client"
	"github.com/go-goose/goose/v5/identity"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/go-cirrus/cirrus/core/resource"
	"github.com/go-cirrus/cirrus/internal/gateway"
	"github.com/go-cirrus/cirrus/internal/inventory"
	"github.com/go-cirrus/cirrus/internal/rescache"
	"github.com/go-cirrus/cirrus/internal/selector"
)

var logger = loggo.GetLogger("cirrus")

// Capability names used in bindings and error messages.
const (
	capFloatingIPs    = "floating-ips"
	capSecurityGroups = "security-groups"
	capVolumes        = "volumes"
)

// variantVolume is the single volume-service variant; the binding still
// carries the API-version parameter dialect.
const variantVolume = selector.Variant("volume")

// volumeV1Params renames the canonical volume parameters to the names
// the v1 dialect uses.
var volumeV1Params = selector.ParamRule{
	"name":        "display_name",
	"description": "display_description",
}

// Cloud is one authenticated connection to one cloud:region. It is safe
// for concurrent use; all shared state (cache entries, the server
// inventory snapshot, lazily-built service clients) sits behind its own
// mutex.
type Cloud struct {
	cfg   Config
	clock clock.Clock

	cache    *rescache.Cache
	servers  *inventory.Guard[resource.Descriptor]
	bindings map[string]selector.Binding

	// mu guards auth and the lazily-populated connection fields.
	mu     sync.Mutex
	auth   client.AuthenticatingClient
	authed bool
	conn   gateway.Connection

	// extMu guards the memoised external network resolution.
	extMu      sync.Mutex
	extStamped bool
	extNetID   string
}

// New opens a connection described by cfg. No backend traffic happens
// until the first verb needs a service client.
func New(cfg Config) (*Cloud, error) {
	if cfg.authURL() == "" {
		return nil, errors.NotValidf("configuration without auth-url")
	}
	cred := identity.Credentials{
		URL:        cfg.authURL(),
		User:       cfg.username(),
		Secrets:    cfg.password(),
		Region:     cfg.Region(),
		TenantName: cfg.tenantName(),
		Domain:     cfg.domainName(),
	}
	var mode identity.AuthMode
	switch cfg.authMode() {
	case "userpass":
		mode = identity.AuthUserPass
	case "userpass-v3":
		mode = identity.AuthUserPassV3
	case "keypair":
		mode = identity.AuthKeyPair
	case "legacy":
		mode = identity.AuthLegacy
	default:
		return nil, errors.NotValidf("auth-mode %q", cfg.authMode())
	}
	newClient := client.NewClient
	if !cfg.sslHostnameVerification() {
		logger.Warningf("cloud %q: disabling SSL hostname verification", cfg.Name())
		newClient = client.NewNonValidatingClient
	}
	c := newCloud(cfg, gateway.Connection{}, clock.WallClock)
	c.auth = newClient(&cred, mode, nil)
	return c, nil
}

func newCloud(cfg Config, conn gateway.Connection, clk clock.Clock) *Cloud {
	c := &Cloud{
		cfg:   cfg,
		clock: clk,
		conn:  conn,
		cache: rescache.New(rescache.Config{
			Enabled: cfg.CacheEnabled(),
			TTL:     cfg.CacheTTL(),
			Clock:   clk,
		}),
		bindings: buildBindings(cfg),
	}
	c.servers = inventory.New(clk, c.fetchServers)
	return c
}

// Name is the configured cloud name.
func (c *Cloud) Name() string { return c.cfg.Name() }

// Region is the catalog region this connection is bound to.
func (c *Cloud) Region() string { return c.cfg.Region() }

func buildBindings(cfg Config) map[string]selector.Binding {
	logFallback := func(capability string, from, to selector.Variant, cause error) {
		logger.Infof("cloud %q: %s not served by %s (%v), using %s",
			cfg.Name(), capability, from, cause, to)
	}

	dual := func(capability, source string) selector.Binding {
		b := selector.Binding{
			Capability: capability,
			IsNotFound: IsNotFound,
			OnFallback: logFallback,
		}
		switch source {
		case SourceNeutron:
			b.Primary = selector.VariantNetwork
			b.Secondary = selector.VariantCompute
		case SourceNova:
			b.Primary = selector.VariantCompute
		}
		// SourceNone leaves the binding unbound; every invocation
		// fails with a not-supported error.
		return b
	}

	volumes := selector.Binding{
		Capability: capVolumes,
		Primary:    variantVolume,
		IsNotFound: IsNotFound,
	}
	if cfg.VolumeAPIVersion() == 1 {
		volumes.Rules = map[selector.Variant]selector.ParamRule{
			variantVolume: volumeV1Params,
		}
	}

	return map[string]selector.Binding{
		capFloatingIPs:    dual(capFloatingIPs, cfg.FloatingIPSource()),
		capSecurityGroups: dual(capSecurityGroups, cfg.SecurityGroupSource()),
		capVolumes:        volumes,
	}
}

func (c *Cloud) binding(capability string) selector.Binding {
	return c.bindings[capability]
}

// authenticated returns the goose client after making sure a token is
// held. Callers hold c.mu.
func (c *Cloud) authenticated() (client.AuthenticatingClient, error) {
	if c.auth == nil {
		return nil, errors.New("cloud connection has no credentials")
	}
	if !c.authed && !c.auth.IsAuthenticated() {
		if err := c.auth.Authenticate(); err != nil {
			return nil, errors.Annotate(err, "authentication failed")
		}
	}
	c.authed = true
	return c.auth, nil
}

func (c *Cloud) compute() (gateway.Compute, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn.Compute == nil {
		auth, err := c.authenticated()
		if err != nil {
			return nil, errors.Trace(err)
		}
		c.conn.Compute = gateway.NewCompute(auth)
	}
	return c.conn.Compute, nil
}

func (c *Cloud) network() (gateway.Network, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn.Network == nil {
		auth, err := c.authenticated()
		if err != nil {
			return nil, errors.Trace(err)
		}
		c.conn.Network = gateway.NewNetwork(auth)
	}
	return c.conn.Network, nil
}

func (c *Cloud) blockStorage() (gateway.BlockStorage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn.BlockStorage == nil {
		auth, err := c.authenticated()
		if err != nil {
			return nil, errors.Trace(err)
		}
		stor, err := gateway.NewBlockStorage(auth, c.cfg.Region(), c.cfg.VolumeAPIVersion())
		if err != nil {
			return nil, errors.Trace(err)
		}
		c.conn.BlockStorage = stor
	}
	return c.conn.BlockStorage, nil
}

func (c *Cloud) imaging() (gateway.Imaging, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn.Imaging == nil {
		auth, err := c.authenticated()
		if err != nil {
			return nil, errors.Trace(err)
		}
		img, err := gateway.NewImaging(auth, c.cfg.Region())
		if err != nil {
			return nil, errors.Trace(err)
		}
		c.conn.Imaging = img
	}
	return c.conn.Imaging, nil
}

func (c *Cloud) orchestration() (gateway.Orchestration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn.Orchestration == nil {
		auth, err := c.authenticated()
		if err != nil {
			return nil, errors.Trace(err)
		}
		orch, err := gateway.NewOrchestration(auth, c.cfg.Region())
		if err != nil {
			return nil, errors.Trace(err)
		}
		c.conn.Orchestration = orch
	}
	return c.conn.Orchestration, nil
}

// key builds the cache key for an operation on this connection.
func (c *Cloud) key(op string, args ...string) rescache.Key {
	return rescache.NewKey(op, c.cfg.Name()+":"+c.cfg.Region(), args...)
}

// looksLikeID reports whether s is a backend-generated identifier rather
// than a user-chosen name.
func looksLikeID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// match resolves nameOrID against a descriptor collection, preferring an
// exact ID match over a name match.
func match(descriptors []resource.Descriptor, nameOrID string) *resource.Descriptor {
	for i := range descriptors {
		if descriptors[i].ID == nameOrID {
			return &descriptors[i]
		}
	}
	for i := range descriptors {
		if descriptors[i].Name == nameOrID {
			return &descriptors[i]
		}
	}
	return nil
}
