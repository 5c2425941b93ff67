// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cirrus

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
)

// Backend source names accepted by secgroup-source and floatingip-source.
const (
	SourceNeutron = "neutron"
	SourceNova    = "nova"
	SourceNone    = "none"
)

var configFields = schema.Fields{
	"name":     schema.String(),
	"region":   schema.String(),
	"auth-url": schema.String(),
	"username": schema.String(),
	"password": schema.String(),

	"tenant-name": schema.String(),
	"domain-name": schema.String(),
	"auth-mode":   schema.String(),

	"ssl-hostname-verification": schema.Bool(),

	"cache-enabled": schema.Bool(),
	"cache-ttl":     schema.String(),
	"server-age":    schema.String(),

	"secgroup-source":    schema.String(),
	"floatingip-source":  schema.String(),
	"external-network":   schema.String(),
	"volume-api-version": schema.ForceInt(),
}

var configDefaults = schema.Defaults{
	"auth-url": "",
	"username": "",
	"password": "",

	"tenant-name": "",
	"domain-name": "",
	"auth-mode":   "userpass",

	"ssl-hostname-verification": true,

	// Caching is opt-in: a fresh connection behaves like a cache with
	// zero TTL until the embedder turns it on.
	"cache-enabled": false,
	"cache-ttl":     "5m",
	"server-age":    "5s",

	"secgroup-source":    SourceNeutron,
	"floatingip-source":  SourceNeutron,
	"external-network":   "",
	"volume-api-version": 2,
}

// Config is the validated connection configuration for one cloud:region.
type Config struct {
	attrs map[string]any

	cacheTTL  time.Duration
	serverAge time.Duration
}

// NewConfig validates and coerces attrs into a Config. Unknown keys are
// rejected; absent keys fall back to the documented defaults.
func NewConfig(attrs map[string]any) (Config, error) {
	coerced, err := schema.FieldMap(configFields, configDefaults).Coerce(attrs, nil)
	if err != nil {
		return Config{}, errors.Annotate(err, "invalid configuration")
	}
	cfg := Config{attrs: coerced.(map[string]any)}

	for key, valid := range map[string][]string{
		"secgroup-source":   {SourceNeutron, SourceNova, SourceNone},
		"floatingip-source": {SourceNeutron, SourceNova, SourceNone},
	} {
		if !contains(valid, cfg.attrs[key].(string)) {
			return Config{}, errors.NotValidf("%s %q", key, cfg.attrs[key])
		}
	}
	if v := cfg.VolumeAPIVersion(); v != 1 && v != 2 {
		return Config{}, errors.NotValidf("volume-api-version %d", v)
	}
	if cfg.cacheTTL, err = time.ParseDuration(cfg.attrs["cache-ttl"].(string)); err != nil {
		return Config{}, errors.Annotate(err, "invalid cache-ttl")
	}
	if cfg.serverAge, err = time.ParseDuration(cfg.attrs["server-age"].(string)); err != nil {
		return Config{}, errors.Annotate(err, "invalid server-age")
	}
	if cfg.cacheTTL < 0 || cfg.serverAge < 0 {
		return Config{}, errors.NotValidf("negative cache-ttl or server-age")
	}
	return cfg, nil
}

func contains(valid []string, v string) bool {
	for _, s := range valid {
		if s == v {
			return true
		}
	}
	return false
}

// Name is the configured cloud name, used in cache keys and log lines.
func (c Config) Name() string { return c.attrs["name"].(string) }

// Region is the catalog region everything binds to.
func (c Config) Region() string { return c.attrs["region"].(string) }

func (c Config) authURL() string    { return c.attrs["auth-url"].(string) }
func (c Config) username() string   { return c.attrs["username"].(string) }
func (c Config) password() string   { return c.attrs["password"].(string) }
func (c Config) tenantName() string { return c.attrs["tenant-name"].(string) }
func (c Config) domainName() string { return c.attrs["domain-name"].(string) }
func (c Config) authMode() string   { return c.attrs["auth-mode"].(string) }

func (c Config) sslHostnameVerification() bool {
	return c.attrs["ssl-hostname-verification"].(bool)
}

// CacheEnabled reports whether list results may be served from memory.
func (c Config) CacheEnabled() bool { return c.attrs["cache-enabled"].(bool) }

// CacheTTL is how long a steady cached collection stays servable.
func (c Config) CacheTTL() time.Duration { return c.cacheTTL }

// ServerAge is the maximum age of the server inventory snapshot before
// a read triggers a refresh.
func (c Config) ServerAge() time.Duration { return c.serverAge }

// SecurityGroupSource names the backend serving security groups.
func (c Config) SecurityGroupSource() string {
	return c.attrs["secgroup-source"].(string)
}

// FloatingIPSource names the backend serving floating IPs.
func (c Config) FloatingIPSource() string {
	return c.attrs["floatingip-source"].(string)
}

// ExternalNetwork optionally names the network floating IPs allocate
// from; empty means discover by the external routing flag.
func (c Config) ExternalNetwork() string {
	return c.attrs["external-network"].(string)
}

// VolumeAPIVersion selects the volume API naming dialect (1 or 2).
func (c Config) VolumeAPIVersion() int {
	return c.attrs["volume-api-version"].(int)
}
