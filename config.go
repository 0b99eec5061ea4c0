package ddns

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoAccounts         = errors.New("no cloudflare accounts configured")
	ErrMissingZoneID      = errors.New("missing zone_id")
	ErrMissingCredentials = errors.New("missing credentials: set api_token or api_key")
)

// Config is the parsed configuration for an Updater.
//
// The file format matches the classic cloudflare-ddns config.json layout,
// and because JSON is a subset of YAML both .json and .yaml files load
// through the same path.
type Config struct {
	Accounts []Account `yaml:"cloudflare"`

	// TTL is the record time-to-live in seconds and doubles as the poll
	// interval. Absent means 300; configured values below 1 are raised to 1.
	TTL *int `yaml:"ttl"`

	// A and AAAA toggle detection per address family. Both default to true.
	A    *bool `yaml:"a"`
	AAAA *bool `yaml:"aaaa"`

	// PurgeUnknownRecords deletes every record of an address family when
	// that family can no longer be detected. Off by default because it will
	// also delete records this tool never created.
	PurgeUnknownRecords bool `yaml:"purgeUnknownRecords"`
}

type Account struct {
	Authentication Authentication `yaml:"authentication"`
	ZoneID         string         `yaml:"zone_id"`
	Proxied        bool           `yaml:"proxied"`
	Subdomains     []Subdomain    `yaml:"subdomains"`
}

type Authentication struct {
	APIToken string `yaml:"api_token"`
	APIKey   APIKey `yaml:"api_key"`
}

type APIKey struct {
	AccountEmail string `yaml:"account_email"`
	Key          string `yaml:"api_key"`
}

type Subdomain struct {
	// Name is the subdomain label. Empty or "@" means the zone apex.
	Name string `yaml:"name"`

	// Proxied overrides the account-level proxied flag when set.
	Proxied *bool `yaml:"proxied"`
}

// UnmarshalYAML accepts either the object form {name: ..., proxied: ...}
// or a bare string, which older config files use for subdomain entries.
func (s *Subdomain) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&s.Name)
	}
	type subdomain Subdomain
	var sd subdomain
	if err := value.Decode(&sd); err != nil {
		return err
	}
	*s = Subdomain(sd)
	return nil
}

const defaultTTL = 300

// envRef matches $CF_DDNS_FOO and ${CF_DDNS_FOO}. Only variables with the
// CF_DDNS_ prefix are substituted; anything else in the file is left alone.
var envRef = regexp.MustCompile(`\$(CF_DDNS_[A-Za-z0-9_]+)|\$\{(CF_DDNS_[A-Za-z0-9_]+)\}`)

// LoadConfig reads, substitutes environment references in, parses, and
// validates the config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	data = expandEnv(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// expandEnv replaces $CF_DDNS_* references with values from the
// environment. Unset references are left verbatim so that a missing
// variable surfaces as a credential error rather than an empty string.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(match []byte) []byte {
		name := strings.Trim(strings.TrimPrefix(string(match), "$"), "{}")
		if value, found := os.LookupEnv(name); found {
			return []byte(value)
		}
		return match
	})
}

func (c *Config) validate() error {
	if len(c.Accounts) == 0 {
		return ErrNoAccounts
	}
	for i, account := range c.Accounts {
		if account.ZoneID == "" {
			return fmt.Errorf("cloudflare[%d]: %w", i, ErrMissingZoneID)
		}
		auth := account.Authentication
		if auth.APIToken == "" && (auth.APIKey.Key == "" || auth.APIKey.AccountEmail == "") {
			return fmt.Errorf("cloudflare[%d]: %w", i, ErrMissingCredentials)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.TTL == nil {
		ttl := defaultTTL
		c.TTL = &ttl
	}
	if *c.TTL < 1 {
		*c.TTL = 1
	}
}

// EffectiveTTL returns the floored TTL, applying the default when unset.
func (c *Config) EffectiveTTL() int {
	if c.TTL == nil {
		return defaultTTL
	}
	if *c.TTL < 1 {
		return 1
	}
	return *c.TTL
}

// IPv4Enabled reports whether A records should be managed. Defaults to true.
func (c *Config) IPv4Enabled() bool { return c.A == nil || *c.A }

// IPv6Enabled reports whether AAAA records should be managed. Defaults to true.
func (c *Config) IPv6Enabled() bool { return c.AAAA == nil || *c.AAAA }
