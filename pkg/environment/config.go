package environment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/loykin/deploypipe/internal/util"
	"gopkg.in/yaml.v3"
)

// Key is one of the recognised configuration keys. The set is closed.
type Key string

const (
	KeyEnv           Key = "ENV"
	KeyBranch        Key = "BRANCH"
	KeyTestStage     Key = "TEST_STAGE"
	KeyProdStage     Key = "PROD_STAGE"
	KeyReportURL     Key = "REPORT_URL"
	KeyNotifyURL     Key = "NOTIFY_URL"
	KeyCredentialRef Key = "CREDENTIAL_REF"
)

// Keys lists every recognised key in a stable order.
var Keys = []Key{KeyEnv, KeyBranch, KeyTestStage, KeyProdStage, KeyReportURL, KeyNotifyURL, KeyCredentialRef}

// RequiredKeys must be present and non-empty.
var RequiredKeys = []Key{KeyEnv, KeyBranch, KeyCredentialRef}

// DefaultLowCeremonyTiers are the environments that skip the approval gate.
var DefaultLowCeremonyTiers = []string{"dev"}

// ParseKey normalises s and reports whether it names a recognised key.
func ParseKey(s string) (Key, bool) {
	k := Key(strings.ToUpper(strings.TrimSpace(s)))
	return k, slices.Contains(Keys, k)
}

const (
	ReasonUnknown = "unknown key"
	ReasonMissing = "missing required key"
)

// ConfigKeyError reports a key that is not recognised or a required key that is absent.
type ConfigKeyError struct {
	Key    Key
	Reason string
}

func (e *ConfigKeyError) Error() string {
	return fmt.Sprintf("environment config: %s %q", e.Reason, string(e.Key))
}

// Config is the typed environment configuration.
//
// REPORT_URL and NOTIFY_URL hold parameter-store paths, CREDENTIAL_REF holds a
// secret reference. None of them is resolved here.
type Config struct {
	Env           string
	Branch        string
	TestStage     string
	ProdStage     string
	ReportURL     string
	NotifyURL     string
	CredentialRef string

	// LowCeremonyTiers overrides DefaultLowCeremonyTiers when non-empty.
	LowCeremonyTiers []string
}

// FromMap builds a Config from a key/value map, rejecting unknown keys and
// missing required keys. All problems are reported together.
func FromMap(m map[string]string) (Config, error) {
	var cfg Config
	var errs []error

	for _, raw := range util.SortedKeys(m) {
		key, ok := ParseKey(raw)
		if !ok {
			errs = append(errs, &ConfigKeyError{Key: Key(raw), Reason: ReasonUnknown})
			continue
		}
		cfg.set(key, strings.TrimSpace(m[raw]))
	}
	errs = append(errs, cfg.missing()...)
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// FromOSEnv reads the recognised keys from the process environment, each
// looked up as prefix+KEY. Keys outside the closed set are never read.
func FromOSEnv(prefix string) (Config, error) {
	m := map[string]string{}
	for _, k := range Keys {
		if v, ok := os.LookupEnv(prefix + string(k)); ok {
			m[string(k)] = v
		}
	}
	return FromMap(m)
}

// LoadFile reads a YAML mapping of keys to values and builds a Config from it.
func LoadFile(path string) (Config, error) {
	clean := filepath.Clean(path)
	// #nosec G304 -- path is provided by user configuration
	data, err := os.ReadFile(clean)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read environment file %s: %w", clean, err)
	}
	var m map[string]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment file %s: %w", clean, err)
	}
	return FromMap(m)
}

func (c *Config) set(k Key, v string) {
	switch k {
	case KeyEnv:
		c.Env = v
	case KeyBranch:
		c.Branch = v
	case KeyTestStage:
		c.TestStage = v
	case KeyProdStage:
		c.ProdStage = v
	case KeyReportURL:
		c.ReportURL = v
	case KeyNotifyURL:
		c.NotifyURL = v
	case KeyCredentialRef:
		c.CredentialRef = v
	}
}

// Get returns the value stored under k.
func (c Config) Get(k Key) string {
	switch k {
	case KeyEnv:
		return c.Env
	case KeyBranch:
		return c.Branch
	case KeyTestStage:
		return c.TestStage
	case KeyProdStage:
		return c.ProdStage
	case KeyReportURL:
		return c.ReportURL
	case KeyNotifyURL:
		return c.NotifyURL
	case KeyCredentialRef:
		return c.CredentialRef
	default:
		return ""
	}
}

// ToMap returns the non-empty keys as a map.
func (c Config) ToMap() map[string]string {
	out := map[string]string{}
	for _, k := range Keys {
		if v := c.Get(k); v != "" {
			out[string(k)] = v
		}
	}
	return out
}

func (c Config) missing() []error {
	var errs []error
	for _, k := range RequiredKeys {
		if c.Get(k) == "" {
			errs = append(errs, &ConfigKeyError{Key: k, Reason: ReasonMissing})
		}
	}
	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].(*ConfigKeyError).Key < errs[j].(*ConfigKeyError).Key
	})
	return errs
}

// IsLowCeremony reports whether the environment is one of the low-ceremony tiers.
func (c Config) IsLowCeremony() bool {
	tiers := c.LowCeremonyTiers
	if len(tiers) == 0 {
		tiers = DefaultLowCeremonyTiers
	}
	env := util.TrimAndLower(c.Env)
	for _, t := range tiers {
		if util.TrimAndLower(t) == env {
			return true
		}
	}
	return false
}

// Descriptor derives the immutable environment descriptor.
func (c Config) Descriptor() Descriptor {
	return Descriptor{
		Name:            c.Env,
		IsProduction:    !c.IsLowCeremony(),
		Branch:          c.Branch,
		TestStage:       c.TestStage,
		ProductionStage: c.ProdStage,
	}
}
