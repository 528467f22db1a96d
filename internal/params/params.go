// Package params provides parameter store backends for environment scoped,
// non-secret strings such as webhook URLs and topic names.
package params

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/deploypipe/internal/util"
)

// Store resolves a parameter path to its value.
type Store interface {
	Lookup(ctx context.Context, path string) (string, error)
}

// ErrNotFound is wrapped by every backend when a path has no value.
var ErrNotFound = errors.New("parameter not found")

func notFound(path string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, path)
}

// MapStore is an in-memory store.
type MapStore map[string]string

func (m MapStore) Lookup(_ context.Context, path string) (string, error) {
	if v, ok := m[path]; ok {
		return v, nil
	}
	return "", notFound(path)
}

// EnvStore reads parameters from the process environment. A path such as
// "/deploy/slack-url" becomes PREFIX + "DEPLOY_SLACK_URL".
type EnvStore struct {
	Prefix string `mapstructure:"prefix"`
}

// EnvName returns the variable name a path maps to.
func (s EnvStore) EnvName(path string) string {
	return s.Prefix + util.EnvVarName(path)
}

func (s EnvStore) Lookup(_ context.Context, path string) (string, error) {
	if v, ok := os.LookupEnv(s.EnvName(path)); ok {
		return v, nil
	}
	return "", notFound(path)
}

// Chain consults each store in order and returns the first value found.
// Errors other than ErrNotFound stop the lookup.
type Chain []Store

func (c Chain) Lookup(ctx context.Context, path string) (string, error) {
	for _, s := range c {
		v, err := s.Lookup(ctx, path)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", notFound(path)
}

// BackendConfig selects and configures one backend.
type BackendConfig struct {
	Type string                 `yaml:"type" mapstructure:"type"`
	Spec map[string]interface{} `yaml:"spec" mapstructure:"spec"`
}

// Factory builds a Store from a loosely-typed spec map.
type Factory func(spec map[string]interface{}) (Store, error)

var factories = map[string]Factory{}

// Register registers a backend factory under a type key.
func Register(typ string, f Factory) {
	key := util.TrimAndLower(typ)
	if key == "" || f == nil {
		return
	}
	factories[key] = f
}

// New builds one backend.
func New(c BackendConfig) (Store, error) {
	f, ok := factories[util.TrimAndLower(c.Type)]
	if !ok {
		return nil, fmt.Errorf("params: unsupported backend type %q", c.Type)
	}
	return f(c.Spec)
}

// NewChain builds a Chain from backend configs in order.
func NewChain(cfgs []BackendConfig) (Chain, error) {
	var chain Chain
	for i, c := range cfgs {
		s, err := New(c)
		if err != nil {
			return nil, fmt.Errorf("params backend %d: %w", i, err)
		}
		chain = append(chain, s)
	}
	return chain, nil
}

func init() {
	Register("map", func(spec map[string]interface{}) (Store, error) {
		var c struct {
			Values map[string]string `mapstructure:"values"`
		}
		if err := decode(spec, &c); err != nil {
			return nil, err
		}
		return MapStore(c.Values), nil
	})
	Register("env", func(spec map[string]interface{}) (Store, error) {
		var s EnvStore
		if err := decode(spec, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
	Register("file", func(spec map[string]interface{}) (Store, error) {
		var c struct {
			Path string `mapstructure:"path"`
		}
		if err := decode(spec, &c); err != nil {
			return nil, err
		}
		return LoadFileStore(c.Path)
	})
	Register("http", func(spec map[string]interface{}) (Store, error) {
		var c HTTPConfig
		if err := decode(spec, &c); err != nil {
			return nil, err
		}
		return NewHTTPStore(c)
	})
}

func decode(spec map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(spec)
}
