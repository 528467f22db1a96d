// Package secrets resolves credential references such as "env:GITHUB_TOKEN"
// or "oauth2:github" to their values. Resolved values are registered with
// the log masker so they never appear in output.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loykin/deploypipe/internal/common"
)

// Resolver resolves the part of a reference after its scheme.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// ErrNotFound is wrapped when a reference has no value.
var ErrNotFound = errors.New("secret not found")

// Registry dispatches references of the form "scheme:name" to the resolver
// registered for scheme.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry creates a registry with the env and file schemes registered.
func NewRegistry() *Registry {
	r := &Registry{resolvers: map[string]Resolver{}}
	r.Register("env", EnvResolver{})
	r.Register("file", FileResolver{})
	return r
}

// Register adds or replaces the resolver for scheme.
func (r *Registry) Register(scheme string, res Resolver) {
	key := strings.ToLower(strings.TrimSpace(scheme))
	if key == "" || res == nil {
		return
	}
	r.mu.Lock()
	r.resolvers[key] = res
	r.mu.Unlock()
}

// Has reports whether a scheme is registered.
func (r *Registry) Has(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolvers[strings.ToLower(strings.TrimSpace(scheme))]
	return ok
}

// Resolve splits ref into scheme and name and delegates.
func (r *Registry) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, name, ok := strings.Cut(strings.TrimSpace(ref), ":")
	if !ok || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("secret reference %q must look like scheme:name", ref)
	}
	r.mu.RLock()
	res, found := r.resolvers[strings.ToLower(scheme)]
	r.mu.RUnlock()
	if !found {
		return "", fmt.Errorf("no secrets resolver for scheme %q", scheme)
	}
	v, err := res.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	common.RegisterSecretValue(v)
	return v, nil
}

// EnvResolver reads a secret from an environment variable.
type EnvResolver struct{}

func (EnvResolver) Resolve(_ context.Context, name string) (string, error) {
	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: env:%s", ErrNotFound, name)
}

// FileResolver reads a secret from a file, trimming surrounding whitespace.
type FileResolver struct{}

func (FileResolver) Resolve(_ context.Context, path string) (string, error) {
	clean := filepath.Clean(path)
	// #nosec G304 -- path is provided by user configuration
	data, err := os.ReadFile(clean)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: file:%s", ErrNotFound, clean)
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", clean, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// StaticResolver serves fixed values, mostly for tests and local runs.
type StaticResolver map[string]string

func (s StaticResolver) Resolve(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}
