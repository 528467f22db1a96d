package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/deploypipe/internal/common"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Grant types supported by OAuth2Provider.
const (
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
)

// OAuth2Provider configures one named token source.
type OAuth2Provider struct {
	Name         string   `mapstructure:"name" yaml:"name"`
	GrantType    string   `mapstructure:"grant_type" yaml:"grant_type"`
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret"`
	AuthURL      string   `mapstructure:"auth_url" yaml:"auth_url"`
	TokenURL     string   `mapstructure:"token_url" yaml:"token_url"`
	Username     string   `mapstructure:"username" yaml:"username"`
	Password     string   `mapstructure:"password" yaml:"password"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes"`
}

// DecodeOAuth2Provider decodes a loosely-typed provider spec.
func DecodeOAuth2Provider(spec map[string]interface{}) (OAuth2Provider, error) {
	var p OAuth2Provider
	if err := mapstructure.Decode(spec, &p); err != nil {
		return p, fmt.Errorf("invalid oauth2 provider: %w", err)
	}
	return p, p.validate()
}

func (p OAuth2Provider) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("oauth2: provider name is required")
	}
	if strings.TrimSpace(p.TokenURL) == "" {
		return fmt.Errorf("oauth2 %s: token_url is required", p.Name)
	}
	switch p.grant() {
	case GrantClientCredentials:
		if strings.TrimSpace(p.ClientID) == "" || strings.TrimSpace(p.ClientSecret) == "" {
			return fmt.Errorf("oauth2 %s: client_id and client_secret are required for client_credentials grant", p.Name)
		}
	case GrantPassword:
		if strings.TrimSpace(p.ClientID) == "" || strings.TrimSpace(p.Username) == "" || p.Password == "" {
			return fmt.Errorf("oauth2 %s: client_id, username and password are required for password grant", p.Name)
		}
	default:
		return fmt.Errorf("oauth2 %s: unsupported grant_type %q", p.Name, p.GrantType)
	}
	return nil
}

func (p OAuth2Provider) grant() string {
	g := strings.ToLower(strings.TrimSpace(p.GrantType))
	if g == "" {
		return GrantClientCredentials
	}
	return g
}

// token fetches a fresh token for the provider's grant.
func (p OAuth2Provider) token(ctx context.Context) (*oauth2.Token, error) {
	switch p.grant() {
	case GrantPassword:
		cfg := &oauth2.Config{
			ClientID:     strings.TrimSpace(p.ClientID),
			ClientSecret: strings.TrimSpace(p.ClientSecret),
			Endpoint: oauth2.Endpoint{
				AuthURL:   strings.TrimSpace(p.AuthURL),
				TokenURL:  strings.TrimSpace(p.TokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: p.Scopes,
		}
		return cfg.PasswordCredentialsToken(ctx, strings.TrimSpace(p.Username), p.Password)
	default:
		cc := &clientcredentials.Config{
			ClientID:     strings.TrimSpace(p.ClientID),
			ClientSecret: strings.TrimSpace(p.ClientSecret),
			TokenURL:     strings.TrimSpace(p.TokenURL),
			Scopes:       p.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		return cc.Token(ctx)
	}
}

// OAuth2Resolver resolves provider names to access tokens. Valid tokens are
// reused until they expire.
type OAuth2Resolver struct {
	mu        sync.Mutex
	providers map[string]OAuth2Provider
	tokens    map[string]*oauth2.Token
}

// NewOAuth2Resolver validates the providers and builds a resolver.
func NewOAuth2Resolver(providers ...OAuth2Provider) (*OAuth2Resolver, error) {
	r := &OAuth2Resolver{providers: map[string]OAuth2Provider{}, tokens: map[string]*oauth2.Token{}}
	for _, p := range providers {
		if err := p.validate(); err != nil {
			return nil, err
		}
		r.providers[p.Name] = p
	}
	return r, nil
}

func (r *OAuth2Resolver) Resolve(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	if !ok {
		return "", fmt.Errorf("%w: oauth2:%s", ErrNotFound, name)
	}
	if tok, ok := r.tokens[name]; ok && tok.Valid() {
		return tok.AccessToken, nil
	}
	tok, err := p.token(ctx)
	if err != nil {
		return "", fmt.Errorf("oauth2 %s: %w", name, err)
	}
	if !tok.Valid() || strings.TrimSpace(tok.AccessToken) == "" {
		return "", fmt.Errorf("oauth2 %s: received invalid token", name)
	}
	r.tokens[name] = tok
	common.GetLogger().WithComponent("secrets").Debug("oauth2 token acquired",
		"provider", name, "grant", p.grant(), "expiry", tok.Expiry)
	return tok.AccessToken, nil
}
