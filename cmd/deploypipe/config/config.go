package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/internal/constants"
	"github.com/loykin/deploypipe/internal/httpc"
	"github.com/loykin/deploypipe/internal/params"
	"github.com/loykin/deploypipe/internal/secrets"
	"github.com/loykin/deploypipe/internal/store"
	"github.com/loykin/deploypipe/internal/store/sqlite"
	"github.com/loykin/deploypipe/internal/util"
	"github.com/loykin/deploypipe/pkg/environment"
	"github.com/loykin/deploypipe/pkg/notify"
	"github.com/loykin/deploypipe/pkg/pipeline"
	"gopkg.in/yaml.v3"
)

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json, color
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // enable/disable sensitive data masking
	Color         *bool  `mapstructure:"color" yaml:"color"`                   // enable/disable colorized output
}

type ClientConfig struct {
	Insecure      bool              `mapstructure:"insecure" yaml:"insecure"`
	MinTLSVersion string            `mapstructure:"min_tls_version" yaml:"min_tls_version"`
	MaxTLSVersion string            `mapstructure:"max_tls_version" yaml:"max_tls_version"`
	Timeout       string            `mapstructure:"timeout" yaml:"timeout"`
	Headers       map[string]string `mapstructure:"headers" yaml:"headers"`
}

type PipelineConfig struct {
	Owner      string `mapstructure:"owner" yaml:"owner"`
	Repo       string `mapstructure:"repo" yaml:"repo"`
	BuildSpec  string `mapstructure:"build_spec" yaml:"build_spec"`
	DeploySpec string `mapstructure:"deploy_spec" yaml:"deploy_spec"`

	// SourceAPI is the GitHub-compatible API used to download branch archives.
	SourceAPI   string `mapstructure:"source_api" yaml:"source_api"`
	// ExecutorURL receives build and deploy jobs; required unless dry-run.
	ExecutorURL string `mapstructure:"executor_url" yaml:"executor_url"`
	Workspace   string `mapstructure:"workspace" yaml:"workspace"`

	// LowCeremonyTiers lists environments that skip the approval gate.
	LowCeremonyTiers []string `mapstructure:"low_ceremony_tiers" yaml:"low_ceremony_tiers"`
}

type SecretsConfig struct {
	Static map[string]string        `mapstructure:"static" yaml:"static"`
	OAuth2 []map[string]interface{} `mapstructure:"oauth2" yaml:"oauth2"`
}

type NotifyConfig struct {
	Events        []string `mapstructure:"events" yaml:"events"`
	TopicEndpoint string   `mapstructure:"topic_endpoint" yaml:"topic_endpoint"`
	Webhooks      []string `mapstructure:"webhooks" yaml:"webhooks"`
	Log           bool     `mapstructure:"log" yaml:"log"`
}

type ApprovalConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Secret   string `mapstructure:"secret" yaml:"secret"`
	Issuer   string `mapstructure:"issuer" yaml:"issuer"`
	TokenTTL string `mapstructure:"token_ttl" yaml:"token_ttl"`
}

type StoreConfig struct {
	Disabled     bool `mapstructure:"disabled" yaml:"disabled"`
	store.Config `mapstructure:",squash" yaml:",inline"`
}

type ConfigDoc struct {
	// Environment holds the closed key set (ENV, BRANCH, ...). When empty,
	// EnvironmentFile and then DEPLOYPIPE_* variables are consulted.
	Environment     map[string]string      `mapstructure:"environment" yaml:"environment"`
	EnvironmentFile string                 `mapstructure:"environment_file" yaml:"environment_file"`
	Pipeline        PipelineConfig         `mapstructure:"pipeline" yaml:"pipeline"`
	Parameters      []params.BackendConfig `mapstructure:"parameters" yaml:"parameters"`
	Secrets         SecretsConfig          `mapstructure:"secrets" yaml:"secrets"`
	Notify          NotifyConfig           `mapstructure:"notify" yaml:"notify"`
	Store           StoreConfig            `mapstructure:"store" yaml:"store"`
	Logging         LoggingConfig          `mapstructure:"logging" yaml:"logging"`
	Approval        ApprovalConfig         `mapstructure:"approval" yaml:"approval"`
	Client          ClientConfig           `mapstructure:"client" yaml:"client"`
	baseDir         string
}

func (c *ConfigDoc) Load(path string) error {
	clean := filepath.Clean(path)
	// Ensure path points to a regular file to avoid opening directories/special files
	if info, statErr := os.Stat(clean); statErr != nil || !info.Mode().IsRegular() {
		if statErr != nil {
			return statErr
		}
		return fmt.Errorf("not a regular file: %s", clean)
	}
	// #nosec G304 -- config path is provided intentionally by the user/CI; cleaned and validated above
	f, err := os.Open(clean)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", clean, err)
	}
	c.baseDir = filepath.Dir(clean)
	return nil
}

// resolvePath makes p relative to the config file's directory.
func (c *ConfigDoc) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// EnvironmentConfig builds the typed environment configuration.
func (c *ConfigDoc) EnvironmentConfig() (environment.Config, error) {
	var (
		cfg environment.Config
		err error
	)
	switch {
	case len(c.Environment) > 0:
		cfg, err = environment.FromMap(c.Environment)
	case c.EnvironmentFile != "":
		cfg, err = environment.LoadFile(c.resolvePath(c.EnvironmentFile))
	default:
		cfg, err = environment.FromOSEnv(constants.EnvPrefix + "_")
	}
	if err != nil {
		return environment.Config{}, err
	}
	cfg.LowCeremonyTiers = c.Pipeline.LowCeremonyTiers
	return cfg, nil
}

// HTTPOptions converts the client section.
func (c *ConfigDoc) HTTPOptions() (httpc.Options, error) {
	opts := httpc.Options{
		Insecure:   c.Client.Insecure,
		MinVersion: c.Client.MinTLSVersion,
		MaxVersion: c.Client.MaxTLSVersion,
		Headers:    c.Client.Headers,
	}
	if t, ok := util.TrimEmptyCheck(c.Client.Timeout); ok {
		d, err := time.ParseDuration(t)
		if err != nil {
			return httpc.Options{}, fmt.Errorf("client.timeout: %w", err)
		}
		opts.Timeout = d
	}
	return opts, nil
}

// ParamStore builds the parameter chain. File backends are resolved
// relative to the config file.
func (c *ConfigDoc) ParamStore() (params.Chain, error) {
	cfgs := make([]params.BackendConfig, 0, len(c.Parameters))
	for _, b := range c.Parameters {
		if util.TrimAndLower(b.Type) == "file" {
			if p, ok := b.Spec["path"].(string); ok {
				spec := map[string]interface{}{}
				for k, v := range b.Spec {
					spec[k] = v
				}
				spec["path"] = c.resolvePath(p)
				b.Spec = spec
			}
		}
		cfgs = append(cfgs, b)
	}
	return params.NewChain(cfgs)
}

// SecretsRegistry builds the resolver registry: env and file always, plus
// static and oauth2 when configured.
func (c *ConfigDoc) SecretsRegistry() (*secrets.Registry, error) {
	reg := secrets.NewRegistry()
	if len(c.Secrets.Static) > 0 {
		reg.Register("static", secrets.StaticResolver(c.Secrets.Static))
	}
	if len(c.Secrets.OAuth2) > 0 {
		providers := make([]secrets.OAuth2Provider, 0, len(c.Secrets.OAuth2))
		for i, spec := range c.Secrets.OAuth2 {
			p, err := secrets.DecodeOAuth2Provider(spec)
			if err != nil {
				return nil, fmt.Errorf("secrets.oauth2[%d]: %w", i, err)
			}
			providers = append(providers, p)
		}
		res, err := secrets.NewOAuth2Resolver(providers...)
		if err != nil {
			return nil, err
		}
		reg.Register("oauth2", res)
	}
	return reg, nil
}

// Events parses notify.events; empty means every event.
func (c *ConfigDoc) Events() ([]notify.LifecycleEvent, error) {
	var out []notify.LifecycleEvent
	for _, e := range c.Notify.Events {
		ev, err := notify.ParseEvent(e)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// PipelineOptions assembles everything pipeline.Construct needs.
func (c *ConfigDoc) PipelineOptions() (pipeline.Options, error) {
	httpOpts, err := c.HTTPOptions()
	if err != nil {
		return pipeline.Options{}, err
	}
	chain, err := c.ParamStore()
	if err != nil {
		return pipeline.Options{}, err
	}
	reg, err := c.SecretsRegistry()
	if err != nil {
		return pipeline.Options{}, err
	}
	events, err := c.Events()
	if err != nil {
		return pipeline.Options{}, err
	}
	var sinks []notify.Sink
	for _, u := range c.Notify.Webhooks {
		sinks = append(sinks, notify.NewWebhookSink(u, httpOpts))
	}
	if c.Notify.Log {
		sinks = append(sinks, notify.LogSink{})
	}
	return pipeline.Options{
		Owner:         c.Pipeline.Owner,
		Repo:          c.Pipeline.Repo,
		BuildSpec:     c.Pipeline.BuildSpec,
		DeploySpec:    c.Pipeline.DeploySpec,
		Params:        chain,
		Secrets:       reg,
		Events:        events,
		Sinks:         sinks,
		TopicEndpoint: c.Notify.TopicEndpoint,
		HTTP:          httpOpts,
	}, nil
}

// WorkspaceDir defaults to constants.DefaultWorkspaceDir next to the config file.
func (c *ConfigDoc) WorkspaceDir() string {
	return c.resolvePath(util.TrimWithDefault(c.Pipeline.Workspace, constants.DefaultWorkspaceDir))
}

// StoreOptions returns the store config, defaulting to a sqlite file in the
// workspace. ok is false when the store is disabled.
func (c *ConfigDoc) StoreOptions() (store.Config, bool) {
	if c.Store.Disabled {
		return store.Config{}, false
	}
	cfg := c.Store.Config
	if util.TrimWithDefault(cfg.Driver, store.DriverSqlite) == store.DriverSqlite && cfg.SQLite.DSN == "" {
		path := cfg.SQLite.Path
		if path == "" {
			path = filepath.Join(c.WorkspaceDir(), constants.DefaultDBFileName)
		}
		cfg.SQLite = sqlite.Config{Path: c.resolvePath(path)}
	}
	return cfg, true
}

// ApprovalTokenTTL parses approval.token_ttl, falling back to the default.
func (c *ConfigDoc) ApprovalTokenTTL() (time.Duration, error) {
	t, ok := util.TrimEmptyCheck(c.Approval.TokenTTL)
	if !ok {
		return constants.DefaultApprovalTokenTTL, nil
	}
	d, err := time.ParseDuration(t)
	if err != nil {
		return 0, fmt.Errorf("approval.token_ttl: %w", err)
	}
	return d, nil
}

// ApprovalSecret prefers the config value and falls back to DEPLOYPIPE_APPROVAL_SECRET.
func (c *ConfigDoc) ApprovalSecret() string {
	if s, ok := util.TrimEmptyCheck(c.Approval.Secret); ok {
		return s
	}
	return os.Getenv(constants.EnvPrefix + "_APPROVAL_SECRET")
}

func (c *ConfigDoc) parseLogLevel() (common.LogLevel, error) {
	level := util.TrimAndLower(c.Logging.Level)
	switch level {
	case "error":
		return common.LogLevelError, nil
	case "warn", "warning":
		return common.LogLevelWarn, nil
	case "info", "":
		return common.LogLevelInfo, nil
	case "debug":
		return common.LogLevelDebug, nil
	default:
		return common.LogLevelInfo, fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", c.Logging.Level)
	}
}

// SetupLogging configures the global logger based on config settings
func (c *ConfigDoc) SetupLogging() error {
	level, err := c.parseLogLevel()
	if err != nil {
		return err
	}

	var logger *common.Logger
	format := util.TrimAndLower(c.Logging.Format)

	useColor := false
	if c.Logging.Color != nil {
		useColor = *c.Logging.Color
	} else if format == "color" || format == "colour" {
		useColor = true
	}

	switch format {
	case "json":
		logger = common.NewJSONLogger(level)
	case "color", "colour":
		logger = common.NewColorLogger(level)
	case "text", "":
		if useColor {
			logger = common.NewColorLogger(level)
		} else {
			logger = common.NewLogger(level)
		}
	default:
		return fmt.Errorf("invalid logging format: %s (valid: text, json, color)", c.Logging.Format)
	}

	maskingEnabled := true
	if c.Logging.MaskSensitive != nil {
		maskingEnabled = *c.Logging.MaskSensitive
	}
	logger.EnableMasking(maskingEnabled)
	common.SetDefaultLogger(logger)
	common.EnableMasking(maskingEnabled)

	logger.Debug("logging configured",
		"level", util.TrimWithDefault(util.TrimAndLower(c.Logging.Level), "info"),
		"format", format,
		"color", useColor,
		"mask_sensitive", maskingEnabled)
	return nil
}
