package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/deploypipe/cmd/deploypipe/config"
	"github.com/loykin/deploypipe/internal/store"
	"github.com/loykin/deploypipe/pkg/pipeline"
	"github.com/spf13/viper"
)

// loadDoc reads the config file named by --config. A missing file at the
// default location yields an empty document so DEPLOYPIPE_* variables alone
// can drive the CLI.
func loadDoc() (*config.ConfigDoc, error) {
	path := strings.TrimSpace(viper.GetString("config"))
	doc := &config.ConfigDoc{}
	if path != "" {
		err := doc.Load(path)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath:
		default:
			return nil, err
		}
	}
	if err := doc.SetupLogging(); err != nil {
		return nil, err
	}
	return doc, nil
}

// construct builds the finalized pipeline described by doc.
func construct(ctx context.Context, doc *config.ConfigDoc) (*pipeline.Result, error) {
	cfg, err := doc.EnvironmentConfig()
	if err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	opts, err := doc.PipelineOptions()
	if err != nil {
		return nil, err
	}
	return pipeline.Construct(ctx, cfg, opts)
}

// openStore opens the configured store, or returns nil when disabled.
func openStore(doc *config.ConfigDoc) (*store.Store, error) {
	cfg, ok := doc.StoreOptions()
	if !ok {
		return nil, nil
	}
	if cfg.SQLite.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o750); err != nil {
			return nil, err
		}
	}
	return store.Open(cfg)
}
