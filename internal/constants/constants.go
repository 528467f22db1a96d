package constants

import (
	"time"
)

// Database Constants
const (
	// PostgreSQL defaults
	DefaultPostgresPort    = 5432
	DefaultPostgresSSLMode = "disable"

	// Connection pool settings
	DefaultPostgresMaxConnections = 25
	DefaultPostgresMaxIdleConns   = 5
	DefaultSQLiteMaxConnections   = 1 // SQLite allows only one writer
	DefaultSQLiteMaxIdleConns     = 1

	// Default table names
	DefaultTopologiesTable = "pipeline_topologies"
	DefaultRunsTable       = "pipeline_runs"

	// Table name suffixes when using prefixes
	TopologiesSuffix = "_topologies"
	RunsSuffix       = "_runs"

	DefaultDBFileName = "deploypipe.db"
)

// Workspace defaults
const (
	// DefaultWorkspaceDir is resolved relative to the config file.
	DefaultWorkspaceDir = ".deploypipe"
	// EnvVarPrefix prefixes the variables exported to build and deploy commands.
	EnvVarPrefix = "DEPLOYPIPE_"
)

// Time and Duration Constants
const (
	// Connection pool lifetimes
	DefaultMaxConnLifetime = 5 * time.Minute
	DefaultMaxIdleTime     = 1 * time.Minute
	DefaultSQLiteLifetime  = 10 * time.Minute
	DefaultSQLiteIdleTime  = 5 * time.Minute
)

// Approval server defaults
const (
	DefaultApprovalAddr     = "127.0.0.1:8088"
	DefaultApprovalIssuer   = "deploypipe"
	DefaultApprovalTokenTTL = 12 * time.Hour
)

// Environment variable prefix for CLI configuration
const EnvPrefix = "DEPLOYPIPE"
