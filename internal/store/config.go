package store

import (
	"fmt"
	"regexp"

	"github.com/loykin/deploypipe/internal/constants"
	"github.com/loykin/deploypipe/internal/store/postgresql"
	"github.com/loykin/deploypipe/internal/store/sqlite"
	"github.com/loykin/deploypipe/internal/util"
)

const (
	DriverSqlite     = "sqlite"
	DriverPostgresql = "postgresql"
)

type Config struct {
	Driver      string            `mapstructure:"driver" yaml:"driver"`
	TablePrefix string            `mapstructure:"table_prefix" yaml:"table_prefix"`
	SQLite      sqlite.Config     `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres    postgresql.Config `mapstructure:"postgres" yaml:"postgres"`
}

// TableNames holds the identifiers interpolated into SQL.
type TableNames struct {
	Topologies string
	Runs       string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// InvalidTableNameError is returned when a configured table name is not a plain SQL identifier.
type InvalidTableNameError struct {
	Name string
}

func (e *InvalidTableNameError) Error() string {
	return fmt.Sprintf("invalid table name %q", e.Name)
}

// Tables derives table names from the prefix, falling back to the defaults.
func (c Config) Tables() (TableNames, error) {
	th := TableNames{Topologies: constants.DefaultTopologiesTable, Runs: constants.DefaultRunsTable}
	if prefix, ok := util.TrimEmptyCheck(c.TablePrefix); ok {
		th = TableNames{Topologies: prefix + constants.TopologiesSuffix, Runs: prefix + constants.RunsSuffix}
	}
	for _, n := range []string{th.Topologies, th.Runs} {
		if !identRe.MatchString(n) {
			return TableNames{}, &InvalidTableNameError{Name: n}
		}
	}
	return th, nil
}

func (c Config) driver() string {
	return util.TrimWithDefault(util.TrimAndLower(c.Driver), DriverSqlite)
}
