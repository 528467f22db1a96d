package sqlite

import (
	"fmt"

	"github.com/loykin/deploypipe/internal/util"
)

// SQLite configuration constants
const (
	busyTimeoutMS    = 5000 // 5 seconds in milliseconds
	foreignKeysParam = "_fk=1"
)

type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// GetDSN returns the explicit DSN, a file DSN for Path, or an in-memory database.
func (c *Config) GetDSN() string {
	if dsn, ok := util.TrimEmptyCheck(c.DSN); ok {
		return dsn
	}
	if path, ok := util.TrimEmptyCheck(c.Path); ok {
		return fmt.Sprintf("file:%s?_busy_timeout=%d&%s", path, busyTimeoutMS, foreignKeysParam)
	}
	return ":memory:"
}
