package postgresql

import (
	"fmt"
	"net/url"

	"github.com/loykin/deploypipe/internal/constants"
	"github.com/loykin/deploypipe/internal/util"
)

type Config struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// GetDSN prefers an explicit DSN; otherwise it builds one from components
// when a host is provided.
func (p *Config) GetDSN() string {
	dsn, hasDSN := util.TrimEmptyCheck(p.DSN)
	host, hasHost := util.TrimEmptyCheck(p.Host)
	if hasDSN || !hasHost {
		return dsn
	}
	port := p.Port
	if port == 0 {
		port = constants.DefaultPostgresPort
	}
	ssl := util.TrimWithDefault(p.SSLMode, constants.DefaultPostgresSSLMode)
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(util.TrimWithDefault(p.User, ""), p.Password),
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + util.TrimWithDefault(p.DBName, ""),
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	return u.String()
}
