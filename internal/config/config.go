// Package config loads and validates process configuration: which
// physical databases back the directory, how their pools are sized,
// and whether tables are provisioned at startup.
//
// Two input forms are accepted: a YAML file (validated against an
// embedded CUE schema) and the compact "service;uri,service;uri" shard
// string used on the command line.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mozilla-services/wimms/internal/store"
)

// Database binds one service family to a connection URI.
type Database struct {
	Service string `yaml:"service"`
	URI     string `yaml:"uri"`
}

// Pool carries connection-pool sizing. Zero values defer to the store
// defaults. Durations are Go duration strings.
type Pool struct {
	MaxOpenConns     int    `yaml:"max_open_conns"`
	MaxIdleConns     int    `yaml:"max_idle_conns"`
	ConnMaxLifetime  string `yaml:"conn_max_lifetime"`
	StatementTimeout string `yaml:"statement_timeout"`
}

// Config is the full process configuration.
type Config struct {
	Databases    []Database `yaml:"databases"`
	Pool         Pool       `yaml:"pool"`
	CreateTables bool       `yaml:"create_tables"`
}

// Load reads a YAML configuration file, validates it against the CUE
// schema, and decodes it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := validate(path, data); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// ParseShardSpec parses the compact command-line form: either a single
// connection URI, or comma-separated "service;uri" pairs. A bare URI
// becomes the wildcard shard of a single-database deployment.
func ParseShardSpec(spec string) ([]Database, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty database spec")
	}

	if !strings.Contains(spec, ";") {
		return []Database{{Service: "*", URI: spec}}, nil
	}

	var dbs []Database
	for _, part := range strings.Split(spec, ",") {
		service, uri, ok := strings.Cut(part, ";")
		service = strings.TrimSpace(service)
		uri = strings.TrimSpace(uri)
		if !ok || service == "" || uri == "" {
			return nil, fmt.Errorf("malformed database entry %q: want service;uri", part)
		}
		dbs = append(dbs, Database{Service: service, URI: uri})
	}
	return dbs, nil
}

// ParseURI translates a connection URI into a database/sql driver name
// and DSN.
//
//	sqlite:////var/db/wimms.db  → sqlite3, /var/db/wimms.db
//	sqlite://:memory:           → sqlite3, :memory:
//	mysql://user:pw@host:3306/wimms → mysql, user:pw@tcp(host:3306)/wimms
func ParseURI(uri string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(uri, "sqlite://"):
		path := strings.TrimPrefix(uri, "sqlite://")
		// sqlalchemy-style absolute paths carry four slashes.
		if strings.HasPrefix(path, "//") {
			path = path[1:]
		}
		if path == "" {
			return "", "", fmt.Errorf("sqlite URI %q has no path", uri)
		}
		return "sqlite3", path, nil

	case strings.HasPrefix(uri, "mysql://"):
		rest := strings.TrimPrefix(uri, "mysql://")
		creds, hostdb, ok := strings.Cut(rest, "@")
		if !ok {
			return "", "", fmt.Errorf("mysql URI %q has no credentials", uri)
		}
		host, dbname, ok := strings.Cut(hostdb, "/")
		if !ok || dbname == "" {
			return "", "", fmt.Errorf("mysql URI %q has no database name", uri)
		}
		if !strings.Contains(host, ":") {
			host += ":3306"
		}
		return "mysql", fmt.Sprintf("%s@tcp(%s)/%s", creds, host, dbname), nil

	default:
		return "", "", fmt.Errorf("unsupported connection URI %q", uri)
	}
}

// StoreConfig builds the store configuration for one database entry,
// combining its URI with the shared pool settings.
func (c *Config) StoreConfig(db Database) (store.Config, error) {
	driver, dsn, err := ParseURI(db.URI)
	if err != nil {
		return store.Config{}, err
	}

	sc := store.Config{
		Driver:       driver,
		DSN:          dsn,
		MaxOpenConns: c.Pool.MaxOpenConns,
		MaxIdleConns: c.Pool.MaxIdleConns,
		CreateTables: c.CreateTables,
	}

	if sc.ConnMaxLifetime, err = parseDuration(c.Pool.ConnMaxLifetime); err != nil {
		return store.Config{}, err
	}
	if sc.StatementTimeout, err = parseDuration(c.Pool.StatementTimeout); err != nil {
		return store.Config{}, err
	}
	return sc, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
