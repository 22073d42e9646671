package dialect

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// ConnConfig is a parsed connection string.
type ConnConfig struct {
	Dialect Dialect
	// DSN is the driver-native data source name.
	DSN string
}

// ParseURL parses a connection URL of the form mysql://, postgres://,
// postgresql://, sqlite:// or file:. A bare go-sql-driver DSN
// (user:pass@tcp(host:3306)/db) is accepted as MySQL.
func ParseURL(raw string) (ConnConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ConnConfig{}, &ConfigError{Reason: "connection string is empty"}
	}
	redacted := redact(raw)

	switch {
	case strings.HasPrefix(raw, "mysql://"):
		dsn, err := mysqlDSN(raw)
		if err != nil {
			return ConnConfig{}, &ConfigError{URL: redacted, Reason: "parse mysql url", Err: scrub(err)}
		}
		return ConnConfig{Dialect: MySQL{}, DSN: dsn}, nil

	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		u, err := url.Parse(raw)
		if err != nil {
			return ConnConfig{}, &ConfigError{URL: redacted, Reason: "parse postgres url", Err: scrub(err)}
		}
		if u.Host == "" {
			return ConnConfig{}, &ConfigError{URL: redacted, Reason: "host is required"}
		}
		if strings.Trim(u.Path, "/") == "" {
			return ConnConfig{}, &ConfigError{URL: redacted, Reason: "database name is required"}
		}
		if _, err := pq.ParseURL(raw); err != nil {
			return ConnConfig{}, &ConfigError{URL: redacted, Reason: "parse postgres url", Err: scrub(err)}
		}
		return ConnConfig{Dialect: Postgres{}, DSN: raw}, nil

	case strings.HasPrefix(raw, "sqlite://"), strings.HasPrefix(raw, "sqlite:"), strings.HasPrefix(raw, "file:"):
		path := strings.TrimPrefix(strings.TrimPrefix(raw, "sqlite://"), "sqlite:")
		if path == "" || path == "file:" {
			return ConnConfig{}, &ConfigError{URL: redacted, Reason: "sqlite path is required"}
		}
		return ConnConfig{Dialect: SQLite{}, DSN: sqliteDSN(path)}, nil

	case strings.Contains(raw, "@tcp("), strings.Contains(raw, "@unix("):
		cfg, err := mysql.ParseDSN(raw)
		if err != nil {
			return ConnConfig{}, &ConfigError{URL: redacted, Reason: "parse mysql dsn", Err: err}
		}
		cfg.ParseTime = true
		return ConnConfig{Dialect: MySQL{}, DSN: cfg.FormatDSN()}, nil
	}

	return ConnConfig{}, &ConfigError{URL: redacted, Reason: "unsupported scheme (want mysql, postgres, or sqlite)"}
}

func mysqlDSN(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errMissing("host")
	}
	dbName := strings.Trim(u.Path, "/")
	if dbName == "" {
		return "", errMissing("database name")
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		cfg.Addr = net.JoinHostPort(u.Host, "3306")
	}
	cfg.DBName = dbName
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.ParseTime = true
	for k, v := range u.Query() {
		if k == "parseTime" || len(v) == 0 {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[k] = v[0]
	}
	return cfg.FormatDSN(), nil
}

// sqliteDSN adds a busy timeout and immediate transactions so concurrent
// writers queue instead of failing with SQLITE_BUSY.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_txlock=immediate"
}

func errMissing(what string) error { return errors.New(what + " is required") }

// scrub drops the input echoed by *url.Error, which carries the raw
// connection string and its password.
func scrub(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

// redact hides the password of a connection string.
func redact(raw string) string {
	if !strings.Contains(raw, "://") && strings.Contains(raw, "@") {
		cfg, err := mysql.ParseDSN(raw)
		if err != nil {
			return "<unparseable dsn>"
		}
		if cfg.Passwd != "" {
			cfg.Passwd = "xxxxx"
		}
		return cfg.FormatDSN()
	}
	u, err := url.Parse(raw)
	if err != nil {
		return maskUserinfo(raw)
	}
	if u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// maskUserinfo hides everything between "://" and the last "@" of a URL
// that url.Parse rejected.
func maskUserinfo(raw string) string {
	i := strings.Index(raw, "://")
	if i < 0 {
		return raw
	}
	at := strings.LastIndex(raw, "@")
	if at < i+3 {
		return raw
	}
	return raw[:i+3] + "xxxxx" + raw[at:]
}

// Redact returns raw with any password replaced, for logs and error messages.
func Redact(raw string) string { return redact(raw) }
