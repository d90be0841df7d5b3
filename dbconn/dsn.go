package dbconn

import (
	"strings"

	"github.com/go-sql-driver/mysql"
)

// mysqlParseOrNew parses url as a full go-sql-driver/mysql DSN; if that
// fails, url is used whole as a TCP address (e.g. "host:port") in a
// fresh config with no database name.
func mysqlParseOrNew(url string) (*mysql.Config, error) {
	if cfg, err := mysql.ParseDSN(url); err == nil {
		return cfg, nil
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = url
	return cfg, nil
}

// DSNBuilder composes a driver-specific data source name from a base
// URL/address, optional credentials, and optional extra properties. It
// stands in for JDBC's DriverManager.getConnection overloads, which
// accept (url), (url, user, password), or (url, properties): Go
// drivers each have their own DSN string format, so ConnectionPool
// delegates that composition to a per-driver builder instead of
// hard-coding one.
type DSNBuilder func(url, user, password string, props map[string]string) (string, error)

// PlainDSNBuilder returns the url unchanged, ignoring credentials and
// properties. It is useful for drivers (or test doubles) whose DSN
// already carries everything it needs.
func PlainDSNBuilder(url, _, _ string, _ map[string]string) (string, error) {
	return url, nil
}

// MySQLDSNBuilder builds a go-sql-driver/mysql DSN from a base
// "tcp(host:port)/dbname"-style address, layering in credentials and
// extra driver parameters (e.g. parseTime, loc) on top.
func MySQLDSNBuilder(url, user, password string, props map[string]string) (string, error) {
	cfg, err := mysqlParseOrNew(url)
	if err != nil {
		return "", err
	}
	if user != "" {
		cfg.User = user
	}
	if password != "" {
		cfg.Passwd = password
	}
	if len(props) > 0 {
		if cfg.Params == nil {
			cfg.Params = make(map[string]string, len(props))
		}
		for k, v := range props {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN(), nil
}

// PostgresDSNBuilder builds a libpq keyword/value DSN understood by
// jackc/pgx's stdlib adapter, appending credentials and extra
// properties as additional "key=value" pairs.
func PostgresDSNBuilder(url, user, password string, props map[string]string) (string, error) {
	parts := []string{url}
	if user != "" {
		parts = append(parts, "user="+quoteLibpqValue(user))
	}
	if password != "" {
		parts = append(parts, "password="+quoteLibpqValue(password))
	}
	for k, v := range props {
		parts = append(parts, k+"="+quoteLibpqValue(v))
	}
	return strings.Join(parts, " "), nil
}

// quoteLibpqValue renders v as a libpq keyword/value, single-quoting
// it (and escaping embedded backslashes and single quotes) whenever it
// is empty or contains whitespace, a single quote, or a backslash;
// libpq splits keyword/value pairs on unquoted whitespace, so a raw
// value containing any would otherwise be misparsed as several pairs.
func quoteLibpqValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\n\r'\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
