package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// quoteDSNValue quotes a DSN value per PostgreSQL key=value rules.
// Backslashes and single quotes are escaped, and the value is wrapped in
// single quotes when it contains spaces or quote characters.
func quoteDSNValue(s string) string {
	needsQuotes := s == "" || strings.ContainsAny(s, " '\\")
	if !needsQuotes {
		return s
	}
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}

// PostgresConnectionString assembles a key=value DSN for pgx.
func (c *Config) PostgresConnectionString() string {
	parts := []string{
		"host=" + quoteDSNValue(c.PostgresHost),
		"port=" + strconv.Itoa(c.PostgresPort),
		"user=" + quoteDSNValue(c.PostgresUser),
		"password=" + quoteDSNValue(c.PostgresPassword),
		"dbname=" + quoteDSNValue(c.PostgresDBName),
		"sslmode=" + c.PostgresSSLMode,
	}
	return strings.Join(parts, " ")
}

// PostgresURL assembles a postgres:// URL for golang-migrate.
// url.URL handles percent-encoding of credentials.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     "/" + c.PostgresDBName,
		RawQuery: "sslmode=" + c.PostgresSSLMode,
	}
	return u.String()
}

// applyDatabaseURL splits DatabaseURL into the individual postgres fields.
// A set DATABASE_URL (or database_url config key) wins over postgres_* keys,
// which keeps single-variable deployment (Heroku style) working.
func (c *Config) applyDatabaseURL() error {
	if c.DatabaseURL == "" {
		return nil
	}

	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return fmt.Errorf("invalid database URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported database URL scheme %q (want postgres)", u.Scheme)
	}

	if host := u.Hostname(); host != "" {
		c.PostgresHost = host
	}
	if port := u.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port in database URL: %w", err)
		}
		c.PostgresPort = p
	}
	if u.User != nil {
		if user := u.User.Username(); user != "" {
			c.PostgresUser = user
		}
		if password, ok := u.User.Password(); ok {
			c.PostgresPassword = password
		}
	}
	if dbname := strings.TrimPrefix(u.Path, "/"); dbname != "" {
		c.PostgresDBName = dbname
	}
	if sslmode := u.Query().Get("sslmode"); sslmode != "" {
		c.PostgresSSLMode = sslmode
	}

	return nil
}
