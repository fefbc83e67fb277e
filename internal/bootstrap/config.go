package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"rebuybot/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Pre-flight Checks
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if cfg.Exchange.Name == "mock" && cfg.Store.Driver != "memory" {
		fmt.Fprintln(os.Stderr, "warning: mock exchange with a persistent store; bots will trade against simulated prices")
	}

	// The SQLite file holds account secrets; allow 0600 (rw-------) or 0400 (r--------)
	if cfg.Store.Driver == "sqlite" {
		path := sqlitePath(cfg.Store.DSN.Reveal())
		if path == "" || path == ":memory:" {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		mode := info.Mode().Perm()
		if mode&0077 != 0 {
			return fmt.Errorf("insecure permissions on sqlite store %s: %04o (should be 0600)", path, mode)
		}
	}

	return nil
}

func sqlitePath(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	return dsn
}
