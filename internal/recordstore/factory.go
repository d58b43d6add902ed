package recordstore

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildStoreFromDSN selects a backend by DSN scheme:
//
//	memory://            in-memory store
//	sqlite://path.db     SQLite file
//	postgres://...       Postgres (DSN passed through to lib/pq)
//
// A bare filesystem path is treated as a SQLite file.
func BuildStoreFromDSN(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(dsn, scheme+"://")
		if path == "" {
			return nil, fmt.Errorf("sqlite dsn is missing a path: %s", dsn)
		}
		return NewSQLiteStore(path)
	case "", "file":
		path := strings.TrimPrefix(dsn, "file://")
		if path == "" {
			return nil, fmt.Errorf("dsn is missing a path: %s", dsn)
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported record store dsn scheme: %s", scheme)
	}
}
