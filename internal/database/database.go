package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/atabank/backend/internal/config"
)

// Dialect names the SQL flavour a *sql.DB speaks.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Rebind rewrites ? placeholders into the dialect's native form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

// InitDB opens and pings the configured store.
func InitDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*sql.DB, Dialect, error) {
	dialect := Dialect(cfg.Driver)

	var dsn string
	switch dialect {
	case SQLite:
		dsn = sqliteDSN(cfg.Path)
	case Postgres:
		dsn = cfg.PostgresDSN()
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("error opening database: %w", err)
	}

	// Configure connection pool
	maxOpen, maxIdle, lifetime := cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime
	if dialect == SQLite && isMemory(cfg.Path) {
		// every connection to :memory: is a separate database
		maxOpen, maxIdle, lifetime = 1, 1, 0
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("error connecting to database: %w", err)
	}

	log.Info("Database connection established", zap.String("driver", string(dialect)))
	return db, dialect, nil
}

func sqliteDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	if isMemory(path) {
		return ":memory:?" + params.Encode()
	}
	return "file:" + path + "?" + params.Encode()
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}
