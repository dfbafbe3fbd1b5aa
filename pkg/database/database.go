package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"

	"adaptive-proxy/pkg/config"
	"adaptive-proxy/pkg/models"
)

type DB struct {
	*bun.DB
}

// NewDB opens the database selected by cfg.Driver, "sqlite" or "postgres".
func NewDB(cfg config.DatabaseSettings) (*DB, error) {
	var db *bun.DB
	switch cfg.Driver {
	case "sqlite", "":
		sqldb, err := sql.Open("sqlite", sqliteDSN(cfg.Path))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// sqlite allows a single writer
		sqldb.SetMaxOpenConns(1)
		sqldb.SetMaxIdleConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case "postgres":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(postgresDSN(cfg))))
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Debug("Database opened", "driver", cfg.Driver)
	return &DB{db}, nil
}

func sqliteDSN(path string) string {
	if path == "" || path == ":memory:" {
		return "file::memory:?_pragma=busy_timeout(5000)"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
}

func postgresDSN(cfg config.DatabaseSettings) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.SSLMode),
	}
	return u.String()
}

// InitSchema creates the necessary tables if they don't exist
func (db *DB) InitSchema(ctx context.Context) error {
	_, err := db.NewCreateTable().
		Model((*models.Route)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create routes table: %w", err)
	}

	_, err = db.NewCreateIndex().
		Model((*models.Route)(nil)).
		Index("routes_valid_until_idx").
		Column("valid_until").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create routes index: %w", err)
	}

	return nil
}
