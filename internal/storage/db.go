package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

type Store struct {
	db  *sql.DB
	sql sq.StatementBuilderType
	now func() time.Time
}

// Open connects to the usage ledger and brings its schema up to date.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	driver = normalizeDriver(driver)
	if dsn == "" {
		return nil, fmt.Errorf("dsn is empty")
	}

	var sqlDriver string
	var dialect goose.Dialect
	var placeholder sq.PlaceholderFormat
	switch driver {
	case "postgres":
		sqlDriver, dialect, placeholder = "pgx", goose.DialectPostgres, sq.Dollar
	case "sqlite":
		sqlDriver, dialect, placeholder = "sqlite", goose.DialectSQLite3, sq.Question
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := migrate(ctx, db, dialect, driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		sql: sq.StatementBuilder.PlaceholderFormat(placeholder),
		now: time.Now,
	}, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	fsys, err := fs.Sub(migrations, "migrations/"+dir)
	if err != nil {
		return fmt.Errorf("open %s migrations: %w", dir, err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func normalizeDriver(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	switch d {
	case "postgres", "pgx":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return d
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
