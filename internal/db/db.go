package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Open connects to the store named by url: postgres:// or postgresql://
// URLs open a Postgres pool, sqlite://path or a bare path opens SQLite.
func Open(ctx context.Context, url string) (Store, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		pool, err := Connect(ctx, url)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case url == "":
		return nil, fmt.Errorf("empty database url")
	default:
		return OpenSQLite(strings.TrimPrefix(url, "sqlite://"))
	}
}

// Connect opens a pgx pool with pgvector types registered on every
// connection.
func Connect(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing db config: %w", err)
	}

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error connecting to db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging db: %w", err)
	}

	return pool, nil
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps writers serialized and an in-memory
	// database alive for the lifetime of the store.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{sqlStore: newSQLStore(conn, sqliteDialect)}, nil
}

// SQLiteStore is the local default store.
type SQLiteStore struct {
	*sqlStore
}

// PostgresStore adds embedding storage and similarity search on top of the
// shared record store.
type PostgresStore struct {
	*sqlStore
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		sqlStore: newSQLStore(stdlib.OpenDBFromPool(pool), postgresDialect),
		pool:     pool,
	}
}

func (s *PostgresStore) Close() error {
	err := s.sqlStore.Close()
	s.pool.Close()
	return err
}
