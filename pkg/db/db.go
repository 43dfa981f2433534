package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver for database/sql
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // pure-Go SQLite driver for local files and tests
)

// Store is the explicitly constructed handle every component receives.
// It replaces a process-wide connection global.
type Store struct {
	DB *sqlx.DB
}

// Open connects to the database and verifies the connection is reachable.
// driver is "postgres" in production and "sqlite" for a local file database.
func Open(driver, dsn string) (*Store, error) {
	if driver == "sqlite" {
		sqlx.BindDriver("sqlite", sqlx.QUESTION)
		dsn = withForeignKeys(dsn)
	}

	conn, err := sqlx.Connect(driver, dsn)
	if err != nil {
		log.Errorf("Failed to connect to database: %v", err)
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// SQLite allows a single writer; serializing through one connection
		// also keeps in-memory databases alive for the life of the pool.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(10)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	log.Info("Database connection pool initialized successfully.")
	return &Store{DB: conn}, nil
}

// withForeignKeys makes every SQLite connection enforce foreign keys, which
// the cascading deletes depend on.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

// WithTx runs fn inside a transaction. The transaction is rolled back when fn
// returns an error or panics, and committed otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		log.Errorf("Failed to begin transaction: %v", err)
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Errorf("Failed to roll back transaction: %v", rbErr)
			}
			return
		}
		if err = tx.Commit(); err != nil {
			log.Errorf("Failed to commit transaction: %v", err)
			err = fmt.Errorf("commit transaction: %w", err)
		}
	}()

	return fn(tx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s == nil || s.DB == nil {
		return
	}
	if err := s.DB.Close(); err != nil {
		log.Errorf("Error closing database connection: %v", err)
	} else {
		log.Info("Database connection pool closed.")
	}
}
