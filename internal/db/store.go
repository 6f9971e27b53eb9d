package db

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside minimal runtime images that do not ship the .sql file.
//
//go:embed schema.sql
var schemaSQL string

// Error taxonomy. Callers branch on these with errors.Is; everything the
// store cannot classify surfaces as ErrUnavailable.
var (
	ErrConflict    = errors.New("db: conflict")
	ErrNotFound    = errors.New("db: not found")
	ErrCorrupt     = errors.New("db: corrupt")
	ErrUnavailable = errors.New("db: unavailable")
)

// Store is the single source of truth: holders, rounds, the scan cursor,
// execution locks and bot state all live in one SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the data directory if needed, opens (or creates) the database
// with WAL journaling and initializes the schema.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dataDir, "flywheel.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrCorrupt, path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrCorrupt, path, err)
	}

	// SQLite supports one writer; serialize everything through a single conn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, path: path}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: schema init: %v", ErrCorrupt, err)
	}

	log.Printf("[Store] Opened %s (WAL)", path)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the location of the database file.
func (s *Store) Path() string {
	return s.path
}

// mapErr translates driver errors into the store's taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch {
		case serr.Code == sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case serr.Code == sqlite3.ErrCorrupt || serr.Code == sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
