/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package ouidb

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	// sql driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// WAL lets readers proceed while a bulk load holds the write lock.
	sqliteParams = "?_busy_timeout=5000&_journal_mode=WAL"

	versionSchema = `
    CREATE TABLE IF NOT EXISTS version (
	table_name TEXT PRIMARY KEY,
	schema_hash TEXT,
	create_date TIMESTAMP
    );`

	prefixSchema = `
    CREATE TABLE IF NOT EXISTS prefix (
	prefix TEXT PRIMARY KEY CHECK (prefix <> ''),
	vendor TEXT NOT NULL
    );`
)

// SQLiteStore satisfies the Store interface with a SQLite database holding
// a single prefix table.
type SQLiteStore struct {
	*sqlx.DB
	path string
	log  *zap.SugaredLogger
}

// OpenSQLite opens the SQLite database at path, creating the schema if it
// is missing and rebuilding the prefix table if its schema has changed.
func OpenSQLite(path string, log *zap.SugaredLogger) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path+sqliteParams)
	if err != nil {
		return nil, errors.Wrapf(err, "prefix database %s open", path)
	}

	s := &SQLiteStore{
		DB:   db,
		path: path,
		log:  nopIfNil(log),
	}
	if err = s.checkDB(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) checkDB() error {
	if _, err := s.Exec(versionSchema); err != nil {
		return errors.Wrap(err, "could not create version table")
	}
	return s.checkTableSchema("prefix", prefixSchema)
}

// checkTableSchema creates the table if needed and compares the hash of its
// schema against the one recorded in the version table.  On a mismatch the
// table is dropped and recreated empty; the index is reference data, so a
// reload is always preferable to a migration.
func (s *SQLiteStore) checkTableSchema(tname, tschema string) error {
	want := schemaHash(tschema)

	if _, err := s.Exec(tschema); err != nil {
		return errors.Wrapf(err, "could not create '%s' table", tname)
	}

	var found string
	err := s.DB.Get(&found,
		"SELECT schema_hash FROM version WHERE table_name = $1;", tname)
	if err == sql.ErrNoRows {
		return s.recordSchema(tname, want)
	}
	if err != nil {
		return errors.Wrap(err, "version scan failed")
	}
	if found == want {
		return nil
	}

	s.log.Warnw("rebuilding table",
		"path", s.path,
		"reason", SchemaMismatchError{Table: tname, Found: found, Want: want})
	if _, err = s.Exec("DROP TABLE IF EXISTS " + tname); err != nil {
		return errors.Wrapf(err, "could not drop '%s' table", tname)
	}
	if _, err = s.Exec(tschema); err != nil {
		return errors.Wrapf(err, "could not recreate '%s' table", tname)
	}
	return s.recordSchema(tname, want)
}

func (s *SQLiteStore) recordSchema(tname, hash string) error {
	_, err := s.Exec(`INSERT OR REPLACE INTO version
		(table_name, schema_hash, create_date) VALUES ($1, $2, $3)`,
		tname, hash, time.Now().UTC())
	return errors.Wrap(err, "insert version failed")
}

// IsPopulated reports whether the prefix table has any rows.
func (s *SQLiteStore) IsPopulated(ctx context.Context) (bool, error) {
	var prefix string
	err := s.GetContext(ctx, &prefix, "SELECT prefix FROM prefix LIMIT 1")
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "prefix select failed")
	}
	return true, nil
}

// BulkLoad upserts every entry inside one transaction.  Rows that SQLite
// refuses are counted and skipped; a failure of the iterator or of the
// transaction itself rolls back the whole load.
func (s *SQLiteStore) BulkLoad(ctx context.Context, entries EntryIterator) (LoadStats, error) {
	stats := LoadStats{Started: time.Now()}

	tx, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return stats, errors.Wrap(err, "begin bulk load")
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		"INSERT OR REPLACE INTO prefix (prefix, vendor) VALUES ($1, $2)")
	if err != nil {
		return stats, errors.Wrap(err, "prepare bulk load")
	}
	defer stmt.Close()

	for entries.Next() {
		e := entries.Entry()
		if _, err = stmt.ExecContext(ctx, e.Prefix, e.Vendor); err != nil {
			if ctx.Err() != nil {
				return stats, errors.Wrap(ctx.Err(), "bulk load")
			}
			stats.Rejected++
			s.log.Warnw("rejected entry", "prefix", e.Prefix,
				"vendor", e.Vendor, "error", err)
			continue
		}
		stats.Loaded++
	}
	if err = entries.Err(); err != nil {
		return stats, errors.Wrap(err, "bulk load aborted")
	}

	if err = tx.Commit(); err != nil {
		return stats, errors.Wrap(err, "commit bulk load")
	}
	stats.Duration = time.Since(stats.Started)
	return stats, nil
}

// Get returns the vendor recorded for prefix, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, prefix string) (string, error) {
	var vendor string
	err := s.GetContext(ctx, &vendor,
		"SELECT vendor FROM prefix WHERE prefix = $1", prefix)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "prefix %s select failed", prefix)
	}
	return vendor, nil
}

// Clear drops and recreates the prefix table.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin clear")
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS prefix"); err != nil {
		return errors.Wrap(err, "could not drop 'prefix' table")
	}
	if _, err = tx.ExecContext(ctx, prefixSchema); err != nil {
		return errors.Wrap(err, "could not create 'prefix' table")
	}
	return errors.Wrap(tx.Commit(), "commit clear")
}

// Count returns the number of rows in the prefix table.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.GetContext(ctx, &n, "SELECT COUNT(*) FROM prefix")
	return n, errors.Wrap(err, "prefix count failed")
}
