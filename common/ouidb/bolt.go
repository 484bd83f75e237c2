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
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// The layout string stands in for a SQL schema: change it whenever the
// bucket layout changes and existing files will be rebuilt on open.
const boltLayout = "prefixes: prefix -> vendor; v1"

var (
	prefixBucket = []byte("prefixes")
	metaBucket   = []byte("meta")
	schemaKey    = []byte("schema_hash")
)

// BoltStore satisfies the Store interface with a bbolt file holding a single
// prefix bucket.
type BoltStore struct {
	db   *bolt.DB
	path string
	log  *zap.SugaredLogger
}

// OpenBolt opens the bbolt file at path, creating the buckets if they are
// missing and rebuilding the prefix bucket if its layout has changed.
func OpenBolt(path string, log *zap.SugaredLogger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "prefix database %s open", path)
	}

	s := &BoltStore{
		db:   db,
		path: path,
		log:  nopIfNil(log),
	}
	if err = db.Update(s.checkLayout); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "checking bucket layout")
	}
	return s, nil
}

func (s *BoltStore) checkLayout(tx *bolt.Tx) error {
	want := schemaHash(boltLayout)

	meta, err := tx.CreateBucketIfNotExists(metaBucket)
	if err != nil {
		return err
	}

	found := string(meta.Get(schemaKey))
	if found != "" && found != want {
		s.log.Warnw("rebuilding bucket",
			"path", s.path,
			"reason", SchemaMismatchError{Table: string(prefixBucket),
				Found: found, Want: want})
		if err = tx.DeleteBucket(prefixBucket); err != nil &&
			err != bolt.ErrBucketNotFound {
			return err
		}
	}
	if _, err = tx.CreateBucketIfNotExists(prefixBucket); err != nil {
		return err
	}
	return meta.Put(schemaKey, []byte(want))
}

// IsPopulated reports whether the prefix bucket has any keys.
func (s *BoltStore) IsPopulated(ctx context.Context) (bool, error) {
	var populated bool

	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(prefixBucket).Cursor().First()
		populated = k != nil
		return nil
	})
	return populated, errors.Wrap(err, "prefix scan failed")
}

// BulkLoad puts every entry inside one read-write transaction.  Keys bbolt
// refuses are counted and skipped; a failure of the iterator aborts the
// transaction.
func (s *BoltStore) BulkLoad(ctx context.Context, entries EntryIterator) (LoadStats, error) {
	stats := LoadStats{Started: time.Now()}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(prefixBucket)
		for entries.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			e := entries.Entry()
			if err := b.Put([]byte(e.Prefix), []byte(e.Vendor)); err != nil {
				stats.Rejected++
				s.log.Warnw("rejected entry", "prefix", e.Prefix,
					"vendor", e.Vendor, "error", err)
				continue
			}
			stats.Loaded++
		}
		return entries.Err()
	})
	if err != nil {
		return stats, errors.Wrap(err, "bulk load aborted")
	}
	stats.Duration = time.Since(stats.Started)
	return stats, nil
}

// Get returns the vendor recorded for prefix, or ErrNotFound.
func (s *BoltStore) Get(ctx context.Context, prefix string) (string, error) {
	var vendor string

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(prefixBucket).Get([]byte(prefix))
		if v == nil {
			return ErrNotFound
		}
		vendor = string(v)
		return nil
	})
	return vendor, err
}

// Clear deletes and recreates the prefix bucket.
func (s *BoltStore) Clear(ctx context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(prefixBucket); err != nil &&
			err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(prefixBucket)
		return err
	})
	return errors.Wrap(err, "clearing prefix bucket")
}

// Count returns the number of keys in the prefix bucket.
func (s *BoltStore) Count(ctx context.Context) (int, error) {
	var n int

	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(prefixBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
