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
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

// Supported storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// EntryIterator is the sequence consumed by Store.BulkLoad.  DatasetReader
// satisfies it.
type EntryIterator interface {
	Next() bool
	Entry() Entry
	Err() error
}

// LoadStats reports the outcome of a bulk load.  Rejected counts entries
// the backend refused to store; Skipped counts malformed dataset lines.
type LoadStats struct {
	Source   string        `json:"source"`
	Loaded   int           `json:"loaded"`
	Rejected int           `json:"rejected"`
	Skipped  int           `json:"skipped"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Store is the persistent prefix index.  This interface also facilitates
// mocking the database.
type Store interface {
	IsPopulated(ctx context.Context) (bool, error)
	BulkLoad(ctx context.Context, entries EntryIterator) (LoadStats, error)
	Get(ctx context.Context, prefix string) (string, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// OpenStore opens (creating if necessary) the index at path using the named
// backend.
func OpenStore(backend, path string, log *zap.SugaredLogger) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(path, log)
	case BackendBolt:
		return OpenBolt(path, log)
	}
	return nil, errors.Errorf("unknown index backend '%s'", backend)
}

func schemaHash(schema string) string {
	h := make([]byte, 64)
	sha3.ShakeSum256(h, []byte(schema))
	return fmt.Sprintf("%x", h)
}

func nopIfNil(log *zap.SugaredLogger) *zap.SugaredLogger {
	if log == nil {
		return zap.NewNop().Sugar()
	}
	return log
}
