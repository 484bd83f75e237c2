/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package ouidb

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by Store.Get when the prefix has no entry.
	ErrNotFound = errors.New("prefix not found")

	// ErrInvalidAddress is returned by Normalize when the address is too
	// short to contain an OUI.
	ErrInvalidAddress = errors.New("invalid MAC address")
)

// DatasetReadError is returned when the dataset source cannot be opened or
// read.  It is fatal for the initialization that encountered it.
type DatasetReadError struct {
	Source string
	Err    error
}

func (e DatasetReadError) Error() string {
	return fmt.Sprintf("dataset %q unreadable: %v", e.Source, e.Err)
}

// Unwrap returns the underlying I/O error.
func (e DatasetReadError) Unwrap() error {
	return e.Err
}

// IsDatasetReadError reports whether err, or the error it wraps, is a
// DatasetReadError.
func IsDatasetReadError(err error) bool {
	_, ok := errors.Cause(err).(DatasetReadError)
	return ok
}

// SchemaMismatchError describes a persisted index whose layout differs from
// the one this package writes.  Stores log it and rebuild; it is exported so
// that callers can recognize it in logs and tests.
type SchemaMismatchError struct {
	Table string
	Found string
	Want  string
}

func (e SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema hash mismatch for '%s': found %.12s, want %.12s",
		e.Table, e.Found, e.Want)
}
