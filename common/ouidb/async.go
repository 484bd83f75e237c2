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

	"github.com/pkg/errors"
)

// InitializeAsync runs Initialize on a new goroutine.  The returned channel
// receives exactly one value, the result of Initialize, and is then closed.
func (l *Lookup) InitializeAsync(ctx context.Context, reinitialize bool) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- l.initializeSafe(ctx, reinitialize)
		close(done)
	}()
	return done
}

// InitializeAsyncFunc runs Initialize on a new goroutine and then calls
// onComplete, on that goroutine, with its result.  Callers that need the
// result on a particular goroutine should use InitializeAsync instead.
func (l *Lookup) InitializeAsyncFunc(ctx context.Context, reinitialize bool,
	onComplete func(error)) {

	go func() {
		err := l.initializeSafe(ctx, reinitialize)
		if onComplete != nil {
			onComplete(err)
		}
	}()
}

// initializeSafe converts a panic in the load path into an error so that the
// completion is still delivered.
func (l *Lookup) initializeSafe(ctx context.Context, reinitialize bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorw("initialize panicked", "panic", r)
			err = errors.Errorf("initialize panicked: %v", r)
		}
	}()
	return l.Initialize(ctx, reinitialize)
}
