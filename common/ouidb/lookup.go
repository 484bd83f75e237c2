/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package ouidb resolves MAC addresses to the manufacturer that was
// assigned their OUI.  A text dataset in the nmap-mac-prefixes format is
// loaded once into a persistent index (SQLite or bbolt); after that, each
// lookup is a point query on the first three octets of the address.
//
// Loads are not isolated from lookups beyond what the backend transaction
// provides: a lookup never sees a half-committed load, but during a
// reinitialization it may see the empty index between the clear and the
// reload.
package ouidb

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bluele/gcache"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	prefixLen = 6

	// Entries buffered between the parser and the loader.
	loadQueueDepth = 256
)

// Lookup answers vendor queries from a Store and (re)builds that store from
// a DatasetSource.
type Lookup struct {
	store     Store
	log       *zap.SugaredLogger
	metrics   *metrics
	cacheSize int

	mtx      sync.Mutex
	source   DatasetSource
	cache    gcache.Cache
	lastLoad LoadStats
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithLogger sets the logger.  The default discards everything.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Lookup) {
		l.log = log
	}
}

// WithCache puts an LRU cache of size entries in front of the store.
func WithCache(size int) Option {
	return func(l *Lookup) {
		l.cacheSize = size
	}
}

// WithRegisterer registers the lookup's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *Lookup) {
		l.metrics = newMetrics(reg)
	}
}

// New returns a Lookup that owns store for its lifetime and loads from
// source on Initialize.
func New(store Store, source DatasetSource, opts ...Option) *Lookup {
	l := &Lookup{
		store:  store,
		source: source,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = nopIfNil(l.log)
	if l.metrics == nil {
		l.metrics = newMetrics(nil)
	}
	l.cache = l.newCache()
	return l
}

func (l *Lookup) newCache() gcache.Cache {
	if l.cacheSize <= 0 {
		return nil
	}
	return gcache.New(l.cacheSize).LRU().Build()
}

// invalidate swaps in an empty cache.  Lookups still holding the old one
// write into a cache nobody reads any more.
func (l *Lookup) invalidate() {
	l.mtx.Lock()
	l.cache = l.newCache()
	l.mtx.Unlock()
}

func (l *Lookup) currentCache() gcache.Cache {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.cache
}

// SetSource changes the dataset used by the next Initialize.
func (l *Lookup) SetSource(source DatasetSource) {
	l.mtx.Lock()
	l.source = source
	l.mtx.Unlock()
}

// Source returns the dataset used by the next Initialize.
func (l *Lookup) Source() DatasetSource {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.source
}

// LastLoad returns the statistics of the most recent successful load made
// by this Lookup.
func (l *Lookup) LastLoad() LoadStats {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.lastLoad
}

// Store returns the underlying index.
func (l *Lookup) Store() Store {
	return l.store
}

// IsPopulated reports whether the index holds any entries.  Errors are
// logged and reported as false.
func (l *Lookup) IsPopulated(ctx context.Context) bool {
	populated, err := l.store.IsPopulated(ctx)
	if err != nil {
		l.log.Errorw("checking prefix index", "error", err)
		return false
	}
	return populated
}

// Initialize makes sure the index is populated.  If reinitialize is set the
// index is cleared first and always reloaded; otherwise an already
// populated index is left alone.  Failure to read the dataset is returned
// as a DatasetReadError and leaves the index as the load found it.
func (l *Lookup) Initialize(ctx context.Context, reinitialize bool) error {
	if reinitialize {
		if err := l.store.Clear(ctx); err != nil {
			return errors.Wrap(err, "clearing prefix index")
		}
		l.invalidate()
		l.log.Infow("cleared prefix index")
	} else {
		populated, err := l.store.IsPopulated(ctx)
		if err != nil {
			return errors.Wrap(err, "checking prefix index")
		}
		if populated {
			l.log.Debugw("prefix index already populated")
			return nil
		}
	}

	source := l.Source()
	if source == nil {
		return DatasetReadError{Err: errors.New("no dataset configured")}
	}

	stats, err := l.load(ctx, source)
	l.metrics.rejected.Add(float64(stats.Rejected))
	l.metrics.skipped.Add(float64(stats.Skipped))
	if err != nil {
		l.metrics.loads.WithLabelValues("failed").Inc()
		return err
	}
	l.invalidate()

	l.metrics.loads.WithLabelValues("ok").Inc()
	l.metrics.loadDuration.Observe(stats.Duration.Seconds())
	l.metrics.entries.Set(float64(stats.Loaded))

	l.mtx.Lock()
	l.lastLoad = stats
	l.mtx.Unlock()

	l.log.Infow("loaded prefix index",
		"source", stats.Source,
		"entries", stats.Loaded,
		"rejected", stats.Rejected,
		"skipped", stats.Skipped,
		"elapsed", stats.Duration)
	return nil
}

// load parses source on one goroutine while the store consumes the entries
// on another, inside its single transaction.
func (l *Lookup) load(ctx context.Context, source DatasetSource) (LoadStats, error) {
	start := time.Now()

	rc, err := source.Open()
	if err != nil {
		return LoadStats{}, DatasetReadError{Source: source.Name(), Err: err}
	}
	defer rc.Close()

	rdr := NewDatasetReader(rc, source.Name())
	pipe := &entryPipe{ch: make(chan Entry, loadQueueDepth)}

	var stats LoadStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipe.feed(gctx, rdr)
	})
	g.Go(func() error {
		var err error
		stats, err = l.store.BulkLoad(gctx, pipe)
		return err
	})
	err = g.Wait()

	stats.Source = source.Name()
	stats.Skipped = rdr.Stats().Skipped
	stats.Started = start
	stats.Duration = time.Since(start)
	return stats, err
}

// entryPipe carries entries from the parser goroutine to the store.  err is
// written before ch is closed, so it is safe to read once Next has
// returned false.
type entryPipe struct {
	ch  chan Entry
	cur Entry
	err error
}

func (p *entryPipe) feed(ctx context.Context, rdr *DatasetReader) error {
	defer close(p.ch)

	for rdr.Next() {
		select {
		case p.ch <- rdr.Entry():
		case <-ctx.Done():
			p.err = ctx.Err()
			return p.err
		}
	}
	p.err = rdr.Err()
	return p.err
}

func (p *entryPipe) Next() bool {
	e, ok := <-p.ch
	if ok {
		p.cur = e
	}
	return ok
}

func (p *entryPipe) Entry() Entry {
	return p.cur
}

func (p *entryPipe) Err() error {
	return p.err
}

// Normalize reduces a MAC address to its OUI key: colons are removed,
// surrounding whitespace trimmed, letters upper-cased, and the first six
// characters kept.  Anything shorter than six characters is
// ErrInvalidAddress.  Characters are counted as runes, so non-ASCII input
// is never split mid-character; such keys simply never match.
func Normalize(mac string) (string, error) {
	s := strings.Replace(mac, ":", "", -1)
	s = strings.TrimSpace(s)
	s = strings.ToUpper(s)
	if utf8.RuneCountInString(s) < prefixLen {
		return "", errors.Wrapf(ErrInvalidAddress, "%q too short", mac)
	}

	n := 0
	for i := range s {
		if n == prefixLen {
			return s[:i], nil
		}
		n++
	}
	return s, nil
}

// GetVendor returns the manufacturer registered for the OUI of mac.  It
// never fails: invalid addresses, unknown prefixes and store errors all
// yield ok == false.
func (l *Lookup) GetVendor(ctx context.Context, mac string) (vendor string, ok bool) {
	prefix, err := Normalize(mac)
	if err != nil {
		l.log.Errorw("bad MAC address", "mac", mac, "error", err)
		l.metrics.lookups.WithLabelValues(resultInvalid).Inc()
		return "", false
	}

	cache := l.currentCache()
	if cache != nil {
		if v, err := cache.Get(prefix); err == nil {
			l.metrics.lookups.WithLabelValues(resultCached).Inc()
			return v.(string), true
		}
	}

	vendor, err = l.store.Get(ctx, prefix)
	switch errors.Cause(err) {
	case nil:
	case ErrNotFound:
		l.metrics.lookups.WithLabelValues(resultMiss).Inc()
		return "", false
	default:
		l.log.Errorw("prefix lookup failed", "prefix", prefix,
			"error", err)
		l.metrics.lookups.WithLabelValues(resultError).Inc()
		return "", false
	}

	if cache != nil {
		// gcache only fails Set when a serializer is configured.
		_ = cache.Set(prefix, vendor)
	}
	l.metrics.lookups.WithLabelValues(resultHit).Inc()
	return vendor, true
}
