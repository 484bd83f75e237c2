/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package ouidb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Lookup results, used as the "result" label.
const (
	resultHit     = "hit"
	resultCached  = "cached"
	resultMiss    = "miss"
	resultInvalid = "invalid"
	resultError   = "error"
)

type metrics struct {
	lookups      *prometheus.CounterVec
	loads        *prometheus.CounterVec
	loadDuration prometheus.Histogram
	entries      prometheus.Gauge
	rejected     prometheus.Counter
	skipped      prometheus.Counter
}

// newMetrics builds the collectors, registering them with reg when it is
// not nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ouidb",
				Name:      "lookups_total",
				Help:      "Number of vendor lookups, by result.",
			},
			[]string{"result"}),
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ouidb",
				Name:      "loads_total",
				Help:      "Number of dataset loads, by outcome.",
			},
			[]string{"outcome"}),
		loadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ouidb",
				Name:      "load_duration_seconds",
				Help:      "Time spent parsing and loading the dataset.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			}),
		entries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ouidb",
				Name:      "loaded_entries",
				Help:      "Entries written by the most recent load.",
			}),
		rejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ouidb",
				Name:      "rejected_entries_total",
				Help:      "Entries refused by the index backend.",
			}),
		skipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ouidb",
				Name:      "skipped_lines_total",
				Help:      "Malformed dataset lines skipped.",
			}),
	}

	if reg != nil {
		reg.MustRegister(m.lookups, m.loads, m.loadDuration, m.entries,
			m.rejected, m.skipped)
	}
	return m
}
