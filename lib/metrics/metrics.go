// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package metrics exposes Prometheus counters and gauges for the
// replication pipeline, wired to the lifecycle events of spec.md §6 so an
// operator can observe pending/copying volume and outcomes without
// consuming the event stream directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srilakshmikanthanp/pulldog/lib/events"
)

// Collector holds every metric pulldog exposes over /metrics.
type Collector struct {
	Pending      prometheus.Gauge
	Copying      prometheus.Gauge
	CopyTotal    *prometheus.CounterVec
	CopyDuration prometheus.Histogram
}

// NewCollector constructs and registers a Collector against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulldog",
			Name:      "pending",
			Help:      "Number of transfers currently pending admission.",
		}),
		Copying: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulldog",
			Name:      "copying",
			Help:      "Number of transfers currently being copied.",
		}),
		CopyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulldog",
			Name:      "copy_total",
			Help:      "Total number of copy attempts by outcome.",
		}, []string{"outcome"}),
		CopyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pulldog",
			Name:      "copy_duration_seconds",
			Help:      "Duration of completed copy attempts, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}

	reg.MustRegister(c.Pending, c.Copying, c.CopyTotal, c.CopyDuration)
	return c
}

// ObserveTransfer increments the appropriate outcome counter and (for
// CopyEnd) the duration histogram, when attached to a Controller
// subscription as its sole consumer.
func (c *Collector) ObserveTransfer(t events.Type, secondsElapsed float64) {
	switch t {
	case events.CopyStart:
		c.Copying.Inc()
	case events.CopyEnd:
		c.Copying.Dec()
		c.CopyTotal.WithLabelValues("success").Inc()
		c.CopyDuration.Observe(secondsElapsed)
	case events.CopyFailed:
		c.Copying.Dec()
		c.CopyTotal.WithLabelValues("failed").Inc()
	case events.CopyCanceled:
		c.Copying.Dec()
		c.CopyTotal.WithLabelValues("canceled").Inc()
	}
}

// SetPending updates the pending gauge to n, called by a consumer that
// tracks Worker's pending-set size (e.g. via a periodic poll of its own).
func (c *Collector) SetPending(n int) {
	c.Pending.Set(float64(n))
}
