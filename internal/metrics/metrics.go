// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics implements the measure-me profile output path of
// SPEC_FULL.md §0/§11: prometheus client_golang counters/histograms,
// dumped as a text exposition at process exit rather than served over
// HTTP, since mirvm is a one-shot batch tool, not a long-running
// server.
package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Collector owns every counter/histogram for one interpreter run.
type Collector struct {
	reg *prometheus.Registry

	Steps            prometheus.Counter
	ScheduleCalls    prometheus.Counter
	GCPasses         prometheus.Counter
	StoreBufferDepth prometheus.Histogram
	Diagnostics      *prometheus.CounterVec
}

// New registers every metric against a fresh, process-independent
// registry (never the global default, so multiple runs in one process
// — e.g. under `go test` — never collide).
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		Steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirvm_steps_total",
			Help: "Total interpretive steps executed.",
		}),
		ScheduleCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirvm_schedule_calls_total",
			Help: "Total calls into the thread scheduler.",
		}),
		GCPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirvm_borrow_gc_passes_total",
			Help: "Total Stacked Borrows GC passes run.",
		}),
		StoreBufferDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mirvm_store_buffer_depth",
			Help:    "Observed weak-memory store buffer occupancy at load time.",
			Buckets: prometheus.LinearBuckets(0, 1, 9),
		}),
		Diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirvm_diagnostics_total",
			Help: "Diagnostics emitted, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(c.Steps, c.ScheduleCalls, c.GCPasses, c.StoreBufferDepth, c.Diagnostics)
	return c
}

// Dump renders the current state as a Prometheus text exposition,
// matching the --measure-me output format of SPEC_FULL.md §11.
func (c *Collector) Dump() (string, error) {
	mfs, err := c.reg.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
