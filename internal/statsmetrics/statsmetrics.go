// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statsmetrics records per-operation latency observed by the
// dispatcher into an in-process prometheus registry and snapshots it to
// disk so the `dofs stats` subcommand can read it after the mount that
// produced it has already exited.
package statsmetrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// opLabel is the label name under which the operation name is recorded on
// the shared histogram vector.
const opLabel = "op"

// Recorder owns one prometheus.HistogramVec, partitioned by operation name,
// and the registry it is registered into. A Recorder is safe for concurrent
// use, although the dispatcher itself only ever calls Observe from its
// single-threaded dispatch loop.
type Recorder struct {
	registry  *prometheus.Registry
	histogram *prometheus.HistogramVec
}

// New constructs a Recorder with a fresh, private registry so multiple
// mounts in one process (as in tests) never collide on metric names.
func New() *Recorder {
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dofs",
		Subsystem: "dispatch",
		Name:      "operation_latency_seconds",
		Help:      "Latency of a single dispatcher operation, in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{opLabel})

	registry := prometheus.NewRegistry()
	registry.MustRegister(histogram)

	return &Recorder{registry: registry, histogram: histogram}
}

// Observe records that operation op took d.
func (r *Recorder) Observe(op string, d time.Duration) {
	r.histogram.WithLabelValues(op).Observe(d.Seconds())
}

// OpStats is one operation's aggregated latency snapshot: call count and
// the observed bucket-interpolated p50/p90/p99, in seconds.
type OpStats struct {
	Op    string  `json:"op"`
	Count uint64  `json:"count"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// Snapshot gathers the registry's current histograms into a stable,
// sorted-by-op-name slice of OpStats.
func (r *Recorder) Snapshot() ([]OpStats, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("statsmetrics: gather: %w", err)
	}
	return snapshotFromFamilies(families)
}

func snapshotFromFamilies(families []*dto.MetricFamily) ([]OpStats, error) {
	var out []OpStats
	for _, fam := range families {
		if fam.GetName() != "dofs_dispatch_operation_latency_seconds" {
			continue
		}
		for _, m := range fam.GetMetric() {
			op := labelValue(m.GetLabel(), opLabel)
			h := m.GetHistogram()
			out = append(out, OpStats{
				Op:    op,
				Count: h.GetSampleCount(),
				P50:   quantileFromBuckets(h, 0.50),
				P90:   quantileFromBuckets(h, 0.90),
				P99:   quantileFromBuckets(h, 0.99),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out, nil
}

func labelValue(labels []*dto.LabelPair, name string) string {
	for _, l := range labels {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

// quantileFromBuckets linearly interpolates a quantile from a cumulative
// histogram's bucket boundaries. This is the same approximation Prometheus
// itself uses for histogram_quantile() over a single instance's buckets.
func quantileFromBuckets(h *dto.Histogram, q float64) float64 {
	total := h.GetSampleCount()
	if total == 0 {
		return 0
	}
	target := q * float64(total)

	buckets := h.GetBucket()
	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		count := b.GetCumulativeCount()
		if float64(count) >= target {
			bound := b.GetUpperBound()
			if count == prevCount {
				return bound
			}
			frac := (target - float64(prevCount)) / float64(count-prevCount)
			return prevBound + frac*(bound-prevBound)
		}
		prevBound = b.GetUpperBound()
		prevCount = count
	}
	return prevBound
}

// WriteSnapshot gathers the current state and writes it as JSON to path,
// the `<db-path>.stats.json` file the `stats` subcommand reads.
func (r *Recorder) WriteSnapshot(path string) error {
	stats, err := r.Snapshot()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("statsmetrics: create %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// ReadSnapshot reads a snapshot previously written by WriteSnapshot.
func ReadSnapshot(path string) ([]OpStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("statsmetrics: open %s: %w", path, err)
	}
	defer f.Close()

	var stats []OpStats
	if err := json.NewDecoder(f).Decode(&stats); err != nil {
		return nil, fmt.Errorf("statsmetrics: decode %s: %w", path, err)
	}
	return stats, nil
}

// RenderTable writes stats to w as a fixed-width text table, the shape
// `dofs stats` prints to stdout.
func RenderTable(w io.Writer, stats []OpStats) error {
	if _, err := fmt.Fprintf(w, "%-24s %10s %10s %10s %10s\n", "OP", "COUNT", "P50(ms)", "P90(ms)", "P99(ms)"); err != nil {
		return err
	}
	for _, s := range stats {
		if _, err := fmt.Fprintf(w, "%-24s %10d %10.3f %10.3f %10.3f\n",
			s.Op, s.Count, s.P50*1000, s.P90*1000, s.P99*1000); err != nil {
			return err
		}
	}
	return nil
}
