/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package metrics exposes the supervisor's Prometheus collectors:
// externally observable counts for reloads, spawns and cycle
// retirement. It wraps
// github.com/prometheus/client_golang/prometheus the same way a
// collector set is built for a single long-lived daemon: one registry,
// one struct of pre-registered collectors, nil-receiver methods so a
// caller that never wired metrics can still call them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors the supervisor updates.
type Metrics struct {
	registry *prometheus.Registry

	WorkersSpawned  prometheus.Counter
	WorkersReaped   prometheus.Counter
	WorkersCrashed  prometheus.Counter
	Reloads         prometheus.Counter
	ReloadFailures  prometheus.Counter
	BinaryUpgrades  prometheus.Counter
	CyclesRetired   prometheus.Counter
	CyclesRetiring  prometheus.Gauge
	MasterState     prometheus.Gauge
	LiveWorkers     prometheus.Gauge
	WorkerRSS       *prometheus.GaugeVec
}

// New builds and registers the collector set under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		WorkersSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "workers_spawned_total", Help: "Total worker processes spawned.",
		}),
		WorkersReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "workers_reaped_total", Help: "Total worker processes reaped.",
		}),
		WorkersCrashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "workers_crashed_total", Help: "Workers that exited with a non-zero status.",
		}),
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reloads_total", Help: "Total successful configuration reloads.",
		}),
		ReloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reload_failures_total", Help: "Total configuration reloads that failed validation or build.",
		}),
		BinaryUpgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "binary_upgrades_total", Help: "Total in-place binary upgrades started.",
		}),
		CyclesRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_retired_total", Help: "Total retired run contexts fully destroyed.",
		}),
		CyclesRetiring: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cycles_retiring", Help: "Run contexts marked retiring but still referenced.",
		}),
		MasterState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "master_state", Help: "Current master state as a small integer (see supervisor.State).",
		}),
		LiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_workers", Help: "Worker table entries that are not detached or exited.",
		}),
		WorkerRSS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "worker_rss_bytes", Help: "Resident set size of each live worker, sampled periodically.",
		}, []string{"slot"}),
	}

	reg.MustRegister(
		m.WorkersSpawned, m.WorkersReaped, m.WorkersCrashed,
		m.Reloads, m.ReloadFailures, m.BinaryUpgrades,
		m.CyclesRetired, m.CyclesRetiring, m.MasterState, m.LiveWorkers,
		m.WorkerRSS,
	)
	return m
}

// DropWorkerRSS removes a retired slot's sample so the series doesn't
// linger at its last value forever.
func (m *Metrics) DropWorkerRSS(slot string) {
	if m == nil || m.WorkerRSS == nil {
		return
	}
	m.WorkerRSS.DeleteLabelValues(slot)
}

// Handler returns an HTTP handler scraping m's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
