// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the canvas service.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking, and every record method is
// nil-receiver safe so instrumented code paths need no init guard.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "webra"
	canvasSubsystem  = "canvas"
)

// CanvasMetrics holds the Prometheus collectors for the canvas engine and
// the realtime hub. Initialize once at startup via InitMetrics().
type CanvasMetrics struct {
	// MutationsTotal counts committed mutating requests.
	// Labels: operation (create, update, delete, bulk, styles, undo), status (ok, error)
	MutationsTotal *prometheus.CounterVec

	// LockAcquisitionsTotal counts lock acquire attempts.
	// Labels: outcome (acquired, conflict, released)
	LockAcquisitionsTotal *prometheus.CounterVec

	// LocksSweptTotal counts locks removed by the periodic sweeper.
	LocksSweptTotal prometheus.Counter

	// UndoTotal counts undo requests. Labels: status (ok, empty, error)
	UndoTotal *prometheus.CounterVec

	// CacheLookupsTotal counts document cache lookups. Labels: result (hit, miss)
	CacheLookupsTotal *prometheus.CounterVec

	// ActiveConnections tracks live websocket connections in the hub.
	ActiveConnections prometheus.Gauge

	// BroadcastsTotal counts events fanned out to rooms. Labels: event
	BroadcastsTotal *prometheus.CounterVec
}

// Default is the singleton instance, set by InitMetrics. It stays nil in
// tests that never call InitMetrics; record methods tolerate that.
var Default *CanvasMetrics

// InitMetrics creates and registers all canvas metrics. Call once at
// startup.
func InitMetrics() *CanvasMetrics {
	m := &CanvasMetrics{
		MutationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: canvasSubsystem,
			Name:      "mutations_total",
			Help:      "Committed mutating requests by operation and status.",
		}, []string{"operation", "status"}),
		LockAcquisitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: canvasSubsystem,
			Name:      "lock_acquisitions_total",
			Help:      "Element lock acquire attempts by outcome.",
		}, []string{"outcome"}),
		LocksSweptTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: canvasSubsystem,
			Name:      "locks_swept_total",
			Help:      "Expired locks removed by the periodic sweeper.",
		}),
		UndoTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: canvasSubsystem,
			Name:      "undo_total",
			Help:      "Undo requests by status.",
		}, []string{"status"}),
		CacheLookupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: canvasSubsystem,
			Name:      "cache_lookups_total",
			Help:      "Document cache lookups by result.",
		}, []string{"result"}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: canvasSubsystem,
			Name:      "active_connections",
			Help:      "Live websocket connections in the presence hub.",
		}),
		BroadcastsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: canvasSubsystem,
			Name:      "broadcasts_total",
			Help:      "Events fanned out to project rooms by event name.",
		}, []string{"event"}),
	}
	Default = m
	return m
}

// RecordMutation increments MutationsTotal.
func (m *CanvasMetrics) RecordMutation(operation, status string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordLockAttempt increments LockAcquisitionsTotal.
func (m *CanvasMetrics) RecordLockAttempt(outcome string) {
	if m == nil {
		return
	}
	m.LockAcquisitionsTotal.WithLabelValues(outcome).Inc()
}

// RecordSweep adds the swept count.
func (m *CanvasMetrics) RecordSweep(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.LocksSweptTotal.Add(float64(count))
}

// RecordUndo increments UndoTotal.
func (m *CanvasMetrics) RecordUndo(status string) {
	if m == nil {
		return
	}
	m.UndoTotal.WithLabelValues(status).Inc()
}

// RecordCacheLookup increments CacheLookupsTotal.
func (m *CanvasMetrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// ConnectionOpened increments the active-connection gauge.
func (m *CanvasMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the active-connection gauge.
func (m *CanvasMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// RecordBroadcast increments BroadcastsTotal for one fanned-out event.
func (m *CanvasMetrics) RecordBroadcast(event string) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(event).Inc()
}
