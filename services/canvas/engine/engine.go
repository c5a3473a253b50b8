// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine is the single entry point for every canvas mutation.
//
// Each request runs independently; there is no document-level mutex.
// Correctness under concurrency comes from two places: the store's
// transaction (read-modify-write of one request is atomic, and the version
// counter increments in-transaction), and the advisory element locks
// (cross-request exclusivity, checked against the lock table directly —
// never against the cache).
//
// Every mutating call follows the same shape: authorize, resolve the
// document, validate synchronously, mutate inside one store transaction
// together with its change-log row and a single version bump, then
// invalidate the cache and publish an event to the realtime hub.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/observability"
	"github.com/WebraApp/WebraCanvas/services/canvas/store"
)

const (
	// cacheTTL bounds how long a canvas snapshot lives in the cache.
	cacheTTL = 5 * time.Minute

	// DefaultLockDurationMs is used when a lock request omits the duration.
	// Lease bounds are enforced at the API boundary (pkg/validation).
	DefaultLockDurationMs = 30_000

	// defaultHistoryLimit and maxHistoryLimit bound a history page.
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Events is the engine's sink for structural-change notifications. The
// realtime hub satisfies it; tests use NopEvents.
type Events interface {
	Publish(projectID, event string, payload map[string]any)
}

// NopEvents drops all events.
type NopEvents struct{}

func (NopEvents) Publish(string, string, map[string]any) {}

// DocumentCache is the slice of the cache facade the engine needs. A nil
// DocumentCache disables caching entirely and changes nothing but latency.
type DocumentCache interface {
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
}

// Engine executes all canvas operations against the store.
type Engine struct {
	store  store.Store
	cache  DocumentCache
	events Events
	log    *slog.Logger
	now    func() time.Time
}

// New builds an Engine. cache may be nil; events may be NopEvents{}.
func New(st store.Store, c DocumentCache, ev Events) *Engine {
	if ev == nil {
		ev = NopEvents{}
	}
	return &Engine{
		store:  st,
		cache:  c,
		events: ev,
		log:    slog.Default(),
		now:    time.Now,
	}
}

// canvasKey is the cache key for a project's canvas snapshot.
func canvasKey(projectID string) string {
	return fmt.Sprintf("canvas:%s", projectID)
}

// canvasRecord is the cached unit: the document plus its flat element set.
type canvasRecord struct {
	Document *datatypes.CanvasDocument `json:"document"`
	Elements []*datatypes.Element      `json:"elements"`
}

// authorize resolves the ownership check. Denial and absence are both
// reported as not found.
func (e *Engine) authorize(ctx context.Context, user *datatypes.User, projectID string) error {
	if _, err := e.store.GetOwnedProject(ctx, projectID, user.ID); err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return notFoundf("project not found or access denied")
		}
		return fmt.Errorf("authorize project: %w", err)
	}
	return nil
}

// AuthorizeProject reports whether user may access projectID's canvas.
// Exposed for the websocket upgrade path, which gates room entry before any
// canvas operation runs.
func (e *Engine) AuthorizeProject(ctx context.Context, user *datatypes.User, projectID string) error {
	return e.authorize(ctx, user, projectID)
}

// getOrCreateCanvas is the canonical read path: cache, then store, lazily
// creating the empty document shell on first touch. The returned record is
// only trusted for identity and display; lock checks and merge bases always
// read the store directly.
func (e *Engine) getOrCreateCanvas(ctx context.Context, projectID string) (*canvasRecord, error) {
	key := canvasKey(projectID)
	if e.cache != nil {
		var rec canvasRecord
		if e.cache.Get(ctx, key, &rec) {
			observability.Default.RecordCacheLookup(true)
			return &rec, nil
		}
		observability.Default.RecordCacheLookup(false)
	}

	doc, err := e.store.GetCanvasByProject(ctx, projectID)
	if errors.Is(err, store.ErrNoRows) {
		doc, err = e.store.CreateCanvas(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("load canvas: %w", err)
	}

	elements, err := e.store.ListElements(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("load elements: %w", err)
	}

	rec := &canvasRecord{Document: doc, Elements: elements}
	if e.cache != nil {
		e.cache.Set(ctx, key, rec, cacheTTL)
	}
	return rec, nil
}

// invalidate drops the cached snapshot for a project.
func (e *Engine) invalidate(ctx context.Context, projectID string) {
	if e.cache != nil {
		e.cache.Delete(ctx, canvasKey(projectID))
	}
}

// CanvasView is the forest-shaped document returned to clients.
type CanvasView struct {
	ID          string                   `json:"id"`
	ProjectID   string                   `json:"projectId"`
	Elements    []*datatypes.ElementNode `json:"elements"`
	Styles      map[string]any           `json:"styles"`
	Breakpoints map[string]int           `json:"breakpoints"`
	Version     int64                    `json:"version"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

// GetCanvas fetches the project's canvas as an ordered forest. Hidden
// elements are filtered out unless includeHidden is set; thanks to the tree
// builder's dangling-parent leniency the visible children of a hidden
// element still render, promoted to roots.
func (e *Engine) GetCanvas(ctx context.Context, user *datatypes.User, projectID string, includeHidden bool) (*CanvasView, error) {
	if err := e.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	rec, err := e.getOrCreateCanvas(ctx, projectID)
	if err != nil {
		return nil, err
	}

	elements := rec.Elements
	if !includeHidden {
		visible := make([]*datatypes.Element, 0, len(elements))
		for _, el := range elements {
			if !el.Hidden {
				visible = append(visible, el)
			}
		}
		elements = visible
	}

	return &CanvasView{
		ID:          rec.Document.ID,
		ProjectID:   rec.Document.ProjectID,
		Elements:    datatypes.BuildElementTree(elements),
		Styles:      rec.Document.Styles,
		Breakpoints: rec.Document.Breakpoints,
		Version:     rec.Document.Version,
		UpdatedAt:   rec.Document.UpdatedAt,
	}, nil
}

// StylesResult is the response of a global-styles merge.
type StylesResult struct {
	Styles    map[string]any `json:"styles"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// UpdateStyles merge-patches the document's global styles. Provided keys
// overwrite, absent keys survive. The merge base is read from the store,
// not the cache.
func (e *Engine) UpdateStyles(ctx context.Context, user *datatypes.User, projectID string, styles map[string]any, sessionID string) (*StylesResult, error) {
	if err := e.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	if _, err := e.getOrCreateCanvas(ctx, projectID); err != nil {
		return nil, err
	}
	doc, err := e.store.GetCanvasByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load canvas: %w", err)
	}

	now := e.now()
	merged := make(map[string]any, len(doc.Styles)+len(styles))
	for k, v := range doc.Styles {
		merged[k] = v
	}
	for k, v := range styles {
		merged[k] = v
	}

	if sessionID == "" {
		sessionID = fmt.Sprintf("style-update-%d", now.UnixMilli())
	}

	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.SetCanvasStyles(ctx, doc.ID, merged); err != nil {
			return err
		}
		if err := tx.InsertChange(ctx, &datatypes.CanvasChange{
			ID:        newID(),
			CanvasID:  doc.ID,
			UserID:    user.ID,
			Operation: datatypes.OpUpdate,
			Before:    datatypes.EncodeSnapshot(map[string]any{"styles": doc.Styles}),
			After:     datatypes.EncodeSnapshot(map[string]any{"styles": merged}),
			SessionID: sessionID,
			Timestamp: now,
		}); err != nil {
			return err
		}
		return tx.BumpVersion(ctx, doc.ID)
	})
	if err != nil {
		observability.Default.RecordMutation("styles", "error")
		return nil, err
	}

	e.invalidate(ctx, projectID)
	e.publishStylesUpdated(projectID, user.ID, sessionID, merged)
	observability.Default.RecordMutation("styles", "ok")
	return &StylesResult{Styles: merged, UpdatedAt: now}, nil
}
