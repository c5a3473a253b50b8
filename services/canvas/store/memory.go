// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
)

// Memory is an in-process Store used by tests and by local development
// without Postgres. It honors the same contracts as the Postgres backend:
// atomic lock acquisition, all-or-nothing transactions, and newest-first
// change ordering.
type Memory struct {
	mu sync.Mutex

	// Now supplies the clock for lock-expiry decisions. Tests override it
	// to exercise expiry without sleeping.
	Now func() time.Time

	seq      int64
	users    map[string]*datatypes.User
	projects map[string]*datatypes.Project

	canvases  map[string]*datatypes.CanvasDocument // canvas id -> document
	byProject map[string]string                    // project id -> canvas id

	elements map[string]map[string]*datatypes.Element // canvas id -> element id -> element
	elemSeq  map[string]int64                         // element id -> insertion order

	locks   map[string]*datatypes.ElementLock // element id -> lock
	changes map[string][]*changeRec           // canvas id -> rows, oldest first
}

type changeRec struct {
	change *datatypes.CanvasChange
	seq    int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		Now:       time.Now,
		users:     make(map[string]*datatypes.User),
		projects:  make(map[string]*datatypes.Project),
		canvases:  make(map[string]*datatypes.CanvasDocument),
		byProject: make(map[string]string),
		elements:  make(map[string]map[string]*datatypes.Element),
		elemSeq:   make(map[string]int64),
		locks:     make(map[string]*datatypes.ElementLock),
		changes:   make(map[string][]*changeRec),
	}
}

func (m *Memory) Close() {}

// Ping always succeeds; the process is the backend.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// AddUser seeds a user record.
func (m *Memory) AddUser(u *datatypes.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

// AddProject seeds a project record.
func (m *Memory) AddProject(p *datatypes.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.ID] = &cp
}

// =============================================================================
// Reads
// =============================================================================

func (m *Memory) GetUser(_ context.Context, id string) (*datatypes.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByExternalID(_ context.Context, externalID string) (*datatypes.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ExternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNoRows
}

func (m *Memory) GetOwnedProject(_ context.Context, projectID, ownerID string) (*datatypes.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok || p.OwnerID != ownerID {
		return nil, ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetCanvasByProject(_ context.Context, projectID string) (*datatypes.CanvasDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byProject[projectID]
	if !ok {
		return nil, ErrNoRows
	}
	return m.cloneCanvas(m.canvases[id]), nil
}

func (m *Memory) CreateCanvas(_ context.Context, projectID string) (*datatypes.CanvasDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	doc := &datatypes.CanvasDocument{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Styles:      map[string]any{},
		Breakpoints: datatypes.DefaultBreakpoints(),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.canvases[doc.ID] = doc
	m.byProject[projectID] = doc.ID
	m.elements[doc.ID] = make(map[string]*datatypes.Element)
	return m.cloneCanvas(doc), nil
}

func (m *Memory) ListElements(_ context.Context, canvasID string) ([]*datatypes.Element, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listElementsLocked(canvasID, nil), nil
}

// listElementsLocked returns clones in fetch order: roots first, then by
// parent, sibling order ascending, insertion order as the tie break. Pass a
// non-nil parentID to restrict to one sibling group.
func (m *Memory) listElementsLocked(canvasID string, parentID *string) []*datatypes.Element {
	var out []*datatypes.Element
	for _, el := range m.elements[canvasID] {
		if parentID != nil {
			if el.ParentID == nil || *el.ParentID != *parentID {
				continue
			}
		}
		out = append(out, el.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := "", ""
		if out[i].ParentID != nil {
			pi = *out[i].ParentID
		}
		if out[j].ParentID != nil {
			pj = *out[j].ParentID
		}
		if pi != pj {
			if pi == "" || pj == "" {
				return pi == ""
			}
			return pi < pj
		}
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return m.elemSeq[out[i].ID] < m.elemSeq[out[j].ID]
	})
	return out
}

func (m *Memory) GetElement(_ context.Context, canvasID, elementID string) (*datatypes.Element, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getElementLocked(canvasID, elementID)
}

func (m *Memory) getElementLocked(canvasID, elementID string) (*datatypes.Element, error) {
	el, ok := m.elements[canvasID][elementID]
	if !ok {
		return nil, ErrNoRows
	}
	return el.Clone(), nil
}

func (m *Memory) MissingElements(_ context.Context, canvasID string, ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var missing []string
	for _, id := range ids {
		if _, ok := m.elements[canvasID][id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// =============================================================================
// Locks
// =============================================================================

func (m *Memory) GetLock(_ context.Context, elementID string) (*datatypes.ElementLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[elementID]
	if !ok {
		return nil, ErrNoRows
	}
	cp := *l
	return &cp, nil
}

// AcquireLock performs the check-and-insert under one mutex hold, matching
// the atomicity of the Postgres upsert.
func (m *Memory) AcquireLock(_ context.Context, lock *datatypes.ElementLock) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.locks[lock.ElementID]; ok && !existing.ExpiredAt(lock.LockedAt) {
		return false, nil
	}
	cp := *lock
	m.locks[lock.ElementID] = &cp
	return true, nil
}

func (m *Memory) DeleteLock(_ context.Context, elementID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, elementID)
	return nil
}

func (m *Memory) SweepExpiredLocks(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var swept int64
	for id, l := range m.locks {
		if l.ExpiredAt(now) {
			delete(m.locks, id)
			swept++
		}
	}
	return swept, nil
}

// =============================================================================
// Change log
// =============================================================================

func (m *Memory) ListChanges(_ context.Context, canvasID string, limit int) ([]*datatypes.CanvasChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.changes[canvasID]
	var out []*datatypes.CanvasChange
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *recs[i].change
		if u, ok := m.users[cp.UserID]; ok {
			cp.UserName = u.Name
		}
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) LatestChange(_ context.Context, canvasID, sessionID string) (*datatypes.CanvasChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.changes[canvasID]
	for i := len(recs) - 1; i >= 0; i-- {
		if sessionID != "" && recs[i].change.SessionID != sessionID {
			continue
		}
		cp := *recs[i].change
		return &cp, nil
	}
	return nil, ErrNoRows
}

// =============================================================================
// Transactions
// =============================================================================

// WithinTx snapshots the mutable state, runs fn against the live maps, and
// restores the snapshot when fn fails. Single-writer semantics: the store
// mutex is held for the whole transaction.
func (m *Memory) WithinTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked()
	if err := fn(&memTx{m: m}); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	canvases map[string]*datatypes.CanvasDocument
	elements map[string]map[string]*datatypes.Element
	elemSeq  map[string]int64
	locks    map[string]*datatypes.ElementLock
	changes  map[string][]*changeRec
	seq      int64
}

func (m *Memory) snapshotLocked() *memSnapshot {
	snap := &memSnapshot{
		canvases: make(map[string]*datatypes.CanvasDocument, len(m.canvases)),
		elements: make(map[string]map[string]*datatypes.Element, len(m.elements)),
		elemSeq:  make(map[string]int64, len(m.elemSeq)),
		locks:    make(map[string]*datatypes.ElementLock, len(m.locks)),
		changes:  make(map[string][]*changeRec, len(m.changes)),
		seq:      m.seq,
	}
	for id, s := range m.elemSeq {
		snap.elemSeq[id] = s
	}
	for id, d := range m.canvases {
		snap.canvases[id] = m.cloneCanvas(d)
	}
	for cid, els := range m.elements {
		cp := make(map[string]*datatypes.Element, len(els))
		for id, el := range els {
			cp[id] = el.Clone()
		}
		snap.elements[cid] = cp
	}
	for id, l := range m.locks {
		cp := *l
		snap.locks[id] = &cp
	}
	for cid, recs := range m.changes {
		cp := make([]*changeRec, len(recs))
		copy(cp, recs)
		snap.changes[cid] = cp
	}
	return snap
}

func (m *Memory) restoreLocked(snap *memSnapshot) {
	m.canvases = snap.canvases
	m.elements = snap.elements
	m.elemSeq = snap.elemSeq
	m.locks = snap.locks
	m.changes = snap.changes
	m.seq = snap.seq
}

func (m *Memory) cloneCanvas(d *datatypes.CanvasDocument) *datatypes.CanvasDocument {
	cp := *d
	cp.Styles = make(map[string]any, len(d.Styles))
	for k, v := range d.Styles {
		cp.Styles[k] = v
	}
	cp.Breakpoints = make(map[string]int, len(d.Breakpoints))
	for k, v := range d.Breakpoints {
		cp.Breakpoints[k] = v
	}
	return &cp
}

// memTx mutates the live maps directly; WithinTx already holds the mutex
// and restores the snapshot on failure.
type memTx struct {
	m *Memory
}

func (t *memTx) GetElement(_ context.Context, canvasID, elementID string) (*datatypes.Element, error) {
	return t.m.getElementLocked(canvasID, elementID)
}

func (t *memTx) ListChildren(_ context.Context, canvasID, parentID string) ([]*datatypes.Element, error) {
	return t.m.listElementsLocked(canvasID, &parentID), nil
}

func (t *memTx) MaxSiblingOrder(_ context.Context, canvasID string, parentID *string) (int, bool, error) {
	max, found := 0, false
	for _, el := range t.m.elements[canvasID] {
		if !sameParent(el.ParentID, parentID) {
			continue
		}
		if !found || el.Order > max {
			max, found = el.Order, true
		}
	}
	return max, found, nil
}

func (t *memTx) InsertElement(_ context.Context, el *datatypes.Element) error {
	els, ok := t.m.elements[el.CanvasID]
	if !ok {
		els = make(map[string]*datatypes.Element)
		t.m.elements[el.CanvasID] = els
	}
	t.m.seq++
	t.m.elemSeq[el.ID] = t.m.seq
	els[el.ID] = el.Clone()
	return nil
}

func (t *memTx) UpdateElement(_ context.Context, el *datatypes.Element) error {
	els := t.m.elements[el.CanvasID]
	if _, ok := els[el.ID]; !ok {
		return ErrNoRows
	}
	els[el.ID] = el.Clone()
	return nil
}

func (t *memTx) DeleteElements(_ context.Context, canvasID string, ids []string) (int64, error) {
	els := t.m.elements[canvasID]
	var deleted int64
	for _, id := range ids {
		if _, ok := els[id]; ok {
			delete(els, id)
			delete(t.m.elemSeq, id)
			deleted++
		}
	}
	return deleted, nil
}

func (t *memTx) DeleteLocksFor(_ context.Context, elementIDs []string) error {
	for _, id := range elementIDs {
		delete(t.m.locks, id)
	}
	return nil
}

func (t *memTx) InsertChange(_ context.Context, ch *datatypes.CanvasChange) error {
	t.m.seq++
	cp := *ch
	t.m.changes[ch.CanvasID] = append(t.m.changes[ch.CanvasID], &changeRec{change: &cp, seq: t.m.seq})
	return nil
}

func (t *memTx) DeleteChange(_ context.Context, changeID string) error {
	for cid, recs := range t.m.changes {
		for i, rec := range recs {
			if rec.change.ID == changeID {
				t.m.changes[cid] = append(recs[:i:i], recs[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (t *memTx) SetCanvasStyles(_ context.Context, canvasID string, styles map[string]any) error {
	doc, ok := t.m.canvases[canvasID]
	if !ok {
		return ErrNoRows
	}
	doc.Styles = make(map[string]any, len(styles))
	for k, v := range styles {
		doc.Styles[k] = v
	}
	return nil
}

func (t *memTx) BumpVersion(_ context.Context, canvasID string) error {
	doc, ok := t.m.canvases[canvasID]
	if !ok {
		return ErrNoRows
	}
	doc.Version++
	doc.UpdatedAt = t.m.Now()
	return nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

var _ Store = (*Memory)(nil)
var _ Tx = (*memTx)(nil)
