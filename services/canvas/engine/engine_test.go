// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/store"
)

// recordedEvent captures one Publish call for assertions.
type recordedEvent struct {
	ProjectID string
	Event     string
	Payload   map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Publish(projectID, event string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{projectID, event, payload})
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Event
	}
	return out
}

// countingCache wraps a map so tests can observe hit/miss/invalidate traffic.
type countingCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
	deletes int
}

func newCountingCache() *countingCache {
	return &countingCache{entries: map[string][]byte{}}
}

// Get always misses so every read goes to the store; tests only observe
// the Set/Delete traffic.
func (c *countingCache) Get(context.Context, string, any) bool { return false }

func (c *countingCache) Set(_ context.Context, key string, _ any, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = nil
	c.sets++
}

func (c *countingCache) Delete(_ context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.deletes += len(keys)
}

type fixture struct {
	eng    *Engine
	store  *store.Memory
	events *eventRecorder
	cache  *countingCache
	user   *datatypes.User
	clock  *time.Time
}

const testProject = "proj-1"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	user := &datatypes.User{ID: "u1", Name: "Ada"}
	mem.AddUser(user)
	mem.AddProject(&datatypes.Project{ID: testProject, OwnerID: user.ID, Name: "Demo"})

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &base
	mem.Now = func() time.Time { return *clock }

	rec := &eventRecorder{}
	c := newCountingCache()
	eng := New(mem, c, rec)
	eng.now = func() time.Time { return *clock }

	return &fixture{eng: eng, store: mem, events: rec, cache: c, user: user, clock: clock}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) version(t *testing.T) int64 {
	t.Helper()
	doc, err := f.store.GetCanvasByProject(context.Background(), testProject)
	require.NoError(t, err)
	return doc.Version
}

func (f *fixture) mustCreate(t *testing.T, in *CreateElementInput) *datatypes.Element {
	t.Helper()
	el, err := f.eng.CreateElement(context.Background(), f.user, testProject, in, "s1")
	require.NoError(t, err)
	return el
}

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }
func boolp(b bool) *bool    { return &b }

// ====== Authorization ======

func TestEngine_Authorize_UnknownProjectIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.GetCanvas(context.Background(), f.user, "ghost", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_Authorize_OtherOwnerIsNotFound(t *testing.T) {
	f := newFixture(t)
	stranger := &datatypes.User{ID: "u2", Name: "Eve"}
	f.store.AddUser(stranger)
	_, err := f.eng.GetCanvas(context.Background(), stranger, testProject, false)
	assert.ErrorIs(t, err, ErrNotFound, "ownership denial must be indistinguishable from absence")
}

// ====== Canvas lifecycle ======

func TestEngine_GetCanvas_LazilyCreatesDocument(t *testing.T) {
	f := newFixture(t)
	view, err := f.eng.GetCanvas(context.Background(), f.user, testProject, false)
	require.NoError(t, err)
	assert.Equal(t, testProject, view.ProjectID)
	assert.Equal(t, int64(1), view.Version)
	assert.Empty(t, view.Elements)
	assert.Equal(t, datatypes.DefaultBreakpoints(), view.Breakpoints)

	again, err := f.eng.GetCanvas(context.Background(), f.user, testProject, false)
	require.NoError(t, err)
	assert.Equal(t, view.ID, again.ID, "second fetch must return the same document")
}

func TestEngine_GetCanvas_HiddenFilterPromotesChildren(t *testing.T) {
	f := newFixture(t)
	parent := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementContainer, Name: "wrap", Hidden: true})
	child := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "label", ParentID: &parent.ID})

	view, err := f.eng.GetCanvas(context.Background(), f.user, testProject, false)
	require.NoError(t, err)
	require.Len(t, view.Elements, 1)
	assert.Equal(t, child.ID, view.Elements[0].ID, "visible child of a hidden parent surfaces as a root")

	view, err = f.eng.GetCanvas(context.Background(), f.user, testProject, true)
	require.NoError(t, err)
	require.Len(t, view.Elements, 1)
	assert.Equal(t, parent.ID, view.Elements[0].ID)
	require.Len(t, view.Elements[0].Children, 1)
}

// ====== Element CRUD ======

func TestEngine_CreateElement_AppendsAfterSiblings(t *testing.T) {
	f := newFixture(t)
	first := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementContainer, Name: "a", Order: intp(5)})
	assert.Equal(t, 5, first.Order)

	second := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementContainer, Name: "b"})
	assert.Equal(t, 6, second.Order, "omitted order lands after the last sibling")

	assert.Equal(t, int64(3), f.version(t), "one bump per create")
}

func TestEngine_CreateElement_UnknownParentRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.CreateElement(context.Background(), f.user, testProject, &CreateElementInput{
		Type: datatypes.ElementText, Name: "orphan", ParentID: strp("nowhere"),
	}, "s1")
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, int64(1), f.version(t), "failed create must not bump the version")
}

func TestEngine_UpdateElement_MergesMapsReplacesScalars(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{
		Type: datatypes.ElementText, Name: "headline",
		Styles: map[string]any{"color": "red", "size": "12px"},
	})

	updated, err := f.eng.UpdateElement(context.Background(), f.user, testProject, el.ID, &UpdateElementInput{
		Name:   strp("title"),
		Styles: map[string]any{"color": "blue"},
		Hidden: boolp(true),
	}, "s1")
	require.NoError(t, err)
	assert.Equal(t, "title", updated.Name)
	assert.Equal(t, "blue", updated.Styles["color"], "patched key overwrites")
	assert.Equal(t, "12px", updated.Styles["size"], "untouched key survives")
	assert.True(t, updated.Hidden)
}

func TestEngine_UpdateElement_MissingIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementContainer, Name: "seed"})
	_, err := f.eng.UpdateElement(context.Background(), f.user, testProject, "ghost", &UpdateElementInput{
		Name: strp("x"),
	}, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_DeleteElement_CascadesToDescendants(t *testing.T) {
	f := newFixture(t)
	root := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementContainer, Name: "root"})
	mid := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementContainer, Name: "mid", ParentID: &root.ID})
	leaf := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "leaf", ParentID: &mid.ID})
	other := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "other"})

	deleted, err := f.eng.DeleteElement(context.Background(), f.user, testProject, root.ID, "s1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{root.ID, mid.ID, leaf.ID}, deleted)

	view, err := f.eng.GetCanvas(context.Background(), f.user, testProject, true)
	require.NoError(t, err)
	require.Len(t, view.Elements, 1)
	assert.Equal(t, other.ID, view.Elements[0].ID)
}

func TestEngine_DeleteElement_ReleasesSubtreeLocks(t *testing.T) {
	f := newFixture(t)
	root := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementContainer, Name: "root"})
	child := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "child", ParentID: &root.ID})
	_, err := f.eng.LockElement(context.Background(), f.user, testProject, child.ID, 0)
	require.NoError(t, err)

	_, err = f.eng.DeleteElement(context.Background(), f.user, testProject, root.ID, "s1")
	require.NoError(t, err)

	_, err = f.store.GetLock(context.Background(), child.ID)
	assert.ErrorIs(t, err, store.ErrNoRows)
}

// ====== Locks ======

func TestEngine_LockElement_RefreshAndExclusivity(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "shared"})

	bob := &datatypes.User{ID: "u2", Name: "Bob"}
	f.store.AddUser(bob)
	f.store.AddProject(&datatypes.Project{ID: "proj-2", OwnerID: bob.ID})

	lock, err := f.eng.LockElement(context.Background(), f.user, testProject, el.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, lock.UserID)
	assert.Equal(t, f.clock.Add(time.Duration(DefaultLockDurationMs)*time.Millisecond), lock.ExpiresAt)

	_, err = f.eng.LockElement(context.Background(), f.user, testProject, el.ID, 0)
	require.NoError(t, err, "holder may refresh their own lease")

	// Simulate the second collaborator by writing directly against the
	// store, since ownership scopes the engine API to one user per project.
	ok, err := f.store.AcquireLock(context.Background(), &datatypes.ElementLock{
		ID: "other", ElementID: el.ID, UserID: bob.ID,
		LockedAt: *f.clock, ExpiresAt: f.clock.Add(time.Minute),
	})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEngine_LockElement_StealsExpiredLease(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "shared"})

	bob := &datatypes.User{ID: "u2", Name: "Bob"}
	ok, err := f.store.AcquireLock(context.Background(), &datatypes.ElementLock{
		ID: "stale", ElementID: el.ID, UserID: bob.ID, UserName: bob.Name,
		LockedAt: *f.clock, ExpiresAt: f.clock.Add(time.Second),
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.eng.LockElement(context.Background(), f.user, testProject, el.ID, 0)
	assert.ErrorIs(t, err, ErrConflict, "live lease blocks")
	assert.Contains(t, err.Error(), "Bob", "conflict names the holder")

	f.advance(2 * time.Second)
	lock, err := f.eng.LockElement(context.Background(), f.user, testProject, el.ID, 0)
	require.NoError(t, err, "lapsed lease is free for the taking")
	assert.Equal(t, f.user.ID, lock.UserID)
}

func TestEngine_UpdateElement_BlockedByOthersLock(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "shared"})

	_, err := f.store.AcquireLock(context.Background(), &datatypes.ElementLock{
		ID: "l", ElementID: el.ID, UserID: "u2",
		LockedAt: *f.clock, ExpiresAt: f.clock.Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = f.eng.UpdateElement(context.Background(), f.user, testProject, el.ID, &UpdateElementInput{
		Name: strp("mine now"),
	}, "s1")
	assert.ErrorIs(t, err, ErrConflict)

	f.advance(2 * time.Minute)
	_, err = f.eng.UpdateElement(context.Background(), f.user, testProject, el.ID, &UpdateElementInput{
		Name: strp("mine now"),
	}, "s1")
	assert.NoError(t, err, "expired lock no longer gates writes")
}

func TestEngine_UnlockElement(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "shared"})

	require.NoError(t, f.eng.UnlockElement(context.Background(), f.user, testProject, el.ID),
		"unlocking an unlocked element is a no-op")

	_, err := f.eng.LockElement(context.Background(), f.user, testProject, el.ID, 0)
	require.NoError(t, err)
	require.NoError(t, f.eng.UnlockElement(context.Background(), f.user, testProject, el.ID))
	_, err = f.store.GetLock(context.Background(), el.ID)
	assert.ErrorIs(t, err, store.ErrNoRows)
}

func TestEngine_UnlockElement_OthersLiveLockIsConflict(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "shared"})
	_, err := f.store.AcquireLock(context.Background(), &datatypes.ElementLock{
		ID: "l", ElementID: el.ID, UserID: "u2",
		LockedAt: *f.clock, ExpiresAt: f.clock.Add(time.Minute),
	})
	require.NoError(t, err)

	err = f.eng.UnlockElement(context.Background(), f.user, testProject, el.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestEngine_SweepExpiredLocks(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "shared"})
	_, err := f.eng.LockElement(context.Background(), f.user, testProject, el.ID, 1_000)
	require.NoError(t, err)

	f.advance(2 * time.Second)
	swept, err := f.eng.SweepExpiredLocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
}

// ====== Bulk ======

func TestEngine_BulkApply_Atomic(t *testing.T) {
	f := newFixture(t)
	survivor := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementContainer, Name: "seed"})
	versionBefore := f.version(t)

	_, err := f.eng.BulkApply(context.Background(), f.user, testProject, []BulkOperation{
		{Kind: datatypes.OpCreate, Create: &CreateElementInput{Type: datatypes.ElementText, Name: "new"}},
		{Kind: datatypes.OpUpdate, ElementID: "ghost", Update: &UpdateElementInput{Name: strp("x")}},
	}, "s1")
	assert.ErrorIs(t, err, ErrBadRequest, "a reference to an absent element fails the whole batch")

	assert.Equal(t, versionBefore, f.version(t), "failed batch leaves the version untouched")
	els, err := f.store.ListElements(context.Background(), survivor.CanvasID)
	require.NoError(t, err)
	assert.Len(t, els, 1, "no partial writes")
}

func TestEngine_BulkApply_BatchInternalReferences(t *testing.T) {
	f := newFixture(t)
	existing := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementContainer, Name: "old"})
	versionBefore := f.version(t)

	res, err := f.eng.BulkApply(context.Background(), f.user, testProject, []BulkOperation{
		{Kind: datatypes.OpUpdate, ElementID: existing.ID, Update: &UpdateElementInput{Name: strp("renamed")}},
		{Kind: datatypes.OpCreate, Create: &CreateElementInput{Type: datatypes.ElementContainer, Name: "fresh"}},
		{Kind: datatypes.OpReorder, ElementID: existing.ID, Reorder: &ReorderPayload{NewOrder: 9}},
		{Kind: datatypes.OpDelete, ElementID: existing.ID},
	}, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Applied)

	assert.Equal(t, versionBefore+1, f.version(t), "a committed batch bumps the version exactly once")

	view, err := f.eng.GetCanvas(context.Background(), f.user, testProject, true)
	require.NoError(t, err)
	require.Len(t, view.Elements, 1)
	assert.Equal(t, "fresh", view.Elements[0].Name)
}

func TestEngine_BulkApply_MixedKindsCommitTogether(t *testing.T) {
	f := newFixture(t)
	loose := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "loose"})

	res, err := f.eng.BulkApply(context.Background(), f.user, testProject, []BulkOperation{
		{Kind: datatypes.OpCreate, Create: &CreateElementInput{Type: datatypes.ElementContainer, Name: "home"}},
		{Kind: datatypes.OpMove, ElementID: loose.ID, Move: &MovePayload{NewOrder: intp(0)}},
	}, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
}

func TestEngine_BulkApply_RejectsSelfParentMove(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementContainer, Name: "a"})
	_, err := f.eng.BulkApply(context.Background(), f.user, testProject, []BulkOperation{
		{Kind: datatypes.OpMove, ElementID: el.ID, Move: &MovePayload{NewParentID: &el.ID}},
	}, "s1")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestEngine_BulkApply_EmptyBatchRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.BulkApply(context.Background(), f.user, testProject, nil, "s1")
	assert.ErrorIs(t, err, ErrBadRequest)
}

// ====== Styles ======

func TestEngine_UpdateStyles_MergePatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.UpdateStyles(context.Background(), f.user, testProject, map[string]any{
		"fontFamily": "Inter", "background": "#fff",
	}, "s1")
	require.NoError(t, err)

	res, err := f.eng.UpdateStyles(context.Background(), f.user, testProject, map[string]any{
		"background": "#000",
	}, "s1")
	require.NoError(t, err)
	assert.Equal(t, "#000", res.Styles["background"])
	assert.Equal(t, "Inter", res.Styles["fontFamily"], "absent keys survive the patch")
}

// ====== History and undo ======

func TestEngine_History_NewestFirstWithLimit(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "one"})
	f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "two"})
	f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "three"})

	changes, err := f.eng.History(context.Background(), f.user, testProject, 2)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "Ada", changes[0].UserName)

	changes, err = f.eng.History(context.Background(), f.user, testProject, 0)
	require.NoError(t, err)
	assert.Len(t, changes, 3, "zero limit falls back to the default")
}

func TestEngine_Undo_EmptyLogIsBadRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.GetCanvas(context.Background(), f.user, testProject, false)
	require.NoError(t, err)
	_, err = f.eng.Undo(context.Background(), f.user, testProject, "")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestEngine_Undo_Create(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "typo"})

	res, err := f.eng.Undo(context.Background(), f.user, testProject, "")
	require.NoError(t, err)
	assert.Equal(t, datatypes.OpCreate, res.Operation)
	require.NotNil(t, res.ElementID)
	assert.Equal(t, el.ID, *res.ElementID)

	_, err = f.store.GetElement(context.Background(), el.CanvasID, el.ID)
	assert.ErrorIs(t, err, store.ErrNoRows)

	_, err = f.eng.Undo(context.Background(), f.user, testProject, "")
	assert.ErrorIs(t, err, ErrBadRequest, "undo consumes its change row")
}

func TestEngine_Undo_UpdateRestoresPriorState(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "before"})
	_, err := f.eng.UpdateElement(context.Background(), f.user, testProject, el.ID, &UpdateElementInput{
		Name: strp("after"),
	}, "s1")
	require.NoError(t, err)

	_, err = f.eng.Undo(context.Background(), f.user, testProject, "")
	require.NoError(t, err)

	got, err := f.store.GetElement(context.Background(), el.CanvasID, el.ID)
	require.NoError(t, err)
	assert.Equal(t, "before", got.Name)
}

func TestEngine_Undo_DeleteRestoresRootOnly(t *testing.T) {
	f := newFixture(t)
	root := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementContainer, Name: "root"})
	child := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "child", ParentID: &root.ID})
	_, err := f.eng.DeleteElement(context.Background(), f.user, testProject, root.ID, "s1")
	require.NoError(t, err)

	_, err = f.eng.Undo(context.Background(), f.user, testProject, "")
	require.NoError(t, err)

	_, err = f.store.GetElement(context.Background(), root.CanvasID, root.ID)
	assert.NoError(t, err, "the deleted root comes back")
	_, err = f.store.GetElement(context.Background(), child.CanvasID, child.ID)
	assert.ErrorIs(t, err, store.ErrNoRows, "descendants stay gone")
}

func TestEngine_Undo_UpdateOnDeletedElementConflicts(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "a"})
	_, err := f.eng.UpdateElement(context.Background(), f.user, testProject, el.ID, &UpdateElementInput{
		Name: strp("b"),
	}, "sess-update")
	require.NoError(t, err)
	_, err = f.eng.DeleteElement(context.Background(), f.user, testProject, el.ID, "sess-delete")
	require.NoError(t, err)

	// Scoped to the update's session, the undo targets a row whose element
	// a later delete removed.
	_, err = f.eng.Undo(context.Background(), f.user, testProject, "sess-update")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestEngine_Undo_StylesChange(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.UpdateStyles(context.Background(), f.user, testProject, map[string]any{
		"background": "#fff",
	}, "s1")
	require.NoError(t, err)
	_, err = f.eng.UpdateStyles(context.Background(), f.user, testProject, map[string]any{
		"background": "#000",
	}, "s1")
	require.NoError(t, err)

	_, err = f.eng.Undo(context.Background(), f.user, testProject, "")
	require.NoError(t, err)

	doc, err := f.store.GetCanvasByProject(context.Background(), testProject)
	require.NoError(t, err)
	assert.Equal(t, "#fff", doc.Styles["background"])
}

func TestEngine_Undo_BulkBatchUnwindsNewestRowFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "a"})

	// Both rows of the batch share one timestamp; the insertion order must
	// still decide which one an undo consumes.
	_, err := f.eng.BulkApply(ctx, f.user, testProject, []BulkOperation{
		{Kind: datatypes.OpUpdate, ElementID: el.ID, Update: &UpdateElementInput{Name: strp("renamed")}},
		{Kind: datatypes.OpDelete, ElementID: el.ID},
	}, "batch-1")
	require.NoError(t, err)

	res, err := f.eng.Undo(ctx, f.user, testProject, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.OpDelete, res.Operation, "the delete row is newest and goes first")
	restored, err := f.store.GetElement(ctx, el.CanvasID, el.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", restored.Name)

	res, err = f.eng.Undo(ctx, f.user, testProject, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.OpUpdate, res.Operation)
	reverted, err := f.store.GetElement(ctx, el.CanvasID, el.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", reverted.Name)
}

func TestEngine_Undo_SessionScope(t *testing.T) {
	f := newFixture(t)
	a, err := f.eng.CreateElement(context.Background(), f.user, testProject, &CreateElementInput{
		Type: datatypes.ElementText, Name: "first",
	}, "sess-a")
	require.NoError(t, err)
	b, err := f.eng.CreateElement(context.Background(), f.user, testProject, &CreateElementInput{
		Type: datatypes.ElementText, Name: "second",
	}, "sess-b")
	require.NoError(t, err)

	res, err := f.eng.Undo(context.Background(), f.user, testProject, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, a.ID, *res.ElementID, "scoped undo skips the newer foreign-session row")

	_, err = f.store.GetElement(context.Background(), b.CanvasID, b.ID)
	assert.NoError(t, err)
}

// ====== Versioning, cache, events ======

func TestEngine_VersionIncrementsOncePerMutation(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "a"})
	require.Equal(t, int64(2), f.version(t))

	_, err := f.eng.UpdateElement(context.Background(), f.user, testProject, el.ID, &UpdateElementInput{
		Name: strp("b"),
	}, "s1")
	require.NoError(t, err)
	require.Equal(t, int64(3), f.version(t))

	_, err = f.eng.Undo(context.Background(), f.user, testProject, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), f.version(t), "undo is itself a mutation")
}

func TestEngine_MutationsInvalidateCache(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "a"})
	deletesAfterCreate := f.cache.deletes
	assert.Greater(t, deletesAfterCreate, 0, "create invalidates the canvas key")

	_, err := f.eng.UpdateStyles(context.Background(), f.user, testProject, map[string]any{"k": "v"}, "s1")
	require.NoError(t, err)
	assert.Greater(t, f.cache.deletes, deletesAfterCreate)
}

func TestEngine_EventsPublishedPerMutation(t *testing.T) {
	f := newFixture(t)
	el := f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "a"})
	_, err := f.eng.LockElement(context.Background(), f.user, testProject, el.ID, 0)
	require.NoError(t, err)
	require.NoError(t, f.eng.UnlockElement(context.Background(), f.user, testProject, el.ID))
	_, err = f.eng.DeleteElement(context.Background(), f.user, testProject, el.ID, "s1")
	require.NoError(t, err)

	names := f.events.names()
	assert.Equal(t, []string{
		"element:created",
		"element:locked",
		"element:unlocked",
		"element:deleted",
	}, names)
	for _, ev := range f.events.events {
		assert.Equal(t, testProject, ev.ProjectID)
	}
}

func TestEngine_StructuralEventsCarrySessionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	el, err := f.eng.CreateElement(ctx, f.user, testProject, &CreateElementInput{
		Type: datatypes.ElementText, Name: "a",
	}, "sess-42")
	require.NoError(t, err)
	_, err = f.eng.UpdateElement(ctx, f.user, testProject, el.ID, &UpdateElementInput{
		Name: strp("b"),
	}, "sess-42")
	require.NoError(t, err)
	_, err = f.eng.BulkApply(ctx, f.user, testProject, []BulkOperation{
		{Kind: datatypes.OpReorder, ElementID: el.ID, Reorder: &ReorderPayload{NewOrder: 3}},
	}, "sess-42")
	require.NoError(t, err)
	_, err = f.eng.DeleteElement(ctx, f.user, testProject, el.ID, "sess-42")
	require.NoError(t, err)

	require.Equal(t, []string{
		"element:created",
		"element:updated",
		"canvas:bulk-updated",
		"element:deleted",
	}, f.events.names())
	for _, ev := range f.events.events {
		assert.Equal(t, "sess-42", ev.Payload["sessionId"],
			"%s must name the originating session", ev.Event)
	}
}

func TestEngine_UndoEventCarriesConsumedSessionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	el, err := f.eng.CreateElement(ctx, f.user, testProject, &CreateElementInput{
		Type: datatypes.ElementText, Name: "a",
	}, "sess-a")
	require.NoError(t, err)

	_, err = f.eng.Undo(ctx, f.user, testProject, "")
	require.NoError(t, err)

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, "element:deleted", last.Event)
	assert.Equal(t, "sess-a", last.Payload["sessionId"],
		"undo events carry the consumed change's session, not the undoer's")
	assert.Equal(t, []string{el.ID}, last.Payload["elementIds"])
}

func TestEngine_FailedMutationPublishesNothing(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, &CreateElementInput{Type: datatypes.ElementText, Name: "a"})
	published := len(f.events.names())

	_, err := f.eng.UpdateElement(context.Background(), f.user, testProject, "ghost", &UpdateElementInput{
		Name: strp("x"),
	}, "s1")
	require.Error(t, err)
	assert.Len(t, f.events.names(), published)
}

func TestEngine_NilCacheIsSafe(t *testing.T) {
	mem := store.NewMemory()
	user := &datatypes.User{ID: "u1", Name: "Ada"}
	mem.AddUser(user)
	mem.AddProject(&datatypes.Project{ID: testProject, OwnerID: user.ID})

	eng := New(mem, nil, nil)
	view, err := eng.GetCanvas(context.Background(), user, testProject, false)
	require.NoError(t, err)
	assert.NotNil(t, view)
}

func TestDomainError_Unwrap(t *testing.T) {
	err := conflictf("element is locked by %s", "Bob")
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "element is locked by Bob", err.Error())
}
