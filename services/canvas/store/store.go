// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists canvas documents, elements, locks, and the change
// log.
//
// Two backends exist: Postgres (postgres.go, the production store) and an
// in-memory implementation (memory.go) used by tests and by local
// development without a database. Both satisfy Store.
//
// The engine is the only mutator. All mutations for one request go through
// WithinTx, which is all-or-nothing: if the callback returns an error the
// element writes, the change-log row, and the version bump are all rolled
// back together, so a changed document with a missing change row (or vice
// versa) is never observable.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
)

// ErrNoRows is returned by point lookups when the row does not exist.
// Backends translate their native not-found signal into this sentinel.
var ErrNoRows = errors.New("store: no rows")

// Tx is the mutation surface available inside one atomic transaction.
// Reads on Tx observe the transaction's own uncommitted writes.
type Tx interface {
	// GetElement fetches one element scoped to a canvas.
	GetElement(ctx context.Context, canvasID, elementID string) (*datatypes.Element, error)

	// ListChildren returns the direct children of parentID within a canvas.
	ListChildren(ctx context.Context, canvasID, parentID string) ([]*datatypes.Element, error)

	// MaxSiblingOrder returns the highest order among the siblings under
	// parentID (nil for roots). ok is false when there are no siblings.
	MaxSiblingOrder(ctx context.Context, canvasID string, parentID *string) (max int, ok bool, err error)

	InsertElement(ctx context.Context, el *datatypes.Element) error

	// UpdateElement overwrites the mutable fields of an existing element.
	UpdateElement(ctx context.Context, el *datatypes.Element) error

	// DeleteElements removes the given elements and returns how many rows
	// went away.
	DeleteElements(ctx context.Context, canvasID string, ids []string) (int64, error)

	// DeleteLocksFor removes any locks held on the given elements,
	// regardless of holder.
	DeleteLocksFor(ctx context.Context, elementIDs []string) error

	InsertChange(ctx context.Context, ch *datatypes.CanvasChange) error
	DeleteChange(ctx context.Context, changeID string) error

	// SetCanvasStyles replaces the document's global styles map.
	SetCanvasStyles(ctx context.Context, canvasID string, styles map[string]any) error

	// BumpVersion atomically increments the document version and touches
	// updatedAt. Called exactly once per mutating request.
	BumpVersion(ctx context.Context, canvasID string) error
}

// Store is the persistence boundary for the canvas engine.
type Store interface {
	// GetUser looks up a user by internal id.
	GetUser(ctx context.Context, id string) (*datatypes.User, error)

	// GetUserByExternalID resolves the identity-provider subject to our
	// internal user record.
	GetUserByExternalID(ctx context.Context, externalID string) (*datatypes.User, error)

	// GetOwnedProject returns the project only when ownerID owns it.
	// Absence and denial are indistinguishable to the caller.
	GetOwnedProject(ctx context.Context, projectID, ownerID string) (*datatypes.Project, error)

	GetCanvasByProject(ctx context.Context, projectID string) (*datatypes.CanvasDocument, error)

	// CreateCanvas creates the empty document shell for a project with
	// default breakpoints. Called lazily on first fetch.
	CreateCanvas(ctx context.Context, projectID string) (*datatypes.CanvasDocument, error)

	ListElements(ctx context.Context, canvasID string) ([]*datatypes.Element, error)
	GetElement(ctx context.Context, canvasID, elementID string) (*datatypes.Element, error)

	// MissingElements returns the subset of ids with no element in the
	// canvas. Used for bulk pre-validation.
	MissingElements(ctx context.Context, canvasID string, ids []string) ([]string, error)

	GetLock(ctx context.Context, elementID string) (*datatypes.ElementLock, error)

	// AcquireLock attempts to take the lock as a single atomic operation:
	// insert, or supersede an existing row whose expiry has passed. It
	// returns false when an unexpired lock held the element, in which case
	// the caller re-reads the row to report the holder. Two simultaneous
	// acquirers can never both see true.
	AcquireLock(ctx context.Context, lock *datatypes.ElementLock) (bool, error)

	DeleteLock(ctx context.Context, elementID string) error

	// SweepExpiredLocks deletes every lock whose expiry precedes now and
	// reports the count. Purely a cleanup; acquire correctness never
	// depends on it.
	SweepExpiredLocks(ctx context.Context, now time.Time) (int64, error)

	// ListChanges returns the newest changes for a canvas, newest first,
	// with the acting user's display name attached.
	ListChanges(ctx context.Context, canvasID string, limit int) ([]*datatypes.CanvasChange, error)

	// LatestChange returns the newest change, optionally filtered to a
	// session. ErrNoRows when the log (or the session's slice of it) is
	// empty.
	LatestChange(ctx context.Context, canvasID, sessionID string) (*datatypes.CanvasChange, error)

	// WithinTx runs fn inside one atomic transaction.
	WithinTx(ctx context.Context, fn func(Tx) error) error

	// Ping verifies the backend is reachable. Used by health checks.
	Ping(ctx context.Context) error

	Close()
}
