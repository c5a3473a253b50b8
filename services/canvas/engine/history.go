// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/observability"
	"github.com/WebraApp/WebraCanvas/services/canvas/store"
)

// History returns the newest change-log rows for the project's canvas,
// newest first, with acting-user display names attached.
func (e *Engine) History(ctx context.Context, user *datatypes.User, projectID string, limit int) ([]*datatypes.CanvasChange, error) {
	if err := e.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	rec, err := e.getOrCreateCanvas(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	changes, err := e.store.ListChanges(ctx, rec.Document.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	return changes, nil
}

// UndoResult names the change an undo consumed.
type UndoResult struct {
	ChangeID  string                    `json:"changeId"`
	Operation datatypes.ChangeOperation `json:"operation"`
	ElementID *string                   `json:"elementId,omitempty"`
}

// Undo reverts the newest change, scoped to sessionID when one is given.
//
// The inverse write, the deletion of the consumed change row, and the
// version bump commit together, so the log can never claim a change that
// the document still reflects. Undo is destructive: the consumed row is
// gone, there is no redo.
func (e *Engine) Undo(ctx context.Context, user *datatypes.User, projectID, sessionID string) (*UndoResult, error) {
	if err := e.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	rec, err := e.getOrCreateCanvas(ctx, projectID)
	if err != nil {
		return nil, err
	}
	canvasID := rec.Document.ID

	ch, err := e.store.LatestChange(ctx, canvasID, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			observability.Default.RecordUndo("empty")
			return nil, badRequestf("no changes found")
		}
		return nil, fmt.Errorf("read latest change: %w", err)
	}

	now := e.now()
	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		if err := e.revertChange(ctx, tx, canvasID, ch, now); err != nil {
			return err
		}
		if err := tx.DeleteChange(ctx, ch.ID); err != nil {
			return err
		}
		return tx.BumpVersion(ctx, canvasID)
	})
	if err != nil {
		observability.Default.RecordUndo("error")
		return nil, err
	}

	e.invalidate(ctx, projectID)
	e.publishUndone(projectID, user.ID, ch)
	observability.Default.RecordUndo("ok")
	return &UndoResult{ChangeID: ch.ID, Operation: ch.Operation, ElementID: ch.ElementID}, nil
}

// revertChange applies the inverse of one change row inside the open
// transaction.
//
// Undoing a create deletes only the created element itself; children added
// afterwards survive and surface as roots on the next read. Undoing an
// update whose element was deleted in the meantime is refused rather than
// resurrecting it behind the deleter's back.
func (e *Engine) revertChange(ctx context.Context, tx store.Tx, canvasID string, ch *datatypes.CanvasChange, now time.Time) error {
	switch ch.Operation {
	case datatypes.OpCreate:
		if ch.ElementID == nil {
			return conflictf("change %s has no element to undo", ch.ID)
		}
		ids := []string{*ch.ElementID}
		if err := tx.DeleteLocksFor(ctx, ids); err != nil {
			return err
		}
		_, err := tx.DeleteElements(ctx, canvasID, ids)
		return err

	case datatypes.OpDelete:
		before, err := datatypes.DecodeElementSnapshot(ch.Before)
		if err != nil || before == nil {
			return conflictf("change %s has no restorable snapshot", ch.ID)
		}
		before.UpdatedAt = now
		return tx.InsertElement(ctx, before)

	case datatypes.OpUpdate, datatypes.OpMove, datatypes.OpReorder:
		if ch.ElementID == nil {
			// Global-styles change: restore the prior styles map.
			var snap struct {
				Styles map[string]any `json:"styles"`
			}
			if err := json.Unmarshal(ch.Before, &snap); err != nil {
				return conflictf("change %s has no restorable snapshot", ch.ID)
			}
			return tx.SetCanvasStyles(ctx, canvasID, snap.Styles)
		}
		before, err := datatypes.DecodeElementSnapshot(ch.Before)
		if err != nil || before == nil {
			return conflictf("change %s has no restorable snapshot", ch.ID)
		}
		if _, err := tx.GetElement(ctx, canvasID, *ch.ElementID); err != nil {
			if errors.Is(err, store.ErrNoRows) {
				return conflictf("element %s no longer exists", *ch.ElementID)
			}
			return err
		}
		before.UpdatedAt = now
		return tx.UpdateElement(ctx, before)
	}
	return conflictf("change %s has unknown operation %q", ch.ID, string(ch.Operation))
}

// publishUndone tells the room what the undo did, in terms of the forward
// events clients already handle.
func (e *Engine) publishUndone(projectID, userID string, ch *datatypes.CanvasChange) {
	switch ch.Operation {
	case datatypes.OpCreate:
		if ch.ElementID != nil {
			e.publishElementDeleted(projectID, []string{*ch.ElementID}, userID, ch.SessionID)
		}
	case datatypes.OpDelete:
		if before, err := datatypes.DecodeElementSnapshot(ch.Before); err == nil && before != nil {
			e.publishElementCreated(projectID, before, userID, ch.SessionID)
		}
	case datatypes.OpUpdate, datatypes.OpMove, datatypes.OpReorder:
		if ch.ElementID == nil {
			var snap struct {
				Styles map[string]any `json:"styles"`
			}
			if json.Unmarshal(ch.Before, &snap) == nil {
				e.publishStylesUpdated(projectID, userID, ch.SessionID, snap.Styles)
			}
			return
		}
		if before, err := datatypes.DecodeElementSnapshot(ch.Before); err == nil && before != nil {
			e.publishElementUpdated(projectID, before, userID, ch.SessionID)
		}
	}
}
