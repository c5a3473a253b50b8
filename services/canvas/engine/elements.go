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
	"fmt"
	"time"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/observability"
	"github.com/WebraApp/WebraCanvas/services/canvas/store"
)

// ====== Inputs ======

// CreateElementInput carries the client-supplied fields of a new element.
type CreateElementInput struct {
	Type             datatypes.ElementType `json:"type" binding:"required,elementtype"`
	Name             string                `json:"name" binding:"required,max=255"`
	Props            map[string]any        `json:"props"`
	Styles           map[string]any        `json:"styles"`
	ResponsiveStyles map[string]any        `json:"responsiveStyles"`
	ParentID         *string               `json:"parentId"`
	Order            *int                  `json:"order"`
	Hidden           bool                  `json:"hidden"`
}

// UpdateElementInput is a partial patch: nil fields are left untouched, map
// fields merge key-by-key into the stored maps.
type UpdateElementInput struct {
	Name             *string        `json:"name" binding:"omitempty,max=255"`
	Props            map[string]any `json:"props"`
	Styles           map[string]any `json:"styles"`
	ResponsiveStyles map[string]any `json:"responsiveStyles"`
	ParentID         *string        `json:"parentId"`
	Order            *int           `json:"order"`
	Locked           *bool          `json:"locked"`
	Hidden           *bool          `json:"hidden"`
}

// ====== Operations ======

// CreateElement appends a new element under the requested parent. When the
// order is omitted it lands after the last existing sibling; sibling order
// is resolved inside the transaction so two concurrent creates cannot read
// the same tail position.
func (e *Engine) CreateElement(ctx context.Context, user *datatypes.User, projectID string, in *CreateElementInput, sessionID string) (*datatypes.Element, error) {
	if err := e.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	rec, err := e.getOrCreateCanvas(ctx, projectID)
	if err != nil {
		return nil, err
	}
	canvasID := rec.Document.ID

	if in.ParentID != nil {
		if _, err := e.store.GetElement(ctx, canvasID, *in.ParentID); err != nil {
			if errors.Is(err, store.ErrNoRows) {
				return nil, badRequestf("parent element %s not found", *in.ParentID)
			}
			return nil, fmt.Errorf("check parent: %w", err)
		}
	}

	now := e.now()
	el := &datatypes.Element{
		ID:               newID(),
		CanvasID:         canvasID,
		Type:             in.Type,
		Name:             in.Name,
		Props:            orEmpty(in.Props),
		Styles:           orEmpty(in.Styles),
		ResponsiveStyles: in.ResponsiveStyles,
		ParentID:         in.ParentID,
		Hidden:           in.Hidden,
		CreatedBy:        user.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		if in.Order != nil {
			el.Order = *in.Order
		} else {
			max, ok, err := tx.MaxSiblingOrder(ctx, canvasID, in.ParentID)
			if err != nil {
				return err
			}
			if ok {
				el.Order = max + 1
			}
		}
		if err := tx.InsertElement(ctx, el); err != nil {
			return err
		}
		if err := tx.InsertChange(ctx, &datatypes.CanvasChange{
			ID:        newID(),
			CanvasID:  canvasID,
			UserID:    user.ID,
			Operation: datatypes.OpCreate,
			ElementID: &el.ID,
			After:     datatypes.EncodeSnapshot(el),
			SessionID: sessionID,
			Timestamp: now,
		}); err != nil {
			return err
		}
		return tx.BumpVersion(ctx, canvasID)
	})
	if err != nil {
		observability.Default.RecordMutation("create", "error")
		return nil, err
	}

	e.invalidate(ctx, projectID)
	e.publishElementCreated(projectID, el, user.ID, sessionID)
	observability.Default.RecordMutation("create", "ok")
	return el, nil
}

// UpdateElement applies a partial patch to one element. A live lock held by
// another user rejects the write with a conflict naming the holder; the
// holder's own lock (and any expired lock) passes.
func (e *Engine) UpdateElement(ctx context.Context, user *datatypes.User, projectID, elementID string, in *UpdateElementInput, sessionID string) (*datatypes.Element, error) {
	if err := e.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	rec, err := e.getOrCreateCanvas(ctx, projectID)
	if err != nil {
		return nil, err
	}
	canvasID := rec.Document.ID

	if err := e.checkNotLockedByOther(ctx, user, elementID); err != nil {
		return nil, err
	}

	now := e.now()
	var updated *datatypes.Element
	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		before, err := tx.GetElement(ctx, canvasID, elementID)
		if err != nil {
			if errors.Is(err, store.ErrNoRows) {
				return notFoundf("element %s not found", elementID)
			}
			return err
		}

		updated = before.Clone()
		applyUpdate(updated, in)
		updated.UpdatedBy = user.ID
		updated.UpdatedAt = now

		if err := tx.UpdateElement(ctx, updated); err != nil {
			return err
		}
		if err := tx.InsertChange(ctx, &datatypes.CanvasChange{
			ID:        newID(),
			CanvasID:  canvasID,
			UserID:    user.ID,
			Operation: datatypes.OpUpdate,
			ElementID: &elementID,
			Before:    datatypes.EncodeSnapshot(before),
			After:     datatypes.EncodeSnapshot(updated),
			SessionID: sessionID,
			Timestamp: now,
		}); err != nil {
			return err
		}
		return tx.BumpVersion(ctx, canvasID)
	})
	if err != nil {
		observability.Default.RecordMutation("update", "error")
		return nil, err
	}

	e.invalidate(ctx, projectID)
	e.publishElementUpdated(projectID, updated, user.ID, sessionID)
	observability.Default.RecordMutation("update", "ok")
	return updated, nil
}

// DeleteElement removes an element together with its whole subtree. Locks on
// any deleted element are cleared in the same transaction, whoever holds
// them: a lease on a gone element protects nothing.
//
// The change log snapshots the root element only, so undoing a subtree
// delete restores the root without its descendants.
func (e *Engine) DeleteElement(ctx context.Context, user *datatypes.User, projectID, elementID, sessionID string) ([]string, error) {
	if err := e.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	rec, err := e.getOrCreateCanvas(ctx, projectID)
	if err != nil {
		return nil, err
	}
	canvasID := rec.Document.ID

	now := e.now()
	var deleted []string
	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		before, err := tx.GetElement(ctx, canvasID, elementID)
		if err != nil {
			if errors.Is(err, store.ErrNoRows) {
				return notFoundf("element %s not found", elementID)
			}
			return err
		}

		deleted, err = collectSubtree(ctx, tx, canvasID, elementID)
		if err != nil {
			return err
		}
		if err := tx.DeleteLocksFor(ctx, deleted); err != nil {
			return err
		}
		if _, err := tx.DeleteElements(ctx, canvasID, deleted); err != nil {
			return err
		}
		if err := tx.InsertChange(ctx, &datatypes.CanvasChange{
			ID:        newID(),
			CanvasID:  canvasID,
			UserID:    user.ID,
			Operation: datatypes.OpDelete,
			ElementID: &elementID,
			Before:    datatypes.EncodeSnapshot(before),
			SessionID: sessionID,
			Timestamp: now,
		}); err != nil {
			return err
		}
		return tx.BumpVersion(ctx, canvasID)
	})
	if err != nil {
		observability.Default.RecordMutation("delete", "error")
		return nil, err
	}

	e.invalidate(ctx, projectID)
	e.publishElementDeleted(projectID, deleted, user.ID, sessionID)
	observability.Default.RecordMutation("delete", "ok")
	return deleted, nil
}

// ====== Helpers ======

// checkNotLockedByOther rejects a write on an element leased to someone
// else. Expiry is judged against the clock; a stale row that the sweeper
// has not collected yet does not block.
func (e *Engine) checkNotLockedByOther(ctx context.Context, user *datatypes.User, elementID string) error {
	lock, err := e.store.GetLock(ctx, elementID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("check lock: %w", err)
	}
	if lock.ActiveFor(user.ID, e.now()) {
		return conflictf("element is locked by %s until %s",
			lock.UserName, lock.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// applyUpdate folds a partial patch into el. Scalar fields replace, map
// fields merge key-by-key (a provided key overwrites, absent keys survive).
func applyUpdate(el *datatypes.Element, in *UpdateElementInput) {
	if in.Name != nil {
		el.Name = *in.Name
	}
	if in.Props != nil {
		el.Props = mergeMap(el.Props, in.Props)
	}
	if in.Styles != nil {
		el.Styles = mergeMap(el.Styles, in.Styles)
	}
	if in.ResponsiveStyles != nil {
		el.ResponsiveStyles = mergeMap(el.ResponsiveStyles, in.ResponsiveStyles)
	}
	if in.ParentID != nil {
		el.ParentID = in.ParentID
	}
	if in.Order != nil {
		el.Order = *in.Order
	}
	if in.Locked != nil {
		el.Locked = *in.Locked
	}
	if in.Hidden != nil {
		el.Hidden = *in.Hidden
	}
}

func mergeMap(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// collectSubtree returns rootID plus every transitive descendant, breadth
// first. The seen guard makes a parent cycle (possible after a bad bulk
// move) terminate instead of looping.
func collectSubtree(ctx context.Context, tx store.Tx, canvasID, rootID string) ([]string, error) {
	seen := map[string]bool{rootID: true}
	ids := []string{rootID}
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		children, err := tx.ListChildren(ctx, canvasID, id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			ids = append(ids, child.ID)
			queue = append(queue, child.ID)
		}
	}
	return ids, nil
}
