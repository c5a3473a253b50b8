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
	"strings"
	"time"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/observability"
	"github.com/WebraApp/WebraCanvas/services/canvas/store"
)

// MovePayload re-homes an element under a new parent, optionally at an
// explicit sibling position.
type MovePayload struct {
	NewParentID *string `json:"newParentId"`
	NewOrder    *int    `json:"newOrder"`
}

// ReorderPayload changes an element's position among its current siblings.
type ReorderPayload struct {
	NewOrder int `json:"newOrder"`
}

// BulkOperation is one step of a bulk batch. Kind selects which payload
// field applies; ElementID is required for every kind except create.
type BulkOperation struct {
	Kind      datatypes.ChangeOperation `json:"type" binding:"required"`
	ElementID string                    `json:"elementId,omitempty"`
	Create    *CreateElementInput       `json:"create,omitempty"`
	Update    *UpdateElementInput       `json:"update,omitempty"`
	Move      *MovePayload              `json:"move,omitempty"`
	Reorder   *ReorderPayload           `json:"reorder,omitempty"`
}

// BulkResult reports a committed batch.
type BulkResult struct {
	Applied  int                  `json:"applied"`
	Elements []*datatypes.Element `json:"elements"`
}

// BulkApply commits a batch of operations in order inside one transaction:
// either every step lands or none do, with one version increment and one
// change-log row per step.
//
// Validation that can fail the whole batch runs before the transaction
// opens: unknown kinds, missing payloads, references to absent elements,
// self-parenting moves. References between steps (a move under an element
// the same batch creates) resolve inside the transaction, where each step
// observes its predecessors' writes.
func (e *Engine) BulkApply(ctx context.Context, user *datatypes.User, projectID string, ops []BulkOperation, sessionID string) (*BulkResult, error) {
	if err := e.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, badRequestf("bulk request has no operations")
	}
	rec, err := e.getOrCreateCanvas(ctx, projectID)
	if err != nil {
		return nil, err
	}
	canvasID := rec.Document.ID

	if err := e.validateBulk(ctx, canvasID, ops); err != nil {
		return nil, err
	}

	now := e.now()
	result := &BulkResult{}
	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		for i := range ops {
			op := &ops[i]
			var (
				el  *datatypes.Element
				err error
			)
			switch op.Kind {
			case datatypes.OpCreate:
				el, err = e.bulkCreate(ctx, tx, canvasID, user, op.Create, sessionID, now)
			case datatypes.OpUpdate:
				el, err = e.bulkUpdate(ctx, tx, canvasID, user, op.ElementID, op.Update, sessionID, now)
			case datatypes.OpDelete:
				err = e.bulkDelete(ctx, tx, canvasID, user, op.ElementID, sessionID, now)
			case datatypes.OpMove:
				el, err = e.bulkMove(ctx, tx, canvasID, user, op.ElementID, op.Move, sessionID, now)
			case datatypes.OpReorder:
				patch := &UpdateElementInput{Order: &op.Reorder.NewOrder}
				el, err = e.bulkPatch(ctx, tx, canvasID, user, op.ElementID, patch, datatypes.OpReorder, sessionID, now)
			}
			if err != nil {
				return fmt.Errorf("bulk operation %d (%s): %w", i, op.Kind, err)
			}
			result.Applied++
			if el != nil {
				result.Elements = append(result.Elements, el)
			}
		}
		return tx.BumpVersion(ctx, canvasID)
	})
	if err != nil {
		observability.Default.RecordMutation("bulk", "error")
		return nil, err
	}

	e.invalidate(ctx, projectID)
	e.publishBulkUpdated(projectID, user.ID, sessionID, result.Applied)
	observability.Default.RecordMutation("bulk", "ok")
	return result, nil
}

// validateBulk runs the synchronous pre-checks. Existence is verified in one
// batched lookup; ids a create in the same batch will introduce are exempt
// because creates do not name ids up front.
func (e *Engine) validateBulk(ctx context.Context, canvasID string, ops []BulkOperation) error {
	var refs []string
	for i := range ops {
		op := &ops[i]
		if !op.Kind.Valid() {
			return badRequestf("operation %d: unknown type %q", i, string(op.Kind))
		}
		switch op.Kind {
		case datatypes.OpCreate:
			if op.Create == nil {
				return badRequestf("operation %d: create payload missing", i)
			}
			if !op.Create.Type.Valid() {
				return badRequestf("operation %d: unknown element type %q", i, string(op.Create.Type))
			}
			continue
		case datatypes.OpUpdate:
			if op.Update == nil {
				return badRequestf("operation %d: update payload missing", i)
			}
		case datatypes.OpMove:
			if op.Move == nil {
				return badRequestf("operation %d: move payload missing", i)
			}
			if op.Move.NewParentID != nil && *op.Move.NewParentID == op.ElementID {
				return badRequestf("operation %d: element cannot be its own parent", i)
			}
		case datatypes.OpReorder:
			if op.Reorder == nil {
				return badRequestf("operation %d: reorder payload missing", i)
			}
		}
		if op.ElementID == "" {
			return badRequestf("operation %d: elementId required for %s", i, op.Kind)
		}
		refs = append(refs, op.ElementID)
	}

	if len(refs) == 0 {
		return nil
	}
	missing, err := e.store.MissingElements(ctx, canvasID, refs)
	if err != nil {
		return fmt.Errorf("validate bulk: %w", err)
	}
	if len(missing) > 0 {
		return badRequestf("elements not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ====== Per-step appliers ======
//
// These mirror the single-element operations but run against the open
// transaction and leave the version bump to the batch.

func (e *Engine) bulkCreate(ctx context.Context, tx store.Tx, canvasID string, user *datatypes.User, in *CreateElementInput, sessionID string, now time.Time) (*datatypes.Element, error) {
	if in.ParentID != nil {
		if _, err := tx.GetElement(ctx, canvasID, *in.ParentID); err != nil {
			if errors.Is(err, store.ErrNoRows) {
				return nil, badRequestf("parent element %s not found", *in.ParentID)
			}
			return nil, err
		}
	}
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
	if in.Order != nil {
		el.Order = *in.Order
	} else {
		max, ok, err := tx.MaxSiblingOrder(ctx, canvasID, in.ParentID)
		if err != nil {
			return nil, err
		}
		if ok {
			el.Order = max + 1
		}
	}
	if err := tx.InsertElement(ctx, el); err != nil {
		return nil, err
	}
	return el, tx.InsertChange(ctx, &datatypes.CanvasChange{
		ID:        newID(),
		CanvasID:  canvasID,
		UserID:    user.ID,
		Operation: datatypes.OpCreate,
		ElementID: &el.ID,
		After:     datatypes.EncodeSnapshot(el),
		SessionID: sessionID,
		Timestamp: now,
	})
}

func (e *Engine) bulkUpdate(ctx context.Context, tx store.Tx, canvasID string, user *datatypes.User, elementID string, in *UpdateElementInput, sessionID string, now time.Time) (*datatypes.Element, error) {
	return e.bulkPatch(ctx, tx, canvasID, user, elementID, in, datatypes.OpUpdate, sessionID, now)
}

func (e *Engine) bulkMove(ctx context.Context, tx store.Tx, canvasID string, user *datatypes.User, elementID string, mv *MovePayload, sessionID string, now time.Time) (*datatypes.Element, error) {
	if mv.NewParentID != nil {
		if _, err := tx.GetElement(ctx, canvasID, *mv.NewParentID); err != nil {
			if errors.Is(err, store.ErrNoRows) {
				return nil, badRequestf("target parent %s not found", *mv.NewParentID)
			}
			return nil, err
		}
	}
	patch := &UpdateElementInput{ParentID: mv.NewParentID, Order: mv.NewOrder}
	return e.bulkPatch(ctx, tx, canvasID, user, elementID, patch, datatypes.OpMove, sessionID, now)
}

func (e *Engine) bulkPatch(ctx context.Context, tx store.Tx, canvasID string, user *datatypes.User, elementID string, in *UpdateElementInput, op datatypes.ChangeOperation, sessionID string, now time.Time) (*datatypes.Element, error) {
	before, err := tx.GetElement(ctx, canvasID, elementID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, notFoundf("element %s not found", elementID)
		}
		return nil, err
	}
	updated := before.Clone()
	applyUpdate(updated, in)
	updated.UpdatedBy = user.ID
	updated.UpdatedAt = now
	if err := tx.UpdateElement(ctx, updated); err != nil {
		return nil, err
	}
	return updated, tx.InsertChange(ctx, &datatypes.CanvasChange{
		ID:        newID(),
		CanvasID:  canvasID,
		UserID:    user.ID,
		Operation: op,
		ElementID: &elementID,
		Before:    datatypes.EncodeSnapshot(before),
		After:     datatypes.EncodeSnapshot(updated),
		SessionID: sessionID,
		Timestamp: now,
	})
}

func (e *Engine) bulkDelete(ctx context.Context, tx store.Tx, canvasID string, user *datatypes.User, elementID, sessionID string, now time.Time) error {
	before, err := tx.GetElement(ctx, canvasID, elementID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return notFoundf("element %s not found", elementID)
		}
		return err
	}
	ids, err := collectSubtree(ctx, tx, canvasID, elementID)
	if err != nil {
		return err
	}
	if err := tx.DeleteLocksFor(ctx, ids); err != nil {
		return err
	}
	if _, err := tx.DeleteElements(ctx, canvasID, ids); err != nil {
		return err
	}
	return tx.InsertChange(ctx, &datatypes.CanvasChange{
		ID:        newID(),
		CanvasID:  canvasID,
		UserID:    user.ID,
		Operation: datatypes.OpDelete,
		ElementID: &elementID,
		Before:    datatypes.EncodeSnapshot(before),
		SessionID: sessionID,
		Timestamp: now,
	})
}
