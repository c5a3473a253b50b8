// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the canvas document model shared by the store,
// the engine, and the HTTP layer.
//
// A canvas is stored flat: every element carries a nullable parentId and an
// integer sibling order. The tree shape is reconstructed on read (see tree.go).
// Keeping storage flat makes single-element mutations cheap and lets the
// change log snapshot one element at a time.
package datatypes

import (
	"encoding/json"
	"maps"
	"time"
)

// ElementType enumerates the visual primitives a canvas element can be.
type ElementType string

const (
	ElementContainer ElementType = "container"
	ElementText      ElementType = "text"
	ElementImage     ElementType = "image"
	ElementButton    ElementType = "button"
	ElementInput     ElementType = "input"
	ElementVideo     ElementType = "video"
	ElementForm      ElementType = "form"
	ElementSection   ElementType = "section"
	ElementHeader    ElementType = "header"
	ElementFooter    ElementType = "footer"
	ElementNav       ElementType = "nav"
	ElementGrid      ElementType = "grid"
	ElementFlex      ElementType = "flex"
	ElementCustom    ElementType = "custom"
)

// elementTypes is the closed set accepted at the API boundary.
var elementTypes = map[ElementType]bool{
	ElementContainer: true,
	ElementText:      true,
	ElementImage:     true,
	ElementButton:    true,
	ElementInput:     true,
	ElementVideo:     true,
	ElementForm:      true,
	ElementSection:   true,
	ElementHeader:    true,
	ElementFooter:    true,
	ElementNav:       true,
	ElementGrid:      true,
	ElementFlex:      true,
	ElementCustom:    true,
}

// Valid reports whether t is a supported element type.
func (t ElementType) Valid() bool {
	return elementTypes[t]
}

// ChangeOperation tags a change-log row (and a bulk operation) with the kind
// of structural mutation it describes.
type ChangeOperation string

const (
	OpCreate  ChangeOperation = "create"
	OpUpdate  ChangeOperation = "update"
	OpDelete  ChangeOperation = "delete"
	OpMove    ChangeOperation = "move"
	OpReorder ChangeOperation = "reorder"
)

// Valid reports whether op is a known operation kind.
func (op ChangeOperation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpMove, OpReorder:
		return true
	}
	return false
}

// User is the identity the external resolver hands us: a stable internal id
// plus a display name. The canvas engine never sees raw credentials.
type User struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId,omitempty"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
}

// DisplayName returns the user's name, falling back to the external id the
// way the project dashboard does for accounts that never set one.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ExternalID
}

// Project is the thin ownership record the canvas hangs off. Project CRUD
// itself lives outside this service; we only need the owner check.
type Project struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`
	Slug    string `json:"slug,omitempty"`
}

// CanvasDocument is the per-project document root: global styles, breakpoint
// config, and the version counter that increments on every mutation.
//
// Version only ever moves forward. Two concurrent commits can never both
// observe and increment the same prior value because the increment happens
// inside the store transaction (SET version = version + 1), never as a
// read-then-write across requests.
type CanvasDocument struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"projectId"`
	Styles      map[string]any `json:"styles"`
	Breakpoints map[string]int `json:"breakpoints"`
	Version     int64          `json:"version"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// DefaultBreakpoints returns the breakpoint config a freshly created canvas
// starts with.
func DefaultBreakpoints() map[string]int {
	return map[string]int{
		"mobile":  640,
		"tablet":  768,
		"desktop": 1024,
	}
}

// Element is one node of the canvas tree in its flat storage form.
//
// ParentID is a weak reference: deleting a parent does not cascade at the
// storage level, the engine computes and deletes descendants explicitly.
// Order ranks siblings; duplicates are tolerated and broken by fetch order.
type Element struct {
	ID               string         `json:"id"`
	CanvasID         string         `json:"canvasId"`
	Type             ElementType    `json:"type"`
	Name             string         `json:"name"`
	Props            map[string]any `json:"props"`
	Styles           map[string]any `json:"styles"`
	ResponsiveStyles map[string]any `json:"responsiveStyles,omitempty"`
	ParentID         *string        `json:"parentId"`
	Order            int            `json:"order"`
	Locked           bool           `json:"locked"`
	Hidden           bool           `json:"hidden"`
	CreatedBy        string         `json:"createdBy"`
	UpdatedBy        string         `json:"updatedBy,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Clone returns a copy of e with its top-level maps copied as well, so a
// caller holding the clone cannot alias the original's props or styles.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	c := *e
	c.Props = maps.Clone(e.Props)
	c.Styles = maps.Clone(e.Styles)
	c.ResponsiveStyles = maps.Clone(e.ResponsiveStyles)
	if e.ParentID != nil {
		p := *e.ParentID
		c.ParentID = &p
	}
	return &c
}

// ElementLock is a time-bounded exclusive edit lease on one element.
//
// At most one lock row exists per element (uniqueness constraint on
// ElementID in storage). An expired row may still be physically present
// until the sweeper runs or a new acquire supersedes it; expiry is always
// judged against the clock, never against the sweep.
type ElementLock struct {
	ID        string    `json:"id"`
	ElementID string    `json:"elementId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	LockedAt  time.Time `json:"lockedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExpiredAt reports whether the lock has lapsed as of now.
func (l *ElementLock) ExpiredAt(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// ActiveFor reports whether the lock blocks a write by userID at the given
// instant: held by someone else and not yet expired.
func (l *ElementLock) ActiveFor(userID string, now time.Time) bool {
	return l != nil && l.UserID != userID && !l.ExpiredAt(now)
}

// CanvasChange is one immutable row of the append-only change log.
//
// Before and After are JSON snapshots (see EncodeSnapshot). A change row is
// written in the same transaction as the mutation it describes and is only
// ever deleted by the undo that consumes it.
type CanvasChange struct {
	ID        string          `json:"id"`
	CanvasID  string          `json:"canvasId"`
	UserID    string          `json:"userId"`
	UserName  string          `json:"userName,omitempty"`
	Operation ChangeOperation `json:"operation"`
	ElementID *string         `json:"elementId,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
}

// EncodeSnapshot serializes an element (or any snapshot-shaped value) for a
// change-log row. A nil element encodes as nil, not as JSON null.
func EncodeSnapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if e, ok := v.(*Element); ok && e == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// DecodeElementSnapshot parses a change-log snapshot back into an element.
func DecodeElementSnapshot(raw json.RawMessage) (*Element, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var e Element
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
