// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"github.com/google/uuid"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/hub"
)

func newID() string {
	return uuid.NewString()
}

// ====== Event payload helpers ======
//
// Payload shapes match what the browser client already consumes; keep them
// stable even when the engine's internal types move. Structural events carry
// the originating session id so a client can drop echoes of its own edits;
// lock events do not, locks are not session-scoped.

func (e *Engine) publishElementCreated(projectID string, el *datatypes.Element, userID, sessionID string) {
	e.events.Publish(projectID, hub.EventElementCreated, map[string]any{
		"element":   el,
		"userId":    userID,
		"sessionId": sessionID,
	})
}

func (e *Engine) publishElementUpdated(projectID string, el *datatypes.Element, userID, sessionID string) {
	e.events.Publish(projectID, hub.EventElementUpdated, map[string]any{
		"element":   el,
		"userId":    userID,
		"sessionId": sessionID,
	})
}

func (e *Engine) publishElementDeleted(projectID string, elementIDs []string, userID, sessionID string) {
	e.events.Publish(projectID, hub.EventElementDeleted, map[string]any{
		"elementIds": elementIDs,
		"userId":     userID,
		"sessionId":  sessionID,
	})
}

func (e *Engine) publishElementLocked(projectID string, lock *datatypes.ElementLock) {
	e.events.Publish(projectID, hub.EventElementLocked, map[string]any{
		"elementId": lock.ElementID,
		"userId":    lock.UserID,
		"userName":  lock.UserName,
		"expiresAt": lock.ExpiresAt,
	})
}

func (e *Engine) publishElementUnlocked(projectID, elementID, userID string) {
	e.events.Publish(projectID, hub.EventElementUnlocked, map[string]any{
		"elementId": elementID,
		"userId":    userID,
	})
}

func (e *Engine) publishBulkUpdated(projectID, userID, sessionID string, applied int) {
	e.events.Publish(projectID, hub.EventBulkUpdated, map[string]any{
		"userId":    userID,
		"sessionId": sessionID,
		"applied":   applied,
	})
}

func (e *Engine) publishStylesUpdated(projectID, userID, sessionID string, styles map[string]any) {
	e.events.Publish(projectID, hub.EventStylesUpdated, map[string]any{
		"styles":    styles,
		"userId":    userID,
		"sessionId": sessionID,
	})
}
