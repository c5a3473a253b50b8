// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/engine"
	"github.com/WebraApp/WebraCanvas/services/canvas/hub"
	"github.com/WebraApp/WebraCanvas/services/canvas/middleware"
)

// wsFrame is the inbound wire envelope. Data shape depends on Event.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type cursorPayload struct {
	Position datatypes.CursorPosition `json:"position"`
}

type elementPayload struct {
	ElementID string `json:"elementId"`
}

var upgrader = websocket.Upgrader{
	// Cross-origin is the normal case: the editor runs on the app domain,
	// this service on the API domain. The gateway enforces origin policy.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// HandleCanvasWebSocket upgrades the connection and joins the caller to the
// project's collaboration room.
//
// Inbound frames carry presence only (cursor moves, selections, typing
// indicators). Structural changes arrive over HTTP; their events reach this
// socket through the hub's broadcast path, never through the read loop.
func HandleCanvasWebSocket(eng *engine.Engine, h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		projectID := c.Param("projectId")

		// Authorize before the upgrade so a denied caller gets a proper
		// status code instead of a dropped socket.
		if err := eng.AuthorizeProject(c.Request.Context(), user, projectID); err != nil {
			respondError(c, err)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "projectId", projectID, "error", err)
			return
		}
		defer ws.Close()

		connID := uuid.NewString()
		h.Join(connID, ws, projectID, user)
		defer h.Disconnect(connID)
		slog.Info("canvas websocket connected", "projectId", projectID, "userId", user.ID, "connId", connID)

		for {
			var frame wsFrame
			if err := ws.ReadJSON(&frame); err != nil {
				slog.Info("canvas websocket disconnected", "connId", connID, "error", err.Error())
				return
			}
			dispatchPresence(h, connID, frame)
		}
	}
}

// dispatchPresence routes one inbound frame to the hub. Unknown events and
// malformed payloads are dropped; a broken client must not be able to kill
// the room loop.
func dispatchPresence(h *hub.Hub, connID string, frame wsFrame) {
	switch frame.Event {
	case hub.EventCursorUpdate:
		var p cursorPayload
		if json.Unmarshal(frame.Data, &p) == nil {
			h.UpdateCursor(connID, p.Position)
		}
	case hub.EventElementSelected:
		var p elementPayload
		if json.Unmarshal(frame.Data, &p) == nil {
			h.UpdateSelection(connID, p.ElementID)
		}
	case hub.EventUserTyping:
		var p elementPayload
		if json.Unmarshal(frame.Data, &p) == nil {
			h.TypingStart(connID, p.ElementID)
		}
	case hub.EventUserStoppedTyping:
		var p elementPayload
		if json.Unmarshal(frame.Data, &p) == nil {
			h.TypingStop(connID, p.ElementID)
		}
	default:
		slog.Debug("ignoring unknown websocket event", "event", frame.Event, "connId", connID)
	}
}

// HandleGetCollaborators returns the live presence of a project room.
func HandleGetCollaborators(eng *engine.Engine, h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		projectID := c.Param("projectId")
		if err := eng.AuthorizeProject(c.Request.Context(), user, projectID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"collaborators": h.Collaborators(projectID)})
	}
}
