// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package hub tracks live collaborators per project room and fans canvas
// events out to their websocket connections.
//
// The hub owns an explicit session registry: connection id -> presence
// record, plus a project -> connection-set membership index. Sessions are
// inserted on join and removed on disconnect; nothing else mutates the
// registry. The registry is process-local — multi-node fanout would need a
// shared pub/sub backing and is out of scope here.
package hub

import (
	"log/slog"
	"sync"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/observability"
)

// Event names on the realtime channel.
const (
	EventCollaboratorJoined = "collaborator:joined"
	EventCollaboratorLeft   = "collaborator:left"
	EventCollaboratorsList  = "collaborators:list"
	EventCursorUpdate       = "cursor:update"
	EventElementSelected    = "element:selected"
	EventUserTyping         = "user:typing"
	EventUserStoppedTyping  = "user:stopped-typing"

	EventElementCreated  = "element:created"
	EventElementUpdated  = "element:updated"
	EventElementDeleted  = "element:deleted"
	EventElementLocked   = "element:locked"
	EventElementUnlocked = "element:unlocked"
	EventBulkUpdated     = "canvas:bulk-updated"
	EventStylesUpdated   = "canvas:styles-updated"
)

// Conn is the write side of one client connection. *websocket.Conn
// satisfies it; tests substitute a recorder.
type Conn interface {
	WriteJSON(v any) error
}

// Frame is the wire envelope for every hub message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// session is one registered connection: its socket, its room, and the
// collaborator presence shown to others.
type session struct {
	conn      Conn
	wmu       sync.Mutex // serializes writes to conn
	projectID string
	presence  datatypes.Collaborator
}

func (s *session) send(log *slog.Logger, f Frame) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteJSON(f); err != nil {
		log.Warn("websocket write failed", "event", f.Event, "error", err)
	}
}

// Hub is the presence registry and broadcaster for all project rooms.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]bool // project id -> connection ids
	sessions map[string]*session        // connection id -> session
	log      *slog.Logger
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{
		rooms:    make(map[string]map[string]bool),
		sessions: make(map[string]*session),
		log:      slog.Default(),
	}
}

// Join registers a connection in a project room. A connection already in
// another room is moved. Existing members learn about the joiner, and the
// joiner receives a snapshot of the other members' presence.
func (h *Hub) Join(connID string, conn Conn, projectID string, user *datatypes.User) {
	h.mu.Lock()
	if old, ok := h.sessions[connID]; ok {
		h.detachLocked(connID, old)
	}

	s := &session{
		conn:      conn,
		projectID: projectID,
		presence: datatypes.Collaborator{
			UserID:   user.ID,
			UserName: user.DisplayName(),
			Color:    ColorForUser(user.ID),
		},
	}
	h.sessions[connID] = s
	room, ok := h.rooms[projectID]
	if !ok {
		room = make(map[string]bool)
		h.rooms[projectID] = room
	}
	room[connID] = true

	others := h.collaboratorsLocked(projectID, connID)
	members := h.roomSessionsLocked(projectID, connID)
	h.mu.Unlock()

	observability.Default.ConnectionOpened()
	h.log.Info("collaborator joined room", "projectId", projectID, "userId", user.ID)

	joined := Frame{Event: EventCollaboratorJoined, Data: map[string]any{
		"userId":   s.presence.UserID,
		"userName": s.presence.UserName,
		"socketId": connID,
		"color":    s.presence.Color,
	}}
	for _, member := range members {
		member.send(h.log, joined)
	}
	s.send(h.log, Frame{Event: EventCollaboratorsList, Data: others})
}

// Disconnect removes a connection from its room and announces the
// departure. Safe to call for unknown connection ids.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	s, ok := h.sessions[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.detachLocked(connID, s)
	members := h.roomSessionsLocked(s.projectID, connID)
	h.mu.Unlock()

	observability.Default.ConnectionClosed()
	h.log.Info("collaborator left room", "projectId", s.projectID, "userId", s.presence.UserID)

	left := Frame{Event: EventCollaboratorLeft, Data: map[string]any{
		"userId":   s.presence.UserID,
		"socketId": connID,
	}}
	for _, member := range members {
		member.send(h.log, left)
	}
}

// detachLocked removes the registry entries for connID. Caller holds h.mu.
func (h *Hub) detachLocked(connID string, s *session) {
	delete(h.sessions, connID)
	if room, ok := h.rooms[s.projectID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, s.projectID)
		}
	}
}

// UpdateCursor records a cursor move and relays it to the rest of the room.
func (h *Hub) UpdateCursor(connID string, pos datatypes.CursorPosition) {
	h.relayPresence(connID, EventCursorUpdate, func(s *session) map[string]any {
		s.presence.Position = pos
		return map[string]any{
			"socketId": connID,
			"userId":   s.presence.UserID,
			"userName": s.presence.UserName,
			"color":    s.presence.Color,
			"position": pos,
		}
	})
}

// UpdateSelection records which element the collaborator has selected. An
// empty elementID clears the selection.
func (h *Hub) UpdateSelection(connID, elementID string) {
	h.relayPresence(connID, EventElementSelected, func(s *session) map[string]any {
		s.presence.SelectedElementID = elementID
		return map[string]any{
			"socketId":  connID,
			"userId":    s.presence.UserID,
			"userName":  s.presence.UserName,
			"elementId": elementID,
		}
	})
}

// TypingStart announces that the collaborator started editing an element.
func (h *Hub) TypingStart(connID, elementID string) {
	h.relayPresence(connID, EventUserTyping, func(s *session) map[string]any {
		return map[string]any{
			"userId":    s.presence.UserID,
			"userName":  s.presence.UserName,
			"elementId": elementID,
		}
	})
}

// TypingStop announces the end of an edit gesture.
func (h *Hub) TypingStop(connID, elementID string) {
	h.relayPresence(connID, EventUserStoppedTyping, func(s *session) map[string]any {
		return map[string]any{
			"userId":    s.presence.UserID,
			"elementId": elementID,
		}
	})
}

// relayPresence mutates the sender's presence via build and broadcasts the
// returned payload to everyone else in the sender's room.
func (h *Hub) relayPresence(connID, event string, build func(*session) map[string]any) {
	h.mu.Lock()
	s, ok := h.sessions[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	payload := build(s)
	members := h.roomSessionsLocked(s.projectID, connID)
	h.mu.Unlock()

	observability.Default.RecordBroadcast(event)
	f := Frame{Event: event, Data: payload}
	for _, member := range members {
		member.send(h.log, f)
	}
}

// BroadcastChange delivers a structural-change event to every member of the
// project room, sender included — this path is triggered by the engine, not
// by a socket, so there is no sender to exclude.
func (h *Hub) BroadcastChange(projectID, event string, payload map[string]any) {
	h.mu.RLock()
	members := h.roomSessionsLocked(projectID, "")
	h.mu.RUnlock()

	observability.Default.RecordBroadcast(event)
	f := Frame{Event: event, Data: payload}
	for _, member := range members {
		member.send(h.log, f)
	}
}

// Publish satisfies the engine's event sink.
func (h *Hub) Publish(projectID, event string, payload map[string]any) {
	h.BroadcastChange(projectID, event, payload)
}

// Collaborators returns the presence of every member of a project room.
func (h *Hub) Collaborators(projectID string) []datatypes.Collaborator {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.collaboratorsLocked(projectID, "")
}

// collaboratorsLocked snapshots presence for a room, skipping exceptID.
// Caller holds h.mu. Returns an empty slice, not nil, so the list event
// serializes as [].
func (h *Hub) collaboratorsLocked(projectID, exceptID string) []datatypes.Collaborator {
	out := []datatypes.Collaborator{}
	for connID := range h.rooms[projectID] {
		if connID == exceptID {
			continue
		}
		if s, ok := h.sessions[connID]; ok {
			out = append(out, s.presence)
		}
	}
	return out
}

// roomSessionsLocked snapshots the sessions of a room, skipping exceptID.
// Caller holds h.mu.
func (h *Hub) roomSessionsLocked(projectID, exceptID string) []*session {
	var out []*session
	for connID := range h.rooms[projectID] {
		if connID == exceptID {
			continue
		}
		if s, ok := h.sessions[connID]; ok {
			out = append(out, s)
		}
	}
	return out
}

// palette is the fixed set of cursor colors.
var palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8",
	"#F7DC6F", "#BB8FCE", "#85C1E2", "#F8B739", "#52B788",
}

// ColorForUser derives a stable cursor color from a user id, so the same
// user gets the same color on every connection and every node.
func ColorForUser(userID string) string {
	var hash int32
	for _, r := range userID {
		hash = r + ((hash << 5) - hash)
	}
	return palette[int(uint32(hash))%len(palette)]
}
