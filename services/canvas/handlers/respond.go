// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the Gin handlers for the canvas HTTP surface.
//
// Handlers are thin: bind and sanitize the request, call one engine
// operation, translate the result. All domain decisions live in the engine;
// all status-code mapping lives in respondError.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/WebraApp/WebraCanvas/pkg/validation"
	"github.com/WebraApp/WebraCanvas/services/canvas/engine"
)

// respondError maps an engine error onto an HTTP status. Domain errors
// carry a client-safe message; anything else is logged and reported as a
// bare 500 so internals never leak.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("canvas operation failed",
			"path", c.FullPath(),
			"method", c.Request.Method,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// sessionID returns the caller's change-log session key from the
// X-Session-Id header, or mints a fresh one when the header is absent or
// unusable. Undo scoping only works across requests that send the header.
func sessionID(c *gin.Context) string {
	if raw := c.GetHeader("X-Session-Id"); raw != "" {
		if id, err := validation.SanitizeSessionID(raw); err == nil {
			return id
		}
	}
	return uuid.NewString()
}
