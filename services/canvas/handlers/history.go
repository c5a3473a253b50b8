// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/WebraApp/WebraCanvas/pkg/validation"
	"github.com/WebraApp/WebraCanvas/services/canvas/engine"
	"github.com/WebraApp/WebraCanvas/services/canvas/middleware"
)

// HandleGetHistory returns the newest change-log entries, newest first.
// ?limit caps the page; the engine clamps it to the service bounds.
func HandleGetHistory(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = parsed
		}

		user := middleware.CurrentUser(c)
		changes, err := eng.History(c.Request.Context(), user, c.Param("projectId"), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"changes": changes})
	}
}

// HandleUndo reverts the newest change. When the request carries an
// X-Session-Id header the undo is scoped to that session's changes;
// otherwise it takes the newest change from anyone. A header that cannot
// be a session key is rejected rather than quietly scoping the undo to a
// session no change row can carry.
func HandleUndo(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Header presence decides scope: no header, no session filter.
		scope := ""
		if raw := c.GetHeader("X-Session-Id"); raw != "" {
			id, err := validation.SanitizeSessionID(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid X-Session-Id header"})
				return
			}
			scope = id
		}

		user := middleware.CurrentUser(c)
		result, err := eng.Undo(c.Request.Context(), user, c.Param("projectId"), scope)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
