// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/WebraApp/WebraCanvas/services/canvas/engine"
	"github.com/WebraApp/WebraCanvas/services/canvas/middleware"
)

// HandleCreateElement adds one element to the canvas.
func HandleCreateElement(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req engine.CreateElementInput
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		user := middleware.CurrentUser(c)
		el, err := eng.CreateElement(c.Request.Context(), user, c.Param("projectId"), &req, sessionID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, el)
	}
}

// HandleUpdateElement applies a partial patch to one element.
func HandleUpdateElement(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req engine.UpdateElementInput
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		user := middleware.CurrentUser(c)
		el, err := eng.UpdateElement(c.Request.Context(), user, c.Param("projectId"), c.Param("elementId"), &req, sessionID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, el)
	}
}

// HandleDeleteElement removes an element and its whole subtree.
func HandleDeleteElement(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		deleted, err := eng.DeleteElement(c.Request.Context(), user, c.Param("projectId"), c.Param("elementId"), sessionID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deletedCount": len(deleted), "deletedIds": deleted})
	}
}

type bulkRequest struct {
	Operations []engine.BulkOperation `json:"operations" binding:"required"`
}

// HandleBulkApply commits a batch of element operations atomically.
func HandleBulkApply(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req bulkRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		user := middleware.CurrentUser(c)
		result, err := eng.BulkApply(c.Request.Context(), user, c.Param("projectId"), req.Operations, sessionID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
