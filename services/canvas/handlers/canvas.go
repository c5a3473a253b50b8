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

// HandleGetCanvas returns the project's canvas as an ordered element tree.
// ?includeHidden=true includes elements flagged hidden.
func HandleGetCanvas(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		includeHidden := c.Query("includeHidden") == "true"

		view, err := eng.GetCanvas(c.Request.Context(), user, c.Param("projectId"), includeHidden)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

type updateStylesRequest struct {
	Styles map[string]any `json:"styles" binding:"required"`
}

// HandleUpdateStyles merge-patches the canvas's global styles.
func HandleUpdateStyles(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateStylesRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		user := middleware.CurrentUser(c)
		result, err := eng.UpdateStyles(c.Request.Context(), user, c.Param("projectId"), req.Styles, sessionID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
