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

	"github.com/WebraApp/WebraCanvas/pkg/validation"
	"github.com/WebraApp/WebraCanvas/services/canvas/engine"
	"github.com/WebraApp/WebraCanvas/services/canvas/middleware"
)

type lockRequest struct {
	// Duration of the lease in milliseconds. Zero or absent means the
	// service default.
	Duration int `json:"duration"`
}

// HandleLockElement takes the exclusive edit lease on an element. An empty
// body is accepted and means the default lease length.
func HandleLockElement(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req lockRequest
		if c.Request.ContentLength > 0 {
			if err := c.BindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}
		if err := validation.ValidateLockDuration(req.Duration); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user := middleware.CurrentUser(c)
		lock, err := eng.LockElement(c.Request.Context(), user, c.Param("projectId"), c.Param("elementId"), req.Duration)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, lock)
	}
}

// HandleUnlockElement releases the caller's lease. Releasing an absent or
// expired lock succeeds.
func HandleUnlockElement(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if err := eng.UnlockElement(c.Request.Context(), user, c.Param("projectId"), c.Param("elementId")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"unlocked": true})
	}
}
