// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/WebraApp/WebraCanvas/services/canvas/cache"
	"github.com/WebraApp/WebraCanvas/services/canvas/engine"
	"github.com/WebraApp/WebraCanvas/services/canvas/store"
)

// HandleHealth reports liveness and backend reachability. The store is the
// hard dependency: if it is down the service is down. The cache is
// advisory; a broken cache degrades latency, not availability, so it only
// flips the "cache" field, never the status code.
func HandleHealth(st store.Store, c *cache.Cache) gin.HandlerFunc {
	return func(gc *gin.Context) {
		status := http.StatusOK
		body := gin.H{
			"status": "ok",
			"store":  "ok",
			"cache":  "disabled",
		}

		if err := st.Ping(gc.Request.Context()); err != nil {
			slog.Error("health check: store unreachable", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = "unreachable"
		}

		if c.Enabled() {
			if c.Ping(gc.Request.Context()) {
				body["cache"] = "ok"
			} else {
				body["cache"] = "unreachable"
			}
		}

		gc.JSON(status, body)
	}
}

// HandleSweepLocks is the admin trigger for an immediate expired-lock
// sweep, the same pass the background sweeper runs on its interval.
func HandleSweepLocks(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		swept, err := eng.SweepExpiredLocks(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"swept": swept})
	}
}

// HandleFlushCache drops every cached canvas snapshot. Safe at any time:
// the store holds the truth and snapshots repopulate on the next read.
func HandleFlushCache(c *cache.Cache) gin.HandlerFunc {
	return func(gc *gin.Context) {
		c.Flush(gc.Request.Context())
		gc.JSON(http.StatusOK, gin.H{"flushed": true})
	}
}
