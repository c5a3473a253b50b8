// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WebraApp/WebraCanvas/services/canvas/cache"
	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/engine"
	"github.com/WebraApp/WebraCanvas/services/canvas/handlers"
	"github.com/WebraApp/WebraCanvas/services/canvas/hub"
	"github.com/WebraApp/WebraCanvas/services/canvas/middleware"
	"github.com/WebraApp/WebraCanvas/services/canvas/store"
)

// RegisterValidators installs the custom binding validators. Called once at
// startup before any request binds.
func RegisterValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("elementtype", func(fl validator.FieldLevel) bool {
			return datatypes.ElementType(fl.Field().String()).Valid()
		})
	}
}

// SetupRoutes wires the full HTTP surface of the canvas service.
func SetupRoutes(router *gin.Engine, st store.Store, c *cache.Cache, eng *engine.Engine, h *hub.Hub, resolver middleware.Resolver) {
	router.GET("/health", handlers.HandleHealth(st, c))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(resolver))
	{
		canvas := v1.Group("/canvas/:projectId")
		{
			canvas.GET("", handlers.HandleGetCanvas(eng))
			canvas.PATCH("/styles", handlers.HandleUpdateStyles(eng))
			canvas.GET("/history", handlers.HandleGetHistory(eng))
			canvas.POST("/undo", handlers.HandleUndo(eng))
			canvas.POST("/bulk", handlers.HandleBulkApply(eng))
			canvas.GET("/collaborators", handlers.HandleGetCollaborators(eng, h))
			canvas.GET("/ws", handlers.HandleCanvasWebSocket(eng, h))

			elements := canvas.Group("/elements")
			{
				elements.POST("", handlers.HandleCreateElement(eng))
				elements.PATCH("/:elementId", handlers.HandleUpdateElement(eng))
				elements.DELETE("/:elementId", handlers.HandleDeleteElement(eng))
				elements.POST("/:elementId/lock", handlers.HandleLockElement(eng))
				elements.DELETE("/:elementId/lock", handlers.HandleUnlockElement(eng))
			}
		}

		// Operational endpoints, also behind auth. canvasctl drives these.
		admin := v1.Group("/admin")
		{
			admin.POST("/sweep-locks", handlers.HandleSweepLocks(eng))
			admin.POST("/flush-cache", handlers.HandleFlushCache(c))
		}
	}
}
