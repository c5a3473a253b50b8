// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/WebraApp/WebraCanvas/pkg/logging"
	"github.com/WebraApp/WebraCanvas/services/canvas/cache"
	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/engine"
	"github.com/WebraApp/WebraCanvas/services/canvas/hub"
	"github.com/WebraApp/WebraCanvas/services/canvas/middleware"
	"github.com/WebraApp/WebraCanvas/services/canvas/observability"
	"github.com/WebraApp/WebraCanvas/services/canvas/routes"
	"github.com/WebraApp/WebraCanvas/services/canvas/store"
	"github.com/WebraApp/WebraCanvas/services/canvas/tasks"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "webra-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("canvas-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	port := os.Getenv("CANVAS_PORT")
	if port == "" {
		port = "12240"
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "canvas",
		JSON:    true,
		LogDir:  os.Getenv("LOG_DIR"),
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	observability.InitMetrics()

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	ctx := context.Background()

	// --- Storage ---
	var st store.Store
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL != "" {
		pg, err := store.Open(ctx, databaseURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to ensure schema: %v", err)
		}
		st = pg
		slog.Info("using postgres store")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data is lost on restart)")
		st = store.NewMemory()
	}
	defer st.Close()

	// --- Cache ---
	redisDB := 0
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			redisDB = parsed
		}
	}
	docCache := cache.New(cache.Config{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
		Enabled:  os.Getenv("REDIS_ADDR") != "",
	})
	if docCache.Enabled() {
		slog.Info("canvas cache enabled", "addr", os.Getenv("REDIS_ADDR"))
	} else {
		slog.Info("canvas cache disabled, reads go straight to the store")
	}

	// --- Realtime hub and engine ---
	h := hub.New()
	eng := engine.New(st, docCache, h)

	// --- Identity ---
	var resolver middleware.Resolver
	if os.Getenv("AUTH_MODE") == "static" {
		slog.Warn("AUTH_MODE=static: every request is authenticated as the dev user")
		devUser := &datatypes.User{ID: "dev-user", Name: "Dev User"}
		resolver = &middleware.StaticResolver{User: devUser}
		// The in-memory store starts empty; seed a project the dev user
		// owns so the canvas endpoints are usable out of the box.
		if mem, ok := st.(*store.Memory); ok {
			mem.AddUser(devUser)
			mem.AddProject(&datatypes.Project{
				ID:      "dev-project",
				OwnerID: devUser.ID,
				Name:    "Dev Project",
			})
			slog.Info("seeded dev project", "projectId", "dev-project")
		}
	} else {
		resolver = &middleware.StoreResolver{Store: st}
	}

	// --- Background lock sweeper ---
	sweepInterval := tasks.DefaultSweepInterval
	if raw := os.Getenv("LOCK_SWEEP_INTERVAL_SECONDS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			sweepInterval = time.Duration(parsed) * time.Second
		}
	}
	sweeper := tasks.NewLockSweeper(eng, sweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	// --- HTTP ---
	routes.RegisterValidators()
	router := gin.Default()
	router.Use(otelgin.Middleware("canvas-service"))
	routes.SetupRoutes(router, st, docCache, eng, h, resolver)

	log.Println("Starting the canvas server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
