// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
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
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/workcheck/pkg/logging"
	"github.com/AleutianAI/workcheck/pkg/phone"
	"github.com/AleutianAI/workcheck/services/chatbot/engine"
	"github.com/AleutianAI/workcheck/services/chatbot/gateway"
	"github.com/AleutianAI/workcheck/services/chatbot/routes"
	"github.com/AleutianAI/workcheck/services/chatbot/session"
	"github.com/AleutianAI/workcheck/services/chatbot/tenant"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "workcheck-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("chatbot-service")))
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

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	port := envOr("CHATBOT_PORT", "12230")
	dataDir := envOr("WORKCHECK_DATA_DIR", "/data/workcheck")

	appLogger, err := logging.New(logging.Config{
		Service: "chatbot",
		LogDir:  os.Getenv("WORKCHECK_LOG_DIR"),
	})
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer appLogger.Close()
	logger := appLogger.Slog()
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	// --- Session store ---
	ttl := session.DefaultTTL
	if raw := os.Getenv("SESSION_TTL_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			log.Fatalf("invalid SESSION_TTL_SECONDS %q", raw)
		}
		ttl = time.Duration(secs) * time.Second
	}
	sessions, err := session.Open(session.Config{
		Path:       filepath.Join(dataDir, "sessions"),
		TTL:        ttl,
		GCInterval: 10 * time.Minute,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer sessions.Close()

	// --- Tenant directory + resolver ---
	dir, err := tenant.OpenDirectory(filepath.Join(dataDir, "main.db"))
	if err != nil {
		log.Fatalf("failed to open directory store: %v", err)
	}
	defer dir.Close()

	resolver := tenant.NewResolver(dir, tenant.ResolverConfig{
		DataDir:       dataDir,
		SweepInterval: time.Minute,
		Logger:        logger,
	})
	defer resolver.Close()

	// --- Outbound gateway ---
	gw, err := gateway.NewClient(gateway.Config{
		BaseURL: os.Getenv("GUPSHUP_BASE_URL"),
		APIKey:  os.Getenv("GUPSHUP_API_KEY"),
		Source:  os.Getenv("GUPSHUP_SOURCE"),
		AppName: envOr("GUPSHUP_APP_NAME", "workcheck"),
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to configure messaging gateway: %v", err)
	}

	// --- Conversation engine ---
	eng, err := engine.New(engine.Config{
		Sessions:         sessions,
		Resolver:         resolver,
		Directory:        dir,
		Gateway:          gw,
		UploadDir:        filepath.Join(dataDir, "uploads"),
		AssignTemplateID: os.Getenv("TEMPLATE_TASK_ASSIGNED"),
		CountryCode:      envOr("COUNTRY_CODE", phone.DefaultCountryCode),
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("failed to build conversation engine: %v", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("chatbot-service"))

	routes.SetupRoutes(router, eng, resolver, dir, logger)

	log.Println("Starting the chatbot server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
