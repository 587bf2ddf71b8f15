// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
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

	"github.com/queryline/queryline/services/engines"
	"github.com/queryline/queryline/services/llm"
	"github.com/queryline/queryline/services/orchestrator/config"
	"github.com/queryline/queryline/services/orchestrator/datatypes"
	"github.com/queryline/queryline/services/orchestrator/dispatch"
	"github.com/queryline/queryline/services/orchestrator/evidence"
	"github.com/queryline/queryline/services/orchestrator/middleware"
	"github.com/queryline/queryline/services/orchestrator/observability"
	"github.com/queryline/queryline/services/orchestrator/planner"
	"github.com/queryline/queryline/services/orchestrator/routes"
	"github.com/queryline/queryline/services/orchestrator/sqlguard"
	"github.com/queryline/queryline/services/orchestrator/stream"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("queryline-orchestrator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func buildLLMClient(cfg config.Config) (llm.LLMClient, error) {
	switch cfg.LLMBackend {
	case "openai":
		slog.Info("Using OpenAI-compatible LLM backend")
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	case "claude", "anthropic":
		slog.Info("Using Anthropic (Claude) LLM backend")
		return llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.LLMTimeout)
	default:
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.LLMTimeout)
	}
}

func main() {
	cfg := config.FromEnv()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, trace export disabled")
	}

	metrics := observability.InitMetrics()

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	guard := sqlguard.New(sqlguard.Config{
		DefaultLimit: cfg.DefaultRowLimit,
		TablePrefix:  cfg.TablePrefix,
	})

	deps := dispatch.Dependencies{
		LLM:     llmClient,
		Guard:   guard,
		Deriver: evidence.NewDeriver(guard),
		Planner: planner.New(llmClient, guard, planner.Config{}),
	}

	if cfg.TabularDSN != "" {
		tabular, err := engines.NewPostgresClient(cfg.TabularDSN, cfg.QueryTimeout)
		if err != nil {
			log.Fatalf("Failed to connect the tabular engine: %v", err)
		}
		defer func() { _ = tabular.Close() }()
		deps.Tabular = tabular
		deps.Schemas = dispatch.SchemaFunc(func(ctx context.Context) (datatypes.Schema, error) {
			return tabular.IntrospectSchema(ctx, cfg.TablePrefix)
		})
		slog.Info("Tabular engine configured", "prefix", cfg.TablePrefix)
	} else {
		slog.Info("TABULAR_DSN not set, SQL strategies disabled")
	}

	if cfg.GraphBaseURL != "" {
		graph, err := engines.NewHTTPGraphClient(cfg.GraphBaseURL, cfg.GraphTimeout)
		if err != nil {
			log.Fatalf("Failed to configure the graph engine: %v", err)
		}
		deps.Graph = graph
	} else {
		slog.Info("GRAPH_ENGINE_URL not set, graph mode disabled")
	}

	dispatcher := dispatch.New(dispatch.Config{
		SQLCommandPrefix: cfg.SQLCommandPrefix,
		MaxPlanSteps:     cfg.MaxPlanSteps,
		EvidenceLimit:    cfg.EvidenceRowLimit,
		HistoryMessages:  cfg.HistoryMessages,
	}, deps)

	router := gin.Default()
	router.Use(otelgin.Middleware("queryline-orchestrator"))

	var apiMiddleware []gin.HandlerFunc
	if cfg.APIKey != "" {
		apiMiddleware = append(apiMiddleware, middleware.APIKeyAuth(cfg.APIKey))
		slog.Info("API key auth enabled for /v1 endpoints")
	}
	routes.SetupRoutes(router, dispatcher, stream.NewBridge(dispatcher), metrics, apiMiddleware...)

	log.Println("Starting the orchestrator server on port ", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
