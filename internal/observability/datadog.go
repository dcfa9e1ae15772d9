// Package observability wires distributed tracing into the copilot.
//
// # Architecture Decision: Datadog Agent Mode
//
// Traces are exported to a local Datadog Agent over OTLP HTTP instead of
// hitting the Datadog intake API directly:
//
//   - The Agent buffers and retries locally, so a flaky uplink never
//     blocks a chat turn
//   - The Agent holds the credentials - DD_API_KEY stays out of the app
//   - localhost roundtrips are cheap compared to the public intake
//   - One agent carries metrics, logs, and traces together
//
// # Prerequisites
//
// A running Datadog Agent with the OTLP receiver enabled. Add to
// datadog.yaml:
//
//	otlp_config:
//	  receiver:
//	    protocols:
//	      http:
//	        endpoint: "localhost:4318"
//	  traces:
//	    enabled: true
//	    span_name_as_resource_name: true
//
// then restart the agent and verify with:
//
//	datadog-agent status | grep -A 5 "OTLP"
//
// # Configuration
//
// Environment variables (optional):
//   - DD_AGENT_HOST: Override agent host (default: localhost:4318)
//   - DD_ENV: Environment tag (default: dev)
//   - DD_SERVICE: Service name (default: supplymind-copilot)
//
// Config file (~/.supplymind-copilot/config.yaml):
//
//	datadog:
//	  agent_host: "localhost:4318"
//	  environment: "dev"
//	  service_name: "supplymind-copilot"
//
// After a run, traces appear under service:supplymind-copilot in APM
// within a minute or two of shutdown (the flush happens on Close).
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config for Datadog OTEL setup.
type Config struct {
	// AgentHost is the Datadog Agent OTLP endpoint (default: localhost:4318)
	AgentHost string
	// Environment is the deployment environment (dev, staging, prod)
	Environment string
	// ServiceName is the service name shown in Datadog APM
	ServiceName string
}

// DefaultAgentHost is the default Datadog Agent OTLP HTTP endpoint.
const DefaultAgentHost = "localhost:4318"

// SetupDatadog registers a Datadog Agent exporter with Genkit's TracerProvider
// so model calls, retrieval, and ingestion spans all land in one trace tree.
//
// Returns a shutdown function that flushes pending spans. A missing or
// unreachable agent degrades to a no-op rather than failing startup: tracing
// is never worth a refused request.
func SetupDatadog(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	agentHost := cfg.AgentHost
	if agentHost == "" {
		agentHost = DefaultAgentHost
	}

	// Genkit's TracerProvider reads service identity from the OTEL env vars.
	// SAFETY: os.Setenv is not concurrent-safe, but setup runs exactly once
	// during startup before any goroutines are spawned.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	// The agent handles authentication and forwarding to the Datadog backend.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(), // localhost doesn't need TLS
	)
	if err != nil {
		slog.Warn("failed to create datadog exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	slog.Debug("datadog tracing enabled",
		"agent", agentHost,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	// A startup span verifies the export pipeline end to end.
	tracer := tracing.TracerProvider().Tracer("copilot-init")
	_, span := tracer.Start(ctx, "copilot.init")
	span.End()

	return tracing.TracerProvider().Shutdown, nil
}
