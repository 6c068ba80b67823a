// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry wires up the runtime's OpenTelemetry tracer and
// metric counters and bundles them into a single value carried through
// context.Context for the lifetime of a run.
package telemetry

import (
	"context"
	"fmt"

	"github.com/mcplane/mcp-runtime/internal/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation bundles the tracer and the named metric counters used
// throughout the runtime. One instance is created per process and threaded
// through context.Context with util.WithInstrumentation.
type Instrumentation struct {
	Tracer trace.Tracer

	// HTTP control-plane counters.
	ToolsetGet metric.Int64Counter
	ToolGet    metric.Int64Counter
	ToolInvoke metric.Int64Counter

	// MCP endpoint counters.
	McpSse  metric.Int64Counter
	McpPost metric.Int64Counter

	// Registry, notification hub and async pipeline counters.
	RegistryRegister   metric.Int64Counter
	RegistryUnregister metric.Int64Counter
	NotifyDelivered    metric.Int64Counter
	NotifyDropped      metric.Int64Counter
	AsyncSubmitted     metric.Int64Counter
	AsyncCompleted     metric.Int64Counter
	AsyncRetried       metric.Int64Counter
}

// CreateTelemetryInstrumentation builds an Instrumentation using whatever
// global tracer/meter providers are currently installed (set by SetupOTel,
// or the otel no-op defaults in tests).
func CreateTelemetryInstrumentation(version string) (*Instrumentation, error) {
	tracer := otel.Tracer("github.com/mcplane/mcp-runtime", trace.WithInstrumentationVersion(version))
	meter := otel.Meter("github.com/mcplane/mcp-runtime", metric.WithInstrumentationVersion(version))

	toolsetGet, err := meter.Int64Counter("toolbox.server.toolset.get.count", metric.WithDescription("Number of toolset get requests"))
	if err != nil {
		return nil, fmt.Errorf("unable to create toolset get counter: %w", err)
	}
	toolGet, err := meter.Int64Counter("toolbox.server.tool.get.count", metric.WithDescription("Number of tool get requests"))
	if err != nil {
		return nil, fmt.Errorf("unable to create tool get counter: %w", err)
	}
	toolInvoke, err := meter.Int64Counter("toolbox.server.tool.invoke.count", metric.WithDescription("Number of tool invocations"))
	if err != nil {
		return nil, fmt.Errorf("unable to create tool invoke counter: %w", err)
	}
	mcpSse, err := meter.Int64Counter("toolbox.server.mcp.sse.count", metric.WithDescription("Number of MCP SSE connections"))
	if err != nil {
		return nil, fmt.Errorf("unable to create mcp sse counter: %w", err)
	}
	mcpPost, err := meter.Int64Counter("toolbox.server.mcp.post.count", metric.WithDescription("Number of MCP JSON-RPC requests"))
	if err != nil {
		return nil, fmt.Errorf("unable to create mcp post counter: %w", err)
	}
	registryRegister, err := meter.Int64Counter("toolbox.registry.register.count", metric.WithDescription("Number of components registered"))
	if err != nil {
		return nil, fmt.Errorf("unable to create registry register counter: %w", err)
	}
	registryUnregister, err := meter.Int64Counter("toolbox.registry.unregister.count", metric.WithDescription("Number of components unregistered"))
	if err != nil {
		return nil, fmt.Errorf("unable to create registry unregister counter: %w", err)
	}
	notifyDelivered, err := meter.Int64Counter("toolbox.notify.delivered.count", metric.WithDescription("Number of notifications delivered"))
	if err != nil {
		return nil, fmt.Errorf("unable to create notify delivered counter: %w", err)
	}
	notifyDropped, err := meter.Int64Counter("toolbox.notify.dropped.count", metric.WithDescription("Number of notifications dropped"))
	if err != nil {
		return nil, fmt.Errorf("unable to create notify dropped counter: %w", err)
	}
	asyncSubmitted, err := meter.Int64Counter("toolbox.async.submitted.count", metric.WithDescription("Number of async jobs submitted"))
	if err != nil {
		return nil, fmt.Errorf("unable to create async submitted counter: %w", err)
	}
	asyncCompleted, err := meter.Int64Counter("toolbox.async.completed.count", metric.WithDescription("Number of async jobs completed"))
	if err != nil {
		return nil, fmt.Errorf("unable to create async completed counter: %w", err)
	}
	asyncRetried, err := meter.Int64Counter("toolbox.async.retried.count", metric.WithDescription("Number of async job retries"))
	if err != nil {
		return nil, fmt.Errorf("unable to create async retried counter: %w", err)
	}

	return &Instrumentation{
		Tracer:             tracer,
		ToolsetGet:         toolsetGet,
		ToolGet:            toolGet,
		ToolInvoke:         toolInvoke,
		McpSse:             mcpSse,
		McpPost:            mcpPost,
		RegistryRegister:   registryRegister,
		RegistryUnregister: registryUnregister,
		NotifyDelivered:    notifyDelivered,
		NotifyDropped:      notifyDropped,
		AsyncSubmitted:     asyncSubmitted,
		AsyncCompleted:     asyncCompleted,
		AsyncRetried:       asyncRetried,
	}, nil
}

// EventListener returns an events.Listener that increments the matching
// counter for each event.Type the bus fans out, so registering it with an
// events.Bus is all a caller needs to do to keep the two metric surfaces
// (explicit counter increments at call sites, and events emitted from the
// registry/notification hub/async pipeline) in sync.
func (i *Instrumentation) EventListener() events.Listener {
	return events.ListenerFunc(func(ctx context.Context, ev events.Event) {
		switch ev.Type {
		case events.ComponentRegistered:
			i.RegistryRegister.Add(ctx, 1)
		case events.ComponentUnregistered:
			i.RegistryUnregister.Add(ctx, 1)
		case events.NotificationDelivered:
			i.NotifyDelivered.Add(ctx, 1)
		case events.NotificationFailed:
			i.NotifyDropped.Add(ctx, 1)
		case events.AsyncJobCompleted:
			i.AsyncCompleted.Add(ctx, 1)
		case events.AsyncJobFailed:
			i.AsyncRetried.Add(ctx, 1)
		}
	})
}

// SetupOTel installs the global TracerProvider and MeterProvider for the
// process, always with stdout exporters; otlpEndpoint and gcpEnabled are
// accepted but do not change the exporters. It returns a shutdown function
// that flushes and stops both providers.
func SetupOTel(ctx context.Context, version, otlpEndpoint string, gcpEnabled bool, serviceName string) (func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create otel resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("unable to create stdout trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("unable to create stdout metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	// otlpEndpoint and gcpEnabled are not used: the stdout exporters stay
	// wired so telemetry is visible in local and CI runs regardless of
	// whether an external collector is configured.
	_ = otlpEndpoint
	_ = gcpEnabled

	return func(shutdownCtx context.Context) error {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("unable to shut down tracer provider: %w", err)
		}
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("unable to shut down meter provider: %w", err)
		}
		return nil
	}, nil
}
