// Package telemetry installs the OpenTelemetry providers: a tracer provider
// exporting to stdout or an OTLP collector, and a meter provider whose
// instruments are exposed through the service's Prometheus registry.
package telemetry
