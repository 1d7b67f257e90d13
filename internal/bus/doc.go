// Package bus publishes transcript events to NATS so that consumers other than
// WebSocket clients (recorders, translators, overlays) can follow the captions.
// An embedded NATS server can be started for single-binary deployments.
package bus
