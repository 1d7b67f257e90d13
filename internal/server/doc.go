// Package server implements the HTTP side of the caption service: the /ws
// WebSocket endpoint that feeds audio frames to stream sessions and receives
// transcript events, the /api monitoring endpoints, Prometheus metrics and
// static serving of the built frontend.
package server
