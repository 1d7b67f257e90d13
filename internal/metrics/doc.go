// Package metrics defines the Prometheus metrics exported by the caption service.
package metrics
