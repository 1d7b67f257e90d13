// Package broadcast fans transcript events out to every live listener.
// Membership is a concurrency-safe set; each broadcast iterates a snapshot and
// prunes listeners whose send fails.
package broadcast
