// Package vad provides the energy-based silence gate used to segment utterances.
// Each session owns one Gate that counts consecutive quiet frames and signals
// when the configured silence duration has been exceeded.
package vad
