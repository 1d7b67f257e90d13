// Package audio handles sample accumulation, energy measurement and WAV encoding.
// It owns the per-session sample buffer and the scratch WAV file that backs
// file-based recognition.
package audio
