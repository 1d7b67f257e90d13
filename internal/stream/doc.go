// Package stream runs one session per connected client. A session accumulates
// decoded audio since its last extended silence, asks the transcription
// coordinator to recognize the whole buffer after every frame and broadcasts
// the resulting text to all registered listeners.
package stream
