// Package protocol implements the WebSocket wire formats of the caption service.
// It decodes inbound little-endian PCM-16 frames into normalized samples and
// encodes the outbound transcript events sent to every listener.
package protocol
