// Package transcription serializes access to the speech recognition engine.
// The Coordinator holds a single permit, tries in-memory recognition first and
// falls back to recognizing the session's scratch WAV file. Engines are
// provided for an external command, an HTTP endpoint, the OpenAI API and a
// deterministic mock.
package transcription
