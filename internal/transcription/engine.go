package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrInMemoryUnsupported is returned by engines that can only read audio files
var ErrInMemoryUnsupported = errors.New("engine does not accept in-memory audio")

// Engine is a speech recognition backend. Implementations are not required to
// be safe for concurrent use; the Coordinator never calls them concurrently.
type Engine interface {
	// RecognizeSamples transcribes normalized mono samples held in memory
	RecognizeSamples(ctx context.Context, samples []float32, sampleRate int) ([]Hypothesis, error)
	// RecognizeFile transcribes a mono PCM-16 WAV file
	RecognizeFile(ctx context.Context, path string) ([]Hypothesis, error)
}

// Hypothesis is one recognition candidate returned by an engine
type Hypothesis struct {
	Text    string
	HasText bool   // false when the engine returned something without a text field
	Raw     string // engine output this hypothesis was parsed from
}

// String returns the text, or the raw engine output when there is no text field
func (h Hypothesis) String() string {
	if h.HasText {
		return h.Text
	}
	return h.Raw
}

// TextHypothesis creates a hypothesis carrying text
func TextHypothesis(text string) Hypothesis {
	return Hypothesis{Text: text, HasText: true, Raw: text}
}

// firstText extracts the text of the first hypothesis
func firstText(hypotheses []Hypothesis) string {
	if len(hypotheses) == 0 {
		return ""
	}
	return hypotheses[0].String()
}

// parseHypotheses accepts {"text": ...}, a JSON array of such objects or
// strings, or plain text.
func parseHypotheses(body []byte) ([]Hypothesis, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '{':
		hypothesis, err := parseObject(trimmed)
		if err != nil {
			return nil, err
		}
		return []Hypothesis{hypothesis}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		hypotheses := make([]Hypothesis, 0, len(items))
		for _, item := range items {
			hypothesis, err := parseItem(item)
			if err != nil {
				return nil, err
			}
			hypotheses = append(hypotheses, hypothesis)
		}
		return hypotheses, nil
	default:
		text := string(trimmed)
		return []Hypothesis{{Raw: text}}, nil
	}
}

func parseItem(item json.RawMessage) (Hypothesis, error) {
	trimmed := bytes.TrimSpace(item)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return parseObject(trimmed)
	}

	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return Hypothesis{Raw: text}, nil
	}
	return Hypothesis{Raw: string(trimmed)}, nil
}

func parseObject(data []byte) (Hypothesis, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Hypothesis{}, err
	}

	raw := string(data)
	value, ok := fields["text"]
	if !ok {
		return Hypothesis{Raw: raw}, nil
	}

	var text string
	if err := json.Unmarshal(value, &text); err != nil {
		// Non-string text field: keep its JSON form
		return Hypothesis{Text: strings.TrimSpace(string(value)), HasText: true, Raw: raw}, nil
	}
	return Hypothesis{Text: text, HasText: true, Raw: raw}, nil
}
