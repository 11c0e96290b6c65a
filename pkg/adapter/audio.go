package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deckd/deckd/pkg/modality"
)

// Default confidences for transcript frames that carry none. Partial
// transcripts are inherently speculative.
const (
	confTranscriptFinal   = 0.9
	confTranscriptPartial = 0.5
)

// Audio streams transcript events from the speech-to-text server.
//
// Two frame schemas are accepted: the perception-agent envelope
// {"source":"audio_stt","content":...} and the recognizer-native
// {"partial":...}/{"text":...} pair emitted by Vosk-style servers.
type Audio struct {
	*wsStream
}

// NewAudio connects to the speech-to-text server at url.
func NewAudio(ctx context.Context, url string, opts ...Option) *Audio {
	return &Audio{
		wsStream: newWSStream(ctx, modality.SourceAudio, url, parseAudioFrame, buildOptions(opts)),
	}
}

func parseAudioFrame(data []byte) (*modality.Event, error) {
	var frame struct {
		Source     string   `json:"source"`
		Content    string   `json:"content"`
		Confidence *float64 `json:"confidence"`
		Final      *bool    `json:"final"`
		Partial    string   `json:"partial"`
		Text       string   `json:"text"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("adapter: audio frame: %w", err)
	}

	kind := modality.KindTranscriptFinal
	conf := confTranscriptFinal
	var text string

	switch {
	case frame.Text != "":
		text = frame.Text
	case frame.Partial != "":
		text = frame.Partial
		kind = modality.KindTranscriptPartial
		conf = confTranscriptPartial
	case frame.Content != "":
		text = frame.Content
		if frame.Final != nil && !*frame.Final {
			kind = modality.KindTranscriptPartial
			conf = confTranscriptPartial
		}
		if frame.Confidence != nil {
			conf = *frame.Confidence
		}
	default:
		// Keepalive or empty recognition result.
		return nil, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return modality.NewEvent(modality.SourceAudio, kind, text, conf), nil
}
