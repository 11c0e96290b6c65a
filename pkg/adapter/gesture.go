package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deckd/deckd/pkg/modality"
)

// Gesture streams classified hand-gesture events from the gesture server.
//
// Accepted frames: the perception-agent envelope
// {"source":"gesture","content":"next"} and the classifier-native
// {"gesture":"fast_swipe_up","score":0.92}.
type Gesture struct {
	*wsStream
}

// NewGesture connects to the gesture server at url.
func NewGesture(ctx context.Context, url string, opts ...Option) *Gesture {
	return &Gesture{
		wsStream: newWSStream(ctx, modality.SourceGesture, url, parseGestureFrame, buildOptions(opts)),
	}
}

func parseGestureFrame(data []byte) (*modality.Event, error) {
	var frame struct {
		Source  string   `json:"source"`
		Content string   `json:"content"`
		Gesture string   `json:"gesture"`
		Score   *float64 `json:"score"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("adapter: gesture frame: %w", err)
	}

	name := frame.Content
	if name == "" {
		name = frame.Gesture
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, nil
	}

	// A classified gesture is a deliberate signal; full confidence unless
	// the classifier reports its own score.
	conf := 1.0
	if frame.Score != nil {
		conf = *frame.Score
	}
	return modality.NewEvent(modality.SourceGesture, modality.KindGesture, name, conf), nil
}
