package adapter

import (
	"reflect"
	"testing"

	"github.com/deckd/deckd/pkg/modality"
)

func TestParseAudioFrameEnvelope(t *testing.T) {
	ev, err := parseAudioFrame([]byte(`{"source":"audio_stt","content":"next slide","confidence":0.87,"final":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != modality.KindTranscriptFinal || ev.Payload != "next slide" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Confidence != 0.87 {
		t.Fatalf("confidence = %v", ev.Confidence)
	}
}

func TestParseAudioFrameEnvelopePartial(t *testing.T) {
	ev, err := parseAudioFrame([]byte(`{"source":"audio_stt","content":"next sl","final":false}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != modality.KindTranscriptPartial {
		t.Fatalf("kind = %s", ev.Kind)
	}
}

func TestParseAudioFrameVosk(t *testing.T) {
	ev, err := parseAudioFrame([]byte(`{"partial":"go to sl"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != modality.KindTranscriptPartial || ev.Payload != "go to sl" {
		t.Fatalf("event = %+v", ev)
	}

	ev, err = parseAudioFrame([]byte(`{"text":"go to slide five"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != modality.KindTranscriptFinal || ev.Payload != "go to slide five" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Confidence != confTranscriptFinal {
		t.Fatalf("confidence = %v", ev.Confidence)
	}
}

func TestParseAudioFrameEmpty(t *testing.T) {
	for _, raw := range []string{`{}`, `{"partial":""}`, `{"text":"   "}`} {
		ev, err := parseAudioFrame([]byte(raw))
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if ev != nil {
			t.Fatalf("%s: expected skip, got %+v", raw, ev)
		}
	}
}

func TestParseAudioFrameMalformed(t *testing.T) {
	if _, err := parseAudioFrame([]byte(`not json`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseGestureFrameEnvelope(t *testing.T) {
	ev, err := parseGestureFrame([]byte(`{"source":"gesture","content":"next"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != modality.KindGesture || ev.Payload != "next" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Confidence != 1.0 {
		t.Fatalf("confidence = %v", ev.Confidence)
	}
}

func TestParseGestureFrameClassifier(t *testing.T) {
	ev, err := parseGestureFrame([]byte(`{"gesture":"FAST_SWIPE_UP","score":0.92}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Payload != "fast_swipe_up" {
		t.Fatalf("payload = %q", ev.Payload)
	}
	if ev.Confidence != 0.92 {
		t.Fatalf("confidence = %v", ev.Confidence)
	}
}

func TestParseGestureFrameEmpty(t *testing.T) {
	ev, err := parseGestureFrame([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev != nil {
		t.Fatalf("expected skip, got %+v", ev)
	}
}

func TestParseSceneTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"clean json", `["person","bottle"]`, []string{"person", "bottle"}},
		{"trailing comma", `["person","bottle",]`, []string{"person", "bottle"}},
		{"single quotes", `['person','bottle']`, []string{"person", "bottle"}},
		{"fenced", "```json\n[\"person\"]\n```", []string{"person"}},
		{"bare list", `person, bottle, laptop`, []string{"person", "bottle", "laptop"}},
		{"empty", ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSceneTags(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parseSceneTags(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
