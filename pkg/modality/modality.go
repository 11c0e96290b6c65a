// Package modality defines the normalized event envelope produced by every
// input adapter, plus the per-channel health types read by the fusion engine.
package modality

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/deckd/deckd/pkg/jsontime"
)

// Source identifies which input channel produced an event.
//
// The numeric order is the arbitration priority ladder: a higher value wins
// a conflict within one fusion window. Manual browser overrides rank above
// gestures, gestures above speech, and passive vision-language output last.
type Source int

const (
	SourceUnknown Source = iota
	SourceVisionLanguage
	SourceAudio
	SourceGesture
	SourceUI
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceVisionLanguage:
		return "vision_vlm"
	case SourceAudio:
		return "audio_stt"
	case SourceGesture:
		return "gesture"
	case SourceUI:
		return "ui"
	default:
		return "unknown"
	}
}

// Priority returns the arbitration rank of the source. Higher wins.
func (s Source) Priority() int {
	return int(s)
}

// MarshalJSON implements json.Marshaler.
func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Source) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "vision_vlm":
		*s = SourceVisionLanguage
	case "audio_stt":
		*s = SourceAudio
	case "gesture":
		*s = SourceGesture
	case "ui":
		*s = SourceUI
	default:
		*s = SourceUnknown
	}
	return nil
}

// Kind classifies the payload of an event within its source.
type Kind int

const (
	KindUnknown Kind = iota
	KindTranscriptPartial
	KindTranscriptFinal
	KindGesture
	KindAnnotation
	KindAnswer
	KindOverride
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTranscriptPartial:
		return "transcript_partial"
	case KindTranscriptFinal:
		return "transcript_final"
	case KindGesture:
		return "gesture"
	case KindAnnotation:
		return "annotation"
	case KindAnswer:
		return "answer"
	case KindOverride:
		return "override"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *Kind) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "transcript_partial":
		*k = KindTranscriptPartial
	case "transcript_final":
		*k = KindTranscriptFinal
	case "gesture":
		*k = KindGesture
	case "annotation":
		*k = KindAnnotation
	case "answer":
		*k = KindAnswer
	case "override":
		*k = KindOverride
	default:
		*k = KindUnknown
	}
	return nil
}

// Event is the normalized envelope handed from an adapter to the fusion
// engine. Events are immutable once created; the adapter owns an event until
// it is handed over, then the fusion engine owns it for the duration of
// arbitration. Events are transient and never persisted.
type Event struct {
	ID         string         `json:"id"`
	Source     Source         `json:"source"`
	Kind       Kind           `json:"kind"`
	Payload    string         `json:"payload"`
	Confidence float64        `json:"confidence"`
	Time       jsontime.Milli `json:"t"`
	Seq        uint64         `json:"seq"`
}

// NewEvent creates an event stamped with a fresh ID and the current time.
// Seq is assigned by the owning adapter.
func NewEvent(source Source, kind Kind, payload string, confidence float64) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Source:     source,
		Kind:       kind,
		Payload:    payload,
		Confidence: confidence,
		Time:       jsontime.NowEpochMilli(),
	}
}
