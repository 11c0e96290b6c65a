package deck

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrRejected is returned by State.Apply when a command violates a state
// machine invariant (navigating past the last slide, asking a question while
// one is already pending). Rejected commands do not change state and do not
// consume a version.
var ErrRejected = errors.New("deck: command rejected")

// Mode is the interaction mode of the presentation session.
type Mode int

const (
	ModeIdle Mode = iota
	ModePresenting
	ModeQAPending
	ModeAnnotating
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModePresenting:
		return "presenting"
	case ModeQAPending:
		return "qa_pending"
	case ModeAnnotating:
		return "annotating"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Mode) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "idle":
		*m = ModeIdle
	case "presenting":
		*m = ModePresenting
	case "qa_pending":
		*m = ModeQAPending
	case "annotating":
		*m = ModeAnnotating
	default:
		return fmt.Errorf("deck: unknown mode %q", name)
	}
	return nil
}

// State is the single authoritative model of the presentation session.
// There is one mutable instance per session, owned exclusively by the
// dispatcher; every other component reads value-copy snapshots.
type State struct {
	// Slide is the zero-based current slide, always within
	// [0, SlideCount-1] once a deck is open.
	Slide int `json:"current_slide"`

	// SlideCount is the authoritative page count reported by the PDF
	// presenter. Zero until the first ack arrives.
	SlideCount int `json:"slide_count"`

	Mode Mode `json:"mode"`

	// LastCommandID is the ID of the last accepted command.
	LastCommandID string `json:"last_command_id,omitempty"`

	// Version increases by exactly 1 per accepted command.
	Version uint64 `json:"version"`

	// PendingQueryID is the command ID of the outstanding ask_model query
	// while Mode is qa_pending.
	PendingQueryID string `json:"pending_query_id,omitempty"`

	// Annotation is the object tag on screen while Mode is annotating.
	Annotation string `json:"annotation,omitempty"`
}

// Delta is the minimal description of what changed after one accepted
// command. Nil pointer fields did not change.
type Delta struct {
	Version   uint64  `json:"version"`
	CommandID string  `json:"command_id"`
	Slide     *int    `json:"current_slide,omitempty"`
	Count     *int    `json:"slide_count,omitempty"`
	Mode      *Mode   `json:"mode,omitempty"`
	Annot     *string `json:"annotation,omitempty"`

	// Answer carries the vision-language answer text on qa completion.
	Answer string `json:"answer,omitempty"`
}

// Apply validates cmd against the current state and mutates the state if it
// is accepted, returning the resulting delta. On rejection the state is
// untouched and the returned error wraps ErrRejected.
func (s *State) Apply(cmd *Command) (*Delta, error) {
	d := &Delta{CommandID: cmd.ID}

	switch cmd.Type {
	case CommandIdle:
		s.setMode(d, ModeIdle)
		s.clearPending(d)

	case CommandOpen:
		if s.Mode != ModeIdle {
			return nil, fmt.Errorf("%w: open while %s", ErrRejected, s.Mode)
		}
		s.setMode(d, ModePresenting)
		s.setSlide(d, 0)

	case CommandNextSlide:
		if err := s.requireNavigable(); err != nil {
			return nil, err
		}
		if s.SlideCount > 0 && s.Slide >= s.SlideCount-1 {
			return nil, fmt.Errorf("%w: already at last slide %d", ErrRejected, s.Slide)
		}
		s.setSlide(d, s.Slide+1)
		s.leaveAnnotating(d)

	case CommandPrevSlide:
		if err := s.requireNavigable(); err != nil {
			return nil, err
		}
		if s.Slide <= 0 {
			return nil, fmt.Errorf("%w: already at first slide", ErrRejected)
		}
		s.setSlide(d, s.Slide-1)
		s.leaveAnnotating(d)

	case CommandJumpTo:
		if err := s.requireNavigable(); err != nil {
			return nil, err
		}
		target := cmd.Args.Slide
		if target < 0 {
			target = 0
		}
		if s.SlideCount > 0 && target > s.SlideCount-1 {
			target = s.SlideCount - 1
		}
		s.setSlide(d, target)
		s.leaveAnnotating(d)

	case CommandAnnotate:
		if s.Mode != ModePresenting && s.Mode != ModeAnnotating {
			return nil, fmt.Errorf("%w: annotate while %s", ErrRejected, s.Mode)
		}
		s.setMode(d, ModeAnnotating)
		s.setAnnotation(d, cmd.Args.Object)

	case CommandAskModel:
		if s.Mode != ModePresenting {
			return nil, fmt.Errorf("%w: ask_model while %s", ErrRejected, s.Mode)
		}
		s.setMode(d, ModeQAPending)
		s.PendingQueryID = cmd.ID

	case CommandAnswer:
		if s.Mode != ModeQAPending {
			return nil, fmt.Errorf("%w: answer while %s", ErrRejected, s.Mode)
		}
		s.setMode(d, ModePresenting)
		s.clearPending(d)
		d.Answer = cmd.Args.Text

	case CommandCancelQuery, CommandExpireQuery:
		if s.Mode != ModeQAPending {
			return nil, fmt.Errorf("%w: %s while %s", ErrRejected, cmd.Type, s.Mode)
		}
		s.setMode(d, ModePresenting)
		s.clearPending(d)

	default:
		return nil, fmt.Errorf("%w: unknown command type %d", ErrRejected, cmd.Type)
	}

	s.Version++
	s.LastCommandID = cmd.ID
	d.Version = s.Version
	return d, nil
}

// requireNavigable gates slide navigation on the current mode. Navigation
// while a question is pending is rejected so an in-flight query is never
// invalidated by a slide change.
func (s *State) requireNavigable() error {
	switch s.Mode {
	case ModePresenting, ModeAnnotating:
		return nil
	case ModeQAPending:
		return fmt.Errorf("%w: navigation while question pending", ErrRejected)
	default:
		return fmt.Errorf("%w: navigation while %s", ErrRejected, s.Mode)
	}
}

func (s *State) setMode(d *Delta, m Mode) {
	if s.Mode == m {
		return
	}
	s.Mode = m
	d.Mode = &m
}

func (s *State) setSlide(d *Delta, n int) {
	if s.Slide == n {
		return
	}
	s.Slide = n
	d.Slide = &n
}

func (s *State) setAnnotation(d *Delta, a string) {
	if s.Annotation == a {
		return
	}
	s.Annotation = a
	d.Annot = &a
}

// leaveAnnotating returns the mode to presenting when navigation happens
// during annotation, clearing the annotation.
func (s *State) leaveAnnotating(d *Delta) {
	if s.Mode != ModeAnnotating {
		return
	}
	s.setMode(d, ModePresenting)
	s.setAnnotation(d, "")
}

// clearPending drops the outstanding query and any on-screen annotation.
// Callers have already switched the mode, so no mode check here.
func (s *State) clearPending(d *Delta) {
	s.PendingQueryID = ""
	s.setAnnotation(d, "")
}

// Merge applies a delta to a read-side copy of the state. Applying a delta
// at or below the copy's current version is a no-op, which makes
// re-application of an already-acknowledged delta idempotent. Returns true
// if the copy changed.
func (s *State) Merge(d *Delta) bool {
	if d.Version <= s.Version {
		return false
	}
	s.Version = d.Version
	s.LastCommandID = d.CommandID
	if d.Slide != nil {
		s.Slide = *d.Slide
	}
	if d.Count != nil {
		s.SlideCount = *d.Count
	}
	if d.Mode != nil {
		s.Mode = *d.Mode
	}
	if d.Annot != nil {
		s.Annotation = *d.Annot
	}
	return true
}
