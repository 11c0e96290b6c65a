// Package deck holds the presentation session model: the command vocabulary,
// the single authoritative presentation state, and the deltas broadcast to
// clients after each accepted command.
package deck

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/deckd/deckd/pkg/jsontime"
	"github.com/deckd/deckd/pkg/modality"
)

// CommandType enumerates the fused, arbitration-resolved intents that can be
// applied to the presentation.
type CommandType int

const (
	CommandUnknown CommandType = iota
	CommandOpen
	CommandNextSlide
	CommandPrevSlide
	CommandJumpTo
	CommandAnnotate
	CommandAskModel
	CommandAnswer
	CommandCancelQuery
	CommandExpireQuery
	CommandIdle
)

// String returns the string representation of the command type.
func (ct CommandType) String() string {
	switch ct {
	case CommandOpen:
		return "open"
	case CommandNextSlide:
		return "next_slide"
	case CommandPrevSlide:
		return "prev_slide"
	case CommandJumpTo:
		return "jump_to"
	case CommandAnnotate:
		return "annotate"
	case CommandAskModel:
		return "ask_model"
	case CommandAnswer:
		return "answer"
	case CommandCancelQuery:
		return "cancel_query"
	case CommandExpireQuery:
		return "expire_query"
	case CommandIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Navigation reports whether the command moves the current slide.
// Navigation commands are the ones suppressed while a question is pending.
func (ct CommandType) Navigation() bool {
	switch ct {
	case CommandOpen, CommandNextSlide, CommandPrevSlide, CommandJumpTo:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (ct CommandType) MarshalJSON() ([]byte, error) {
	return json.Marshal(ct.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (ct *CommandType) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "open":
		*ct = CommandOpen
	case "next_slide":
		*ct = CommandNextSlide
	case "prev_slide":
		*ct = CommandPrevSlide
	case "jump_to":
		*ct = CommandJumpTo
	case "annotate":
		*ct = CommandAnnotate
	case "ask_model":
		*ct = CommandAskModel
	case "answer":
		*ct = CommandAnswer
	case "cancel_query":
		*ct = CommandCancelQuery
	case "expire_query":
		*ct = CommandExpireQuery
	case "idle":
		*ct = CommandIdle
	default:
		*ct = CommandUnknown
	}
	return nil
}

// Args carries the optional parameters of a command.
type Args struct {
	// Slide is the zero-based target for jump_to.
	Slide int `json:"slide,omitempty"`

	// Prompt is the question text for ask_model.
	Prompt string `json:"prompt,omitempty"`

	// Object is the tag being highlighted for annotate.
	Object string `json:"object,omitempty"`

	// Text is the answer text for answer commands.
	Text string `json:"text,omitempty"`
}

// Command is the fused intent to act on the presentation. It is produced
// exactly once per accepted intent by the fusion engine and consumed exactly
// once by the dispatcher.
type Command struct {
	ID       string          `json:"id"`
	Type     CommandType     `json:"type"`
	Args     Args            `json:"args,omitempty"`
	Source   modality.Source `json:"source"`
	Origins  []string        `json:"originating_event_ids,omitempty"`
	IssuedAt jsontime.Milli  `json:"issued_at"`
}

// NewCommand creates a command stamped with a fresh ID and the current time.
func NewCommand(ct CommandType, source modality.Source, origins ...string) *Command {
	return &Command{
		ID:       uuid.New().String(),
		Type:     ct,
		Source:   source,
		Origins:  origins,
		IssuedAt: jsontime.NowEpochMilli(),
	}
}
