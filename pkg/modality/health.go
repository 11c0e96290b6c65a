package modality

import (
	"encoding/json"

	"github.com/deckd/deckd/pkg/jsontime"
)

// Status is the liveness classification of one input channel.
type Status int

const (
	StatusUnknown Status = iota
	StatusUp
	StatusDegraded
	StatusDown
)

// String returns the string representation of the status.
func (st Status) String() string {
	switch st {
	case StatusUp:
		return "up"
	case StatusDegraded:
		return "degraded"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (st Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(st.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (st *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "up":
		*st = StatusUp
	case "degraded":
		*st = StatusDegraded
	case "down":
		*st = StatusDown
	default:
		*st = StatusUnknown
	}
	return nil
}

// Health is a snapshot of one channel's liveness. It is updated only by the
// owning adapter's liveness check and read everywhere else.
type Health struct {
	Source        Source         `json:"source"`
	LastHeartbeat jsontime.Milli `json:"last_heartbeat"`
	Status        Status         `json:"status"`
}

// Live reports whether events from the channel may enter arbitration at all.
func (h Health) Live() bool {
	return h.Status == StatusUp || h.Status == StatusDegraded
}
