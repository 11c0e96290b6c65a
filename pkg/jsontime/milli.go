// Package jsontime provides JSON-serializable time types used on the wire
// between the orchestrator, the external servers, and browser clients.
package jsontime

import (
	"encoding/json"
	"time"
)

// Milli is a time.Time that serializes to/from Unix milliseconds in JSON.
type Milli time.Time

// NowEpochMilli returns the current time as Milli.
func NowEpochMilli() Milli {
	return Milli(time.Now())
}

// Time returns the underlying time.Time value.
func (ep Milli) Time() time.Time {
	return time.Time(ep)
}

// Before reports whether ep is before t.
func (ep Milli) Before(t Milli) bool {
	return time.Time(ep).Before(time.Time(t))
}

// After reports whether ep is after t.
func (ep Milli) After(t Milli) bool {
	return time.Time(ep).After(time.Time(t))
}

// Sub returns the duration ep-t.
func (ep Milli) Sub(t Milli) time.Duration {
	return time.Time(ep).Sub(time.Time(t))
}

// IsZero reports whether ep represents the zero time instant.
func (ep Milli) IsZero() bool {
	return time.Time(ep).IsZero()
}

// String returns the time formatted as a string.
func (ep Milli) String() string {
	return time.Time(ep).String()
}

// UnmarshalJSON implements json.Unmarshaler.
func (ep *Milli) UnmarshalJSON(b []byte) error {
	var t int64
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	*ep = Milli(time.UnixMilli(t))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (ep Milli) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(ep).UnixMilli())
}
