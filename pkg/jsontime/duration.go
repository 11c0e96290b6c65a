package jsontime

import (
	"encoding/json"
	"time"
)

// Duration is a time.Duration that serializes to/from a string or int64.
// When marshaling, it outputs the duration string (e.g., "300ms").
// When unmarshaling, it accepts either a string or an int64 (nanoseconds).
// It is used for tunable intervals in config files (arbitration window,
// heartbeat interval, ack timeouts).
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		dur, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(dur)
		return nil
	}
	var t int64
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	*d = Duration(time.Duration(t))
	return nil
}

// Duration returns the underlying time.Duration value, or 0 if d is nil.
func (d *Duration) Duration() time.Duration {
	if d == nil {
		return 0
	}
	return time.Duration(*d)
}

// Or returns the underlying duration, or def if d is nil or zero.
func (d *Duration) Or(def time.Duration) time.Duration {
	if d == nil || *d == 0 {
		return def
	}
	return time.Duration(*d)
}

// String returns the duration formatted as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
