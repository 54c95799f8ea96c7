// Package jsontime provides JSON and YAML encodings for the time values
// carried by transcript events.
package jsontime

import (
	"encoding/json"
	"time"
)

// Milli is a wall-clock instant encoded as Unix milliseconds.
type Milli time.Time

// NowMilli returns the current time truncated to milliseconds, so it
// survives an encode and decode unchanged.
func NowMilli() Milli {
	return Milli(time.UnixMilli(time.Now().UnixMilli()))
}

// Time returns the instant as a time.Time.
func (m Milli) Time() time.Time { return time.Time(m) }

// IsZero reports whether m is the zero instant.
func (m Milli) IsZero() bool { return time.Time(m).IsZero() }

func (m Milli) String() string {
	return time.Time(m).Format(time.RFC3339Nano)
}

// MarshalJSON encodes m as an integer; the zero instant encodes as 0.
func (m Milli) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.unixMilli())
}

// UnmarshalJSON accepts an integer number of milliseconds. null and 0
// leave the zero instant.
func (m *Milli) UnmarshalJSON(b []byte) error {
	var ms *int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	m.setUnixMilli(ms)
	return nil
}

// MarshalYAML encodes m the same way as MarshalJSON.
func (m Milli) MarshalYAML() (any, error) {
	return m.unixMilli(), nil
}

func (m Milli) unixMilli() int64 {
	if m.IsZero() {
		return 0
	}
	return time.Time(m).UnixMilli()
}

func (m *Milli) setUnixMilli(ms *int64) {
	if ms == nil || *ms == 0 {
		*m = Milli{}
		return
	}
	*m = Milli(time.UnixMilli(*ms))
}
