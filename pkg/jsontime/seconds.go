package jsontime

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Seconds is a time.Duration that serializes as a number of seconds with
// millisecond precision (1.25). Unmarshaling also accepts a duration
// string ("1.25s").
type Seconds time.Duration

// Duration returns the underlying time.Duration value.
func (d Seconds) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration formatted as a string.
func (d Seconds) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Seconds) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(d.seconds(), 'f', -1, 64)), nil
}

// MarshalYAML encodes d as seconds, like MarshalJSON.
func (d Seconds) MarshalYAML() (any, error) {
	return d.seconds(), nil
}

func (d Seconds) seconds() float64 {
	return float64(time.Duration(d).Milliseconds()) / 1000
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Seconds) UnmarshalJSON(b []byte) error {
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
		*d = Seconds(dur)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*d = Seconds(time.Duration(math.Round(f * 1000)) * time.Millisecond)
	return nil
}
