// Package jsontime provides time types with compact JSON and YAML encodings
// for wire messages, journals and configuration files.
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

// IsZero reports whether ep represents the zero time instant.
func (ep Milli) IsZero() bool {
	return time.Time(ep).IsZero()
}

// Sub returns the duration ep-t.
func (ep Milli) Sub(t Milli) time.Duration {
	return time.Time(ep).Sub(time.Time(t))
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

// MarshalBinary implements encoding.BinaryMarshaler, used by binary codecs
// such as msgpack.
func (ep Milli) MarshalBinary() ([]byte, error) {
	return time.Time(ep).MarshalBinary()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (ep *Milli) UnmarshalBinary(b []byte) error {
	var t time.Time
	if err := t.UnmarshalBinary(b); err != nil {
		return err
	}
	*ep = Milli(t)
	return nil
}
