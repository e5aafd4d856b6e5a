package jsontime

import (
	"encoding/json"
	"time"
)

// Micro is an instant stored as microseconds since the Unix epoch, the unit
// modem timing deadlines are expressed in. It serializes as an integer.
type Micro int64

// FromTime converts t to Micro.
func FromTime(t time.Time) Micro {
	return Micro(t.Unix()*1_000_000 + int64(t.Nanosecond())/1000)
}

// Time returns the instant as a time.Time.
func (m Micro) Time() time.Time {
	return time.UnixMicro(int64(m))
}

// Until returns the duration from now until m.
func (m Micro) Until(now time.Time) time.Duration {
	return m.Time().Sub(now)
}

// String formats the instant in RFC 3339 with microseconds.
func (m Micro) String() string {
	return m.Time().UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}

// MarshalJSON implements json.Marshaler.
func (m Micro) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(m))
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Micro) UnmarshalJSON(b []byte) error {
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Micro(v)
	return nil
}
