package domain

import (
	"fmt"
	"strconv"
)

// Marker is the server-assigned change marker certifying how fresh a
// card snapshot is. It is a monotonic nanosecond timestamp and travels
// on the wire as a decimal string. The zero value doubles as the move
// failure sentinel.
type Marker int64

// MarkerZero is the unset marker and the wire failure sentinel ("0").
const MarkerZero Marker = 0

// ParseMarker parses the wire representation of a marker.
func ParseMarker(s string) (Marker, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return MarkerZero, fmt.Errorf("invalid change marker %q", s)
	}
	return Marker(n), nil
}

func (m Marker) String() string {
	return strconv.FormatInt(int64(m), 10)
}

// MarshalJSON renders the marker as its wire string.
func (m Marker) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both the quoted wire form and a bare number.
func (m *Marker) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseMarker(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// After reports whether m is strictly newer than other.
func (m Marker) After(other Marker) bool {
	return m > other
}

// IsZero reports whether the marker is unset (or the failure sentinel).
func (m Marker) IsZero() bool {
	return m == MarkerZero
}
