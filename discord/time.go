package discord

import (
	"strconv"
	"time"
)

// Milliseconds is a duration sent over the wire as an integer number of
// milliseconds. The voice gateway uses floats for some of these, so both are
// accepted when decoding.
type Milliseconds float64

func DurationToMilliseconds(dura time.Duration) Milliseconds {
	return Milliseconds(dura.Seconds() * 1000)
}

func (ms Milliseconds) String() string {
	return ms.Duration().String()
}

func (ms Milliseconds) Duration() time.Duration {
	return time.Duration(float64(ms) * float64(time.Millisecond))
}

func (ms Milliseconds) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(ms), 'f', -1, 64)), nil
}
