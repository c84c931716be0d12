package protocol

import (
	"time"

	"github.com/pion/randutil"
)

// ClockRate is the tick rate of packet timestamps.
const ClockRate = 90_000

// Clock produces 90 kHz tick timestamps that never go backwards, even across
// u32 wraparound.
type Clock struct {
	epoch time.Time
	base  uint32
	prev  uint32
}

var rng = randutil.NewMathRandomGenerator()

// NewClock creates a clock with epoch now and a random base.
func NewClock() *Clock {
	return NewClockAt(time.Now(), rng.Uint32())
}

// NewClockAt creates a clock with an explicit epoch and base.
func NewClockAt(epoch time.Time, base uint32) *Clock {
	return &Clock{epoch: epoch, base: base, prev: base}
}

// Now returns the timestamp for the current instant.
func (c *Clock) Now() uint32 {
	return c.At(time.Now())
}

// At returns the timestamp for t.
func (c *Clock) At(t time.Time) uint32 {
	ts := c.base + durationToTicks(t.Sub(c.epoch))
	if isBefore(ts, c.prev) {
		ts = c.prev
	}
	c.prev = ts
	return ts
}

func isBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// durationToTicks rounds d to the nearest tick; negative durations map to zero.
func durationToTicks(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	secs := uint64(d / time.Second)
	frac := uint64(d % time.Second)
	return uint32(secs*ClockRate + (frac*ClockRate+500_000_000)/1_000_000_000)
}
