package apmz

import (
	"math"
	"time"

	"github.com/zoobzio/clockz"
)

// TickResolution is the number of nanoseconds in one Tick.
const TickResolution = 100_000

// Tick is the coarse time unit stored by the backend.
type Tick int64

// Number is any numeric type a host environment might hand us as a timestamp.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

// NormalizeTime converts a nanosecond timestamp to ticks.
// Non-integer input is truncated to whole nanoseconds first. NaN and
// infinities become 0 and out-of-range values saturate.
func NormalizeTime[T Number](raw T) Tick {
	return Tick(truncNanos(raw) / TickResolution)
}

func truncNanos[T Number](raw T) int64 {
	one := T(1)
	if one/2 != 0 {
		return floatNanos(float64(raw))
	}
	if raw < 0 {
		return int64(raw)
	}
	if uint64(raw) > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(raw)
}

func floatNanos(f float64) int64 {
	switch {
	case math.IsNaN(f), math.IsInf(f, 0):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(math.Trunc(f))
}

// nanoClock reads nanoseconds elapsed since its origin.
type nanoClock struct {
	clock  clockz.Clock
	origin time.Time
}

func newNanoClock(clock clockz.Clock) nanoClock {
	return nanoClock{clock: clock, origin: clock.Now()}
}

// Nanos returns monotonic nanoseconds since the clock was created.
func (c nanoClock) Nanos() int64 {
	return int64(c.clock.Now().Sub(c.origin))
}
