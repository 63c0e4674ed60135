package server

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

type tickerFactory func(time.Duration) (<-chan time.Time, func())

type timeSource func() time.Time

func defaultTickerFactory() tickerFactory {
	return func(d time.Duration) (<-chan time.Time, func()) {
		ticker := time.NewTicker(d)
		return ticker.C, ticker.Stop
	}
}

// frameClock turns ticker timestamps into frame deltas. Zero, negative or
// oversized gaps are replaced by the nominal tick.
type frameClock struct {
	tick time.Duration
	last time.Time
}

func newFrameClock(tick time.Duration, start time.Time) *frameClock {
	if tick <= 0 {
		tick = 16 * time.Millisecond
	}
	return &frameClock{tick: tick, last: start}
}

func (c *frameClock) advance(now time.Time) time.Duration {
	delta := now.Sub(c.last)
	if delta <= 0 || delta > 10*c.tick {
		delta = c.tick
	}
	c.last = now
	return delta
}

// viewer is the streaming focus point. It moves at a constant velocity and
// is frozen while the world is loading.
type viewer struct {
	position mgl64.Vec3
	velocity mgl64.Vec3
}

func (v *viewer) advance(delta time.Duration, timeScale float64) {
	if timeScale <= 0 {
		return
	}
	v.position = v.position.Add(v.velocity.Mul(delta.Seconds() * timeScale))
}
