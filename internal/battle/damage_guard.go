package battle

import (
	"time"

	"golang.org/x/time/rate"
)

// damageGuard is the tower-damage trust boundary: a per-side token
// bucket seeded with the server's configured damage ceiling, consulted
// before a reported tower_damage amount is applied. A legitimate
// double-hit fits inside the burst; a scripted nuke gets clamped to
// whatever budget remains rather than rejected outright, so the HP
// mutation is bounded. Damage reports are not recorded in the
// Battle's action log.
type damageGuard struct {
	limiter    *rate.Limiter
	warnedOnce bool
}

func newDamageGuard(maxDamagePerSecond float64) *damageGuard {
	if maxDamagePerSecond <= 0 {
		maxDamagePerSecond = 8000
	}
	return &damageGuard{
		limiter: rate.NewLimiter(rate.Limit(maxDamagePerSecond), int(maxDamagePerSecond)),
	}
}

// allow consumes up to requested damage points from the bucket and
// reports how much was actually granted, plus whether the request was
// clamped below what was asked for.
func (g *damageGuard) allow(requested int) (granted int, clamped bool) {
	if requested <= 0 {
		return 0, false
	}
	available := g.limiter.Tokens()
	if float64(requested) <= available {
		g.limiter.ReserveN(time.Now(), requested)
		return requested, false
	}
	granted = int(available)
	if granted > 0 {
		g.limiter.ReserveN(time.Now(), granted)
	}
	return granted, true
}
