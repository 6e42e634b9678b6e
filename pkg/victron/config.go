package victron

import "time"

// Config parameterizes the publisher's scheduler, keepalive/handshake
// dialogue, circuit breaker, and rate limiter.
type Config struct {
	Identity Identity

	TickIntervalMs      int64
	KeepaliveIntervalMs int64
	KeepaliveTimeoutMs  int64

	BreakerFailureThreshold int
	BreakerOpenDuration     time.Duration
	BreakerHalfOpenSuccesses int

	RateLimiterCapacity int
	RateLimiterRefill   time.Duration
}

// DefaultConfig matches the scheduler parameters: a 200ms tick
// (within the required 250ms ceiling), a one-second keepalive with a
// five-second peer timeout, a breaker that opens after five
// consecutive failures for 30s and needs three half-open successes to
// close, and a ten-token bucket refilling one token per 100ms.
func DefaultConfig() Config {
	return Config{
		Identity:                 Identity{Manufacturer: "Enepaq", BatteryName: "TinyBMS"},
		TickIntervalMs:           200,
		KeepaliveIntervalMs:      1000,
		KeepaliveTimeoutMs:       5000,
		BreakerFailureThreshold:  5,
		BreakerOpenDuration:      30 * time.Second,
		BreakerHalfOpenSuccesses: 3,
		RateLimiterCapacity:      10,
		RateLimiterRefill:        100 * time.Millisecond,
	}
}
