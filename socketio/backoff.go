package socketio

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff configures reconnection delays. The defaults match socket.io-client.
type Backoff struct {
	Min    time.Duration // Default: 1s
	Max    time.Duration // Default: 5s
	Factor float64       // Default: 2
	Jitter float64       // Randomization factor in [0, 1]; 0 disables jitter
}

// DefaultBackoff returns the socket.io-client reconnection policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    time.Second,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: 0.5,
	}
}

// NewPolicy returns a fresh delay sequence. It never gives up, and no delay
// exceeds Max, jitter included.
func (b Backoff) NewPolicy() backoff.BackOff {
	if b.Min <= 0 {
		b.Min = time.Second
	}
	if b.Max <= 0 {
		b.Max = 5 * time.Second
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}
	if b.Factor <= 1 {
		b.Factor = 2
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.Min
	exp.MaxInterval = b.Max
	exp.Multiplier = b.Factor
	exp.RandomizationFactor = b.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	return &cappedBackOff{BackOff: exp, max: b.Max}
}

// cappedBackOff clamps jittered delays to max.
type cappedBackOff struct {
	backoff.BackOff
	max time.Duration
}

func (c *cappedBackOff) NextBackOff() time.Duration {
	d := c.BackOff.NextBackOff()
	if d == backoff.Stop || d > c.max {
		return c.max
	}
	return d
}
