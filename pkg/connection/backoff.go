package connection

import (
	"math/rand/v2"
	"time"
)

// Broker connect delay defaults.
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitter       = 0.25
)

// BackoffConfig is the delay schedule between broker connect attempts, as
// read from the broker section of the gateway configuration. Zero fields
// take the defaults; a negative Jitter disables jitter.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = DefaultInitialDelay
	}
	if c.Max <= 0 {
		c.Max = DefaultMaxDelay
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	switch {
	case c.Jitter == 0:
		c.Jitter = DefaultJitter
	case c.Jitter < 0:
		c.Jitter = 0
	}
	return c
}

// BaseDelay returns the delay before connect attempt n+1 (n >= 1), without
// jitter.
func (c BackoffConfig) BaseDelay(n int) time.Duration {
	c = c.withDefaults()
	d := float64(c.Initial)
	for i := 1; i < n && d < float64(c.Max); i++ {
		d *= c.Multiplier
	}
	return min(time.Duration(d), c.Max)
}

// Delay returns BaseDelay(n) plus up to Jitter of it drawn from rnd, a
// source of values in [0, 1). A nil rnd uses math/rand.
func (c BackoffConfig) Delay(n int, rnd func() float64) time.Duration {
	base := c.BaseDelay(n)
	jitter := c.withDefaults().Jitter
	if jitter == 0 {
		return base
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	return base + time.Duration(float64(base)*jitter*rnd())
}
