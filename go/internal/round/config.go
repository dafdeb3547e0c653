package round

import "time"

// CountdownTier maps a survivor count ceiling to a round duration.
type CountdownTier struct {
	MaxSurvivors int `yaml:"max_survivors"`
	Seconds      int `yaml:"seconds"`
}

// Config holds engine tuning knobs.
type Config struct {
	RoomID string
	// Tiers must be sorted by MaxSurvivors ascending.
	Tiers           []CountdownTier
	FallbackSeconds int
	TickInterval    time.Duration
	// OpTimeout bounds store calls made from the countdown goroutine.
	OpTimeout time.Duration
}

// DefaultCountdownTiers is the adaptive countdown: bigger rooms get longer rounds.
func DefaultCountdownTiers() []CountdownTier {
	return []CountdownTier{
		{MaxSurvivors: 40, Seconds: 15},
		{MaxSurvivors: 75, Seconds: 20},
		{MaxSurvivors: 150, Seconds: 30},
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RoomID:          "main",
		Tiers:           DefaultCountdownTiers(),
		FallbackSeconds: 40,
		TickInterval:    time.Second,
		OpTimeout:       5 * time.Second,
	}
}

// CountdownSeconds returns the round length for the given survivor count.
func (c Config) CountdownSeconds(survivors int) int {
	for _, tier := range c.Tiers {
		if survivors <= tier.MaxSurvivors {
			return tier.Seconds
		}
	}
	return c.FallbackSeconds
}
