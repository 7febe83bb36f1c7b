package alert

import "qx-indexer/internal/domain"

// Server-side bounds on user-supplied condition numbers. Windows and limits
// feed directly into storage queries, so unclamped values would let one
// alert definition issue unbounded scans.
const (
	minWindowMinutes = 5
	maxWindowMinutes = 2880 // 48 hours

	minLimit     = 1
	maxLimit     = 100
	defaultLimit = 20

	defaultSampleSize = 200
)

// normalizeConditions returns a copy of c with every numeric input clamped
// to its allowed range. Zero values get defaults.
func normalizeConditions(c domain.AlertConditions) domain.AlertConditions {
	c.PeriodMinutes = clampWindow(c.PeriodMinutes)
	c.LookbackMinutes = clampWindow(c.LookbackMinutes)
	c.Limit = clampLimit(c.Limit)

	if c.ThresholdPercent < 0 {
		c.ThresholdPercent = 0
	}
	if c.MinVolume < 0 {
		c.MinVolume = 0
	}
	if c.MinValue < 0 {
		c.MinValue = 0
	}
	if c.MinNewHolders < 1 {
		c.MinNewHolders = 1
	}
	if c.SampleSize <= 0 || c.SampleSize > defaultSampleSize {
		c.SampleSize = defaultSampleSize
	}
	return c
}

func clampWindow(minutes int) int {
	if minutes < minWindowMinutes {
		return minWindowMinutes
	}
	if minutes > maxWindowMinutes {
		return maxWindowMinutes
	}
	return minutes
}

func clampLimit(limit int) int {
	if limit == 0 {
		return defaultLimit
	}
	if limit < minLimit {
		return minLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
