// internal/model/lease.go
package model

import "time"

// Lease is the time-boxed mutual-exclusion record for a campaign key
type Lease struct {
	Key               string `json:"key"`
	HeldBy            string `json:"held_by"`
	AcquiredAtEpochMs int64  `json:"acquired_at_epoch_ms"`
	TTLMs             int64  `json:"ttl_ms"`
}

func (l *Lease) AcquiredAt() time.Time {
	return time.UnixMilli(l.AcquiredAtEpochMs)
}

func (l *Lease) Age(now time.Time) time.Duration {
	return now.Sub(l.AcquiredAt())
}

// IsStale reports whether the lease is old enough to be taken over
func (l *Lease) IsStale(now time.Time) bool {
	return l.Age(now) >= time.Duration(l.TTLMs)*time.Millisecond
}

func (l *Lease) Remaining(now time.Time) time.Duration {
	left := time.Duration(l.TTLMs)*time.Millisecond - l.Age(now)
	if left < 0 {
		return 0
	}
	return left
}
