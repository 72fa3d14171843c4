// internal/model/week.go
package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	WeekLayout        = "2006-01-02"
	campaignKeyPrefix = "weekly-plan-"
)

// UpcomingWeekStart returns the Monday on or after now, as a UTC date
func UpcomingWeekStart(now time.Time) time.Time {
	d := now.UTC()
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(time.Monday) - int(day.Weekday()) + 7) % 7
	return day.AddDate(0, 0, offset)
}

// ParseWeek accepts a YYYY-MM-DD date that falls on a Monday
func ParseWeek(s string) (time.Time, error) {
	t, err := time.Parse(WeekLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid week %q: %w", s, err)
	}
	if t.Weekday() != time.Monday {
		return time.Time{}, fmt.Errorf("invalid week %q: must be a Monday", s)
	}
	return t, nil
}

// CampaignKey is the deterministic id of the lease and checkpoint documents for a week
func CampaignKey(weekStart time.Time) string {
	return campaignKeyPrefix + weekStart.Format(WeekLayout)
}

func ParseCampaignKey(key string) (time.Time, error) {
	if !strings.HasPrefix(key, campaignKeyPrefix) {
		return time.Time{}, fmt.Errorf("invalid campaign key %q", key)
	}
	return ParseWeek(strings.TrimPrefix(key, campaignKeyPrefix))
}
