// internal/model/campaign.go
package model

import "time"

// CampaignStatus is the lifecycle state of a weekly campaign
type CampaignStatus string

const (
	CampaignNotStarted CampaignStatus = "not_started"
	CampaignInProgress CampaignStatus = "in_progress"
	CampaignCompleted  CampaignStatus = "completed"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignNotStarted, CampaignInProgress, CampaignCompleted:
		return true
	}
	return false
}

// Campaign is the checkpoint document for one target week.
// It is never deleted and stays as an audit record once completed.
type Campaign struct {
	Key                string         `json:"key"`
	WeekStartDate      string         `json:"week_start_date"`
	Status             CampaignStatus `json:"status"`
	LastProcessedIndex int            `json:"last_processed_index"`
	Cursor             string         `json:"cursor,omitempty"`
	SucceededIDs       []string       `json:"succeeded_ids"`
	FailedIDs          []string       `json:"failed_ids"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// NewCampaign returns the record written on first access for a key
func NewCampaign(key, weekStart string, now time.Time) *Campaign {
	return &Campaign{
		Key:                key,
		WeekStartDate:      weekStart,
		Status:             CampaignNotStarted,
		LastProcessedIndex: -1,
		SucceededIDs:       []string{},
		FailedIDs:          []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (c *Campaign) IsCompleted() bool {
	return c.Status == CampaignCompleted
}

// Processed is the number of recipients handed to the dispatcher so far
func (c *Campaign) Processed() int {
	return c.LastProcessedIndex + 1
}
