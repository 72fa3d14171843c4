// internal/service/campaign_service.go
package service

import (
	"context"
	"time"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/repository"
)

type CampaignService struct {
	Checkpoints repository.CheckpointStore
}

type CampaignDetails struct {
	Key                string         `json:"key"`
	WeekStartDate      string         `json:"weekStartDate"`
	Status             string         `json:"status"`
	LastProcessedIndex int            `json:"lastProcessedIndex"`
	FailedIDs          []string       `json:"failedIds"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	Stats              map[string]int `json:"stats"`
}

// GetCampaignDetailsWithStats returns the checkpoint of a campaign with counts
func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, key string) (*CampaignDetails, error) {
	campaign, err := s.Checkpoints.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{
		"processed": campaign.Processed(),
		"sent":      len(campaign.SucceededIDs),
		"failed":    len(campaign.FailedIDs),
	}

	return &CampaignDetails{
		Key:                campaign.Key,
		WeekStartDate:      campaign.WeekStartDate,
		Status:             campaign.Status.String(),
		LastProcessedIndex: campaign.LastProcessedIndex,
		FailedIDs:          campaign.FailedIDs,
		CreatedAt:          campaign.CreatedAt,
		UpdatedAt:          campaign.UpdatedAt,
		Stats:              stats,
	}, nil
}
