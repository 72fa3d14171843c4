package repository

import (
	"context"
	"sync"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
)

// MemoryRecipientSource keeps recipients per campaign key in insertion order
type MemoryRecipientSource struct {
	mu    sync.RWMutex
	byKey map[string][]model.Recipient
}

func NewMemoryRecipientSource() *MemoryRecipientSource {
	return &MemoryRecipientSource{byKey: make(map[string][]model.Recipient)}
}

func (s *MemoryRecipientSource) Add(key string, recipients ...model.Recipient) {
	s.mu.Lock()
	s.byKey[key] = append(s.byKey[key], recipients...)
	s.mu.Unlock()
}

// SetOptOut flips the opt-out flag of a recipient already added under key
func (s *MemoryRecipientSource) SetOptOut(key, id string, optedOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.byKey[key] {
		if s.byKey[key][i].ID == id {
			s.byKey[key][i].OptedOut = optedOut
		}
	}
}

func (s *MemoryRecipientSource) NextBatch(_ context.Context, key string, after model.Position, maxCount int) ([]model.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byKey[key]
	batch := []model.Recipient{}
	if maxCount < 1 {
		return batch, nil
	}

	start := -1
	if after.LastID != "" {
		for i, rc := range all {
			if rc.ID == after.LastID {
				start = i + 1
				break
			}
		}
	}

	if start >= 0 {
		for _, rc := range all[start:] {
			if len(batch) == maxCount {
				break
			}
			if !rc.OptedOut {
				batch = append(batch, rc)
			}
		}
		return batch, nil
	}

	// no usable cursor: skip the first Index+1 eligible recipients
	skip := after.Index + 1
	for _, rc := range all {
		if rc.OptedOut {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		if len(batch) == maxCount {
			break
		}
		batch = append(batch, rc)
	}
	return batch, nil
}

var _ RecipientSource = (*MemoryRecipientSource)(nil)
