// Package seed loads recipient fixtures for local runs and the seeder binary.
package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/repository"
)

type Fixture struct {
	Week       string             `yaml:"week"`
	Recipients []FixtureRecipient `yaml:"recipients"`
}

type FixtureRecipient struct {
	ID       string            `yaml:"id"`
	Email    string            `yaml:"email"`
	Name     string            `yaml:"name"`
	OptedOut bool              `yaml:"opted_out"`
	Plan     map[string]string `yaml:"plan"`
}

func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if _, err := f.WeekStart(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(f.Recipients))
	for i, r := range f.Recipients {
		if r.ID == "" {
			return nil, fmt.Errorf("recipient %d has no id", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate recipient id %s", r.ID)
		}
		seen[r.ID] = true
	}
	return &f, nil
}

func (f *Fixture) WeekStart() (time.Time, error) {
	return model.ParseWeek(f.Week)
}

func (r FixtureRecipient) recipient() model.Recipient {
	return model.Recipient{ID: r.ID, Email: r.Email, Name: r.Name, OptedOut: r.OptedOut, Payload: r.Plan}
}

// LoadInto registers the fixture's recipients under the campaign key of its week
func (f *Fixture) LoadInto(src *repository.MemoryRecipientSource) error {
	week, err := f.WeekStart()
	if err != nil {
		return err
	}
	key := model.CampaignKey(week)
	for _, r := range f.Recipients {
		src.Add(key, r.recipient())
	}
	return nil
}

// Apply upserts every recipient and their plan into the SQL store
func (f *Fixture) Apply(ctx context.Context, repo *repository.RecipientRepository) error {
	week, err := f.WeekStart()
	if err != nil {
		return err
	}
	for _, r := range f.Recipients {
		if err := repo.Upsert(ctx, r.recipient(), week.Format(model.WeekLayout), r.Plan); err != nil {
			return fmt.Errorf("seed recipient %s: %w", r.ID, err)
		}
	}
	return nil
}
