package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/docstore"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
)

// RecipientSource yields the eligible recipients of a campaign in a stable order
type RecipientSource interface {
	NextBatch(ctx context.Context, key string, after model.Position, maxCount int) ([]model.Recipient, error)
}

// RecipientRepository reads recipients that have a plan for the campaign week
// and have not opted out, ordered by id.
type RecipientRepository struct {
	DB      *sql.DB
	Dialect docstore.Dialect
}

func (r *RecipientRepository) NextBatch(ctx context.Context, key string, after model.Position, maxCount int) ([]model.Recipient, error) {
	week, err := model.ParseCampaignKey(key)
	if err != nil {
		return nil, err
	}
	if maxCount < 1 {
		return []model.Recipient{}, nil
	}

	query := `
        SELECT r.id, r.email, r.name, p.body
        FROM recipients r
        JOIN weekly_plans p ON p.recipient_id = r.id
        WHERE p.week_start = ? AND r.weekly_plan_opt_out = ?`
	args := []any{week.Format(model.WeekLayout), false}

	// keyset pagination when a cursor exists, offset otherwise
	if after.LastID != "" {
		query += ` AND r.id > ? ORDER BY r.id LIMIT ?`
		args = append(args, after.LastID, maxCount)
	} else {
		query += ` ORDER BY r.id LIMIT ? OFFSET ?`
		args = append(args, maxCount, after.Index+1)
	}

	rows, err := r.DB.QueryContext(ctx, docstore.Rebind(r.Dialect, query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var (
			rc   model.Recipient
			body string
		)
		if err := rows.Scan(&rc.ID, &rc.Email, &rc.Name, &body); err != nil {
			return nil, err
		}
		if body != "" {
			if err := json.Unmarshal([]byte(body), &rc.Payload); err != nil {
				return nil, fmt.Errorf("decode plan for recipient %s: %w", rc.ID, err)
			}
		}
		recipients = append(recipients, rc)
	}
	return recipients, rows.Err()
}

// Upsert stores a recipient and their plan for one week
func (r *RecipientRepository) Upsert(ctx context.Context, rc model.Recipient, weekStart string, plan map[string]string) error {
	body, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, docstore.Rebind(r.Dialect, `
        INSERT INTO recipients (id, email, name, weekly_plan_opt_out, created_at_ms)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET email = excluded.email, name = excluded.name, weekly_plan_opt_out = excluded.weekly_plan_opt_out
    `), rc.ID, rc.Email, rc.Name, rc.OptedOut, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, docstore.Rebind(r.Dialect, `
        INSERT INTO weekly_plans (recipient_id, week_start, body)
        VALUES (?, ?, ?)
        ON CONFLICT (recipient_id, week_start) DO UPDATE SET body = excluded.body
    `), rc.ID, weekStart, string(body))
	if err != nil {
		return err
	}
	return tx.Commit()
}

var _ RecipientSource = (*RecipientRepository)(nil)
