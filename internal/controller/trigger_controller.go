// internal/controller/trigger_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/weekly-plan-dispatcher/internal/errors"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/model"
)

type WeeklyPlanRunner interface {
	Run(ctx context.Context, weekStart time.Time) (*model.RunResult, error)
}

// TriggerController serves the scheduler's invocation of the weekly campaign
type TriggerController struct {
	Runner WeeklyPlanRunner
	Budget time.Duration
	Log    zerolog.Logger
	Now    func() time.Time
}

func (c *TriggerController) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// RunWeeklyPlan runs one invocation for the upcoming week, or for ?week=YYYY-MM-DD
func (c *TriggerController) RunWeeklyPlan(w http.ResponseWriter, r *http.Request) {
	weekStart := model.UpcomingWeekStart(c.now())
	if q := r.URL.Query().Get("week"); q != "" {
		parsed, err := model.ParseWeek(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		weekStart = parsed
	}

	ctx := r.Context()
	if c.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Budget)
		defer cancel()
	}

	result, err := c.Runner.Run(ctx, weekStart)
	if err != nil {
		executionID := ""
		var runErr *appErrors.RunError
		if errors.As(err, &runErr) {
			executionID = runErr.ExecutionID
		} else if result != nil {
			executionID = result.ExecutionID
		}
		c.Log.Error().Err(err).Str("execution_id", executionID).Msg("❌ weekly plan invocation failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":         err.Error(),
			"executionId":   executionID,
			"weekStartDate": weekStart.Format(model.WeekLayout),
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
