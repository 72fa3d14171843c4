// internal/model/run_result.go
package model

// RunResult is the status payload returned to the trigger caller
type RunResult struct {
	Message       string `json:"message"`
	Processed     int    `json:"processed"`
	Failed        int    `json:"failed"`
	Completed     bool   `json:"completed"`
	Skipped       bool   `json:"skipped"`
	WeekStartDate string `json:"weekStartDate"`
	ExecutionID   string `json:"executionId"`
}
