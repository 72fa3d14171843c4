// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the stores and the runner
var (
	ErrNotFound          = errors.New("document not found")
	ErrConflict          = errors.New("transaction conflict: document changed concurrently")
	ErrCampaignCompleted = errors.New("campaign already completed")
)

// ErrCampaignNotFound is returned when no checkpoint exists for a key
type ErrCampaignNotFound struct {
	Key string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %s not found", e.Key)
}

// Helper constructor
func NewCampaignNotFound(key string) error {
	return &ErrCampaignNotFound{Key: key}
}

// StoreError marks a failed read or write against the document store.
// The invocation is aborted and the next trigger retries from the checkpoint.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// RenderError marks a single recipient whose message could not be built
type RenderError struct {
	RecipientID string
	Err         error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render message for recipient %s: %v", e.RecipientID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// ChunkSendError marks a chunk the channel rejected as a whole
type ChunkSendError struct {
	Size int
	Err  error
}

func (e *ChunkSendError) Error() string {
	return fmt.Sprintf("send chunk of %d messages: %v", e.Size, e.Err)
}

func (e *ChunkSendError) Unwrap() error { return e.Err }

// RunError is returned by the campaign runner when an invocation aborts.
// ExecutionID correlates the failure with the invocation's log lines.
type RunError struct {
	ExecutionID string
	Step        string
	Err         error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("execution %s failed at %s: %v", e.ExecutionID, e.Step, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
