package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested run record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the ledger status column.
type RunStatus string

// Run statuses persisted in the ledger.
const (
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// Run models one scraper run in the ledger.
type Run struct {
	// ID is the run identifier issued by the orchestrator.
	ID string
	// Mode is the scrape mode name in effect when the run started.
	Mode string
	// StartedAt captures when the run was marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run completes.
	FinishedAt *time.Time
	// Status is running/success/error/cancelled.
	Status RunStatus
	// ExitCode is nil while running.
	ExitCode *int
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// RunRepository records run lifecycle transitions.
type RunRepository interface {
	// RecordRunStart inserts (or idempotently refreshes) a running row.
	RecordRunStart(ctx context.Context, runID string, startedAt time.Time, mode string) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(
		ctx context.Context,
		runID string,
		finishedAt time.Time,
		status RunStatus,
		exitCode int,
		errMsg *string,
	) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (Run, error)
	// ListRuns returns runs newest first with limit/offset paging.
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)
}

// StatusFor maps a terminal lifecycle result label onto a ledger status.
func StatusFor(result string) RunStatus {
	switch result {
	case "success":
		return RunSuccess
	case "cancelled":
		return RunCancelled
	case "running":
		return RunRunning
	default:
		return RunError
	}
}
