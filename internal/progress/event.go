package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported lifecycle stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StageRunCancelled  Stage = "RUN_CANCELLED"
	StageAnalyzerDone  Stage = "ANALYZER_DONE"
	StageAnalyzerError Stage = "ANALYZER_ERROR"
)

// Event captures one lifecycle transition of a scraper run or analyzer pass.
type Event struct {
	// RunID identifies the scraper run; empty for analyzer events.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Mode is the scrape mode name in effect.
	Mode string
	// ExitCode is the process exit code (or a negative indicator) for terminal run stages.
	ExitCode int
	// Dur is the wall time of the run or analyzer pass.
	Dur time.Duration
	// Note carries low-volume context such as the error text.
	Note string
	// History is the entry appended for terminal run stages.
	History *pricewise.HistoryEntry
}

// Terminal reports whether the stage ends a scraper run.
func (s Stage) Terminal() bool {
	switch s {
	case StageRunDone, StageRunError, StageRunCancelled:
		return true
	}
	return false
}

// Result is the coarse outcome label for a stage.
func (s Stage) Result() string {
	switch s {
	case StageRunDone, StageAnalyzerDone:
		return "success"
	case StageRunCancelled:
		return "cancelled"
	case StageRunError, StageAnalyzerError:
		return "error"
	default:
		return "running"
	}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageRunCancelled:
		if e.RunID == "" {
			return fmt.Errorf("%s requires run id", e.Stage)
		}
	case StageAnalyzerDone, StageAnalyzerError:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
