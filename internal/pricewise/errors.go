package pricewise

import "errors"

var (
	// ErrAlreadyRunning is returned when a run is requested while another is in flight.
	ErrAlreadyRunning = errors.New("scraper is already running")
	// ErrSpawnFailed wraps failures to launch the scraper process.
	ErrSpawnFailed = errors.New("scraper process could not be started")
	// ErrProcessCrashed marks a run whose process exited non-zero or produced no output.
	ErrProcessCrashed = errors.New("scraper process failed")
	// ErrArtifactMissing signals a requested artifact does not exist yet.
	ErrArtifactMissing = errors.New("artifact not found")
	// ErrNoRawData is returned by the analyzer pass when nothing has been scraped.
	ErrNoRawData = errors.New("no raw pricing data available")
	// ErrConfigValidation marks a rejected configuration field.
	ErrConfigValidation = errors.New("invalid configuration field")
)
