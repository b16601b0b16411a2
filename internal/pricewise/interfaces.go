package pricewise

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// SnapshotMirror keeps an off-host copy of every committed snapshot.
type SnapshotMirror interface {
	// MirrorSnapshot stores doc under id, repoints the latest marker at it and
	// returns the URI of the stored snapshot.
	MirrorSnapshot(ctx context.Context, id string, doc []byte) (string, error)
}

// Object names used by every mirror backend, relative to its prefix.
const (
	MirrorSnapshotsDir = "snapshots"
	MirrorLatestObject = "latest.json"
)

// MirrorPointer is the body of the latest marker.
type MirrorPointer struct {
	ID         string    `json:"id"`
	URI        string    `json:"uri"`
	MirroredAt time.Time `json:"mirrored_at"`
}

// MirrorObjectName validates a snapshot id and returns its object name.
func MirrorObjectName(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid snapshot id %q", id)
	}
	return path.Join(MirrorSnapshotsDir, id+".json"), nil
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// LaunchSpec describes the external program started for one run.
type LaunchSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	LogPath string
}

// Process is a handle on a launched (or adopted) scraper process.
type Process interface {
	PID() int
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
	// Terminate asks the process group to exit gracefully.
	Terminate() error
	// Kill forcefully stops the process group.
	Kill() error
}

// Launcher spawns and probes external processes.
type Launcher interface {
	Start(spec LaunchSpec) (Process, error)
	// Attach returns a handle for a process this host did not start, or false if
	// no process with that pid is alive.
	Attach(pid int, pollInterval time.Duration) (Process, bool)
	Alive(pid int) bool
}
