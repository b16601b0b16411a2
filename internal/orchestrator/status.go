package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// tailWindow bounds how much of a log file is read for the tail.
const tailWindow = 64 << 10

// Status aggregates the read-only state shown by the UI. It never mutates.
func (o *Orchestrator) Status(ctx context.Context) (pricewise.StatusPayload, error) {
	if err := ctx.Err(); err != nil {
		return pricewise.StatusPayload{}, err
	}
	state := o.tracker.Get()
	history, err := o.history.Recent(o.cfg.HistoryLimit)
	if err != nil {
		return pricewise.StatusPayload{}, fmt.Errorf("read history: %w", err)
	}
	payload := pricewise.StatusPayload{
		RunState: state,
		History:  history,
		Config:   pricewise.NewConfigView(o.configs.Get()),
		Outputs:  o.snapshots.Outputs(),
	}
	if state.Running() {
		payload.DailyProgress = o.snapshots.ReadDailyProgress()
	}

	logPath := state.LogFile
	if logPath == "" && state.LastRunID != "" {
		logPath = o.logPath(state.LastRunID)
	}
	if logPath != "" {
		tail, err := tailLines(logPath, o.cfg.LogTailLines)
		if err != nil {
			return pricewise.StatusPayload{}, fmt.Errorf("read log tail: %w", err)
		}
		payload.LogTail = tail
	}
	return payload, nil
}

// tailLines returns up to n trailing lines of path. A missing file yields nil.
func tailLines(path string, n int) ([]string, error) {
	// #nosec G304 -- log paths are built from the data directory.
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := info.Size() - tailWindow
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		// Drop the partial first line.
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		}
	}
	text := strings.TrimRight(string(data), "\r\n")
	if text == "" {
		return []string{}, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines, nil
}
