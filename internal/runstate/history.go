package runstate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/fsutil"
	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// HistoryLog is an append-only JSON-lines file of finished runs.
type HistoryLog struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewHistoryLog returns a log stored at path.
func NewHistoryLog(path string, logger *zap.Logger) *HistoryLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryLog{path: path, logger: logger.Named("history")}
}

// Append writes one entry and fsyncs it.
func (h *HistoryLog) Append(entry pricewise.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := fsutil.AppendLine(h.path, data); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first. n <= 0 returns all entries.
// Malformed lines (for example a torn final write) are skipped.
func (h *HistoryLog) Recent(n int) ([]pricewise.HistoryEntry, error) {
	h.mu.Lock()
	data, err := fsutil.ReadFile(h.path)
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var all []pricewise.HistoryEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry pricewise.HistoryEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			h.logger.Warn("skipping malformed history line", zap.Error(err))
			continue
		}
		all = append(all, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}

	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]pricewise.HistoryEntry, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
