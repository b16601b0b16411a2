// Package snapshot stores the current analysis, its raw data and a bounded
// archive of prior analyses.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/fsutil"
	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// Layout file names relative to the data directory.
const (
	OutputsDir        = "outputs"
	ArchiveDir        = "archive"
	AnalysisFile      = "pricing_analysis.json"
	PricingCSVFile    = "pricing_data.csv"
	ScrapeLogFile     = "scrape_log.json"
	DailyProgressFile = "daily_progress.json"
	HistoryFile       = "history.jsonl"

	// CurrentID identifies the live snapshot in listings.
	CurrentID = "current"

	archivePrefix = "snapshot-"
	corruptPrefix = "corrupt-"
	idLayout      = "20060102T150405Z"
)

// ErrUnknownTarget is returned by ReadFile for an unrecognised artifact name.
var ErrUnknownTarget = errors.New("unknown artifact target")

// ErrCorruptAnalysis marks a current analysis file that cannot be decoded.
var ErrCorruptAnalysis = errors.New("corrupt analysis")

// Bundle is the set of files produced by one completed run.
type Bundle struct {
	Analysis  []byte
	RawCSV    []byte
	ScrapeLog []byte
}

// Config configures a Repository.
type Config struct {
	DataDir string
	// Mirror optionally receives a copy of every committed snapshot.
	Mirror        pricewise.SnapshotMirror
	MirrorTimeout time.Duration
	// Location interprets generated_at values written without a zone. Nil means UTC.
	Location *time.Location
	Logger   *zap.Logger
}

// Info reports modification times of the current artifacts.
type Info struct {
	AnalysisModTime time.Time
	CSVModTime      time.Time
}

// Repository owns the outputs and archive directories. Writes are serialised
// and every replacement is an atomic rename, so a reader never observes a
// missing current snapshot once one exists.
type Repository struct {
	dataDir       string
	outputsDir    string
	archiveDir    string
	mirror        pricewise.SnapshotMirror
	mirrorTimeout time.Duration
	location      *time.Location
	logger        *zap.Logger

	mu sync.RWMutex
}

// New creates a Repository rooted at cfg.DataDir.
func New(cfg Config) (*Repository, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := cfg.MirrorTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := &Repository{
		dataDir:       cfg.DataDir,
		outputsDir:    filepath.Join(cfg.DataDir, OutputsDir),
		archiveDir:    filepath.Join(cfg.DataDir, ArchiveDir),
		mirror:        cfg.Mirror,
		mirrorTimeout: timeout,
		location:      loc,
		logger:        logger.Named("snapshot"),
	}
	for _, dir := range []string{r.outputsDir, r.archiveDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return r, nil
}

// ProgressPath is where the scraper writes its daily progress file.
func (r *Repository) ProgressPath() string {
	return filepath.Join(r.outputsDir, DailyProgressFile)
}

// Commit publishes the output of a completed run. When archiving is enabled the
// previous current snapshot is copied into the archive first (evicting the
// oldest entries beyond maxArchive); then each provided file replaces its
// current counterpart. Files absent from b are left untouched.
func (r *Repository) Commit(ctx context.Context, b Bundle, archiving bool, maxArchive int) (*pricewise.Snapshot, error) {
	if len(b.Analysis) == 0 && len(b.RawCSV) == 0 {
		return nil, fmt.Errorf("commit: %w", pricewise.ErrArtifactMissing)
	}
	if len(b.Analysis) > 0 {
		if _, err := ParseAnalysis(b.Analysis); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
	}

	r.mu.Lock()
	if archiving {
		if err := r.promoteLocked(maxArchive); err != nil {
			r.mu.Unlock()
			return nil, err
		}
	}
	// The CSV goes first so the analysis is never older than its raw data.
	if len(b.RawCSV) > 0 {
		if err := fsutil.WriteFile(filepath.Join(r.outputsDir, PricingCSVFile), b.RawCSV, 0o600); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("write pricing csv: %w", err)
		}
	}
	if len(b.ScrapeLog) > 0 {
		if err := fsutil.WriteFile(filepath.Join(r.outputsDir, ScrapeLogFile), b.ScrapeLog, 0o600); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("write scrape log: %w", err)
		}
	}
	if len(b.Analysis) > 0 {
		if err := fsutil.WriteFile(filepath.Join(r.outputsDir, AnalysisFile), b.Analysis, 0o600); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("write analysis: %w", err)
		}
	}
	snap, err := r.currentLocked()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r.mirrorSnapshot(ctx, snap)
	return snap, nil
}

// WriteCurrent overwrites the current analysis without archiving.
func (r *Repository) WriteCurrent(ctx context.Context, analysis pricewise.Analysis) (*pricewise.Snapshot, error) {
	data, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}

	r.mu.Lock()
	if err := fsutil.WriteFile(filepath.Join(r.outputsDir, AnalysisFile), data, 0o600); err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("write analysis: %w", err)
	}
	snap, err := r.currentLocked()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r.mirrorSnapshot(ctx, snap)
	return snap, nil
}

// Reanalyze rebuilds the current analysis from the raw CSV. The read, build
// and write happen under the write lock, so a Commit cannot land between them
// and be overwritten by an analysis of older data.
func (r *Repository) Reanalyze(
	ctx context.Context,
	build func([]pricewise.DailyPricingRecord) (pricewise.Analysis, error),
) (*pricewise.Snapshot, error) {
	r.mu.Lock()
	records, err := r.readDailyLocked()
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("read raw data: %w", err)
	}
	analysis, err := build(records)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	data, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("encode analysis: %w", err)
	}
	if err := fsutil.WriteFile(filepath.Join(r.outputsDir, AnalysisFile), data, 0o600); err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("write analysis: %w", err)
	}
	snap, err := r.currentLocked()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r.mirrorSnapshot(ctx, snap)
	return snap, nil
}

// PromoteToArchive copies the current snapshot into the archive and trims the
// archive to maxFiles entries. It is a no-op when there is no current snapshot.
func (r *Repository) PromoteToArchive(maxFiles int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.promoteLocked(maxFiles)
}

func (r *Repository) promoteLocked(maxFiles int) error {
	current, err := r.currentLocked()
	if errors.Is(err, ErrCorruptAnalysis) {
		return r.quarantineCurrentLocked(err)
	}
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	entries, err := r.archiveEntriesLocked()
	if err != nil {
		return err
	}
	seq := 1
	if len(entries) > 0 {
		seq = entries[len(entries)-1].seq + 1
	}
	id := snapshotID(current)
	env := envelope{
		ID:          id,
		GeneratedAt: current.Analysis.GeneratedAt,
		Analysis:    current.Analysis,
		DailyData:   current.DailyData,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode archive entry: %w", err)
	}
	name := fmt.Sprintf("%s%08d-%s.json", archivePrefix, seq, id)
	if err := fsutil.WriteFile(filepath.Join(r.archiveDir, name), data, 0o600); err != nil {
		return fmt.Errorf("write archive entry: %w", err)
	}
	entries = append(entries, archiveEntry{seq: seq, id: id, name: name})

	if maxFiles < 0 {
		maxFiles = 0
	}
	for len(entries) > maxFiles {
		oldest := entries[0]
		if err := os.Remove(filepath.Join(r.archiveDir, oldest.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("evict archive entry %s: %w", oldest.name, err)
		}
		r.logger.Debug("archive entry evicted", zap.String("name", oldest.name))
		entries = entries[1:]
	}
	return nil
}

// quarantineCurrentLocked moves an undecodable current analysis to
// archive/corrupt-<ts>.json so the next commit can replace it. The file keeps
// its bytes for inspection and never counts against the archive limit.
func (r *Repository) quarantineCurrentLocked(cause error) error {
	src := filepath.Join(r.outputsDir, AnalysisFile)
	dst := filepath.Join(r.archiveDir, corruptPrefix+time.Now().UTC().Format(idLayout)+".json")
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("quarantine corrupt analysis: %w", err)
	}
	r.logger.Error("current analysis unreadable, moved aside",
		zap.String("path", dst),
		zap.Error(cause),
	)
	return nil
}

// Current returns the live snapshot, or nil when nothing has been produced.
func (r *Repository) Current() (*pricewise.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentLocked()
}

func (r *Repository) currentLocked() (*pricewise.Snapshot, error) {
	path := filepath.Join(r.outputsDir, AnalysisFile)
	data, err := fsutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	analysis, err := ParseAnalysis(data)
	if err != nil {
		return nil, fmt.Errorf("read current analysis: %w: %w", ErrCorruptAnalysis, err)
	}
	daily, err := r.readDailyLocked()
	if err != nil {
		r.logger.Warn("pricing csv unreadable", zap.Error(err))
		daily = []pricewise.DailyPricingRecord{}
	}
	snap := &pricewise.Snapshot{
		ID:          CurrentID,
		Source:      pricewise.SourceCurrent,
		GeneratedAt: ParseGeneratedAt(analysis.GeneratedAt, r.location),
		Analysis:    analysis,
		DailyData:   daily,
	}
	if snap.GeneratedAt == nil {
		if info, statErr := os.Stat(path); statErr == nil {
			mod := info.ModTime().UTC()
			snap.ID = mod.Format(idLayout)
		}
	}
	return snap, nil
}

// ListArchive returns archived snapshots newest first. Unreadable entries are
// skipped and logged.
func (r *Repository) ListArchive() ([]pricewise.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := r.archiveEntriesLocked()
	if err != nil {
		return nil, err
	}
	out := make([]pricewise.Snapshot, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		snap, err := r.readArchiveEntry(e)
		if err != nil {
			r.logger.Warn("skipping archive entry", zap.String("name", e.name), zap.Error(err))
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (r *Repository) readArchiveEntry(e archiveEntry) (pricewise.Snapshot, error) {
	data, err := fsutil.ReadFile(filepath.Join(r.archiveDir, e.name))
	if err != nil {
		return pricewise.Snapshot{}, err
	}
	if data == nil {
		return pricewise.Snapshot{}, pricewise.ErrArtifactMissing
	}
	raw, err := decodeObject(data)
	if err != nil {
		return pricewise.Snapshot{}, err
	}
	analysisRaw, _ := raw["analysis"].(map[string]any)
	if analysisRaw == nil {
		analysisRaw = map[string]any{}
	}
	analysis := sanitizeAnalysis(analysisRaw)
	generated := str(raw, "generated_at")
	if generated == "" {
		generated = analysis.GeneratedAt
	}
	var daily []map[string]any
	if items, ok := raw["daily_data"].([]any); ok {
		for _, item := range items {
			if rec, ok := item.(map[string]any); ok {
				daily = append(daily, rec)
			}
		}
	}
	id := str(raw, "id")
	if id == "" {
		id = e.id
	}
	return pricewise.Snapshot{
		ID:          id,
		Source:      pricewise.SourceArchive,
		GeneratedAt: ParseGeneratedAt(generated, r.location),
		Analysis:    analysis,
		DailyData:   sanitizeDaily(daily),
	}, nil
}

// ReadDailyData parses the current raw CSV. A missing file yields an empty list.
func (r *Repository) ReadDailyData() ([]pricewise.DailyPricingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readDailyLocked()
}

func (r *Repository) readDailyLocked() ([]pricewise.DailyPricingRecord, error) {
	data, err := fsutil.ReadFile(filepath.Join(r.outputsDir, PricingCSVFile))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return []pricewise.DailyPricingRecord{}, nil
	}
	return ParseDailyCSV(data)
}

// HasRawData reports whether a raw pricing CSV exists.
func (r *Repository) HasRawData() bool {
	return fsutil.Exists(filepath.Join(r.outputsDir, PricingCSVFile))
}

// Outputs reports which current artifacts exist.
func (r *Repository) Outputs() pricewise.Outputs {
	return pricewise.Outputs{
		AnalysisJSON: fsutil.Exists(filepath.Join(r.outputsDir, AnalysisFile)),
		PricingCSV:   fsutil.Exists(filepath.Join(r.outputsDir, PricingCSVFile)),
	}
}

// Stat returns the modification times of the current artifacts; zero when absent.
func (r *Repository) Stat() Info {
	var info Info
	if fi, err := os.Stat(filepath.Join(r.outputsDir, AnalysisFile)); err == nil {
		info.AnalysisModTime = fi.ModTime()
	}
	if fi, err := os.Stat(filepath.Join(r.outputsDir, PricingCSVFile)); err == nil {
		info.CSVModTime = fi.ModTime()
	}
	return info
}

// ReadFile returns a raw artifact by target name, or nil when it does not exist.
func (r *Repository) ReadFile(target string) (*pricewise.Artifact, error) {
	var (
		path        string
		contentType string
	)
	switch strings.TrimSpace(target) {
	case "analysis", "analysisJson":
		path, contentType = filepath.Join(r.outputsDir, AnalysisFile), "application/json"
	case "csv", "pricingCsv":
		path, contentType = filepath.Join(r.outputsDir, PricingCSVFile), "text/csv"
	case "history":
		path, contentType = filepath.Join(r.dataDir, HistoryFile), "application/x-ndjson"
	case "log":
		path, contentType = filepath.Join(r.outputsDir, ScrapeLogFile), "application/json"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}

	r.mu.RLock()
	data, err := fsutil.ReadFile(path)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return &pricewise.Artifact{
		Data:        data,
		ContentType: contentType,
		Filename:    filepath.Base(path),
	}, nil
}

// ReadDailyProgress returns the scraper's progress file, or nil when absent or unreadable.
func (r *Repository) ReadDailyProgress() *pricewise.DailyProgress {
	data, err := fsutil.ReadFile(r.ProgressPath())
	if err != nil || data == nil {
		return nil
	}
	var progress pricewise.DailyProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		r.logger.Debug("daily progress unreadable", zap.Error(err))
		return nil
	}
	return &progress
}

func (r *Repository) mirrorSnapshot(ctx context.Context, snap *pricewise.Snapshot) {
	if r.mirror == nil || snap == nil {
		return
	}
	id := snapshotID(snap)
	data, err := json.Marshal(envelope{
		ID:          id,
		GeneratedAt: snap.Analysis.GeneratedAt,
		Analysis:    snap.Analysis,
		DailyData:   snap.DailyData,
	})
	if err != nil {
		r.logger.Warn("encode snapshot for mirror", zap.Error(err))
		return
	}
	mirrorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.mirrorTimeout)
	defer cancel()
	uri, err := r.mirror.MirrorSnapshot(mirrorCtx, id, data)
	if err != nil {
		r.logger.Warn("snapshot mirror failed", zap.String("snapshot_id", id), zap.Error(err))
		return
	}
	r.logger.Info("snapshot mirrored", zap.String("uri", uri))
}

type envelope struct {
	ID          string                         `json:"id"`
	GeneratedAt string                         `json:"generated_at"`
	Analysis    pricewise.Analysis             `json:"analysis"`
	DailyData   []pricewise.DailyPricingRecord `json:"daily_data"`
}

type archiveEntry struct {
	seq  int
	id   string
	name string
}

// archiveEntriesLocked lists archive files sorted oldest first by sequence.
func (r *Repository) archiveEntriesLocked() ([]archiveEntry, error) {
	dirEntries, err := os.ReadDir(r.archiveDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list archive: %w", err)
	}
	var out []archiveEntry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		stem := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), ".json")
		seqPart, id, _ := strings.Cut(stem, "-")
		seq, err := strconv.Atoi(seqPart)
		if err != nil {
			continue
		}
		out = append(out, archiveEntry{seq: seq, id: id, name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}

func snapshotID(snap *pricewise.Snapshot) string {
	if snap.GeneratedAt != nil {
		return snap.GeneratedAt.UTC().Format(idLayout)
	}
	if snap.ID != "" && snap.ID != CurrentID {
		return snap.ID
	}
	return time.Now().UTC().Format(idLayout)
}
