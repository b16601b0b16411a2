package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/configstore"
	"github.com/JakeFAU/pricewise/internal/metrics"
	"github.com/JakeFAU/pricewise/internal/pricewise"
	"github.com/JakeFAU/pricewise/internal/snapshot"
)

const (
	defaultSnapshotLimit = 10
	maxSnapshotLimit     = 100
	maxConfigBody        = 64 << 10
)

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	runID, err := s.runner.StartRun(r.Context())
	switch {
	case errors.Is(err, pricewise.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "scraper is already running")
		return
	case err != nil:
		s.logger.Error("start run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "runId": runID})
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.StopRun(r.Context()); err != nil {
		s.logger.Error("stop run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	payload, err := s.runner.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read scraper status")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// file streams a raw artifact as an attachment.
func (s *Server) file(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("target"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	artifact, err := s.snapshots.ReadFile(target)
	switch {
	case errors.Is(err, snapshot.ErrUnknownTarget):
		metrics.ObserveArtifactDownload(target, "invalid")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown target %q", target))
		return
	case err != nil:
		metrics.ObserveArtifactDownload(target, "error")
		s.logger.Error("read artifact failed", zap.String("target", target), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	case artifact == nil:
		metrics.ObserveArtifactDownload(target, "missing")
		writeError(w, http.StatusNotFound, "no data yet")
		return
	}
	etag := s.hasher.ETag(artifact.Data)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-store")
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		metrics.ObserveArtifactDownload(target, "unchanged")
		w.WriteHeader(http.StatusNotModified)
		return
	}
	metrics.ObserveArtifactDownload(target, "ok")
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Data); err != nil {
		s.logger.Warn("artifact write failed", zap.String("target", target), zap.Error(err))
	}
}

func (s *Server) runAnalyzer(w http.ResponseWriter, r *http.Request) {
	snap, err := s.runner.RunAnalyzerOnly(r.Context())
	if err != nil {
		s.logger.Error("analyzer pass failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"success": true}
	if snap != nil && snap.GeneratedAt != nil {
		resp["generatedAt"] = snap.GeneratedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) analyzerStatus(w http.ResponseWriter, r *http.Request) {
	verdict, err := s.freshness.Evaluate(r.Context())
	if err != nil {
		s.logger.Error("staleness check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to evaluate staleness")
		return
	}
	metrics.ObserveStalenessCheck(verdict.Reason)
	writeJSON(w, http.StatusOK, analyzerStatusDTO{
		Outdated:    verdict.Outdated,
		LastUpdated: verdict.LastUpdated,
		Reason:      verdict.Reason,
	})
}

type analyzerStatusDTO struct {
	Outdated    bool       `json:"outdated"`
	LastUpdated *time.Time `json:"lastUpdated"`
	Reason      string     `json:"reason,omitempty"`
}

// listSnapshots returns the current snapshot and the newest archive entries.
func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := defaultSnapshotLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(val, maxSnapshotLimit)
	}
	current, err := s.snapshots.Current()
	if err != nil {
		s.logger.Error("read current snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read snapshots")
		return
	}
	archive, err := s.snapshots.ListArchive()
	if err != nil {
		s.logger.Error("list archive failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read snapshots")
		return
	}
	total := len(archive)
	if len(archive) > limit {
		archive = archive[:limit]
	}
	if archive == nil {
		archive = []pricewise.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snapshotsDTO{Current: current, Archive: archive, ArchiveTotal: total})
}

type snapshotsDTO struct {
	Current      *pricewise.Snapshot  `json:"current"`
	Archive      []pricewise.Snapshot `json:"archive"`
	ArchiveTotal int                  `json:"archiveTotal"`
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configDTO{Config: pricewise.NewConfigView(s.configs.Get())})
}

// updateConfig applies a partial config. Invalid fields are dropped and echoed
// back in rejected; only a malformed body fails the request.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	patch, typeRejected, err := configstore.DecodePatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg, rejected, err := s.configs.Update(patch)
	if err != nil {
		s.logger.Error("config update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to persist config")
		return
	}
	rejected = append(typeRejected, rejected...)
	if len(rejected) > 0 {
		metrics.ObserveConfigRejections(rejected)
		s.logger.Info("config fields rejected", zap.Strings("fields", rejected), zap.Error(configstore.RejectionError(rejected)))
	}
	writeJSON(w, http.StatusOK, configDTO{
		Success:  true,
		Config:   pricewise.NewConfigView(cfg),
		Rejected: rejected,
	})
}

type configDTO struct {
	Success  bool                 `json:"success,omitempty"`
	Config   pricewise.ConfigView `json:"config"`
	Rejected []string             `json:"rejected,omitempty"`
}
