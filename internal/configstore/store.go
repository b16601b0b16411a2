// Package configstore persists the scraper configuration handed to every run.
package configstore

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/fsutil"
	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// FileName is the config file name inside the data directory.
const FileName = "scraper_config.json"

// RejectionError wraps pricewise.ErrConfigValidation with the rejected field
// names. It returns nil when nothing was rejected.
func RejectionError(fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", pricewise.ErrConfigValidation, strings.Join(fields, ", "))
}

// Defaults returns the configuration used when nothing has been persisted.
func Defaults() pricewise.ScraperConfig {
	return pricewise.ScraperConfig{
		OccupancyMode:          true,
		DaysAhead:              90,
		OccupancyCheckInterval: 1,
		CheckInOffsets:         []int{0, 7, 14, 21, 30, 60, 90},
		StayDurations:          []int{2, 3, 7},
		Guests:                 2,
		Rooms:                  1,
		ReferenceProperty:      "Ukanyi Luxury Villa",
		Headless:               false,
		BrowserTimeout:         30000,
		EnableArchiving:        true,
		MaxArchiveFiles:        30,
		ShowProgress:           true,
		ProgressInterval:       10,
	}
}

// Store reads and writes the scraper configuration file.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// New builds a Store backed by path.
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		logger: logger.Named("configstore"),
	}
}

// Get returns defaults merged with the persisted file. It never fails: a
// missing file yields defaults and a corrupt file or field is logged and
// replaced by its default.
func (s *Store) Get() pricewise.ScraperConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Update validates each field of p independently, merges the accepted ones
// into the stored config and persists the result. Rejected field names are
// returned alongside the merged config. The error is non-nil only when the
// file could not be written.
func (s *Store) Update(p Patch) (pricewise.ScraperConfig, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.load()
	rejected := apply(&cfg, p)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return cfg, rejected, fmt.Errorf("encode config: %w", err)
	}
	if err := fsutil.WriteFile(s.path, data, 0o600); err != nil {
		return cfg, rejected, fmt.Errorf("persist config: %w", err)
	}
	if len(rejected) > 0 {
		s.logger.Warn("config fields rejected", zap.Strings("fields", rejected), zap.Error(RejectionError(rejected)))
	}
	return cfg.Clone(), rejected, nil
}

func (s *Store) load() pricewise.ScraperConfig {
	cfg := Defaults()
	data, err := fsutil.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("config file unreadable, using defaults", zap.Error(err))
		return cfg
	}
	if len(data) == 0 {
		return cfg
	}
	p, rejected, err := DecodePatch(data)
	if err != nil {
		s.logger.Warn("config file corrupt, using defaults", zap.String("path", s.path), zap.Error(err))
		return cfg
	}
	rejected = append(rejected, apply(&cfg, p)...)
	if len(rejected) > 0 {
		s.logger.Warn("stored config fields invalid, using defaults for them",
			zap.Strings("fields", rejected),
			zap.Error(RejectionError(rejected)),
		)
	}
	return cfg
}

// apply merges the valid fields of p into cfg and returns the rejected names.
func apply(cfg *pricewise.ScraperConfig, p Patch) []string {
	var rejected []string
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(name string, dst *int, v *float64, minimum int) {
		if v == nil {
			return
		}
		n, ok := validInt(*v, minimum)
		if !ok {
			rejected = append(rejected, name)
			return
		}
		*dst = n
	}
	setArray := func(name string, dst *[]int, v *[]float64) {
		if v == nil {
			return
		}
		arr := cleanArray(*v)
		if len(arr) == 0 {
			rejected = append(rejected, name)
			return
		}
		*dst = arr
	}

	setBool(&cfg.OccupancyMode, p.OccupancyMode)
	setInt("daysAhead", &cfg.DaysAhead, p.DaysAhead, 0)
	setInt("occupancyCheckInterval", &cfg.OccupancyCheckInterval, p.OccupancyCheckInterval, 1)
	setArray("checkInOffsets", &cfg.CheckInOffsets, p.CheckInOffsets)
	setArray("stayDurations", &cfg.StayDurations, p.StayDurations)
	setInt("guests", &cfg.Guests, p.Guests, 1)
	setInt("rooms", &cfg.Rooms, p.Rooms, 1)
	if p.ReferenceProperty != nil {
		if ref := strings.TrimSpace(*p.ReferenceProperty); ref != "" {
			cfg.ReferenceProperty = ref
		} else {
			rejected = append(rejected, "referenceProperty")
		}
	}
	setBool(&cfg.Headless, p.Headless)
	setInt("browserTimeout", &cfg.BrowserTimeout, p.BrowserTimeout, 0)
	setBool(&cfg.EnableArchiving, p.EnableArchiving)
	setInt("maxArchiveFiles", &cfg.MaxArchiveFiles, p.MaxArchiveFiles, 0)
	setBool(&cfg.ShowProgress, p.ShowProgress)
	setInt("progressInterval", &cfg.ProgressInterval, p.ProgressInterval, 0)
	return rejected
}

func validInt(v float64, minimum int) (int, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, false
	}
	if v < float64(minimum) || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

// cleanArray drops non-finite, fractional and negative entries and removes
// duplicates, keeping first-seen order.
func cleanArray(values []float64) []int {
	seen := make(map[int]struct{}, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		n, ok := validInt(v, 0)
		if !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
