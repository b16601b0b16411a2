// Package pricewise defines the core types shared across the orchestration subsystems.
package pricewise

import (
	"time"
)

// RunStatus is the lifecycle state of the scraper process.
type RunStatus string

// Run status values persisted in the run state file.
const (
	RunStatusIdle    RunStatus = "idle"
	RunStatusRunning RunStatus = "running"
)

// Exit indicators recorded for outcomes that have no real process exit code.
const (
	ExitCodeSpawnFailed = -1
	ExitCodeCancelled   = -2
	ExitCodeInterrupted = -3
)

// Mode names reported by the scraper configuration.
const (
	ModeOccupancy = "OCCUPANCY TRACKING"
	ModePricing   = "PRICING ANALYSIS"
)

// SnapshotSource tags where a snapshot was loaded from.
type SnapshotSource string

// Snapshot sources.
const (
	SourceCurrent SnapshotSource = "current"
	SourceArchive SnapshotSource = "archive"
)

// ScraperConfig holds the knobs handed to the external scraper before every run.
type ScraperConfig struct {
	OccupancyMode          bool   `json:"occupancyMode"`
	DaysAhead              int    `json:"daysAhead"`
	OccupancyCheckInterval int    `json:"occupancyCheckInterval"`
	CheckInOffsets         []int  `json:"checkInOffsets"`
	StayDurations          []int  `json:"stayDurations"`
	Guests                 int    `json:"guests"`
	Rooms                  int    `json:"rooms"`
	ReferenceProperty      string `json:"referenceProperty"`
	Headless               bool   `json:"headless"`
	BrowserTimeout         int    `json:"browserTimeout"`
	EnableArchiving        bool   `json:"enableArchiving"`
	MaxArchiveFiles        int    `json:"maxArchiveFiles"`
	ShowProgress           bool   `json:"showProgress"`
	ProgressInterval       int    `json:"progressInterval"`
}

// ModeName returns the human readable scrape mode.
func (c ScraperConfig) ModeName() string {
	if c.OccupancyMode {
		return ModeOccupancy
	}
	return ModePricing
}

// RequestDelay is the per-request delay the scraper applies, in seconds.
func (c ScraperConfig) RequestDelay() float64 {
	if c.OccupancyMode {
		return 0.5
	}
	return 1.0
}

// Clone returns a deep copy so callers can mutate slices freely.
func (c ScraperConfig) Clone() ScraperConfig {
	cp := c
	cp.CheckInOffsets = append([]int(nil), c.CheckInOffsets...)
	cp.StayDurations = append([]int(nil), c.StayDurations...)
	return cp
}

// ConfigView is the API representation of a ScraperConfig including derived fields.
type ConfigView struct {
	ScraperConfig
	RequestDelay float64 `json:"requestDelay"`
	ModeName     string  `json:"modeName"`
}

// NewConfigView decorates cfg with its derived fields.
func NewConfigView(cfg ScraperConfig) ConfigView {
	return ConfigView{
		ScraperConfig: cfg,
		RequestDelay:  cfg.RequestDelay(),
		ModeName:      cfg.ModeName(),
	}
}

// RunState is the durable record of the scraper lifecycle. At most one record
// may be running at a time.
type RunState struct {
	Status       RunStatus  `json:"status"`
	Revision     int64      `json:"revision"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	RunID        string     `json:"runId,omitempty"`
	PID          int        `json:"pid,omitempty"`
	LogFile      string     `json:"logFile,omitempty"`
	LastEndedAt  *time.Time `json:"lastEndedAt,omitempty"`
	LastExitCode *int       `json:"lastExitCode,omitempty"`
	LastRunID    string     `json:"lastRunId,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Running reports whether the record describes an in-flight run.
func (s RunState) Running() bool {
	return s.Status == RunStatusRunning
}

// RunStart carries the data recorded on the idle to running transition.
type RunStart struct {
	RunID     string
	StartedAt time.Time
	LogFile   string
}

// HistoryConfig is the slice of configuration captured with every history entry.
type HistoryConfig struct {
	Mode              string    `json:"mode"`
	OccupancyMode     bool      `json:"occupancy_mode"`
	DaysAhead         int       `json:"days_ahead"`
	Guests            int       `json:"guests"`
	Rooms             int       `json:"rooms"`
	ReferenceProperty string    `json:"reference_property"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewHistoryConfig captures cfg as of ts.
func NewHistoryConfig(cfg ScraperConfig, ts time.Time) HistoryConfig {
	return HistoryConfig{
		Mode:              cfg.ModeName(),
		OccupancyMode:     cfg.OccupancyMode,
		DaysAhead:         cfg.DaysAhead,
		Guests:            cfg.Guests,
		Rooms:             cfg.Rooms,
		ReferenceProperty: cfg.ReferenceProperty,
		Timestamp:         ts,
	}
}

// HistoryEntry is appended once per finished run and never mutated.
type HistoryEntry struct {
	Timestamp       time.Time     `json:"timestamp"`
	RunID           string        `json:"runId"`
	StartedAt       time.Time     `json:"startedAt"`
	Mode            string        `json:"mode"`
	ScrapeSuccess   bool          `json:"scrape_success"`
	AnalysisSuccess bool          `json:"analysis_success"`
	ExitCode        int           `json:"exitCode"`
	Error           string        `json:"error,omitempty"`
	Config          HistoryConfig `json:"config"`
}

// DailyProgress is written by the scraper while a run is in flight.
type DailyProgress struct {
	Date                string    `json:"date"`
	CompletedProperties []string  `json:"completed_properties"`
	LastUpdated         time.Time `json:"last_updated"`
}

// DailyPricingRecord is one hotel x check-in date x stay length observation.
type DailyPricingRecord struct {
	HotelName             string   `json:"hotel_name"`
	CheckInDate           string   `json:"check_in_date"`
	Availability          string   `json:"availability"`
	TotalPrice            *float64 `json:"total_price"`
	DayOffset             int      `json:"day_offset"`
	TotalRoomTypes        *float64 `json:"total_room_types,omitempty"`
	AvailableRoomTypes    *float64 `json:"available_room_types,omitempty"`
	SoldOutRoomTypes      *float64 `json:"sold_out_room_types,omitempty"`
	PropertyOccupancyRate *float64 `json:"property_occupancy_rate,omitempty"`
}

// PricingMetric summarises nightly prices for one hotel.
type PricingMetric struct {
	HotelName                 string   `json:"hotel_name"`
	AvgPricePerNight          float64  `json:"avg_price_per_night"`
	MinPrice                  float64  `json:"min_price"`
	MaxPrice                  float64  `json:"max_price"`
	DiscountFrequency         float64  `json:"discount_frequency"`
	PreferredPricePerNight    *float64 `json:"preferred_price_per_night"`
	PreferredPriceSource      *string  `json:"preferred_price_source"`
	PreferredPriceRange       *float64 `json:"preferred_price_range"`
	AvgMinRoomPrice           *float64 `json:"avg_min_room_price"`
	AvgMaxRoomPrice           *float64 `json:"avg_max_room_price"`
	PropertyAvgPricePerNight  *float64 `json:"property_avg_price_per_night"`
	PropertyMinPrice          *float64 `json:"property_min_price"`
	PropertyMaxPrice          *float64 `json:"property_max_price"`
	AvgRoomPriceAvg           *float64 `json:"avg_room_price_avg"`
	RoomTypeCountEstimate     *float64 `json:"room_type_count_estimate"`
}

// OccupancyMetric summarises availability for one hotel.
type OccupancyMetric struct {
	HotelName                string   `json:"hotel_name"`
	OccupancyRate            float64  `json:"occupancy_rate"`
	PreferredOccupancyRate   *float64 `json:"preferred_occupancy_rate"`
	PreferredOccupancySource *string  `json:"preferred_occupancy_source"`
	PropertyOccupancyRate    *float64 `json:"property_occupancy_rate"`
	AvgRoomOccupancyRate     *float64 `json:"avg_room_occupancy_rate"`
	SoldOut                  float64  `json:"sold_out"`
	Available                float64  `json:"available"`
	RoomTypeCountEstimate    *float64 `json:"room_type_count_estimate"`
}

// RoomInventoryMetric summarises room-type inventory for one hotel.
type RoomInventoryMetric struct {
	HotelName             string   `json:"hotel_name"`
	AvgRoomOccupancyRate  *float64 `json:"avg_room_occupancy_rate"`
	AvgTotalRoomTypes     *float64 `json:"avg_total_room_types"`
	AvgAvailableRoomTypes *float64 `json:"avg_available_room_types"`
	AvgSoldOutRoomTypes   *float64 `json:"avg_sold_out_room_types"`
	RoomTypeCountEstimate *float64 `json:"room_type_count_estimate"`
	AvgRoomPrice          *float64 `json:"avg_room_price"`
	AvgRoomPriceAvg       *float64 `json:"avg_room_price_avg"`
	RoomPriceSpread       *float64 `json:"room_price_spread"`
	RoomPriceSpreadPct    *float64 `json:"room_price_spread_pct"`
	UsesRoomTiering       bool     `json:"uses_room_tiering"`
}

// ComparisonMetric compares one hotel against the reference property.
type ComparisonMetric struct {
	HotelName     string  `json:"hotel_name"`
	AvgPrice      float64 `json:"avg_price"`
	PriceVsRef    float64 `json:"price_vs_ref"`
	PriceVsRefPct float64 `json:"price_vs_ref_pct"`
	Occupancy     float64 `json:"occupancy"`
	Position      string  `json:"position"`
}

// Analysis is the aggregated result produced by a scrape or an analyzer pass.
type Analysis struct {
	GeneratedAt       string                `json:"generated_at"`
	ReferenceProperty string                `json:"reference_property"`
	Mode              string                `json:"mode"`
	PricingMetrics    []PricingMetric       `json:"pricing_metrics"`
	OccupancyMetrics  []OccupancyMetric     `json:"occupancy_metrics"`
	Comparison        []ComparisonMetric    `json:"comparison"`
	RoomInventory     []RoomInventoryMetric `json:"room_inventory"`
}

// Snapshot is an immutable bundle of one analysis plus the raw data behind it.
type Snapshot struct {
	ID          string               `json:"id"`
	Source      SnapshotSource       `json:"source"`
	GeneratedAt *time.Time           `json:"generatedAt"`
	Analysis    Analysis             `json:"analysis"`
	DailyData   []DailyPricingRecord `json:"dailyData"`
}

// Outputs reports which current artifacts exist on disk.
type Outputs struct {
	AnalysisJSON bool `json:"analysisJson"`
	PricingCSV   bool `json:"pricingCsv"`
}

// Artifact is a raw file exposed for download.
type Artifact struct {
	Data        []byte
	ContentType string
	Filename    string
}

// StatusPayload aggregates the read-only state shown by the UI.
type StatusPayload struct {
	RunState      RunState       `json:"runState"`
	History       []HistoryEntry `json:"history"`
	Config        ConfigView     `json:"config"`
	Outputs       Outputs        `json:"outputs"`
	DailyProgress *DailyProgress `json:"dailyProgress,omitempty"`
	LogTail       []string       `json:"logTail,omitempty"`
}
