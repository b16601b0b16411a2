// Package analyzer aggregates raw daily pricing records into per-hotel metrics.
package analyzer

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// Position labels used in the comparison section.
const (
	PositionReference = "reference"
	PositionAbove     = "above"
	PositionBelow     = "below"
	PositionAtPar     = "at par"
)

// Preferred metric sources.
const (
	SourceTotalPrice = "total_price"
	SourceProperty   = "property"
	SourceRoomTypes  = "room_types"
	SourceListing    = "availability"
)

// discountThreshold marks a nightly price as discounted when it sits at least
// this fraction below the hotel average.
const discountThreshold = 0.10

// atParPct is the band (in percent) within which a hotel is priced at par.
const atParPct = 1.0

type hotelStats struct {
	name         string
	nightly      []float64
	soldOut      int
	available    int
	propertyOcc  []float64
	roomOcc      []float64
	totalRooms   []float64
	availRooms   []float64
	soldOutRooms []float64
}

// Analyze computes a full analysis from records using cfg for the reference
// property and mode. It is a pure function of its inputs.
func Analyze(records []pricewise.DailyPricingRecord, cfg pricewise.ScraperConfig, now time.Time) pricewise.Analysis {
	out := pricewise.Analysis{
		GeneratedAt:       now.UTC().Format(time.RFC3339),
		ReferenceProperty: cfg.ReferenceProperty,
		Mode:              cfg.ModeName(),
		PricingMetrics:    []pricewise.PricingMetric{},
		OccupancyMetrics:  []pricewise.OccupancyMetric{},
		Comparison:        []pricewise.ComparisonMetric{},
		RoomInventory:     []pricewise.RoomInventoryMetric{},
	}

	for _, h := range group(records) {
		if pm, ok := pricing(h); ok {
			out.PricingMetrics = append(out.PricingMetrics, pm)
		}
		out.OccupancyMetrics = append(out.OccupancyMetrics, occupancy(h))
		if inv, ok := inventory(h); ok {
			out.RoomInventory = append(out.RoomInventory, inv)
		}
	}
	out.Comparison = compare(out.PricingMetrics, out.OccupancyMetrics, cfg.ReferenceProperty)
	return out
}

func group(records []pricewise.DailyPricingRecord) []*hotelStats {
	byName := make(map[string]*hotelStats)
	for _, rec := range records {
		name := strings.TrimSpace(rec.HotelName)
		if name == "" {
			continue
		}
		h, ok := byName[name]
		if !ok {
			h = &hotelStats{name: name}
			byName[name] = h
		}
		if isSoldOut(rec.Availability) {
			h.soldOut++
		} else {
			h.available++
		}
		if rec.TotalPrice != nil && *rec.TotalPrice > 0 && rec.DayOffset > 0 {
			h.nightly = append(h.nightly, *rec.TotalPrice/float64(rec.DayOffset))
		}
		if rec.PropertyOccupancyRate != nil {
			h.propertyOcc = append(h.propertyOcc, *rec.PropertyOccupancyRate)
		}
		if rec.TotalRoomTypes != nil {
			h.totalRooms = append(h.totalRooms, *rec.TotalRoomTypes)
			if *rec.TotalRoomTypes > 0 && rec.SoldOutRoomTypes != nil {
				h.roomOcc = append(h.roomOcc, *rec.SoldOutRoomTypes / *rec.TotalRoomTypes * 100)
			}
		}
		if rec.AvailableRoomTypes != nil {
			h.availRooms = append(h.availRooms, *rec.AvailableRoomTypes)
		}
		if rec.SoldOutRoomTypes != nil {
			h.soldOutRooms = append(h.soldOutRooms, *rec.SoldOutRoomTypes)
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*hotelStats, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out
}

func isSoldOut(availability string) bool {
	switch strings.ToLower(strings.TrimSpace(availability)) {
	case "sold_out", "sold out", "soldout", "unavailable", "not available", "no availability", "false", "0":
		return true
	}
	return false
}

func pricing(h *hotelStats) (pricewise.PricingMetric, bool) {
	if len(h.nightly) == 0 {
		return pricewise.PricingMetric{}, false
	}
	avg := mean(h.nightly)
	lo, hi := minMax(h.nightly)
	discounted := 0
	for _, p := range h.nightly {
		if p <= avg*(1-discountThreshold) {
			discounted++
		}
	}
	source := SourceTotalPrice
	return pricewise.PricingMetric{
		HotelName:                h.name,
		AvgPricePerNight:         round2(avg),
		MinPrice:                 round2(lo),
		MaxPrice:                 round2(hi),
		DiscountFrequency:        round2(float64(discounted) / float64(len(h.nightly)) * 100),
		PreferredPricePerNight:   ptr(round2(avg)),
		PreferredPriceSource:     &source,
		PreferredPriceRange:      ptr(round2(hi - lo)),
		PropertyAvgPricePerNight: ptr(round2(avg)),
		PropertyMinPrice:         ptr(round2(lo)),
		PropertyMaxPrice:         ptr(round2(hi)),
		AvgRoomPriceAvg:          ptr(round2(avg)),
		RoomTypeCountEstimate:    optMean(h.totalRooms),
	}, true
}

func occupancy(h *hotelStats) pricewise.OccupancyMetric {
	total := h.soldOut + h.available
	rate := 0.0
	if total > 0 {
		rate = float64(h.soldOut) / float64(total) * 100
	}
	m := pricewise.OccupancyMetric{
		HotelName:             h.name,
		OccupancyRate:         round2(rate),
		PropertyOccupancyRate: optMean(h.propertyOcc),
		AvgRoomOccupancyRate:  optMean(h.roomOcc),
		SoldOut:               float64(h.soldOut),
		Available:             float64(h.available),
		RoomTypeCountEstimate: optMean(h.totalRooms),
	}
	var source string
	switch {
	case m.PropertyOccupancyRate != nil:
		m.PreferredOccupancyRate = ptr(*m.PropertyOccupancyRate)
		source = SourceProperty
	case m.AvgRoomOccupancyRate != nil:
		m.PreferredOccupancyRate = ptr(*m.AvgRoomOccupancyRate)
		source = SourceRoomTypes
	default:
		m.PreferredOccupancyRate = ptr(m.OccupancyRate)
		source = SourceListing
	}
	m.PreferredOccupancySource = &source
	return m
}

func inventory(h *hotelStats) (pricewise.RoomInventoryMetric, bool) {
	if len(h.totalRooms) == 0 && len(h.availRooms) == 0 && len(h.soldOutRooms) == 0 {
		return pricewise.RoomInventoryMetric{}, false
	}
	m := pricewise.RoomInventoryMetric{
		HotelName:             h.name,
		AvgRoomOccupancyRate:  optMean(h.roomOcc),
		AvgTotalRoomTypes:     optMean(h.totalRooms),
		AvgAvailableRoomTypes: optMean(h.availRooms),
		AvgSoldOutRoomTypes:   optMean(h.soldOutRooms),
		RoomTypeCountEstimate: optMean(h.totalRooms),
	}
	if len(h.nightly) > 0 {
		avg := mean(h.nightly)
		lo, hi := minMax(h.nightly)
		m.AvgRoomPrice = ptr(round2(avg))
		m.AvgRoomPriceAvg = ptr(round2(avg))
		m.RoomPriceSpread = ptr(round2(hi - lo))
		if avg > 0 {
			m.RoomPriceSpreadPct = ptr(round2((hi - lo) / avg * 100))
		}
	}
	m.UsesRoomTiering = m.AvgTotalRoomTypes != nil && *m.AvgTotalRoomTypes > 1
	return m, true
}

func compare(prices []pricewise.PricingMetric, occ []pricewise.OccupancyMetric, reference string) []pricewise.ComparisonMetric {
	out := []pricewise.ComparisonMetric{}
	ref := strings.TrimSpace(reference)
	var refAvg float64
	found := false
	for _, p := range prices {
		if strings.EqualFold(p.HotelName, ref) {
			refAvg = p.AvgPricePerNight
			found = true
			break
		}
	}
	if !found {
		return out
	}
	occByName := make(map[string]float64, len(occ))
	for _, o := range occ {
		occByName[o.HotelName] = o.OccupancyRate
	}
	for _, p := range prices {
		delta := p.AvgPricePerNight - refAvg
		pct := 0.0
		if refAvg != 0 {
			pct = delta / refAvg * 100
		}
		position := PositionAtPar
		switch {
		case strings.EqualFold(p.HotelName, ref):
			position = PositionReference
		case pct > atParPct:
			position = PositionAbove
		case pct < -atParPct:
			position = PositionBelow
		}
		out = append(out, pricewise.ComparisonMetric{
			HotelName:     p.HotelName,
			AvgPrice:      p.AvgPricePerNight,
			PriceVsRef:    round2(delta),
			PriceVsRefPct: round2(pct),
			Occupancy:     occByName[p.HotelName],
			Position:      position,
		})
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func optMean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	return ptr(round2(mean(values)))
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptr(v float64) *float64 {
	return &v
}
