package snapshot

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// ParseAnalysis decodes analysis JSON written by the scraper or the analyzer
// and sanitizes every metric record. Metric sections may be a list of records
// or an object keyed by hotel name.
func ParseAnalysis(data []byte) (pricewise.Analysis, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return pricewise.Analysis{}, err
	}
	return sanitizeAnalysis(raw), nil
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if raw == nil {
		return nil, errors.New("decode analysis: expected a JSON object")
	}
	return raw, nil
}

func sanitizeAnalysis(raw map[string]any) pricewise.Analysis {
	a := pricewise.Analysis{
		GeneratedAt:       str(raw, "generated_at"),
		ReferenceProperty: str(raw, "reference_property"),
		Mode:              str(raw, "mode"),
		PricingMetrics:    []pricewise.PricingMetric{},
		OccupancyMetrics:  []pricewise.OccupancyMetric{},
		Comparison:        []pricewise.ComparisonMetric{},
		RoomInventory:     []pricewise.RoomInventoryMetric{},
	}
	for _, rec := range records(raw["pricing_metrics"]) {
		a.PricingMetrics = append(a.PricingMetrics, pricewise.PricingMetric{
			HotelName:                str(rec, "hotel_name"),
			AvgPricePerNight:         reqNum(rec, "avg_price_per_night"),
			MinPrice:                 reqNum(rec, "min_price"),
			MaxPrice:                 reqNum(rec, "max_price"),
			DiscountFrequency:        reqNum(rec, "discount_frequency"),
			PreferredPricePerNight:   optNum(rec, "preferred_price_per_night"),
			PreferredPriceSource:     optStr(rec, "preferred_price_source"),
			PreferredPriceRange:      optNum(rec, "preferred_price_range"),
			AvgMinRoomPrice:          optNum(rec, "avg_min_room_price"),
			AvgMaxRoomPrice:          optNum(rec, "avg_max_room_price"),
			PropertyAvgPricePerNight: optNum(rec, "property_avg_price_per_night"),
			PropertyMinPrice:         optNum(rec, "property_min_price"),
			PropertyMaxPrice:         optNum(rec, "property_max_price"),
			AvgRoomPriceAvg:          optNum(rec, "avg_room_price_avg"),
			RoomTypeCountEstimate:    optNum(rec, "room_type_count_estimate"),
		})
	}
	for _, rec := range records(raw["occupancy_metrics"]) {
		a.OccupancyMetrics = append(a.OccupancyMetrics, pricewise.OccupancyMetric{
			HotelName:                str(rec, "hotel_name"),
			OccupancyRate:            reqNum(rec, "occupancy_rate"),
			PreferredOccupancyRate:   optNum(rec, "preferred_occupancy_rate"),
			PreferredOccupancySource: optStr(rec, "preferred_occupancy_source"),
			PropertyOccupancyRate:    optNum(rec, "property_occupancy_rate"),
			AvgRoomOccupancyRate:     optNum(rec, "avg_room_occupancy_rate"),
			SoldOut:                  reqNum(rec, "sold_out"),
			Available:                reqNum(rec, "available"),
			RoomTypeCountEstimate:    optNum(rec, "room_type_count_estimate"),
		})
	}
	for _, rec := range records(raw["comparison"]) {
		a.Comparison = append(a.Comparison, pricewise.ComparisonMetric{
			HotelName:     str(rec, "hotel_name"),
			AvgPrice:      reqNum(rec, "avg_price"),
			PriceVsRef:    reqNum(rec, "price_vs_ref"),
			PriceVsRefPct: reqNum(rec, "price_vs_ref_pct"),
			Occupancy:     reqNum(rec, "occupancy"),
			Position:      str(rec, "position"),
		})
	}
	for _, rec := range records(raw["room_inventory"]) {
		a.RoomInventory = append(a.RoomInventory, pricewise.RoomInventoryMetric{
			HotelName:             str(rec, "hotel_name"),
			AvgRoomOccupancyRate:  optNum(rec, "avg_room_occupancy_rate"),
			AvgTotalRoomTypes:     optNum(rec, "avg_total_room_types"),
			AvgAvailableRoomTypes: optNum(rec, "avg_available_room_types"),
			AvgSoldOutRoomTypes:   optNum(rec, "avg_sold_out_room_types"),
			RoomTypeCountEstimate: optNum(rec, "room_type_count_estimate"),
			AvgRoomPrice:          optNum(rec, "avg_room_price"),
			AvgRoomPriceAvg:       optNum(rec, "avg_room_price_avg"),
			RoomPriceSpread:       optNum(rec, "room_price_spread"),
			RoomPriceSpreadPct:    optNum(rec, "room_price_spread_pct"),
			UsesRoomTiering:       boolish(rec["uses_room_tiering"]),
		})
	}
	return a
}

// records normalises a metric section into hotel records, dropping any entry
// without a hotel name. Object-shaped sections use the key as the name.
func records(section any) []map[string]any {
	var out []map[string]any
	switch v := section.(type) {
	case []any:
		for _, item := range v {
			rec, ok := item.(map[string]any)
			if !ok || strings.TrimSpace(str(rec, "hotel_name")) == "" {
				continue
			}
			out = append(out, rec)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, name := range keys {
			rec, ok := v[name].(map[string]any)
			if !ok {
				continue
			}
			if strings.TrimSpace(str(rec, "hotel_name")) == "" {
				if strings.TrimSpace(name) == "" {
					continue
				}
				rec["hotel_name"] = name
			}
			out = append(out, rec)
		}
	}
	return out
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func optStr(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok {
		return nil
	}
	return &s
}

// number coerces JSON numbers and numeric strings; non-finite values are absent.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func reqNum(m map[string]any, key string) float64 {
	f, _ := number(m[key])
	return f
}

func optNum(m map[string]any, key string) *float64 {
	f, ok := number(m[key])
	if !ok {
		return nil
	}
	return &f
}

func boolish(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true
		}
		return false
	default:
		f, ok := number(v)
		return ok && f != 0
	}
}

var generatedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseGeneratedAt parses the analysis timestamp and returns it in UTC. Values
// without a zone are wall-clock time in loc (UTC when loc is nil), which is how
// the scraper writes them. A zero or unparseable value yields nil.
func ParseGeneratedAt(value string, loc *time.Location) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range generatedAtLayouts {
		ts, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			continue
		}
		if ts.IsZero() {
			return nil
		}
		ts = ts.UTC()
		return &ts
	}
	return nil
}

// ParseDailyCSV reads the raw pricing CSV by header name. Rows without a hotel
// name are dropped; unknown columns are ignored.
func ParseDailyCSV(data []byte) ([]pricewise.DailyPricingRecord, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []pricewise.DailyPricingRecord{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	out := []pricewise.DailyPricingRecord{}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		rec := make(map[string]any, len(index))
		for name, i := range index {
			if i < len(row) {
				rec[name] = row[i]
			}
		}
		if strings.TrimSpace(str(rec, "hotel_name")) == "" {
			continue
		}
		out = append(out, dailyRecord(rec))
	}
	return out, nil
}

func sanitizeDaily(items []map[string]any) []pricewise.DailyPricingRecord {
	out := make([]pricewise.DailyPricingRecord, 0, len(items))
	for _, rec := range items {
		if strings.TrimSpace(str(rec, "hotel_name")) == "" {
			continue
		}
		out = append(out, dailyRecord(rec))
	}
	return out
}

func dailyRecord(rec map[string]any) pricewise.DailyPricingRecord {
	return pricewise.DailyPricingRecord{
		HotelName:             strings.TrimSpace(str(rec, "hotel_name")),
		CheckInDate:           str(rec, "check_in_date"),
		Availability:          str(rec, "availability"),
		TotalPrice:            optNum(rec, "total_price"),
		DayOffset:             int(reqNum(rec, "day_offset")),
		TotalRoomTypes:        optNum(rec, "total_room_types"),
		AvailableRoomTypes:    optNum(rec, "available_room_types"),
		SoldOutRoomTypes:      optNum(rec, "sold_out_room_types"),
		PropertyOccupancyRate: optNum(rec, "property_occupancy_rate"),
	}
}
