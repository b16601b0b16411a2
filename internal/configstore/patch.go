package configstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Patch is a partial ScraperConfig update. Nil fields are left untouched.
// Numbers are kept as float64 until validation so fractional or non-finite
// input can be rejected instead of silently truncated.
type Patch struct {
	OccupancyMode          *bool
	DaysAhead              *float64
	OccupancyCheckInterval *float64
	CheckInOffsets         *[]float64
	StayDurations          *[]float64
	Guests                 *float64
	Rooms                  *float64
	ReferenceProperty      *string
	Headless               *bool
	BrowserTimeout         *float64
	EnableArchiving        *bool
	MaxArchiveFiles        *float64
	ShowProgress           *bool
	ProgressInterval       *float64
}

type fieldKind int

const (
	kindBool fieldKind = iota
	kindNumber
	kindArray
	kindString
)

var patchFields = map[string]fieldKind{
	"occupancyMode":          kindBool,
	"daysAhead":              kindNumber,
	"occupancyCheckInterval": kindNumber,
	"checkInOffsets":         kindArray,
	"stayDurations":          kindArray,
	"guests":                 kindNumber,
	"rooms":                  kindNumber,
	"referenceProperty":      kindString,
	"headless":               kindBool,
	"browserTimeout":         kindNumber,
	"enableArchiving":        kindBool,
	"maxArchiveFiles":        kindNumber,
	"showProgress":           kindBool,
	"progressInterval":       kindNumber,
}

// DecodePatch parses a JSON object into a Patch. Fields whose JSON type does
// not match are returned in the rejected list. Unknown keys (including the
// derived requestDelay and modeName) are ignored. An error is returned only
// when the body is not a JSON object.
func DecodePatch(body []byte) (Patch, []string, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Patch{}, nil, fmt.Errorf("decode config body: %w", err)
	}
	if raw == nil {
		return Patch{}, nil, fmt.Errorf("decode config body: expected a JSON object")
	}

	var (
		p        Patch
		rejected []string
	)
	for _, key := range sortedKeys(raw) {
		kind, ok := patchFields[key]
		if !ok {
			continue
		}
		value := raw[key]
		if isNull(value) {
			continue
		}
		var accepted bool
		switch kind {
		case kindBool:
			var b bool
			if err := json.Unmarshal(value, &b); err == nil {
				accepted = p.setBool(key, b)
			}
		case kindNumber:
			if n, ok := decodeNumber(value); ok {
				accepted = p.setNumber(key, n)
			}
		case kindArray:
			if arr, ok := decodeArray(value); ok {
				accepted = p.setArray(key, arr)
			}
		case kindString:
			var s string
			if err := json.Unmarshal(value, &s); err == nil {
				p.ReferenceProperty = &s
				accepted = true
			}
		}
		if !accepted {
			rejected = append(rejected, key)
		}
	}
	return p, rejected, nil
}

func (p *Patch) setBool(key string, v bool) bool {
	switch key {
	case "occupancyMode":
		p.OccupancyMode = &v
	case "headless":
		p.Headless = &v
	case "enableArchiving":
		p.EnableArchiving = &v
	case "showProgress":
		p.ShowProgress = &v
	default:
		return false
	}
	return true
}

func (p *Patch) setNumber(key string, v float64) bool {
	switch key {
	case "daysAhead":
		p.DaysAhead = &v
	case "occupancyCheckInterval":
		p.OccupancyCheckInterval = &v
	case "guests":
		p.Guests = &v
	case "rooms":
		p.Rooms = &v
	case "browserTimeout":
		p.BrowserTimeout = &v
	case "maxArchiveFiles":
		p.MaxArchiveFiles = &v
	case "progressInterval":
		p.ProgressInterval = &v
	default:
		return false
	}
	return true
}

func (p *Patch) setArray(key string, v []float64) bool {
	switch key {
	case "checkInOffsets":
		p.CheckInOffsets = &v
	case "stayDurations":
		p.StayDurations = &v
	default:
		return false
	}
	return true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeNumber accepts a JSON number or a numeric string.
func decodeNumber(raw json.RawMessage) (float64, bool) {
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		f, err := num.Float64()
		return f, err == nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// decodeArray accepts a JSON array of numbers or a comma/space separated string.
// Entries that are not numbers become NaN so validation drops them.
func decodeArray(raw json.RawMessage) ([]float64, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		out := make([]float64, 0, len(items))
		for _, item := range items {
			if n, ok := decodeNumber(item); ok {
				out = append(out, n)
			} else {
				out = append(out, math.NaN())
			}
		}
		return out, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]float64, 0, len(fields))
	for _, field := range fields {
		f, err := strconv.ParseFloat(field, 64)
		if err != nil {
			f = math.NaN()
		}
		out = append(out, f)
	}
	return out, true
}
