// Package timeparse parses the timestamp spellings found in event logs.
package timeparse

import (
	"errors"
	"strconv"
	"time"
)

// ErrInvalidTimestamp indicates a timestamp parsing error.
var ErrInvalidTimestamp = errors.New("timeparse: invalid timestamp format")

// Common timestamp layouts ordered by likelihood
var commonLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00", // ISO 8601 with millis
	"2006-01-02T15:04:05Z07:00",     // ISO 8601
	"2006-01-02T15:04:05.000Z",      // ISO 8601 UTC with millis
	"2006-01-02T15:04:05Z",          // ISO 8601 UTC
	"2006-01-02T15:04:05",           // ISO 8601 local
	"2006-01-02 15:04:05.000",       // Space separator with millis
	"2006-01-02 15:04:05",           // Space separator
	"2006-01-02 15:04:05Z07:00",     // Space separator with zone
	"2006-01-02",                    // Date only
	"02/01/2006 15:04:05",           // DD/MM/YYYY
	"2006/01/02 15:04:05",           // YYYY/MM/DD
	time.RFC3339,
	time.RFC3339Nano,
}

// Parse parses s using the ISO fast path first, then the common layouts.
// Timestamps without a zone are read as UTC.
func Parse(s string) (time.Time, error) {
	if len(s) == 0 {
		return time.Time{}, ErrInvalidTimestamp
	}
	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		if t, ok := parseISO8601(s); ok {
			return t, nil
		}
	}
	for _, layout := range commonLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

// ParseLayout tries layout first and falls back to Parse.
func ParseLayout(layout, s string) (time.Time, error) {
	if layout != "" {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return Parse(s)
}

// ParseExcel parses an Excel serial date (days since 1899-12-30).
func ParseExcel(s string) (time.Time, error) {
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, ErrInvalidTimestamp
	}
	epoch := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	days := int64(val)
	t := epoch.AddDate(0, 0, int(days))
	if fraction := val - float64(days); fraction > 0 {
		t = t.Add(time.Duration(fraction * 24 * float64(time.Hour)))
	}
	return t, nil
}

// parseISO8601 parses ISO 8601 using direct byte arithmetic.
func parseISO8601(s string) (time.Time, bool) {
	year := parseDigits(s[0:4])
	month := parseDigits(s[5:7])
	day := parseDigits(s[8:10])
	if year < 0 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}

	var hour, minute, second, nsec int
	loc := time.UTC

	if len(s) > 10 {
		if s[10] != 'T' && s[10] != ' ' || len(s) < 19 {
			return time.Time{}, false
		}
		hour = parseDigits(s[11:13])
		minute = parseDigits(s[14:16])
		second = parseDigits(s[17:19])
		if hour < 0 || minute < 0 || second < 0 {
			return time.Time{}, false
		}

		i := 19
		if i < len(s) && s[i] == '.' {
			i++
			start := i
			for i < len(s) && s[i] >= '0' && s[i] <= '9' {
				i++
			}
			nsec = parseFraction(s[start:i])
		}

		switch {
		case i == len(s):
		case s[i] == 'Z':
			if i != len(s)-1 {
				return time.Time{}, false
			}
		case s[i] == '+' || s[i] == '-':
			rest := s[i+1:]
			var hh, mm int
			switch len(rest) {
			case 5: // hh:mm
				hh, mm = parseDigits(rest[0:2]), parseDigits(rest[3:5])
			case 4: // hhmm
				hh, mm = parseDigits(rest[0:2]), parseDigits(rest[2:4])
			case 2:
				hh = parseDigits(rest)
			default:
				return time.Time{}, false
			}
			if hh < 0 || mm < 0 {
				return time.Time{}, false
			}
			offset := hh*3600 + mm*60
			if s[i] == '-' {
				offset = -offset
			}
			loc = time.FixedZone("", offset)
		default:
			return time.Time{}, false
		}
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, nsec, loc), true
}

// parseDigits parses a short run of ASCII digits, -1 on any other byte.
func parseDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// parseFraction parses fractional seconds to nanoseconds.
func parseFraction(s string) int {
	result := 0
	multiplier := 100000000
	for i := 0; i < len(s) && i < 9; i++ {
		result += int(s[i]-'0') * multiplier
		multiplier /= 10
	}
	return result
}
