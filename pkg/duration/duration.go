// Package duration parses and formats durations with calendar-style
// units on top of the standard library syntax: days, weeks, months
// (30 days) and years (365 days), written short or long, with optional
// whitespace. "1w2d12h", "30 days" and "720h" all parse.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

// unitValues maps every accepted unit spelling to its duration.
var unitValues = map[string]time.Duration{
	"ns": time.Nanosecond, "nano": time.Nanosecond, "nanos": time.Nanosecond,
	"nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,
	"us": time.Microsecond, "µs": time.Microsecond, "micro": time.Microsecond,
	"micros": time.Microsecond, "microsecond": time.Microsecond, "microseconds": time.Microsecond,
	"ms": time.Millisecond, "milli": time.Millisecond, "millis": time.Millisecond,
	"millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"s": time.Second, "sec": time.Second, "secs": time.Second,
	"second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute,
	"minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour,
	"hour": time.Hour, "hours": time.Hour,
	"d": Day, "day": Day, "days": Day,
	"w": Week, "wk": Week, "wks": Week, "week": Week, "weeks": Week,
	"mo": Month, "mos": Month, "month": Month, "months": Month,
	"y": Year, "yr": Year, "yrs": Year, "year": Year, "years": Year,
}

// tokenPattern matches one value-unit pair.
var tokenPattern = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*([a-zµ]+)`)

// Parse converts a human-readable duration string to a time.Duration.
// Components accumulate, so "1w2d12h" is one week, two days and twelve
// hours. Every component needs a unit; a bare number is an error.
func Parse(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(strings.ToLower(s))
	if trimmed == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(trimmed, "-")
	trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))

	if trimmed == "0" {
		return 0, nil
	}

	matches := tokenPattern.FindAllStringSubmatchIndex(trimmed, -1)
	if matches == nil {
		return 0, fmt.Errorf("duration: invalid format %q", s)
	}

	// Every character must belong to some token; leftovers mean an
	// unparseable component.
	consumed := 0
	var total time.Duration
	for _, m := range matches {
		if strings.TrimSpace(trimmed[consumed:m[0]]) != "" {
			return 0, fmt.Errorf("duration: invalid format %q", s)
		}
		consumed = m[1]

		value, err := strconv.ParseFloat(trimmed[m[2]:m[3]], 64)
		if err != nil {
			return 0, fmt.Errorf("duration: invalid value in %q", s)
		}
		unit, ok := unitValues[trimmed[m[4]:m[5]]]
		if !ok {
			return 0, fmt.Errorf("duration: unknown unit %q in %q", trimmed[m[4]:m[5]], s)
		}
		total += time.Duration(value * float64(unit))
	}
	if strings.TrimSpace(trimmed[consumed:]) != "" {
		return 0, fmt.Errorf("duration: invalid format %q", s)
	}

	if negative {
		total = -total
	}
	return total, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// formatUnits drives Format, largest first. Sub-second remainders use
// the standard library spellings.
var formatUnits = []struct {
	d    time.Duration
	name string
}{
	{Year, "y"},
	{Month, "mo"},
	{Week, "w"},
	{Day, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
	{time.Microsecond, "µs"},
	{time.Nanosecond, "ns"},
}

// Format renders a duration compactly, omitting zero components:
// 90 minutes becomes "1h30m", 30 days becomes "1mo".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	for _, unit := range formatUnits {
		if d < unit.d {
			continue
		}
		n := d / unit.d
		d -= n * unit.d
		fmt.Fprintf(&b, "%d%s", n, unit.name)
	}
	return b.String()
}
