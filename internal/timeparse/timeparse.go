// Package timeparse rebuilds absolute timestamps from the date and time
// encodings the airline feeds use. Values without an offset are wall clock
// times and are returned in time.UTC; the itinerary list's isUTC flag says
// how to read them.
package timeparse

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var offsetFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04-07:00",
}

var naiveFormats = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTimeWithOffset parses an ISO timestamp, keeping its offset when one
// is present.
func ParseTimeWithOffset(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, format := range offsetFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}
	for _, format := range naiveFormats {
		if t, err := time.ParseInLocation(format, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &time.ParseError{
		Value:   value,
		Message: ": unable to parse time string",
	}
}

// CombineDateTime joins "2006-01-02" and "15:04".
func CombineDateTime(date, clock string) (time.Time, error) {
	return ParseTimeWithOffset(date + "T" + clock + ":00")
}

// ParseDDMMYY joins a DDMMYY date and an HHMM time.
func ParseDDMMYY(date, clock string) (time.Time, error) {
	t, err := time.ParseInLocation("020106 1504", date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q %q: %w", date, clock, err)
	}
	return t, nil
}

var digitPair = regexp.MustCompile(`\d{2}`)

// ParseDigitPairs reads the date as consecutive two digit groups (day,
// month, two digit year) ignoring any separators, and the time as hour and
// minute groups. An empty clock means midnight.
func ParseDigitPairs(date, clock string) (time.Time, error) {
	d := digitPair.FindAllString(date, 3)
	if len(d) != 3 {
		return time.Time{}, fmt.Errorf("parse date %q: expected DD MM YY groups", date)
	}

	hhmm := "0000"
	if clock != "" {
		c := digitPair.FindAllString(clock, 2)
		if len(c) != 2 {
			return time.Time{}, fmt.Errorf("parse time %q: expected HH MM groups", clock)
		}
		hhmm = c[0] + c[1]
	}
	return ParseDDMMYY(d[0]+d[1]+d[2], hhmm)
}
