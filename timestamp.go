package kustoingest

import (
	"fmt"
	"strings"
	"time"
)

// defaultTimeLayouts are tried in order when no layout is configured.
// Fractional seconds are accepted after the seconds field of every layout.
var defaultTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
}

// TimeParser parses the timestamp column of input files.
type TimeParser struct {
	// Layout is a Go reference time layout. Empty means defaultTimeLayouts.
	Layout string
	// Location applies to timestamps without zone. Nil means UTC.
	Location *time.Location
}

func NewTimeParser(cfg *Config) TimeParser {
	return TimeParser{Layout: cfg.TimeLayout, Location: cfg.Location}
}

// Parse returns the instant named by s, normalised to UTC.
func (p TimeParser) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	if p.Layout != "" {
		t, err := time.ParseInLocation(p.Layout, s, loc)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	for _, layout := range defaultTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
