package dashboard

import (
	"log/slog"
	"time"

	"golang.org/x/text/language"
)

const (
	layout12h = "3:04:05 PM"
	layout24h = "15:04:05"
)

// Regions whose default time-of-day format uses a 12-hour clock.
var twelveHourRegions = map[string]bool{
	"US": true,
	"AU": true,
	"NZ": true,
	"IN": true,
	"PH": true,
	"PK": true,
	"EG": true,
}

// TimeFormatter renders log timestamps the way a browser's locale time string does.
type TimeFormatter struct {
	layout string
}

// NewTimeFormatter creates a formatter for a BCP 47 locale such as "en-US".
// An unparsable locale falls back to American English.
func NewTimeFormatter(locale string) TimeFormatter {
	tag, err := language.Parse(locale)
	if err != nil {
		slog.Warn("parse locale", "locale", locale, "error", err)
		tag = language.AmericanEnglish
	}
	return TimeFormatter{layout: layoutFor(tag)}
}

func layoutFor(tag language.Tag) string {
	region, _ := tag.Region()
	if twelveHourRegions[region.String()] {
		return layout12h
	}
	return layout24h
}

// Format returns the local time of day for t.
func (f TimeFormatter) Format(t time.Time) string {
	if f.layout == "" {
		return t.Format(layout24h)
	}
	return t.Format(f.layout)
}
