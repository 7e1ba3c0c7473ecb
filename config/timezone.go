package config

import (
	"log"
	"time"
)

// TimezoneConverter formats UTC timestamps in the configured local timezone.
type TimezoneConverter struct {
	loc *time.Location
}

// NewTimezoneConverter loads the given IANA timezone. Falls back to UTC if
// the zone cannot be loaded.
func NewTimezoneConverter(name string) *TimezoneConverter {
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("⚠️ Failed to load timezone %s: %v, falling back to UTC", name, err)
		loc = time.UTC
	}
	return &TimezoneConverter{loc: loc}
}

// ToLocal converts a UTC time to the configured timezone.
func (tc *TimezoneConverter) ToLocal(t time.Time) time.Time {
	return t.In(tc.loc)
}

// FormatLocal renders a timestamp in the configured timezone.
func (tc *TimezoneConverter) FormatLocal(t time.Time) string {
	return t.In(tc.loc).Format("2006-01-02 15:04:05 MST")
}
