package events

import (
	"fmt"
	"time"
)

// Kind distinguishes the two event classes devices report.
type Kind string

const (
	KindAlarm    Kind = "alarm"
	KindAccident Kind = "accident"
)

// Valid reports whether the kind is one of the two known classes.
func (k Kind) Valid() bool {
	return k == KindAlarm || k == KindAccident
}

// Severity is the numeric escalation level of an event. Level 3 denotes
// an accident. SeverityUnknown marks codes outside the device table.
type Severity int

const (
	SeverityUnknown  Severity = -1
	SeverityLow      Severity = 1
	SeverityMedium   Severity = 2
	SeverityAccident Severity = 3
)

func (s Severity) String() string {
	return fmt.Sprintf("%d", int(s))
}

// Location is a WGS84 coordinate pair reported by a device.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DefaultWeather is used when no weather snapshot is cached.
const DefaultWeather = "clear"

// Event is a single safety event recorded for a construction site.
// Location is nil when the device had no cached coordinates; MediaRef is
// attached asynchronously for severity-3 events.
type Event struct {
	SiteID     int64     `json:"construction_sites_id"`
	Kind       Kind      `json:"kind"`
	Category   string    `json:"category"`
	Severity   Severity  `json:"severity"`
	Location   *Location `json:"location,omitempty"`
	Weather    string    `json:"weather"`
	OccurredAt time.Time `json:"occurred_at"`
	MediaRef   string    `json:"media_ref,omitempty"`
}

// Field is the rollup hash field for the event, "<category>:<severity>".
func (e Event) Field() string {
	return e.Category + ":" + e.Severity.String()
}

// BufferKey is the transient buffer key for events of one kind, site and
// calendar day: "<kind>:<siteId>:<yyyy-MM-dd>".
func BufferKey(kind Kind, siteID int64, day time.Time) string {
	return fmt.Sprintf("%s:%d:%s", kind, siteID, day.Format("2006-01-02"))
}

// BufferPattern matches the buffer keys of every site for one day.
func BufferPattern(kind Kind, day time.Time) string {
	return fmt.Sprintf("%s:*:%s", kind, day.Format("2006-01-02"))
}

// BufferTTL is how long buffered events survive before natural expiry.
// The flush scheduler relies on it instead of deleting migrated keys.
const BufferTTL = 48 * time.Hour
