package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexString unmarshals either a JSON string or a JSON number into a string.
// imhd.sk is not consistent about quoting route numbers and ids.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value is neither string nor number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Arrival is one row of a platform's departure board, exactly as the
// push channel streams it.
type Arrival struct {
	Linka        FlexString `json:"linka"`        // route number
	Cas          int64      `json:"cas"`          // scheduled arrival, epoch milliseconds
	CasDelta     int        `json:"casDelta"`     // delay in minutes
	CielZastavka int        `json:"cielZastavka"` // destination stop id
	LastZ        int        `json:"lastZ"`
	Typ          string     `json:"typ"` // "online" for live vehicle records
}

// Live reports whether the record comes from a tracked vehicle rather
// than the static timetable.
func (a Arrival) Live() bool { return a.Typ == "online" }

// ScheduledAt returns the scheduled arrival as a time.Time.
func (a Arrival) ScheduledAt() time.Time {
	return time.UnixMilli(a.Cas)
}

// Batch is the full record batch for one platform. The subscription
// cache replaces batches wholesale, never field-by-field.
type Batch struct {
	Tab []Arrival `json:"tab"`
}

// ArrivalEstimate is an Arrival annotated for presentation: seconds
// until the scheduled arrival and, optionally, the resolved name of the
// destination stop.
type ArrivalEstimate struct {
	Arrival
	TOffset     float64 `json:"toffset"` // cas/1000 - now, in seconds
	Destination string  `json:"destination,omitempty"`
}

// Minutes returns the estimate rounded down to tenths of a minute, the
// granularity the departure boards display.
func (e ArrivalEstimate) Minutes() float64 {
	return float64(int(e.TOffset/6)) / 10
}

// Snapshot is one refresh of the watched platform: whatever estimates
// matched the requested routes at the time it was taken.
type Snapshot struct {
	StopID   int               `json:"stop_id"`
	Platform string            `json:"platform"`
	Taken    time.Time         `json:"taken"`
	Arrivals []ArrivalEstimate `json:"arrivals"`
}

// Key returns the push-channel cache key for a stop/platform pair, e.g. "94.1".
func Key(stopID int, platform string) string {
	return strconv.Itoa(stopID) + "." + platform
}
