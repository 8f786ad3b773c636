package portal

import (
	"fmt"
	"strings"
	"time"
)

// portalTimeLayout is the timestamp format the EnergyBuddy API uses in both
// requests and responses ("2024-01-02 15:00:00", portal-local time).
const portalTimeLayout = "2006-01-02 15:04:05"

// Time wraps time.Time to handle the portal's non-RFC3339 timestamp format.
type Time struct {
	time.Time
}

// UnmarshalJSON parses the portal's timestamp format, falling back to RFC3339
// for safety if the portal ever switches to ISO timestamps.
func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}

	parsed, err := time.ParseInLocation(portalTimeLayout, s, time.Local)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("unrecognized portal timestamp %q", s)
		}
	}

	t.Time = parsed
	return nil
}

// MarshalJSON renders the timestamp in the portal's format.
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(portalTimeLayout) + `"`), nil
}

// ConsumptionRecord is a single consumption entry as returned by the portal.
// Day and Night are kWh for the covered interval. ReadingsCount is absent when
// the meter has not reported for the interval yet.
type ConsumptionRecord struct {
	Day           *float64 `json:"day"`
	Night         *float64 `json:"night"`
	From          Time     `json:"from"`
	To            Time     `json:"to"`
	IsPending     bool     `json:"isPending"`
	ReadingsCount *int     `json:"readingsCount"`
}

// ConsumptionResponse is the envelope the readings endpoint returns.
type ConsumptionResponse struct {
	Response []ConsumptionRecord `json:"response"`
}

// timeFrame is the from/to window in a readings request.
type timeFrame struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// readingsRequest is the body POSTed to the readings endpoint.
type readingsRequest struct {
	MeterID               string    `json:"meterID"`
	Scale                 string    `json:"scale"`
	TimeFrame             timeFrame `json:"timeFrame"`
	ForceWholeTimeFrame   bool      `json:"forceWholeTimeFrame"`
	HoursPrecision        bool      `json:"hoursPrecision"`
	FetchPreviousYearData bool      `json:"fetchPreviousYearData"`
}
