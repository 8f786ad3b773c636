package ha

import (
	"encoding/json"
	"time"
)

// Message represents a base WebSocket message to/from Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents an error response from Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage represents the websocket authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// StatisticMetadata describes an external statistics series in the recorder.
type StatisticMetadata struct {
	HasMean           bool   `json:"has_mean"`
	HasSum            bool   `json:"has_sum"`
	Name              string `json:"name"`
	Source            string `json:"source"`
	StatisticID       string `json:"statistic_id"`
	UnitOfMeasurement string `json:"unit_of_measurement"`
}

// StatisticPoint is a single hourly point in a statistics series. State is the
// value for the hour, Sum the cumulative total up to and including it.
type StatisticPoint struct {
	Start time.Time `json:"start"`
	State float64   `json:"state"`
	Sum   float64   `json:"sum"`
}

// ImportStatisticsRequest represents a recorder/import_statistics command
type ImportStatisticsRequest struct {
	ID       int               `json:"id"`
	Type     string            `json:"type"`
	Metadata StatisticMetadata `json:"metadata"`
	Stats    []StatisticPoint  `json:"stats"`
}

// StatisticsDuringPeriodRequest represents a recorder/statistics_during_period command
type StatisticsDuringPeriodRequest struct {
	ID           int      `json:"id"`
	Type         string   `json:"type"`
	StartTime    string   `json:"start_time"`
	EndTime      string   `json:"end_time,omitempty"`
	StatisticIDs []string `json:"statistic_ids"`
	Period       string   `json:"period"`
	Types        []string `json:"types"`
}

// statisticRow is one row of a statistics_during_period result. The recorder
// reports interval bounds as unix milliseconds.
type statisticRow struct {
	Start float64  `json:"start"`
	End   float64  `json:"end"`
	State *float64 `json:"state"`
	Sum   *float64 `json:"sum"`
}

// stateBody is the payload of a REST states POST.
type stateBody struct {
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}
