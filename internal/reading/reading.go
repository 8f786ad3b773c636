// Package reading holds the consumption model derived from portal records.
package reading

import (
	"sort"
	"time"

	"ailenergy/internal/portal"
)

// Reading is one interval of electricity consumption, split into the
// utility's day (high tariff) and night (low tariff) registers, in kWh.
// Readings are immutable; each poll produces a fresh set that supersedes the
// previous one.
type Reading struct {
	From  time.Time
	To    time.Time
	Day   float64
	Night float64
}

// Total returns the combined consumption. Total == Day + Night always holds.
func (r Reading) Total() float64 {
	return r.Day + r.Night
}

// FromRecords converts portal records into readings. Records without a
// readings count are intervals the meter has not reported yet and are dropped.
func FromRecords(records []portal.ConsumptionRecord) []Reading {
	readings := make([]Reading, 0, len(records))
	for _, rec := range records {
		if rec.ReadingsCount == nil {
			continue
		}

		r := Reading{
			From: rec.From.Time,
			To:   rec.To.Time,
		}
		if rec.Day != nil {
			r.Day = *rec.Day
		}
		if rec.Night != nil {
			r.Night = *rec.Night
		}
		readings = append(readings, r)
	}
	return readings
}

// SumHourly folds readings into full-hour buckets, starting from the first
// reading aligned to the top of an hour. Sub-hour records within the same
// hour are summed. The result is sorted by bucket start.
func SumHourly(readings []Reading) []Reading {
	startIdx := 0
	for i, r := range readings {
		if r.From.Minute() == 0 {
			startIdx = i
			break
		}
	}

	buckets := make(map[time.Time]*Reading)
	for _, r := range readings[startIdx:] {
		hour := r.From.Truncate(time.Hour)
		b, ok := buckets[hour]
		if !ok {
			b = &Reading{
				From: hour,
				To:   hour.Add(time.Hour),
			}
			buckets[hour] = b
		}
		b.Day += r.Day
		b.Night += r.Night
	}

	hourly := make([]Reading, 0, len(buckets))
	for _, b := range buckets {
		hourly = append(hourly, *b)
	}
	sort.Slice(hourly, func(i, j int) bool {
		return hourly[i].From.Before(hourly[j].From)
	})
	return hourly
}

// Latest returns the most recent reading by interval start. The second return
// is false when the slice is empty.
func Latest(readings []Reading) (Reading, bool) {
	if len(readings) == 0 {
		return Reading{}, false
	}

	latest := readings[0]
	for _, r := range readings[1:] {
		if r.From.After(latest.From) {
			latest = r
		}
	}
	return latest, true
}
