// Package tariff implements the two-rate peak/off-peak cost model.
package tariff

import (
	"time"

	"ailenergy/internal/reading"
)

// Standard AIL rates in CHF per kWh, used when the tariff is configured as
// fixed instead of carrying user-entered rates.
const (
	StandardPeakRateCHF    = 0.1065
	StandardOffPeakRateCHF = 0.0920
)

// The high tariff applies during the day window; outside it the low tariff
// applies. AIL switches registers at 06:00 and 22:00 local time.
const (
	peakStartHour = 6
	peakEndHour   = 22
)

// Tariff is the configured two-rate pricing model. Zero rates with Fixed
// unset mean cost computation is disabled and all costs come out as zero.
type Tariff struct {
	PeakRate    float64
	OffPeakRate float64
	Fixed       bool
}

// Rates returns the effective peak and off-peak rate, substituting the
// standard AIL rates when the tariff is fixed.
func (t Tariff) Rates() (peak, offPeak float64) {
	if t.Fixed {
		return StandardPeakRateCHF, StandardOffPeakRateCHF
	}
	return t.PeakRate, t.OffPeakRate
}

// Enabled reports whether any cost can come out of this tariff.
func (t Tariff) Enabled() bool {
	peak, offPeak := t.Rates()
	return peak != 0 || offPeak != 0
}

// CurrentRate returns the rate applicable at the given wall-clock instant.
func (t Tariff) CurrentRate(at time.Time) float64 {
	peak, offPeak := t.Rates()
	hour := at.Hour()
	if hour >= peakStartHour && hour < peakEndHour {
		return peak
	}
	return offPeak
}

// CostReading is the monetary cost derived from one consumption reading.
// Recomputed on every poll, never persisted.
type CostReading struct {
	From      time.Time
	To        time.Time
	DayCost   float64
	NightCost float64
}

// Total returns the combined cost for the interval.
func (c CostReading) Total() float64 {
	return c.DayCost + c.NightCost
}

// Cost prices a consumption reading under the tariff. Pure: no error paths,
// no side effects. A disabled tariff yields zero cost.
func Cost(r reading.Reading, t Tariff) CostReading {
	peak, offPeak := t.Rates()
	return CostReading{
		From:      r.From,
		To:        r.To,
		DayCost:   r.Day * peak,
		NightCost: r.Night * offPeak,
	}
}
