// Package publisher maps consumption and cost readings onto Home Assistant
// sensor entities and long-term statistics series.
package publisher

import (
	"context"
	"fmt"
	"time"

	"ailenergy/internal/ha"
	"ailenergy/internal/reading"
	"ailenergy/internal/tariff"

	"go.uber.org/zap"
)

// Source identifies this service as the origin of its external statistics.
const Source = "ail"

// Entity IDs of the published sensors.
const (
	SensorDayConsumption   = "sensor.ail_day_consumption"
	SensorNightConsumption = "sensor.ail_night_consumption"
	SensorTotalConsumption = "sensor.ail_total_consumption"
	SensorCurrentPrice     = "sensor.ail_current_price"
	SensorEnergyCost       = "sensor.ail_energy_cost"
)

// Statistic IDs of the published series, in the <source>:<id> form the
// recorder requires for external statistics.
const (
	StatTotalConsumption = Source + ":energy_consumption"
	StatDayConsumption   = Source + ":energy_day_consumption"
	StatNightConsumption = Source + ":energy_night_consumption"
	StatEnergyCost       = Source + ":energy_cost"
)

const (
	unitKilowattHours = "kWh"
	unitFrancs        = "CHF"
	unitFrancsPerKWh  = "CHF/kWh"

	// How far back to look when resuming a cumulative sum from the recorder.
	sumLookback = 30 * 24 * time.Hour
)

// stateUnavailable is the conventional HA state for a sensor whose source
// cannot currently be read.
const stateUnavailable = "unavailable"

// series describes one statistics stream and how to read its hourly value.
type series struct {
	metadata ha.StatisticMetadata
	value    func(reading.Reading, tariff.CostReading) float64
}

// Publisher pushes the latest poll results into Home Assistant. It keeps the
// cumulative sums of the statistics series between polls, resuming them from
// the recorder on first use.
type Publisher struct {
	client ha.HAClient
	logger *zap.Logger

	series []series

	// Cumulative sum and last published hour per statistic ID. An entry is
	// absent until the series has been primed from the recorder.
	sums      map[string]float64
	lastStart map[string]time.Time
	primed    map[string]bool
}

// New creates a Publisher on top of the given HA client.
func New(client ha.HAClient, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.Named("publisher"),
		series: []series{
			{
				metadata: ha.StatisticMetadata{
					HasSum:            true,
					Name:              "Energy consumption",
					Source:            Source,
					StatisticID:       StatTotalConsumption,
					UnitOfMeasurement: unitKilowattHours,
				},
				value: func(r reading.Reading, _ tariff.CostReading) float64 { return r.Total() },
			},
			{
				metadata: ha.StatisticMetadata{
					HasSum:            true,
					Name:              "Energy day consumption",
					Source:            Source,
					StatisticID:       StatDayConsumption,
					UnitOfMeasurement: unitKilowattHours,
				},
				value: func(r reading.Reading, _ tariff.CostReading) float64 { return r.Day },
			},
			{
				metadata: ha.StatisticMetadata{
					HasSum:            true,
					Name:              "Energy night consumption",
					Source:            Source,
					StatisticID:       StatNightConsumption,
					UnitOfMeasurement: unitKilowattHours,
				},
				value: func(r reading.Reading, _ tariff.CostReading) float64 { return r.Night },
			},
			{
				metadata: ha.StatisticMetadata{
					HasSum:            true,
					Name:              "Energy cost",
					Source:            Source,
					StatisticID:       StatEnergyCost,
					UnitOfMeasurement: unitFrancs,
				},
				value: func(_ reading.Reading, c tariff.CostReading) float64 { return c.Total() },
			},
		},
		sums:      make(map[string]float64),
		lastStart: make(map[string]time.Time),
		primed:    make(map[string]bool),
	}
}

// Publish pushes the latest reading and its cost to the sensors and appends
// the hourly buckets to the statistics series. rate is the currently
// applicable tariff rate for the price sensor.
func (p *Publisher) Publish(ctx context.Context, latest reading.Reading, cost tariff.CostReading, hourly []reading.Reading, trf tariff.Tariff, rate float64) error {
	if err := p.publishSensors(ctx, latest, cost, rate); err != nil {
		return err
	}
	return p.publishStatistics(hourly, trf)
}

// MarkUnavailable flags all published sensors as unavailable, leaving their
// statistics and last known values in the recorder untouched. Errors are
// logged, never raised: an unavailable HA is no reason to abort the poll loop.
func (p *Publisher) MarkUnavailable(ctx context.Context) {
	for _, entityID := range []string{
		SensorDayConsumption,
		SensorNightConsumption,
		SensorTotalConsumption,
		SensorCurrentPrice,
		SensorEnergyCost,
	} {
		if err := p.client.PostState(ctx, entityID, stateUnavailable, nil); err != nil {
			p.logger.Warn("Failed to mark sensor unavailable",
				zap.String("entity_id", entityID),
				zap.Error(err))
		}
	}
}

func (p *Publisher) publishSensors(ctx context.Context, latest reading.Reading, cost tariff.CostReading, rate float64) error {
	lastReset := latest.From.Format(time.RFC3339)

	energyAttrs := func(name string) map[string]interface{} {
		return map[string]interface{}{
			"friendly_name":       name,
			"device_class":        "energy",
			"state_class":         "total",
			"unit_of_measurement": unitKilowattHours,
			"last_reset":          lastReset,
			"icon":                "mdi:chart-timeline-variant",
		}
	}

	sensors := []struct {
		entityID string
		state    string
		attrs    map[string]interface{}
	}{
		{SensorDayConsumption, formatValue(latest.Day), energyAttrs("Day: Last hour consumption")},
		{SensorNightConsumption, formatValue(latest.Night), energyAttrs("Night: Last hour consumption")},
		{SensorTotalConsumption, formatValue(latest.Total()), energyAttrs("Total: Last hour consumption")},
		{SensorCurrentPrice, formatValue(rate), map[string]interface{}{
			"friendly_name":       "Current energy price",
			"unit_of_measurement": unitFrancsPerKWh,
			"icon":                "mdi:cash",
		}},
		{SensorEnergyCost, formatValue(cost.Total()), map[string]interface{}{
			"friendly_name":       "Last hour energy cost",
			"device_class":        "monetary",
			"state_class":         "total",
			"unit_of_measurement": unitFrancs,
			"last_reset":          lastReset,
			"icon":                "mdi:cash",
		}},
	}

	for _, s := range sensors {
		if err := p.client.PostState(ctx, s.entityID, s.state, s.attrs); err != nil {
			return fmt.Errorf("publish %s: %w", s.entityID, err)
		}
	}

	p.logger.Debug("Published sensor states",
		zap.Float64("day_kwh", latest.Day),
		zap.Float64("night_kwh", latest.Night),
		zap.Float64("cost", cost.Total()))
	return nil
}

func (p *Publisher) publishStatistics(hourly []reading.Reading, trf tariff.Tariff) error {
	for _, s := range p.series {
		if err := p.publishSeries(s, hourly, trf); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishSeries(s series, hourly []reading.Reading, trf tariff.Tariff) error {
	id := s.metadata.StatisticID

	if !p.primed[id] {
		last, ok, err := p.client.LastStatistic(id, sumLookback)
		if err != nil {
			return fmt.Errorf("resume sum for %s: %w", id, err)
		}
		if ok {
			p.sums[id] = last.Sum
			p.lastStart[id] = last.Start
		}
		p.primed[id] = true
	}

	sum := p.sums[id]
	lastStart := p.lastStart[id]

	var points []ha.StatisticPoint
	for _, r := range hourly {
		// Skip hours the recorder already has
		if !lastStart.IsZero() && !r.From.After(lastStart) {
			continue
		}

		value := s.value(r, tariff.Cost(r, trf))
		sum += value
		points = append(points, ha.StatisticPoint{
			Start: r.From,
			State: value,
			Sum:   sum,
		})
		lastStart = r.From
	}

	if len(points) == 0 {
		return nil
	}

	if err := p.client.ImportStatistics(s.metadata, points); err != nil {
		return err
	}

	p.sums[id] = sum
	p.lastStart[id] = lastStart

	p.logger.Debug("Appended statistics",
		zap.String("statistic_id", id),
		zap.Int("points", len(points)),
		zap.Float64("sum", sum))
	return nil
}

func formatValue(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
