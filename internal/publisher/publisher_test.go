package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ailenergy/internal/ha"
	"ailenergy/internal/reading"
	"ailenergy/internal/tariff"
)

var testTariff = tariff.Tariff{PeakRate: 0.25, OffPeakRate: 0.10}

func hourAt(h int) time.Time {
	return time.Date(2024, 3, 1, h, 0, 0, 0, time.UTC)
}

func testReadings() (reading.Reading, tariff.CostReading, []reading.Reading) {
	hourly := []reading.Reading{
		{From: hourAt(10), To: hourAt(11), Day: 1.0, Night: 0.0},
		{From: hourAt(11), To: hourAt(12), Day: 3.0, Night: 2.0},
	}
	latest := hourly[1]
	return latest, tariff.Cost(latest, testTariff), hourly
}

func TestPublisher_Publish(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	t.Run("publishes sensor states", func(t *testing.T) {
		mock := ha.NewMockClient()
		p := New(mock, logger)
		latest, cost, hourly := testReadings()

		err := p.Publish(context.Background(), latest, cost, hourly, testTariff, 0.25)
		require.NoError(t, err)

		day, ok := mock.GetPostedState(SensorDayConsumption)
		require.True(t, ok)
		assert.Equal(t, "3.000", day.State)
		assert.Equal(t, "kWh", day.Attributes["unit_of_measurement"])
		assert.Equal(t, "energy", day.Attributes["device_class"])
		assert.Equal(t, hourAt(11).Format(time.RFC3339), day.Attributes["last_reset"])

		night, ok := mock.GetPostedState(SensorNightConsumption)
		require.True(t, ok)
		assert.Equal(t, "2.000", night.State)

		total, ok := mock.GetPostedState(SensorTotalConsumption)
		require.True(t, ok)
		assert.Equal(t, "5.000", total.State)

		price, ok := mock.GetPostedState(SensorCurrentPrice)
		require.True(t, ok)
		assert.Equal(t, "0.250", price.State)
		assert.Equal(t, "CHF/kWh", price.Attributes["unit_of_measurement"])

		costState, ok := mock.GetPostedState(SensorEnergyCost)
		require.True(t, ok)
		assert.Equal(t, "0.950", costState.State)
		assert.Equal(t, "CHF", costState.Attributes["unit_of_measurement"])
	})

	t.Run("appends statistics with cumulative sums", func(t *testing.T) {
		mock := ha.NewMockClient()
		p := New(mock, logger)
		latest, cost, hourly := testReadings()

		require.NoError(t, p.Publish(context.Background(), latest, cost, hourly, testTariff, 0.25))

		points := mock.ImportedStatistics(StatTotalConsumption)
		require.Len(t, points, 2)
		assert.Equal(t, hourAt(10), points[0].Start)
		assert.Equal(t, 1.0, points[0].State)
		assert.Equal(t, 1.0, points[0].Sum)
		assert.Equal(t, 5.0, points[1].State)
		assert.Equal(t, 6.0, points[1].Sum)

		dayPoints := mock.ImportedStatistics(StatDayConsumption)
		require.Len(t, dayPoints, 2)
		assert.Equal(t, 4.0, dayPoints[1].Sum)

		costPoints := mock.ImportedStatistics(StatEnergyCost)
		require.Len(t, costPoints, 2)
		assert.InDelta(t, 0.25, costPoints[0].Sum, 1e-9)
		assert.InDelta(t, 1.20, costPoints[1].Sum, 1e-9)

		meta, ok := mock.ImportedMetadata(StatTotalConsumption)
		require.True(t, ok)
		assert.True(t, meta.HasSum)
		assert.Equal(t, Source, meta.Source)
		assert.Equal(t, "kWh", meta.UnitOfMeasurement)
	})

	t.Run("resumes sums from the recorder", func(t *testing.T) {
		mock := ha.NewMockClient()
		mock.SeedLastStatistic(StatTotalConsumption, ha.StatisticPoint{
			Start: hourAt(10),
			State: 1.0,
			Sum:   100.0,
		})
		p := New(mock, logger)
		latest, cost, hourly := testReadings()

		require.NoError(t, p.Publish(context.Background(), latest, cost, hourly, testTariff, 0.25))

		// Hour 10 is already recorded; only hour 11 may be appended, on top
		// of the recorded sum.
		points := mock.ImportedStatistics(StatTotalConsumption)
		require.Len(t, points, 1)
		assert.Equal(t, hourAt(11), points[0].Start)
		assert.Equal(t, 105.0, points[0].Sum)
	})

	t.Run("repeated publish does not duplicate hours", func(t *testing.T) {
		mock := ha.NewMockClient()
		p := New(mock, logger)
		latest, cost, hourly := testReadings()

		require.NoError(t, p.Publish(context.Background(), latest, cost, hourly, testTariff, 0.25))
		require.NoError(t, p.Publish(context.Background(), latest, cost, hourly, testTariff, 0.25))

		points := mock.ImportedStatistics(StatTotalConsumption)
		assert.Len(t, points, 2)
	})

	t.Run("new hours extend the series across polls", func(t *testing.T) {
		mock := ha.NewMockClient()
		p := New(mock, logger)
		latest, cost, hourly := testReadings()

		require.NoError(t, p.Publish(context.Background(), latest, cost, hourly, testTariff, 0.25))

		next := reading.Reading{From: hourAt(12), To: hourAt(13), Day: 2.0, Night: 0.0}
		hourly = append(hourly, next)
		require.NoError(t, p.Publish(context.Background(), next, tariff.Cost(next, testTariff), hourly, testTariff, 0.25))

		points := mock.ImportedStatistics(StatTotalConsumption)
		require.Len(t, points, 3)
		assert.Equal(t, hourAt(12), points[2].Start)
		assert.Equal(t, 8.0, points[2].Sum)
	})

	t.Run("post failure is returned", func(t *testing.T) {
		mock := ha.NewMockClient()
		mock.PostStateErr = errors.New("ha down")
		p := New(mock, logger)
		latest, cost, hourly := testReadings()

		err := p.Publish(context.Background(), latest, cost, hourly, testTariff, 0.25)
		require.Error(t, err)

		// Nothing must have reached the statistics series
		assert.Empty(t, mock.ImportedStatistics(StatTotalConsumption))
	})

	t.Run("disabled tariff produces zero cost series", func(t *testing.T) {
		mock := ha.NewMockClient()
		p := New(mock, logger)
		latest, _, hourly := testReadings()
		none := tariff.Tariff{}

		require.NoError(t, p.Publish(context.Background(), latest, tariff.Cost(latest, none), hourly, none, 0))

		costPoints := mock.ImportedStatistics(StatEnergyCost)
		require.Len(t, costPoints, 2)
		assert.Zero(t, costPoints[0].State)
		assert.Zero(t, costPoints[1].Sum)

		costState, ok := mock.GetPostedState(SensorEnergyCost)
		require.True(t, ok)
		assert.Equal(t, "0.000", costState.State)
	})
}

func TestPublisher_MarkUnavailable(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	t.Run("marks all sensors unavailable", func(t *testing.T) {
		mock := ha.NewMockClient()
		p := New(mock, logger)

		p.MarkUnavailable(context.Background())

		for _, entityID := range []string{
			SensorDayConsumption,
			SensorNightConsumption,
			SensorTotalConsumption,
			SensorCurrentPrice,
			SensorEnergyCost,
		} {
			state, ok := mock.GetPostedState(entityID)
			require.True(t, ok, entityID)
			assert.Equal(t, "unavailable", state.State)
		}
	})

	t.Run("swallows client errors", func(t *testing.T) {
		mock := ha.NewMockClient()
		mock.PostStateErr = errors.New("ha down")
		p := New(mock, logger)

		assert.NotPanics(t, func() {
			p.MarkUnavailable(context.Background())
		})
	})
}
