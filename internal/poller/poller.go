// Package poller drives the periodic fetch→cost→publish cycle.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"ailenergy/internal/clock"
	"ailenergy/internal/portal"
	"ailenergy/internal/reading"
	"ailenergy/internal/tariff"

	"go.uber.org/zap"
)

// PortalAPI is the slice of the portal client the poller uses.
type PortalAPI interface {
	Login(ctx context.Context) error
	Consumption(ctx context.Context, from, to time.Time) ([]portal.ConsumptionRecord, error)
}

// Sink receives the results of a successful poll, or the unavailable marker
// after a failed one.
type Sink interface {
	Publish(ctx context.Context, latest reading.Reading, cost tariff.CostReading, hourly []reading.Reading, trf tariff.Tariff, rate float64) error
	MarkUnavailable(ctx context.Context)
}

// Status is a snapshot of the poll loop for the status API.
type Status struct {
	Polls       int       `json:"polls"`
	Failures    int       `json:"failures"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// Poller runs one fetch-and-publish pass per tick. Ticks never overlap: the
// loop is a single goroutine and each pass runs to completion before the next
// wait begins.
type Poller struct {
	portal   PortalAPI
	sink     Sink
	tariff   tariff.Tariff
	clock    clock.Clock
	interval time.Duration
	window   time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	lastRead *reading.Reading
	lastCost *tariff.CostReading
	status   Status
}

// New creates a Poller. interval is the tick cadence, window how far back
// each fetch reaches (the portal back-fills late meter reports, so polls
// re-fetch a window and rely on the publisher to dedup).
func New(p PortalAPI, sink Sink, trf tariff.Tariff, clk clock.Clock, interval, window time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		portal:   p,
		sink:     sink,
		tariff:   trf,
		clock:    clk,
		interval: interval,
		window:   window,
		logger:   logger.Named("poller"),
	}
}

// RefreshOnce runs a single poll pass and returns its error. Used at startup,
// where an authentication failure must surface to the operator and block the
// service from starting.
func (p *Poller) RefreshOnce(ctx context.Context) error {
	return p.poll(ctx)
}

// Run executes the poll loop until ctx is cancelled. Failures inside the loop
// are logged and retried on the next tick, never raised.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Poll loop started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poll loop stopped")
			return
		case <-p.clock.After(p.interval):
		}

		if err := p.poll(ctx); err != nil {
			p.sink.MarkUnavailable(ctx)
			p.logger.Error("Poll failed, will retry on next tick",
				zap.Error(err),
				zap.Bool("auth", errors.Is(err, portal.ErrAuthFailed)))
		}
	}
}

// Latest returns the most recently fetched reading and its cost. The boolean
// is false until the first successful poll.
func (p *Poller) Latest() (reading.Reading, tariff.CostReading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.lastRead == nil {
		return reading.Reading{}, tariff.CostReading{}, false
	}
	return *p.lastRead, *p.lastCost, true
}

// Status returns a snapshot of the loop's counters.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Poller) poll(ctx context.Context) error {
	p.mu.Lock()
	p.status.Polls++
	p.mu.Unlock()

	err := p.doPoll(ctx)

	p.mu.Lock()
	if err != nil {
		p.status.Failures++
		p.status.LastError = err.Error()
		p.status.LastErrorAt = p.clock.Now()
	} else {
		p.status.LastSuccess = p.clock.Now()
		p.status.LastError = ""
	}
	p.mu.Unlock()

	return err
}

func (p *Poller) doPoll(ctx context.Context) error {
	// The portal session is short-lived; log in fresh every poll like the
	// web UI does.
	if err := p.portal.Login(ctx); err != nil {
		return err
	}

	now := p.clock.Now()
	from := now.Add(-p.window)

	records, err := p.portal.Consumption(ctx, from, now)
	if err != nil {
		return err
	}

	readings := reading.FromRecords(records)
	if len(readings) == 0 {
		// Nothing reported yet for the window. Keep the previously published
		// values rather than fabricate zeros.
		p.logger.Warn("No consumption data received from portal",
			zap.Time("from", from),
			zap.Time("to", now))
		return nil
	}

	hourly := reading.SumHourly(readings)
	latest, _ := reading.Latest(readings)
	cost := tariff.Cost(latest, p.tariff)
	rate := p.tariff.CurrentRate(now)

	if err := p.sink.Publish(ctx, latest, cost, hourly, p.tariff, rate); err != nil {
		return err
	}

	p.mu.Lock()
	p.lastRead = &latest
	p.lastCost = &cost
	p.mu.Unlock()

	p.logger.Info("Poll completed",
		zap.Time("reading_from", latest.From),
		zap.Float64("day_kwh", latest.Day),
		zap.Float64("night_kwh", latest.Night),
		zap.Float64("total_kwh", latest.Total()),
		zap.Float64("cost", cost.Total()))
	return nil
}
