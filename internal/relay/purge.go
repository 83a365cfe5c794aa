package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultPurgeSchedule runs the retention sweep hourly.
const DefaultPurgeSchedule = "@every 1h"

// Purger deletes ledger rows created before cutoff, batch rows at a time.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

// PurgeScheduler runs the ledger retention sweep on a cron schedule,
// independent of the relay path. Each batch is a short statement, so
// concurrent claims are never blocked for the length of a sweep.
type PurgeScheduler struct {
	ledger    Purger
	retention time.Duration
	batch     int
	timeout   time.Duration

	cron *cron.Cron
	now  func() time.Time
}

// NewPurgeScheduler returns a scheduler that keeps rows younger than
// retention.
func NewPurgeScheduler(l Purger, retention time.Duration, batch int) *PurgeScheduler {
	if batch <= 0 {
		batch = 500
	}
	return &PurgeScheduler{
		ledger:    l,
		retention: retention,
		batch:     batch,
		timeout:   5 * time.Minute,
		now:       time.Now,
	}
}

// Sweep deletes every row older than the retention window.
func (p *PurgeScheduler) Sweep(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, fmt.Errorf("ledger retention must be positive, got %s", p.retention)
	}
	cutoff := p.now().Add(-p.retention)
	n, err := p.ledger.Purge(ctx, cutoff, p.batch)
	if n > 0 {
		ledgerPurged.Add(float64(n))
	}
	return n, err
}

// Start schedules Sweep according to spec (standard cron syntax or a
// descriptor such as "@every 1h"). Overlapping runs are skipped.
func (p *PurgeScheduler) Start(spec string) error {
	if spec == "" {
		spec = DefaultPurgeSchedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, p.run); err != nil {
		return fmt.Errorf("ledger purge schedule %q: %w", spec, err)
	}
	p.cron = c
	c.Start()
	log.Info().Str("schedule", spec).Dur("retention", p.retention).Msg("ledger purge scheduled")
	return nil
}

// Stop halts the schedule and returns a context that is done once a
// running sweep finishes.
func (p *PurgeScheduler) Stop() context.Context {
	if p.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return p.cron.Stop()
}

func (p *PurgeScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	start := time.Now()
	n, err := p.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Int64("purged", n).Msg("ledger purge failed")
		return
	}
	log.Info().Int64("purged", n).Dur("took", time.Since(start)).Msg("ledger purge done")
}
