// Package sweeper periodically removes expired sessions. Expiry is already enforced
// lazily on access; the sweep only keeps the table small.
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/and161185/authkeeper/internal/metrics"
)

// Sweeper is the part of the session store the job needs.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Job runs SweepExpired on a cron schedule.
type Job struct {
	c       *cron.Cron
	target  Sweeper
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// New schedules target on spec (standard cron or "@every <duration>").
func New(spec string, target Sweeper, log *zap.Logger, m *metrics.Metrics) (*Job, error) {
	j := &Job{
		c:       cron.New(),
		target:  target,
		log:     log,
		metrics: m,
		timeout: 30 * time.Second,
	}
	if _, err := j.c.AddFunc(spec, j.Run); err != nil {
		return nil, err
	}
	return j, nil
}

// Start begins scheduling in the background.
func (j *Job) Start() {
	j.c.Start()
	j.log.Info("session sweeper started")
}

// Stop halts scheduling and waits for a running sweep, bounded by ctx.
func (j *Job) Stop(ctx context.Context) {
	select {
	case <-j.c.Stop().Done():
	case <-ctx.Done():
	}
}

// Run performs one sweep.
func (j *Job) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.target.SweepExpired(ctx)
	if err != nil {
		j.log.Warn("session sweep failed", zap.Error(err))
		return
	}
	j.metrics.Swept(n)
	if n > 0 {
		j.log.Info("expired sessions swept", zap.Int64("count", n))
	}
}
