package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/proposalpricing/internal/clock"
	"github.com/smallbiznis/proposalpricing/internal/observability/metrics"
	"github.com/smallbiznis/proposalpricing/internal/pricing/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// SessionReaper closes pricing sessions nobody has touched since cutoff.
type SessionReaper interface {
	CloseIdle(ctx context.Context, cutoff time.Time) int
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Sessions *session.Manager
	Metrics  *metrics.Metrics `optional:"true"`
	Config   Config           `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	sessions SessionReaper
	metrics  *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.Sessions == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		sessions: p.Sessions,
		metrics:  p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)

	err := fn(ctx, run)
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)

	status := "ok"
	defer func() {
		s.metrics.RecordJobRun(ctx, name, status, s.clock.Now().Sub(start))
	}()
	if err == nil {
		return nil
	}

	// deadline is a soft timeout
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = "timeout"
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	status = "error"
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, "reap_idle_sessions", s.cfg.JobTimeout, s.ReapIdleSessionsJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReapIdleSessionsJob closes sessions idle for longer than IdleTimeout so
// their proposal locks are released.
func (s *Scheduler) ReapIdleSessionsJob(ctx context.Context, run *jobRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cutoff := s.clock.Now().Add(-s.cfg.IdleTimeout)
	run.AddProcessed(s.sessions.CloseIdle(ctx, cutoff))
	return nil
}
