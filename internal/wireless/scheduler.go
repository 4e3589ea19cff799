package wireless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pavelaron/pi-extender/internal/metrics"
)

var errStepsFailed = errors.New("reconcile steps failed")

type Reconciler interface {
	Reconcile(ctx context.Context) (Report, error)
}

// Scheduler re-runs reconciliation on a cron schedule. After three
// consecutive failing runs it pauses for BreakerTimeout so a broken
// network stack is not hammered.
type Scheduler struct {
	r       Reconciler
	cron    *cron.Cron
	cb      *gobreaker.CircuitBreaker[Report]
	log     zerolog.Logger
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
}

const BreakerTimeout = 30 * time.Minute

// NewScheduler parses spec as a standard five-field cron expression or a
// descriptor such as "@every 15m".
func NewScheduler(spec string, r Reconciler, m *metrics.Metrics, log zerolog.Logger) (*Scheduler, error) {
	log = log.With().Str("component", "reconcile-scheduler").Logger()
	s := &Scheduler{r: r, log: log, metrics: m}
	s.cb = gobreaker.NewCircuitBreaker[Report](gobreaker.Settings{
		Name:        "reconcile",
		MaxRequests: 1,
		Timeout:     BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("reconcile breaker state change")
		},
	})
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&s.log))))
	if _, err := s.cron.AddFunc(spec, func() { _, _ = s.RunOnce(s.runCtx()) }); err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) runCtx() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.log.Info().Msg("starting reconcile scheduler")
	s.cron.Start()
}

// Stop waits for a running reconciliation to finish.
func (s *Scheduler) Stop() {
	s.log.Info().Msg("stopping reconcile scheduler")
	done := s.cron.Stop()
	<-done.Done()
	if s.cancel != nil {
		s.cancel()
	}
}

// RunOnce performs one scheduled reconciliation through the breaker.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	rep, err := s.cb.Execute(func() (Report, error) {
		rep, err := s.r.Reconcile(ctx)
		if err != nil {
			return rep, err
		}
		if rep.Failures() > 0 {
			return rep, errStepsFailed
		}
		return rep, nil
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		s.log.Warn().Msg("scheduled reconcile skipped, breaker open")
		return rep, err
	case err != nil && !errors.Is(err, errStepsFailed):
		s.log.Error().Err(err).Msg("scheduled reconcile failed")
	}
	n := rep.Failures()
	if err != nil && n == 0 {
		n = 1
	}
	s.metrics.Reconciled("schedule", n)
	return rep, err
}

func (s *Scheduler) State() gobreaker.State { return s.cb.State() }
