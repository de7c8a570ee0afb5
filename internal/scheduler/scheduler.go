// Package scheduler triggers pipeline runs on a fixed interval for
// long-running (serve) mode.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

// ErrBusy is returned by RunNow while another pass is in flight.
var ErrBusy = errors.New("a pipeline run is already in progress")

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context) (*models.RunSummary, error)
}

type Config struct {
	Interval time.Duration // default 24h
	// RunTimeout bounds one pass. Zero means no limit.
	RunTimeout time.Duration
	RunOnStart bool
}

// RunScheduler runs at most one pass at a time. A tick that fires while a
// pass is in flight is skipped, not queued.
type RunScheduler struct {
	runner Runner
	cfg    Config

	inFlight atomic.Bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(runner Runner, cfg Config) *RunScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &RunScheduler{runner: runner, cfg: cfg}
}

func (s *RunScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Warn().Str("component", "scheduler").Msg("already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	stopCh := s.stopCh
	s.mu.Unlock()

	if s.cfg.RunOnStart {
		s.trigger(ctx, "startup")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.trigger(ctx, "interval")
			}
		}
	}()

	log.Info().Str("component", "scheduler").Dur("interval", s.cfg.Interval).Msg("started")
}

// Stop cancels any pass in flight and waits for it to return.
func (s *RunScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Str("component", "scheduler").Msg("stopped")
}

func (s *RunScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// InFlight reports whether a pass is executing.
func (s *RunScheduler) InFlight() bool {
	return s.inFlight.Load()
}

// RunNow executes a pass synchronously outside the schedule.
func (s *RunScheduler) RunNow(ctx context.Context) (*models.RunSummary, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.inFlight.Store(false)
	log.Info().Str("component", "scheduler").Str("trigger", "manual").Msg("run triggered")
	return s.run(ctx)
}

// trigger starts a pass in the background unless one is in flight.
func (s *RunScheduler) trigger(ctx context.Context, reason string) {
	if !s.inFlight.CompareAndSwap(false, true) {
		log.Warn().Str("component", "scheduler").Str("trigger", reason).Msg("previous run still in flight, skipping tick")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		log.Info().Str("component", "scheduler").Str("trigger", reason).Msg("run triggered")
		if _, err := s.run(ctx); err != nil {
			log.Error().Str("component", "scheduler").Err(err).Msg("run failed")
		}
	}()
}

func (s *RunScheduler) run(ctx context.Context) (*models.RunSummary, error) {
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	return s.runner.Run(ctx)
}
