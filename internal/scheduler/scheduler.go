package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// MinuteSchedule fires at the start of every minute in the given zone.
func MinuteSchedule(timezone string) (cron.Schedule, error) {
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return cron.ParseStandard("CRON_TZ=" + timezone + " * * * * *")
}

type Status struct {
	Running      bool      `json:"running"`
	Ticks        int64     `json:"ticks"`
	LastTickAt   time.Time `json:"last_tick_at,omitempty"`
	LastDuration string    `json:"last_duration,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	NextTickAt   time.Time `json:"next_tick_at,omitempty"`
}

type Scheduler struct {
	schedule cron.Schedule
	tickFn   func(context.Context) error
	log      zerolog.Logger

	running atomic.Bool
	ticks   atomic.Int64

	// tickMu keeps loop ticks and manual ticks from overlapping.
	tickMu sync.Mutex

	statusMu sync.Mutex
	last     Status

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(schedule cron.Schedule, tickFn func(context.Context) error, log zerolog.Logger) (*Scheduler, error) {
	if schedule == nil {
		return nil, errors.New("schedule must not be nil")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		schedule: schedule,
		tickFn:   tickFn,
		log:      log.With().Str("comp", "scheduler").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the loop and runs one catch-up tick immediately. It returns
// false if the loop is already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		s.log.Info().Msg("scheduler started")

		s.safeTick(ctx)

		for {
			next := s.schedule.Next(time.Now())
			s.setNext(next)

			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.log.Info().Msg("scheduler stopping")
				return
			case <-timer.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)
	s.setNext(time.Time{})

	s.log.Info().Msg("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// TickNow runs one tick on the caller's goroutine, waiting for any loop tick
// in progress.
func (s *Scheduler) TickNow(ctx context.Context) error {
	return s.safeTick(ctx)
}

func (s *Scheduler) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	st := s.last
	st.Running = s.running.Load()
	st.Ticks = s.ticks.Load()
	return st
}

func (s *Scheduler) setNext(t time.Time) {
	s.statusMu.Lock()
	s.last.NextTickAt = t
	s.statusMu.Unlock()
}

func (s *Scheduler) safeTick(ctx context.Context) (err error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("scheduler tick panic recovered")
			err = fmt.Errorf("tick panic: %v", r)
		}

		elapsed := time.Since(start)
		s.ticks.Add(1)

		s.statusMu.Lock()
		s.last.LastTickAt = start
		s.last.LastDuration = elapsed.String()
		s.last.LastError = ""
		if err != nil {
			s.last.LastError = err.Error()
		}
		s.statusMu.Unlock()

		ev := s.log.Debug()
		if err != nil {
			ev = s.log.Warn().Err(err)
		}
		ev.Int64("duration_ms", elapsed.Milliseconds()).Msg("scheduler tick completed")
	}()

	return s.tickFn(ctx)
}
