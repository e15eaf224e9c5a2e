package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/metrics"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

type State string

const (
	StateStarting     State = "starting"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateReconnecting State = "reconnecting"
	StateDegraded     State = "degraded"
	StateStopped      State = "stopped"
)

var ErrNotReady = errors.New("broker not ready")

// Connector is the broker surface the supervisor drives.
type Connector interface {
	Connect(ctx context.Context) error
	DeclareDurableQueue(ctx context.Context, name string) error
}

type Config struct {
	Delay       time.Duration
	Queues      []string
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	MaxAttempts uint // 0 = tanpa batas
	// IsFatal decides which errors stop retrying; defaults to kafka.IsFatalError.
	IsFatal func(error) bool
}

// Supervisor owns the broker connection lifecycle: it connects, declares the
// queues and hands control to the consumer, and reconnects when consumption
// fails. It is the only component that reconnects.
type Supervisor struct {
	conn    Connector
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Registry

	mu      sync.RWMutex
	state   State
	lastErr error
}

func New(conn Connector, cfg Config, logger zerolog.Logger, m *metrics.Registry) *Supervisor {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 500 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.IsFatal == nil {
		cfg.IsFatal = kafkax.IsFatalError
	}
	return &Supervisor{
		conn:    conn,
		cfg:     cfg,
		log:     logger.With().Str("component", "supervisor").Logger(),
		metrics: m,
		state:   StateStarting,
	}
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the failure that put the supervisor in its current state, if any.
func (s *Supervisor) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// ReadyCheck reports nil only while the consumer is running on a declared queue.
func (s *Supervisor) ReadyCheck(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateReady {
		return nil
	}
	if s.lastErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotReady, s.state, s.lastErr)
	}
	return fmt.Errorf("%w: %s", ErrNotReady, s.state)
}

func (s *Supervisor) set(st State, err error) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.lastErr = err
	s.mu.Unlock()

	if st == StateReady {
		s.metrics.BrokerReady.Set(1)
	} else {
		s.metrics.BrokerReady.Set(0)
	}
	if prev != st {
		s.log.Info().Str("from", string(prev)).Str("to", string(st)).Msg("supervisor state changed")
	}
}

// StartConsuming waits the configured delay, brings the broker up and runs
// run until ctx is canceled. It returns nil on shutdown and an error when the
// broker cannot be brought up (fatal error or attempts exhausted), leaving the
// supervisor degraded.
func (s *Supervisor) StartConsuming(ctx context.Context, run func(context.Context) error) error {
	if s.cfg.Delay > 0 {
		s.log.Info().Dur("delay", s.cfg.Delay).Msg("waiting before connecting to broker")
		select {
		case <-ctx.Done():
			s.set(StateStopped, nil)
			return nil
		case <-time.After(s.cfg.Delay):
		}
	}

	s.set(StateConnecting, nil)
	for {
		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				s.set(StateStopped, nil)
				return nil
			}
			s.set(StateDegraded, err)
			s.log.Error().Err(err).Msg("broker unavailable, giving up")
			return err
		}

		s.set(StateReady, nil)
		err := run(ctx)
		if ctx.Err() != nil || err == nil {
			s.set(StateStopped, nil)
			return nil
		}

		s.set(StateReconnecting, err)
		s.log.Warn().Err(err).Msg("consumer stopped, reconnecting")
		select {
		case <-ctx.Done():
			s.set(StateStopped, nil)
			return nil
		case <-time.After(s.cfg.BackoffMin):
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BackoffMin
	b.MaxInterval = s.cfg.BackoffMax
	b.RandomizationFactor = 0.5

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		s.metrics.ConnectAttempts.Inc()
		err := s.declare(ctx)
		if err != nil && s.cfg.IsFatal(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithMaxTries(s.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("broker connect failed")
		}),
	)
	return err
}

func (s *Supervisor) declare(ctx context.Context) error {
	if err := s.conn.Connect(ctx); err != nil {
		return err
	}
	for _, q := range s.cfg.Queues {
		if q == "" {
			continue
		}
		if err := s.conn.DeclareDurableQueue(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
