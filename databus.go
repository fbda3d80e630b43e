// Package databus wires the heap arena and the account broker into a
// runnable service configured from YAML.
package databus

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bunnylib/databus/broker"
	"github.com/bunnylib/databus/heap"
	"github.com/bunnylib/databus/logging"
)

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// ServiceOption is a function that configures the service.
type ServiceOption func(*options)

// WithLog sets the logger for the service.
func WithLog(log *zap.SugaredLogger) ServiceOption {
	return func(o *options) {
		o.Log = log
	}
}

// Service owns the backing memory region, the arena over it and the account
// broker, built from the configured topology.
type Service struct {
	cfg    *Config
	mem    []byte
	arena  *heap.Arena
	broker *broker.Broker
	log    *zap.SugaredLogger
}

// NewService builds the arena and broker and creates the configured
// accounts and subscriptions.
func NewService(cfg *Config, options ...ServiceOption) (*Service, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}
	log := opts.Log

	mem := make([]byte, cfg.Memory.Size.Bytes())

	arenaOpts := []heap.ArenaOption{heap.WithLog(logging.Named(log, "heap"))}
	if cfg.Memory.SelfCheck {
		arenaOpts = append(arenaOpts, heap.WithSelfCheck())
	}

	arena, err := heap.New(mem, arenaOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize arena: %w", err)
	}

	b := broker.New(arena, broker.WithLog(logging.Named(log, "broker")))

	for _, acc := range cfg.Accounts {
		if !b.CreateAccount(acc.Name, int(acc.CacheSize.Bytes()), nil) {
			b.Close()
			return nil, fmt.Errorf("failed to create account %q", acc.Name)
		}
	}

	for _, sub := range cfg.Subscriptions {
		if !b.Subscribe(sub.Subscriber, sub.Publisher) {
			b.Close()
			return nil, fmt.Errorf("failed to subscribe %q to %q", sub.Subscriber, sub.Publisher)
		}
	}

	log.Infow("initialized databus service",
		zap.Int("accounts", b.Count()),
		zap.Int("subscriptions", len(cfg.Subscriptions)),
	)

	return &Service{
		cfg:    cfg,
		mem:    mem,
		arena:  arena,
		broker: b,
		log:    log,
	}, nil
}

// Arena returns the service arena.
func (m *Service) Arena() *heap.Arena {
	return m.arena
}

// Broker returns the service broker.
func (m *Service) Broker() *broker.Broker {
	return m.broker
}

// Run drives the timer loop until the context is canceled. Each tick
// delivers timer events to the accounts matching the configured pattern and
// logs the arena state.
func (m *Service) Run(ctx context.Context) error {
	m.log.Info("running databus service")
	defer m.log.Info("stopped databus service")

	if m.cfg.Timer.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		ticker := time.NewTicker(m.cfg.Timer.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				delivered, err := m.broker.Tick(m.cfg.Timer.Pattern)
				if err != nil {
					return fmt.Errorf("failed to deliver timer events: %w", err)
				}

				m.log.Debugw("tick",
					zap.Int("delivered", delivered),
					zap.Stringer("heap", m.arena.Stats()),
				)
			}
		}
	})

	return wg.Wait()
}

// Close tears down the broker, returning all arena storage.
func (m *Service) Close() error {
	m.broker.Close()
	return nil
}
