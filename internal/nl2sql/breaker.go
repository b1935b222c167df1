package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests may pass while probing.
	HalfOpenRequests int
	Logger           *slog.Logger
}

// BreakerGenerator fails fast while the wrapped generator keeps failing. An
// open breaker surfaces as an ordinary generation failure; it never retries.
type BreakerGenerator struct {
	next    Generator
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerGenerator(next Generator, cfg BreakerConfig) (*BreakerGenerator, error) {
	if next == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Name == "" {
		cfg.Name = "generator"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxFailures := uint32(cfg.MaxFailures)

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.HalfOpenRequests),
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("generator_breaker_state",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		// A caller giving up says nothing about the backend.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &BreakerGenerator{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}, nil
}

func (b *BreakerGenerator) Generate(ctx context.Context, prompt Prompt, opts GenerateOptions) (string, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, prompt, opts)
	})
	if err != nil {
		return "", fmt.Errorf("circuit breaker: %w", err)
	}
	return out.(string), nil
}

func (b *BreakerGenerator) State() gobreaker.State {
	return b.breaker.State()
}
