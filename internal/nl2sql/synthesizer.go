package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kpilens/kpilens/internal/observability"
)

// ErrGenerationUnavailable matches every failure of the text generation
// capability, whatever the underlying cause.
var ErrGenerationUnavailable = errors.New("generation unavailable")

type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return ErrGenerationUnavailable.Error()
	}
	return fmt.Sprintf("%s: %v", ErrGenerationUnavailable.Error(), e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) Is(target error) bool {
	return target == ErrGenerationUnavailable
}

// Synthesizer turns a prompt into a candidate query. The candidate is the
// generator's whole reply with surrounding whitespace removed; nothing else
// is extracted or stripped.
type Synthesizer struct {
	generator Generator
	model     string
}

func NewSynthesizer(generator Generator, model string) (*Synthesizer, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	return &Synthesizer{generator: generator, model: strings.TrimSpace(model)}, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, prompt Prompt) (string, error) {
	start := time.Now()
	raw, err := s.generator.Generate(ctx, prompt, GenerateOptions{Model: s.model, Temperature: 0})
	observability.ObserveGenerationLatency(time.Since(start))
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", &GenerationError{Err: errors.New("empty completion")}
	}
	return candidate, nil
}
