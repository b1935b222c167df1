package nl2sql

import "context"

// Prompt is the text handed to a Generator: fixed instructions plus the
// request-specific part.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

type GenerateOptions struct {
	Model       string
	Temperature float64
}

// Generator turns a prompt into free text. Implementations must honor ctx.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt, opts GenerateOptions) (string, error)
}

type GeneratorFunc func(ctx context.Context, prompt Prompt, opts GenerateOptions) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt Prompt, opts GenerateOptions) (string, error) {
	return f(ctx, prompt, opts)
}
