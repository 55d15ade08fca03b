package providers

import (
	"context"
)

// TextProvider is an interchangeable generative-text backend. The gateway is
// agnostic to how the content is produced; it only needs this shape.
type TextProvider interface {
	// Name returns the identifier used for ordering and circuit breaking
	Name() string

	// IsAvailable reports whether the provider is configured and usable
	IsAvailable() bool

	// MakeRequest sends one instruction/input pair and returns the raw reply
	MakeRequest(ctx context.Context, systemInstruction, userInput string) (string, error)

	// HealthCheck probes the backend
	HealthCheck(ctx context.Context) bool
}
