// Package completion wraps the external text-completion service. The service
// is a black box that can fail or return malformed output; callers treat both
// the same way and fall back to their documented defaults.
package completion

import (
	"context"
	"errors"
)

var (
	// ErrTransient marks network failures, timeouts and 5xx responses.
	ErrTransient = errors.New("completion: transient failure")
	// ErrContent marks responses that arrived but are unusable.
	ErrContent = errors.New("completion: malformed output")
)

// Client issues a single completion call with a bounded timeout.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Options tune a single call site.
type Options struct {
	Temperature float64
}

// TunableClient is implemented by clients that accept per-call options.
type TunableClient interface {
	Client
	CompleteWith(ctx context.Context, systemPrompt, userMessage string, opts Options) (string, error)
}
