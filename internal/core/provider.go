package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role/content pair sent to a chat model.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatCompleter answers an ordered conversation. The last turn is the user's.
type ChatCompleter interface {
	Complete(ctx context.Context, turns []Turn, temperature float32) (string, error)
}

// TitleGenerator produces a short conversation title.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, basis string) (string, error)
}

type ErrorKind int

const (
	// Fatal errors are not worth retrying: bad credentials, invalid input, blocked content.
	Fatal ErrorKind = iota
	// Transient errors may succeed on retry: rate limits, 5xx, timeouts, dropped connections.
	Transient
)

func (k ErrorKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "fatal"
}

// ProviderError is returned by embedding and completion adapters.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == Transient
	}
	return false
}

func transientErr(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: Transient, Err: err}
}

func fatalErr(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: Fatal, Err: err}
}

// kindForStatus maps an HTTP status code to an error kind.
func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return Transient
	default:
		return Fatal
	}
}

// kindForTransport classifies errors that carry no HTTP status.
func kindForTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	return Fatal
}

// NullEmbedder is used when no embedding provider is configured. Every call
// fails fatally so retrieval degrades to keyword search straight away.
type NullEmbedder struct{}

func (NullEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fatalErr("none", errors.New("no embedding provider configured"))
}

func (NullEmbedder) ModelName() string { return "none" }
