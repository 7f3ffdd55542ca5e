// Package backend defines the text-generation capability consumed by
// sessions and its implementations.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/llmer/types"
)

// Delta is one increment of a streamed reply.
type Delta struct {
	// Content is the text fragment, possibly empty.
	Content string
	// Done marks the completion marker.
	Done bool
	// FinishReason is the backend's reason for completion, when Done.
	FinishReason string
}

// Stream yields deltas until the reply ends or fails.
type Stream interface {
	// Next advances to the next delta. Returns false at the end of the
	// stream or on error.
	Next() bool
	// Current returns the delta Next advanced to.
	Current() Delta
	// Err returns the error that ended the stream, if any.
	Err() error
	// Close releases the underlying connection.
	Close() error
}

// Client submits a conversation and streams the reply.
// Implementations must be safe for concurrent use by many sessions.
type Client interface {
	Submit(ctx context.Context, turns []types.Turn) (Stream, error)
	// Model names the model replies are generated with.
	Model() string
}

// BackendErrorKind classifies backend failures.
type BackendErrorKind int

const (
	// BackendErrorTransport covers network and unexpected server failures.
	BackendErrorTransport BackendErrorKind = iota
	// BackendErrorAuth covers rejected credentials.
	BackendErrorAuth
	// BackendErrorQuota covers rate limits and exhausted quota.
	BackendErrorQuota
	// BackendErrorRequest covers requests the backend refused as invalid.
	BackendErrorRequest
)

func (k BackendErrorKind) String() string {
	switch k {
	case BackendErrorTransport:
		return "transport"
	case BackendErrorAuth:
		return "auth"
	case BackendErrorQuota:
		return "quota"
	case BackendErrorRequest:
		return "request"
	default:
		return "unknown"
	}
}

// BackendError wraps a failure of the generation backend.
//
//nolint:revive // BackendError mirrors the error kind it represents
type BackendError struct {
	Op         string
	Kind       BackendErrorKind
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s failed (%s, status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// KindForStatus maps an HTTP status code to a backend error kind.
func KindForStatus(status int) BackendErrorKind {
	switch {
	case status == 401 || status == 403:
		return BackendErrorAuth
	case status == 429:
		return BackendErrorQuota
	case status >= 400 && status < 500:
		return BackendErrorRequest
	default:
		return BackendErrorTransport
	}
}

// IsBackendError returns true if err wraps a *BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
