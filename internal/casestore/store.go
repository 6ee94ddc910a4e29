// Package casestore defines the persistence collaborator the bridge hands a
// completed emergency record to. The bridge only ever creates a case and
// appends call notes; triage, dispatch, and the rest of the case lifecycle
// live in other services.
package casestore

import (
	"context"
	"errors"

	"github.com/nordlicht-labs/mayday/internal/session"
)

// ErrDisabled is returned by [Disabled] when persistence is not configured.
var ErrDisabled = errors.New("casestore: persistence disabled")

// Store is the abstraction over the case persistence backend.
type Store interface {
	// CreateCase persists one complete emergency record and returns the new
	// case identifier. source tags where the case came from, e.g.
	// "voice-CA123". Errors are logged by the caller but never retried
	// mid-call.
	CreateCase(ctx context.Context, source string, rec session.Extraction) (string, error)

	// AppendNote attaches a free-text note (e.g. the call transcript) to an
	// existing case.
	AppendNote(ctx context.Context, caseID, note string) error

	// Close releases the underlying connections.
	Close()
}

// Disabled is the Store used when no database is configured. Every case
// creation fails with [ErrDisabled], so the bridge reports the tool
// invocation as failed instead of silently losing the record.
type Disabled struct{}

var _ Store = Disabled{}

func (Disabled) CreateCase(context.Context, string, session.Extraction) (string, error) {
	return "", ErrDisabled
}

func (Disabled) AppendNote(context.Context, string, string) error { return ErrDisabled }

func (Disabled) Close() {}
