// Package mock provides a casestore.Store test double that records every
// call it receives.
package mock

import (
	"context"
	"sync"

	"github.com/nordlicht-labs/mayday/internal/casestore"
	"github.com/nordlicht-labs/mayday/internal/session"
)

var _ casestore.Store = (*Store)(nil)

// CreateCaseCall records a single CreateCase invocation.
type CreateCaseCall struct {
	Source string
	Record session.Extraction
}

// AppendNoteCall records a single AppendNote invocation.
type AppendNoteCall struct {
	CaseID string
	Note   string
}

// Store is an in-memory casestore.Store. The zero value is ready to use;
// configure the exported fields before handing it to the code under test.
type Store struct {
	mu sync.Mutex

	// CaseID is returned by CreateCase when CreateCaseErr is nil.
	CaseID string
	// CreateCaseErr, when set, is returned by every CreateCase call.
	CreateCaseErr error
	// AppendNoteErr, when set, is returned by every AppendNote call.
	AppendNoteErr error

	CreateCaseCalls []CreateCaseCall
	AppendNoteCalls []AppendNoteCall
	Closed          bool
}

// CreateCase implements casestore.Store.
func (s *Store) CreateCase(_ context.Context, source string, rec session.Extraction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCaseCalls = append(s.CreateCaseCalls, CreateCaseCall{Source: source, Record: rec})
	if s.CreateCaseErr != nil {
		return "", s.CreateCaseErr
	}
	if s.CaseID == "" {
		return "case-1", nil
	}
	return s.CaseID, nil
}

// AppendNote implements casestore.Store.
func (s *Store) AppendNote(_ context.Context, caseID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendNoteCalls = append(s.AppendNoteCalls, AppendNoteCall{CaseID: caseID, Note: note})
	return s.AppendNoteErr
}

// Close implements casestore.Store.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
}

// CreateCaseCount returns the number of CreateCase calls recorded so far.
func (s *Store) CreateCaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.CreateCaseCalls)
}
