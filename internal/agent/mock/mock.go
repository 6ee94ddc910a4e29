// Package mock provides a test double for the agent.Dialogue interface.
package mock

import (
	"context"
	"sync"

	"github.com/nordlicht-labs/mayday/internal/agent"
	"github.com/nordlicht-labs/mayday/internal/session"
)

var _ agent.Dialogue = (*Dialogue)(nil)

// RespondCall records a single invocation of Dialogue.Respond.
type RespondCall struct {
	// History is the conversation passed to Respond.
	History []session.Turn
	// Utterance is the caller text passed to Respond.
	Utterance string
}

// Dialogue is a mock implementation of agent.Dialogue. Results are returned
// in order; once exhausted, Respond returns the zero Result.
type Dialogue struct {
	mu sync.Mutex

	// Results are returned in order by successive Respond calls.
	Results []agent.Result

	// RespondErr, if non-nil, is returned as the error from Respond.
	RespondErr error

	// RespondCalls records every call to Respond.
	RespondCalls []RespondCall

	next int
}

// Respond records the call and returns the next scripted Result.
func (d *Dialogue) Respond(ctx context.Context, history []session.Turn, utterance string) (agent.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hist := make([]session.Turn, len(history))
	copy(hist, history)
	d.RespondCalls = append(d.RespondCalls, RespondCall{History: hist, Utterance: utterance})
	if d.RespondErr != nil {
		return agent.Result{}, d.RespondErr
	}
	if d.next >= len(d.Results) {
		return agent.Result{}, nil
	}
	res := d.Results[d.next]
	d.next++
	return res, nil
}

// CallCount returns how many times Respond was invoked.
func (d *Dialogue) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.RespondCalls)
}
