// Package mock provides a scriptable bridge.Backend test double.
package mock

import (
	"context"
	"sync"

	"github.com/nordlicht-labs/mayday/internal/bridge"
	"github.com/nordlicht-labs/mayday/internal/session"
	"github.com/nordlicht-labs/mayday/pkg/audio"
)

var _ bridge.Backend = (*Backend)(nil)

// ToolReport records one CompleteTool or FailTool invocation.
type ToolReport struct {
	CallID  string
	Payload string
}

// Backend is an in-memory bridge.Backend. Tests script its behaviour by
// calling [Backend.Emit] and by setting the exported hook fields.
type Backend struct {
	mu sync.Mutex

	// StartErr, when set, is returned by Start.
	StartErr error
	// ForwardErr, when set, is returned by every ForwardInbound call.
	ForwardErr error

	// OnCompleteTool and OnFailTool, when set, run inside the respective
	// call. Tests use them to emit the closing turn.
	OnCompleteTool func(callID, result string)
	OnFailTool     func(callID, message string)

	Sess            *session.Session
	ForwardedFrames []audio.AudioFrame
	CompleteCalls   []ToolReport
	FailCalls       []ToolReport

	events    chan bridge.Event
	closeOnce sync.Once
	closed    bool
}

// New creates a Backend with a buffered event stream.
func New() *Backend {
	return &Backend{events: make(chan bridge.Event, 64)}
}

// Emit pushes one event onto the stream.
func (b *Backend) Emit(ev bridge.Event) {
	b.events <- ev
}

// Start implements bridge.Backend.
func (b *Backend) Start(_ context.Context, sess *session.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.StartErr != nil {
		return b.StartErr
	}
	b.Sess = sess
	return nil
}

// ForwardInbound implements bridge.Backend.
func (b *Backend) ForwardInbound(frame audio.AudioFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ForwardErr != nil {
		return b.ForwardErr
	}
	cp := make([]byte, len(frame.Data))
	copy(cp, frame.Data)
	frame.Data = cp
	b.ForwardedFrames = append(b.ForwardedFrames, frame)
	return nil
}

// Events implements bridge.Backend.
func (b *Backend) Events() <-chan bridge.Event {
	return b.events
}

// CompleteTool implements bridge.Backend.
func (b *Backend) CompleteTool(_ context.Context, callID, result string) error {
	b.mu.Lock()
	b.CompleteCalls = append(b.CompleteCalls, ToolReport{CallID: callID, Payload: result})
	hook := b.OnCompleteTool
	b.mu.Unlock()
	if hook != nil {
		hook(callID, result)
	}
	return nil
}

// FailTool implements bridge.Backend.
func (b *Backend) FailTool(_ context.Context, callID, message string) error {
	b.mu.Lock()
	b.FailCalls = append(b.FailCalls, ToolReport{CallID: callID, Payload: message})
	hook := b.OnFailTool
	b.mu.Unlock()
	if hook != nil {
		hook(callID, message)
	}
	return nil
}

// Close implements bridge.Backend. Idempotent; closes the event stream.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() { close(b.events) })
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// FailCount returns how many FailTool calls were recorded.
func (b *Backend) FailCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.FailCalls)
}

// Started returns the session passed to Start, or nil.
func (b *Backend) Started() *session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Sess
}

// ForwardCount returns how many frames reached the backend.
func (b *Backend) ForwardCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ForwardedFrames)
}
