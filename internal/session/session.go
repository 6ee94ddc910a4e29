// Package session holds the per-call state container: identifiers, the
// conversation turn history, echo-suppression timing flags, and the partial
// emergency record accumulated across turns.
//
// A Session is created when the telephony side signals call start and is
// owned exclusively by the bridge orchestrator for that call. The speaking
// flag and outbound timestamp are atomics because the two forwarding loops
// touch them from different goroutines; a race there is benign (worst case
// one extra frame admitted or dropped), so no lock is required.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is a phase in the call lifecycle.
type State string

const (
	// StateConnecting covers the window between the WebSocket upgrade and
	// the provider's start event.
	StateConnecting State = "connecting"

	// StateStreaming means the stream identifier is known and both
	// forwarding loops are running.
	StateStreaming State = "streaming"

	// StateListening means the caller has the floor.
	StateListening State = "listening"

	// StateSpeaking means assistant audio is being emitted.
	StateSpeaking State = "speaking"

	// StateCaseCreated means a complete emergency record was persisted and
	// the final spoken turn is pending.
	StateCaseCreated State = "case_created"

	// StateTerminating means the hang-up control call has been requested.
	StateTerminating State = "terminating"

	// StateClosed means both adapters are released.
	StateClosed State = "closed"
)

// validTransitions encodes the strictly ordered lifecycle. Listening and
// speaking oscillate; every state may fall through to closed on a transport
// fault.
var validTransitions = map[State][]State{
	StateConnecting:  {StateStreaming, StateClosed},
	StateStreaming:   {StateListening, StateSpeaking, StateClosed},
	StateListening:   {StateSpeaking, StateCaseCreated, StateClosed},
	StateSpeaking:    {StateListening, StateCaseCreated, StateClosed},
	StateCaseCreated: {StateTerminating, StateClosed},
	StateTerminating: {StateClosed},
	StateClosed:      {},
}

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// Turn is one exchange unit of dialogue.
type Turn struct {
	Role Role
	Text string
}

// Session is the state container for one active phone call.
type Session struct {
	// CallID is the telephony provider's call identifier.
	CallID string

	// StreamID is assigned by the provider in its start event.
	StreamID string

	// From is the caller's phone number, when the webhook passed it along.
	From string

	// StartedAt is when the session was created.
	StartedAt time.Time

	speaking        atomic.Bool
	lastOutboundUs  atomic.Int64
	framesForwarded atomic.Uint64
	framesDropped   atomic.Uint64

	mu         sync.Mutex
	state      State
	turns      []Turn
	extraction Extraction
	closed     bool
}

// New creates a Session in the connecting state.
func New(callID string) *Session {
	return &Session{
		CallID:    callID,
		StartedAt: time.Now(),
		state:     StateConnecting,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to next, enforcing lifecycle order.
// Self-transitions are no-ops.
func (s *Session) Transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == next {
		return nil
	}
	for _, allowed := range validTransitions[s.state] {
		if allowed == next {
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("session: invalid transition %s -> %s", s.state, next)
}

// Close marks the session closed. It is idempotent; the first call returns
// true so the owner can release adapters exactly once.
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.state = StateClosed
	return true
}

// SetSpeaking flips the half-duplex flag. Only the backend→telephony loop
// writes it.
func (s *Session) SetSpeaking(v bool) {
	s.speaking.Store(v)
}

// Speaking reports whether assistant audio is currently being emitted.
func (s *Session) Speaking() bool {
	return s.speaking.Load()
}

// MarkOutboundAudio records the time of the most recent outbound audio,
// starting the echo-suppression cooldown window.
func (s *Session) MarkOutboundAudio(t time.Time) {
	s.lastOutboundUs.Store(t.UnixMicro())
}

// InCooldown reports whether now is still within the echo-suppression
// window following the last outbound audio.
func (s *Session) InCooldown(now time.Time, window time.Duration) bool {
	last := s.lastOutboundUs.Load()
	if last == 0 {
		return false
	}
	return now.Sub(time.UnixMicro(last)) < window
}

// CountForwarded increments the inbound forward counter.
func (s *Session) CountForwarded() {
	s.framesForwarded.Add(1)
}

// CountDropped increments the echo-suppression drop counter.
func (s *Session) CountDropped() {
	s.framesDropped.Add(1)
}

// FramesForwarded returns how many inbound frames reached the backend.
func (s *Session) FramesForwarded() uint64 {
	return s.framesForwarded.Load()
}

// FramesDropped returns how many inbound frames were discarded while the
// assistant was speaking or cooling down.
func (s *Session) FramesDropped() uint64 {
	return s.framesDropped.Load()
}

// AppendTurn records one dialogue turn.
func (s *Session) AppendTurn(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{Role: role, Text: text})
}

// Turns returns a copy of the conversation history.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// MergeExtraction folds newly resolved fields into the session's partial
// record, last-write-wins per field, never clearing an already resolved
// field with an empty one.
func (s *Session) MergeExtraction(e Extraction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraction.Merge(e)
}

// Extraction returns the record accumulated so far.
func (s *Session) Extraction() Extraction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extraction
}
