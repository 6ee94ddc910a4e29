// Package bridge wires one phone call's media stream to a speech-AI backend.
//
// Two interchangeable backends share the [Backend] contract: the realtime
// variant holds a persistent speech-to-speech connection, the pipeline
// variant detects utterances locally and runs transcription, dialogue and
// synthesis per turn. The [Orchestrator] is written against the interface
// only; it runs the two directional forwarding loops, applies half-duplex
// echo suppression, validates tool invocations, persists completed cases
// and drives call termination.
package bridge

import (
	"context"

	"github.com/nordlicht-labs/mayday/internal/session"
	"github.com/nordlicht-labs/mayday/pkg/audio"
)

// EventKind discriminates backend events.
type EventKind int

const (
	// EventAudio carries μ-law 8 kHz audio ready for the wire.
	EventAudio EventKind = iota

	// EventTurnDone marks the end of one assistant spoken turn.
	EventTurnDone

	// EventTool carries a case-creation tool invocation.
	EventTool

	// EventClear asks the telephony side to flush its playout buffer
	// because the caller interrupted the assistant.
	EventClear
)

// Event is one item on a backend's output stream.
type Event struct {
	Kind EventKind

	// Audio is set for EventAudio. Already transcoded to μ-law 8 kHz and
	// tagged outbound by the producing backend.
	Audio audio.AudioFrame

	// Paced is set when Audio is a whole synthesised turn that must be
	// written one chunk per wire interval rather than as fast as the
	// socket allows.
	Paced bool

	// Tool is set for EventTool.
	Tool *session.ToolInvocation
}

// Backend is the speech-AI side of the bridge.
//
// Start must be called exactly once before any other method. Events
// returns the same channel on every call; the backend closes it when the
// backend side of the call is over. Close is idempotent.
type Backend interface {
	// Start binds the backend to a call session and begins its event
	// stream, including the initial greeting turn.
	Start(ctx context.Context, sess *session.Session) error

	// ForwardInbound hands one inbound μ-law 8 kHz frame to the backend.
	// Implementations must not block the caller for the duration of a
	// dialogue turn.
	ForwardInbound(frame audio.AudioFrame) error

	// Events returns the backend's output stream.
	Events() <-chan Event

	// CompleteTool reports a successful tool invocation back to the
	// backend so it can speak the closing turn. result is a JSON document.
	CompleteTool(ctx context.Context, callID, result string) error

	// FailTool reports a rejected or failed tool invocation so the
	// backend can ask the caller for the missing information.
	FailTool(ctx context.Context, callID, message string) error

	// Close releases the backend's resources and closes the event stream.
	Close() error
}
