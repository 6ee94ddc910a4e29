// Package tts defines the Provider interface for speech-synthesis backends.
//
// The bridge synthesises one whole dialogue reply at a time and then paces
// the result onto the phone line in fixed-size chunks, so the contract here
// is batch synthesis straight to the telephony wire format: text in, G.711
// μ-law 8 kHz bytes out.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any speech-synthesis backend.
type Provider interface {
	// Synthesize renders text as G.711 μ-law audio at 8 kHz. An empty
	// result with a nil error means the provider produced no audio;
	// callers skip the turn rather than failing the call.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
