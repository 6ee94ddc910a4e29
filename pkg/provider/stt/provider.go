// Package stt defines the Provider interface for speech-to-text backends.
//
// The voice bridge's turn-based pipeline performs its own silence detection
// and submits one complete utterance at a time, so the contract here is
// batch transcription of a finished recording rather than a streaming
// session: WAV bytes in, transcript out.
//
// Implementations must be safe for concurrent use; multiple calls may be
// transcribing at once.
package stt

import "context"

// Provider is the abstraction over any batch transcription backend.
type Provider interface {
	// Transcribe submits one utterance (a complete WAV recording, mono
	// 16-bit PCM) and returns its transcript. An empty string with a nil
	// error means the provider heard nothing usable; callers treat that as
	// "no turn", not a failure.
	Transcribe(ctx context.Context, wav []byte) (string, error)
}
