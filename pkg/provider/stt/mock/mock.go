// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed controlled transcripts to consumers and to verify
// which recordings were submitted for transcription.
//
// Example:
//
//	p := &mock.Provider{Transcripts: []string{"my name is Ada"}}
//	text, _ := p.Transcribe(ctx, wav)
package mock

import (
	"context"
	"sync"

	"github.com/nordlicht-labs/mayday/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// WAV is the recording passed to Transcribe.
	WAV []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcripts are returned in order by successive Transcribe calls.
	// Once exhausted, Transcribe returns the empty string.
	Transcripts []string

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next scripted transcript.
func (p *Provider) Transcribe(ctx context.Context, wav []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, WAV: wav})
	if p.TranscribeErr != nil {
		return "", p.TranscribeErr
	}
	if p.next >= len(p.Transcripts) {
		return "", nil
	}
	text := p.Transcripts[p.next]
	p.next++
	return text, nil
}

// CallCount returns how many times Transcribe was invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}
