package resilience

import (
	"context"

	"github.com/nordlicht-labs/mayday/internal/agent"
	"github.com/nordlicht-labs/mayday/internal/session"
	"github.com/nordlicht-labs/mayday/pkg/provider/stt"
	"github.com/nordlicht-labs/mayday/pkg/provider/tts"
)

// STT implements [stt.Provider] with per-backend breakers and ordered
// failover.
type STT struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*STT)(nil)

// NewSTT creates an STT wrapper with primary as the preferred backend.
func NewSTT(primaryName string, primary stt.Provider, cfg BreakerConfig) *STT {
	return &STT{group: NewGroup(cfg, primaryName, primary)}
}

// Add registers an additional transcription backend as a fallback.
func (s *STT) Add(name string, p stt.Provider) {
	s.group.Add(name, p)
}

// Transcribe implements stt.Provider.
func (s *STT) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return Do(s.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, wav)
	})
}

// TTS implements [tts.Provider] with per-backend breakers and ordered
// failover.
type TTS struct {
	group *Group[tts.Provider]
}

var _ tts.Provider = (*TTS)(nil)

// NewTTS creates a TTS wrapper with primary as the preferred backend.
func NewTTS(primaryName string, primary tts.Provider, cfg BreakerConfig) *TTS {
	return &TTS{group: NewGroup(cfg, primaryName, primary)}
}

// Add registers an additional synthesis backend as a fallback.
func (t *TTS) Add(name string, p tts.Provider) {
	t.group.Add(name, p)
}

// Synthesize implements tts.Provider.
func (t *TTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return Do(t.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text)
	})
}

// Dialogue implements [agent.Dialogue] with per-backend breakers and
// ordered failover.
type Dialogue struct {
	group *Group[agent.Dialogue]
}

var _ agent.Dialogue = (*Dialogue)(nil)

// NewDialogue creates a Dialogue wrapper with primary as the preferred
// backend.
func NewDialogue(primaryName string, primary agent.Dialogue, cfg BreakerConfig) *Dialogue {
	return &Dialogue{group: NewGroup(cfg, primaryName, primary)}
}

// Add registers an additional dialogue backend as a fallback.
func (d *Dialogue) Add(name string, p agent.Dialogue) {
	d.group.Add(name, p)
}

// Respond implements agent.Dialogue.
func (d *Dialogue) Respond(ctx context.Context, history []session.Turn, utterance string) (agent.Result, error) {
	return Do(d.group, func(p agent.Dialogue) (agent.Result, error) {
		return p.Respond(ctx, history, utterance)
	})
}
