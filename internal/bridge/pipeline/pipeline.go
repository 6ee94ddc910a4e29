// Package pipeline implements the bridge.Backend interface as a turn-based
// pipeline: silence-triggered transcription, one dialogue-model call per
// utterance, and whole-turn speech synthesis.
//
// Unlike the realtime variant there is no persistent backend audio
// connection. Voice-activity detection happens here: inbound frames
// accumulate in a rolling buffer until a fixed run of silent frames marks
// the end of an utterance, which is then submitted to the transcription,
// dialogue and synthesis collaborators in sequence.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nordlicht-labs/mayday/internal/agent"
	"github.com/nordlicht-labs/mayday/internal/bridge"
	"github.com/nordlicht-labs/mayday/internal/observe"
	"github.com/nordlicht-labs/mayday/internal/session"
	"github.com/nordlicht-labs/mayday/pkg/audio"
	"github.com/nordlicht-labs/mayday/pkg/provider/stt"
	"github.com/nordlicht-labs/mayday/pkg/provider/tts"
)

var _ bridge.Backend = (*Backend)(nil)

const (
	// silenceRMSThreshold classifies a frame as silence.
	silenceRMSThreshold = 200

	// silenceFramesForTurn is the run of silent frames (about one second
	// at 20 ms per frame) that ends an utterance.
	silenceFramesForTurn = 50

	// minUtteranceFrames discards utterances shorter than about half a
	// second as noise, not a turn.
	minUtteranceFrames = 25

	// sampleRatio converts between the 8 kHz wire rate and the 16 kHz
	// rate submitted for transcription.
	sampleRatio = 2

	// transcriptionRate is the sample rate of the WAV handed to the
	// transcription collaborator.
	transcriptionRate = 16000
)

const (
	defaultGreeting = "Hello, you have reached the emergency assistance line. I'm here to help. Can you tell me what happened?"

	defaultClosingLine = "That's everything I need. Help is on the way. You can hang up now. Stay safe."

	apologyLine = "I'm sorry, I didn't catch that. Could you say it again?"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithGreeting replaces the opening line. An empty string disables the
// greeting turn.
func WithGreeting(text string) Option {
	return func(b *Backend) { b.greeting = text }
}

// WithClosingLine replaces the line spoken after a case is created.
func WithClosingLine(text string) Option {
	return func(b *Backend) { b.closingLine = text }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Backend) { b.log = log }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Backend) { b.metrics = m }
}

// ── Backend ────────────────────────────────────────────────────────────────────

// Backend is the turn-based bridge.Backend. One Backend serves one call.
type Backend struct {
	stt      stt.Provider
	tts      tts.Provider
	dialogue agent.Dialogue

	metrics     *observe.Metrics
	log         *slog.Logger
	greeting    string
	closingLine string

	frames chan audio.AudioFrame
	events chan bridge.Event
	sess   *session.Session
	outSeq atomic.Uint64
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	started bool

	eventsOnce sync.Once
}

// New creates a pipeline Backend on the given collaborators.
func New(sttP stt.Provider, ttsP tts.Provider, dialogue agent.Dialogue, opts ...Option) (*Backend, error) {
	if sttP == nil || ttsP == nil || dialogue == nil {
		return nil, fmt.Errorf("pipeline: all collaborators must be set")
	}
	b := &Backend{
		stt:         sttP,
		tts:         ttsP,
		dialogue:    dialogue,
		greeting:    defaultGreeting,
		closingLine: defaultClosingLine,
		frames:      make(chan audio.AudioFrame, 256),
		events:      make(chan bridge.Event, 64),
	}
	for _, o := range opts {
		o(b)
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b, nil
}

// Start binds the session and launches the utterance worker. The worker
// speaks the greeting first; the model side never waits for the caller to
// speak before saying anything.
func (b *Backend) Start(_ context.Context, sess *session.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("pipeline: backend closed")
	}
	if b.started {
		return fmt.Errorf("pipeline: already started")
	}
	b.started = true
	b.sess = sess
	b.ctx, b.cancel = context.WithCancel(context.Background())
	go b.worker()
	return nil
}

// ForwardInbound queues one μ-law frame for turn detection. When the
// worker is mid-turn and the queue fills up, the frame is dropped rather
// than blocking the caller's read loop.
func (b *Backend) ForwardInbound(frame audio.AudioFrame) error {
	b.mu.Lock()
	if b.closed || !b.started {
		b.mu.Unlock()
		return fmt.Errorf("pipeline: backend not running")
	}
	b.mu.Unlock()

	cp := make([]byte, len(frame.Data))
	copy(cp, frame.Data)
	frame.Data = cp
	select {
	case b.frames <- frame:
	default:
		b.log.Debug("inbound frame queue full, dropping frame", "seq", frame.Seq)
	}
	return nil
}

// Events implements bridge.Backend.
func (b *Backend) Events() <-chan bridge.Event { return b.events }

// CompleteTool speaks the closing line. The orchestrator terminates the
// call once that turn has played out.
func (b *Backend) CompleteTool(context.Context, string, string) error {
	b.speak(b.closingLine)
	b.emit(bridge.Event{Kind: bridge.EventTurnDone})
	return nil
}

// FailTool asks the caller for the information that is still missing.
func (b *Backend) FailTool(_ context.Context, _ string, message string) error {
	b.log.Warn("case invocation failed", "reason", message)
	b.speak("I'm sorry, I still need a little more information before I can send help. " +
		"Could you go over the details with me once more?")
	b.emit(bridge.Event{Kind: bridge.EventTurnDone})
	return nil
}

// Close stops the worker and closes the event stream. Idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	b.mu.Unlock()

	if started {
		b.cancel()
	} else {
		b.closeEvents()
	}
	return nil
}

// ── Turn detection ────────────────────────────────────────────────────────────

// worker is the single consumer of the frame queue. It accumulates frames
// until a silence run ends the utterance, then runs the three pipeline
// stages for that turn.
func (b *Backend) worker() {
	defer b.closeEvents()

	if b.greeting != "" {
		b.sess.AppendTurn(session.RoleAssistant, b.greeting)
		b.speak(b.greeting)
		b.emit(bridge.Event{Kind: bridge.EventTurnDone})
	}

	var buffered []audio.AudioFrame
	silence := 0
	for {
		select {
		case <-b.ctx.Done():
			return
		case frame := <-b.frames:
			samples := audio.DecodeMuLaw(frame.Data)
			if len(samples) == 0 {
				continue
			}
			if audio.RMS(samples) < silenceRMSThreshold {
				silence++
			} else {
				silence = 0
			}
			buffered = append(buffered, frame)
			if silence < silenceFramesForTurn {
				continue
			}

			// The utterance is everything before the silence window.
			utterance := buffered[:len(buffered)-silence]
			buffered = nil
			silence = 0
			if len(utterance) < minUtteranceFrames {
				continue
			}
			b.handleUtterance(utterance)
		}
	}
}

// handleUtterance runs transcription, dialogue and synthesis for one turn.
// Collaborator failures are never fatal to the call: the caller hears an
// apology and keeps the floor.
func (b *Backend) handleUtterance(frames []audio.AudioFrame) {
	turnStart := time.Now()

	parts := make([][]byte, len(frames))
	for i, f := range frames {
		parts[i] = f.Data
	}
	joined := bytes.Join(parts, nil)
	samples := audio.Upsample(audio.DecodeMuLaw(joined), sampleRatio)
	wav := audio.EncodeWAV(samples, transcriptionRate)
	if len(wav) == 0 {
		return
	}

	sttStart := time.Now()
	text, err := b.stt.Transcribe(b.ctx, wav)
	b.metrics.STTDuration.Record(b.ctx, time.Since(sttStart).Seconds())
	if err != nil {
		b.log.Warn("transcription failed", "err", err)
		b.metrics.RecordProviderError(b.ctx, "whisper", "transcribe")
		return
	}
	if text == "" {
		return
	}
	b.log.Debug("caller utterance", "text", text, "frames", len(frames))

	history := b.sess.Turns()
	b.sess.AppendTurn(session.RoleCaller, text)

	llmStart := time.Now()
	result, err := b.dialogue.Respond(b.ctx, history, text)
	b.metrics.LLMDuration.Record(b.ctx, time.Since(llmStart).Seconds())
	if err != nil {
		b.log.Warn("dialogue turn failed", "err", err)
		b.metrics.RecordProviderError(b.ctx, "dialogue", "respond")
		b.speak(apologyLine)
		b.emit(bridge.Event{Kind: bridge.EventTurnDone})
		return
	}

	b.sess.MergeExtraction(result.Extraction)
	b.sess.AppendTurn(session.RoleAssistant, result.Reply)

	b.speak(result.Reply)
	b.metrics.TurnDuration.Record(b.ctx, time.Since(turnStart).Seconds())
	b.emit(bridge.Event{Kind: bridge.EventTurnDone})

	if result.Done {
		record := b.sess.Extraction()
		if missing := record.MissingFields(); len(missing) > 0 {
			b.log.Debug("dialogue reported done with missing fields", "missing", missing)
			return
		}
		b.emit(bridge.Event{Kind: bridge.EventTool, Tool: &session.ToolInvocation{Record: record}})
	}
}

// speak synthesises text and emits it as one paced audio turn. Synthesis
// failure only costs the caller this reply.
func (b *Backend) speak(text string) {
	ttsStart := time.Now()
	mulaw, err := b.tts.Synthesize(b.ctx, text)
	b.metrics.TTSDuration.Record(b.ctx, time.Since(ttsStart).Seconds())
	if err != nil {
		b.log.Warn("synthesis failed", "err", err)
		b.metrics.RecordProviderError(b.ctx, "elevenlabs", "synthesize")
		return
	}
	if len(mulaw) == 0 {
		return
	}
	frame := audio.AudioFrame{
		Data:       mulaw,
		Encoding:   audio.EncodingMuLaw8k,
		SampleRate: 8000,
		Direction:  audio.DirectionOutbound,
		Seq:        b.outSeq.Add(1) - 1,
	}
	b.emit(bridge.Event{Kind: bridge.EventAudio, Audio: frame, Paced: true})
}

func (b *Backend) emit(ev bridge.Event) {
	select {
	case b.events <- ev:
	case <-b.ctx.Done():
	}
}

func (b *Backend) closeEvents() {
	b.eventsOnce.Do(func() { close(b.events) })
}
