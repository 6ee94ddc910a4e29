package pipeline_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nordlicht-labs/mayday/internal/agent"
	agentmock "github.com/nordlicht-labs/mayday/internal/agent/mock"
	"github.com/nordlicht-labs/mayday/internal/bridge"
	"github.com/nordlicht-labs/mayday/internal/bridge/pipeline"
	"github.com/nordlicht-labs/mayday/internal/session"
	"github.com/nordlicht-labs/mayday/pkg/audio"
	sttmock "github.com/nordlicht-labs/mayday/pkg/provider/stt/mock"
	ttsmock "github.com/nordlicht-labs/mayday/pkg/provider/tts/mock"
)

// ── Frame helpers ──────────────────────────────────────────────────────────────

func inboundFrame(data []byte) audio.AudioFrame {
	return audio.AudioFrame{
		Data:       data,
		Encoding:   audio.EncodingMuLaw8k,
		SampleRate: 8000,
		Direction:  audio.DirectionInbound,
	}
}

// voicedFrame is 20 ms of a loud square wave, well above the silence
// threshold after the μ-law round trip.
func voicedFrame() audio.AudioFrame {
	samples := make([]int16, 160)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 5000
		} else {
			samples[i] = -5000
		}
	}
	return inboundFrame(audio.EncodeMuLaw(samples))
}

// silentFrame is 20 ms of μ-law silence.
func silentFrame() audio.AudioFrame {
	data := make([]byte, 160)
	for i := range data {
		data[i] = audio.MuLawSilence
	}
	return inboundFrame(data)
}

func forward(t *testing.T, b *pipeline.Backend, frame audio.AudioFrame, n int) {
	t.Helper()
	for range n {
		if err := b.ForwardInbound(frame); err != nil {
			t.Fatalf("ForwardInbound: %v", err)
		}
	}
}

// ── Harness ────────────────────────────────────────────────────────────────────

type harness struct {
	stt      *sttmock.Provider
	tts      *ttsmock.Provider
	dialogue *agentmock.Dialogue
	backend  *pipeline.Backend
	sess     *session.Session
}

func newHarness(t *testing.T, opts ...pipeline.Option) *harness {
	t.Helper()
	h := &harness{
		stt:      &sttmock.Provider{},
		tts:      &ttsmock.Provider{Audio: make([]byte, 320)},
		dialogue: &agentmock.Dialogue{},
	}
	backend, err := pipeline.New(h.stt, h.tts, h.dialogue, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.backend = backend
	h.sess = session.New("CA200")
	h.sess.StreamID = "MZ200"
	if err := backend.Start(context.Background(), h.sess); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return h
}

func nextEvent(t *testing.T, b *pipeline.Backend) bridge.Event {
	t.Helper()
	select {
	case ev, ok := <-b.Events():
		if !ok {
			t.Fatal("event stream closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for backend event")
		return bridge.Event{}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for " + msg)
}

// sentinelTurn pushes a full voiced utterance. Because frames are
// processed in order, the sentinel reaching transcription proves all
// earlier frames have been consumed.
func sentinelTurn(t *testing.T, b *pipeline.Backend) {
	t.Helper()
	forward(t, b, voicedFrame(), 30)
	forward(t, b, silentFrame(), 50)
}

// ── Tests ──────────────────────────────────────────────────────────────────────

func TestWorker_SilenceOnly_NeverTranscribes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pipeline.WithGreeting(""))

	forward(t, h.backend, silentFrame(), 60)
	sentinelTurn(t, h.backend)
	waitFor(t, func() bool { return h.stt.CallCount() > 0 }, "sentinel transcription")

	if got := h.stt.CallCount(); got != 1 {
		t.Errorf("Transcribe called %d times; want only the sentinel turn", got)
	}
	if got := h.dialogue.CallCount(); got != 0 {
		t.Errorf("dialogue called %d times; want 0", got)
	}
}

func TestWorker_ShortUtterance_IsDiscardedAsNoise(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pipeline.WithGreeting(""))

	// Ten frames of speech is below the half-second guard.
	forward(t, h.backend, voicedFrame(), 10)
	forward(t, h.backend, silentFrame(), 50)
	sentinelTurn(t, h.backend)
	waitFor(t, func() bool { return h.stt.CallCount() > 0 }, "sentinel transcription")

	if got := h.stt.CallCount(); got != 1 {
		t.Fatalf("Transcribe called %d times; want only the sentinel turn", got)
	}
	// The sentinel turn is 30 frames: 4800 μ-law samples upsampled to
	// 16 kHz, two bytes per sample, behind a 44-byte header.
	wav := h.stt.TranscribeCalls[0].WAV
	if want := 44 + 30*160*2*2; len(wav) != want {
		t.Errorf("submitted WAV length = %d; want %d", len(wav), want)
	}
}

func TestWorker_FullTurn_RunsAllThreeStages(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pipeline.WithGreeting(""))
	h.stt.Transcripts = []string{"My name is Maria Silva"}
	h.dialogue.Results = []agent.Result{{
		Reply:      "Thank you, Maria. Where are you right now?",
		Extraction: session.Extraction{FullName: "Maria Silva"},
	}}

	forward(t, h.backend, voicedFrame(), 30)
	forward(t, h.backend, silentFrame(), 50)

	ev := nextEvent(t, h.backend)
	if ev.Kind != bridge.EventAudio || !ev.Paced {
		t.Fatalf("first event = %+v; want paced audio", ev)
	}
	if ev2 := nextEvent(t, h.backend); ev2.Kind != bridge.EventTurnDone {
		t.Fatalf("second event kind = %v; want EventTurnDone", ev2.Kind)
	}

	if got := h.dialogue.CallCount(); got != 1 {
		t.Fatalf("dialogue called %d times; want 1", got)
	}
	if got := h.dialogue.RespondCalls[0].Utterance; got != "My name is Maria Silva" {
		t.Errorf("dialogue utterance = %q", got)
	}
	if texts := h.tts.Texts(); len(texts) != 1 || !strings.Contains(texts[0], "Where are you") {
		t.Errorf("synthesised texts = %v", texts)
	}
	if got := h.sess.Extraction().FullName; got != "Maria Silva" {
		t.Errorf("merged extraction name = %q", got)
	}
	turns := h.sess.Turns()
	if len(turns) != 2 || turns[0].Role != session.RoleCaller || turns[1].Role != session.RoleAssistant {
		t.Errorf("session turns = %+v", turns)
	}
}

func TestWorker_DoneTurn_EmitsToolInvocation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pipeline.WithGreeting(""))
	h.stt.Transcripts = []string{"It's flooding and we are trapped"}
	h.dialogue.Results = []agent.Result{{
		Reply: "That's everything I need.",
		Extraction: session.Extraction{
			FullName:             "Maria Silva",
			IdentificationNumber: "44556677",
			Location:             "Rua das Flores 12",
			Description:          "Flooded ground floor, two people trapped",
			Category:             session.CategoryRescue,
			Severity:             4,
		},
		Done: true,
	}}

	forward(t, h.backend, voicedFrame(), 30)
	forward(t, h.backend, silentFrame(), 50)

	if ev := nextEvent(t, h.backend); ev.Kind != bridge.EventAudio {
		t.Fatalf("first event kind = %v; want EventAudio", ev.Kind)
	}
	if ev := nextEvent(t, h.backend); ev.Kind != bridge.EventTurnDone {
		t.Fatalf("second event kind = %v; want EventTurnDone", ev.Kind)
	}
	ev := nextEvent(t, h.backend)
	if ev.Kind != bridge.EventTool || ev.Tool == nil {
		t.Fatalf("third event = %+v; want tool invocation", ev)
	}
	if missing := ev.Tool.Record.MissingFields(); len(missing) != 0 {
		t.Errorf("tool record missing %v; want none", missing)
	}
}

func TestCompleteTool_SpeaksClosingLine(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pipeline.WithGreeting(""), pipeline.WithClosingLine("Help is on the way. Stay safe."))

	if err := h.backend.CompleteTool(context.Background(), "", `{"case_id":"abc"}`); err != nil {
		t.Fatalf("CompleteTool: %v", err)
	}

	if ev := nextEvent(t, h.backend); ev.Kind != bridge.EventAudio || !ev.Paced {
		t.Fatalf("first event = %+v; want paced audio", ev)
	}
	if ev := nextEvent(t, h.backend); ev.Kind != bridge.EventTurnDone {
		t.Fatalf("second event kind = %v; want EventTurnDone", ev.Kind)
	}
	if texts := h.tts.Texts(); len(texts) != 1 || texts[0] != "Help is on the way. Stay safe." {
		t.Errorf("synthesised texts = %v", texts)
	}
}

func TestStart_SpeaksGreetingFirst(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pipeline.WithGreeting("Emergency line, what happened?"))

	if ev := nextEvent(t, h.backend); ev.Kind != bridge.EventAudio || !ev.Paced {
		t.Fatalf("first event = %+v; want paced greeting audio", ev)
	}
	if ev := nextEvent(t, h.backend); ev.Kind != bridge.EventTurnDone {
		t.Fatalf("second event kind = %v; want EventTurnDone", ev.Kind)
	}
	if texts := h.tts.Texts(); len(texts) != 1 || texts[0] != "Emergency line, what happened?" {
		t.Errorf("synthesised texts = %v", texts)
	}
}

func TestWorker_DialogueFailure_SpeaksApologyAndContinues(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pipeline.WithGreeting(""))
	h.stt.Transcripts = []string{"hello"}
	h.dialogue.RespondErr = context.DeadlineExceeded

	forward(t, h.backend, voicedFrame(), 30)
	forward(t, h.backend, silentFrame(), 50)

	if ev := nextEvent(t, h.backend); ev.Kind != bridge.EventAudio {
		t.Fatalf("first event kind = %v; want apology audio", ev.Kind)
	}
	if ev := nextEvent(t, h.backend); ev.Kind != bridge.EventTurnDone {
		t.Fatalf("second event kind = %v; want EventTurnDone", ev.Kind)
	}
	if texts := h.tts.Texts(); len(texts) != 1 || !strings.Contains(texts[0], "sorry") {
		t.Errorf("synthesised texts = %v; want an apology", texts)
	}
}

func TestForwardInbound_BeforeStart_Fails(t *testing.T) {
	t.Parallel()
	b, err := pipeline.New(&sttmock.Provider{}, &ttsmock.Provider{}, &agentmock.Dialogue{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.ForwardInbound(silentFrame()); err == nil {
		t.Fatal("ForwardInbound before Start should fail")
	}
}
