package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nordlicht-labs/mayday/internal/agent"
	agentmock "github.com/nordlicht-labs/mayday/internal/agent/mock"
	"github.com/nordlicht-labs/mayday/internal/resilience"
	sttmock "github.com/nordlicht-labs/mayday/pkg/provider/stt/mock"
	ttsmock "github.com/nordlicht-labs/mayday/pkg/provider/tts/mock"
)

var errDown = errors.New("provider down")

func TestSTT_FailsOverToFallback(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{TranscribeErr: errDown}
	fallback := &sttmock.Provider{Transcripts: []string{"hello"}}

	s := resilience.NewSTT("primary", primary, resilience.BreakerConfig{})
	s.Add("fallback", fallback)

	text, err := s.Transcribe(context.Background(), []byte{0x01})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello" {
		t.Fatalf("text = %q, want hello", text)
	}
	if primary.CallCount() != 1 || fallback.CallCount() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.CallCount(), fallback.CallCount())
	}
}

func TestSTT_OpenBreakerSkipsPrimary(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{TranscribeErr: errDown}
	fallback := &sttmock.Provider{Transcripts: []string{"a", "b", "c"}}

	s := resilience.NewSTT("primary", primary, resilience.BreakerConfig{MaxFailures: 2})
	s.Add("fallback", fallback)

	for range 3 {
		if _, err := s.Transcribe(context.Background(), nil); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	}

	// Two failures trip the primary's breaker; the third call skips it.
	if primary.CallCount() != 2 {
		t.Fatalf("primary calls = %d, want 2", primary.CallCount())
	}
	if fallback.CallCount() != 3 {
		t.Fatalf("fallback calls = %d, want 3", fallback.CallCount())
	}
}

func TestTTS_AllFailed(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeErr: errDown}
	tt := resilience.NewTTS("primary", primary, resilience.BreakerConfig{})

	_, err := tt.Synthesize(context.Background(), "hello")
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestDialogue_FailsOverToFallback(t *testing.T) {
	t.Parallel()

	primary := &agentmock.Dialogue{RespondErr: errDown}
	fallback := &agentmock.Dialogue{Results: []agent.Result{{Reply: "Where are you?"}}}

	d := resilience.NewDialogue("primary", primary, resilience.BreakerConfig{})
	d.Add("fallback", fallback)

	res, err := d.Respond(context.Background(), nil, "help")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.Reply != "Where are you?" {
		t.Fatalf("reply = %q, want the fallback's reply", res.Reply)
	}
	if primary.CallCount() != 1 || fallback.CallCount() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.CallCount(), fallback.CallCount())
	}
}

func TestDialogue_AllFailed(t *testing.T) {
	t.Parallel()

	primary := &agentmock.Dialogue{RespondErr: errDown}
	d := resilience.NewDialogue("primary", primary, resilience.BreakerConfig{})

	_, err := d.Respond(context.Background(), nil, "help")
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTS_PrimaryHealthy(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Audio: []byte{0xFF, 0xFF}}
	fallback := &ttsmock.Provider{Audio: []byte{0x00}}

	tt := resilience.NewTTS("primary", primary, resilience.BreakerConfig{})
	tt.Add("fallback", fallback)

	audio, err := tt.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(audio) != 2 {
		t.Fatalf("audio = %v, want primary's payload", audio)
	}
	if len(fallback.SynthesizeCalls) != 0 {
		t.Fatal("fallback must not run while the primary is healthy")
	}
}
