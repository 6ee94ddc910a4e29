package bridge_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nordlicht-labs/mayday/internal/bridge"
	bridgemock "github.com/nordlicht-labs/mayday/internal/bridge/mock"
	storemock "github.com/nordlicht-labs/mayday/internal/casestore/mock"
	"github.com/nordlicht-labs/mayday/internal/session"
	"github.com/nordlicht-labs/mayday/internal/telephony"
	"github.com/nordlicht-labs/mayday/pkg/audio"
)

// ── Test doubles ───────────────────────────────────────────────────────────────

// fakeConn is an in-memory telephony.Conn. Inbound frames are fed through
// a channel; writes are recorded.
type fakeConn struct {
	inbound chan []byte

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 128)}
}

func (c *fakeConn) push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.inbound <- data
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case data, ok := <-c.inbound:
		if !ok {
			return 0, nil, errors.New("connection closed")
		}
		return websocket.MessageText, data, nil
	}
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writtenEvents returns the event field of every recorded write, in order.
func (c *fakeConn) writtenEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, w := range c.writes {
		var msg struct {
			Event string `json:"event"`
		}
		if json.Unmarshal(w, &msg) == nil {
			out = append(out, msg.Event)
		}
	}
	return out
}

// fakeCallControl records EndCall invocations.
type fakeCallControl struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCallControl) EndCall(_ context.Context, callSid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, callSid)
	return nil
}

func (f *fakeCallControl) endCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ── Helpers ────────────────────────────────────────────────────────────────────

func mediaEvent(payload []byte) map[string]any {
	return map[string]any{
		"event": "media",
		"media": map[string]any{
			"track":   "inbound",
			"payload": base64.StdEncoding.EncodeToString(payload),
		},
	}
}

func stopEvent() map[string]any {
	return map[string]any{"event": "stop"}
}

// outboundAudio builds a backend audio frame of n μ-law bytes.
func outboundAudio(n int) audio.AudioFrame {
	return audio.AudioFrame{
		Data:       make([]byte, n),
		Encoding:   audio.EncodingMuLaw8k,
		SampleRate: 8000,
		Direction:  audio.DirectionOutbound,
	}
}

func completeRecord() session.Extraction {
	return session.Extraction{
		FullName:             "Maria Silva",
		IdentificationNumber: "44556677",
		Location:             "Rua das Flores 12",
		Description:          "Flooded ground floor, two people trapped",
		Category:             session.CategoryRescue,
		Severity:             4,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for " + msg)
}

type harness struct {
	conn    *fakeConn
	backend *bridgemock.Backend
	store   *storemock.Store
	calls   *fakeCallControl
	sess    *session.Session
	orch    *bridge.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		conn:    newFakeConn(),
		backend: bridgemock.New(),
		store:   &storemock.Store{CaseID: "case-77"},
		calls:   &fakeCallControl{},
	}
	h.sess = session.New("CA100")
	h.sess.StreamID = "MZ100"
	stream := telephony.NewMediaStream(h.conn, nil)
	h.orch = bridge.New(stream, h.backend, h.store, h.calls)
	return h
}

// run starts the orchestrator and returns a channel carrying its result.
func (h *harness) run(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx, h.sess) }()
	return done
}

func awaitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not finish")
		return nil
	}
}

// ── Tests ──────────────────────────────────────────────────────────────────────

func TestRun_IncompleteToolInvocation_DoesNotCreateCase(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// Five of six fields: severity is missing.
	rec := completeRecord()
	rec.Severity = 0
	h.backend.Emit(bridge.Event{Kind: bridge.EventTool, Tool: &session.ToolInvocation{CallID: "fc-1", Record: rec}})

	done := h.run(context.Background())

	waitFor(t, func() bool { return h.backend.FailCount() == 1 }, "tool rejection")

	h.conn.push(stopEvent())
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := h.store.CreateCaseCount(); got != 0 {
		t.Errorf("CreateCase called %d times; want 0", got)
	}
	if got := h.calls.endCalls(); len(got) != 0 {
		t.Errorf("EndCall called %v; want none", got)
	}
}

func TestRun_CompleteToolInvocation_CreatesCaseOnceAndHangsUp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// The backend speaks the closing turn after the tool result comes back.
	h.backend.OnCompleteTool = func(string, string) {
		h.backend.Emit(bridge.Event{Kind: bridge.EventAudio, Audio: outboundAudio(320), Paced: true})
		h.backend.Emit(bridge.Event{Kind: bridge.EventTurnDone})
	}
	h.backend.Emit(bridge.Event{Kind: bridge.EventTool, Tool: &session.ToolInvocation{CallID: "fc-2", Record: completeRecord()}})

	done := h.run(context.Background())
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := h.store.CreateCaseCount(); got != 1 {
		t.Fatalf("CreateCase called %d times; want exactly 1", got)
	}
	call := h.store.CreateCaseCalls[0]
	if call.Source != "voice-CA100" {
		t.Errorf("case source = %q; want voice-CA100", call.Source)
	}
	if call.Record.FullName != "Maria Silva" {
		t.Errorf("case record name = %q", call.Record.FullName)
	}
	if got := h.calls.endCalls(); len(got) != 1 || got[0] != "CA100" {
		t.Errorf("EndCall calls = %v; want exactly [CA100]", got)
	}
	if len(h.backend.CompleteCalls) != 1 || !strings.Contains(h.backend.CompleteCalls[0].Payload, "case-77") {
		t.Errorf("CompleteTool calls = %+v; want one carrying case-77", h.backend.CompleteCalls)
	}
	if got := h.sess.State(); got != session.StateClosed {
		t.Errorf("final state = %s; want %s", got, session.StateClosed)
	}
	events := h.conn.writtenEvents()
	if !containsEvent(events, "media") {
		t.Errorf("writes %v should include the closing media", events)
	}
	if len(h.store.AppendNoteCalls) != 0 {
		t.Errorf("no transcript note expected without turn history, got %+v", h.store.AppendNoteCalls)
	}
}

func TestRun_CompleteToolInvocation_AttachesTranscriptNote(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.sess.AppendTurn(session.RoleAssistant, "What is your name?")
	h.sess.AppendTurn(session.RoleCaller, "Maria Silva")

	h.backend.OnCompleteTool = func(string, string) {
		h.backend.Emit(bridge.Event{Kind: bridge.EventTurnDone})
	}
	h.backend.Emit(bridge.Event{Kind: bridge.EventTool, Tool: &session.ToolInvocation{CallID: "fc-3", Record: completeRecord()}})

	done := h.run(context.Background())
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.store.AppendNoteCalls) != 1 {
		t.Fatalf("AppendNote called %d times; want 1", len(h.store.AppendNoteCalls))
	}
	note := h.store.AppendNoteCalls[0]
	if note.CaseID != "case-77" {
		t.Errorf("note attached to %q; want case-77", note.CaseID)
	}
	if !strings.Contains(note.Note, "Caller: Maria Silva") {
		t.Errorf("note missing caller line:\n%s", note.Note)
	}
}

func TestRun_FramesWhileSpeaking_AreDropped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.sess.SetSpeaking(true)

	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = 0x55
	}
	for range 5 {
		h.conn.push(mediaEvent(frame))
	}
	h.conn.push(stopEvent())

	done := h.run(context.Background())
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := h.backend.ForwardCount(); got != 0 {
		t.Errorf("backend received %d frames while speaking; want 0", got)
	}
	if got := h.sess.FramesDropped(); got != 5 {
		t.Errorf("FramesDropped = %d; want 5", got)
	}
	if got := h.sess.FramesForwarded(); got != 0 {
		t.Errorf("FramesForwarded = %d; want 0", got)
	}
}

func TestRun_ForwardsFramesWhileListening(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	frame := make([]byte, 160)
	for range 3 {
		h.conn.push(mediaEvent(frame))
	}
	h.conn.push(stopEvent())

	done := h.run(context.Background())
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := h.backend.ForwardCount(); got != 3 {
		t.Errorf("backend received %d frames; want 3", got)
	}
	if got := h.sess.FramesForwarded(); got != 3 {
		t.Errorf("FramesForwarded = %d; want 3", got)
	}
	for i, f := range h.backend.ForwardedFrames {
		if f.Encoding != audio.EncodingMuLaw8k || f.Direction != audio.DirectionInbound {
			t.Errorf("frame %d tags = %+v", i, f)
		}
		if f.Seq != uint64(i) {
			t.Errorf("frame %d seq = %d", i, f.Seq)
		}
	}
}

func TestRun_ClearIsSentBeforeResumedAudio(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.backend.Emit(bridge.Event{Kind: bridge.EventAudio, Audio: outboundAudio(160)})
	h.backend.Emit(bridge.Event{Kind: bridge.EventClear})
	h.backend.Emit(bridge.Event{Kind: bridge.EventAudio, Audio: outboundAudio(160)})
	_ = h.backend.Close()

	done := h.run(context.Background())
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := h.conn.writtenEvents()
	clearIdx, lastMediaIdx := -1, -1
	for i, ev := range events {
		switch ev {
		case "clear":
			clearIdx = i
		case "media":
			lastMediaIdx = i
		}
	}
	if clearIdx == -1 {
		t.Fatalf("no clear event in writes %v", events)
	}
	if lastMediaIdx < clearIdx {
		t.Errorf("expected media after clear, got %v", events)
	}
}

func TestRun_BackendStartFailure_ReleasesBothAdapters(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.backend.StartErr = fmt.Errorf("no credentials")

	done := h.run(context.Background())
	if err := awaitRun(t, done); err == nil {
		t.Fatal("Run should fail when the backend cannot start")
	}

	if !h.backend.Closed() {
		t.Error("backend not closed after failed start")
	}
	if !h.conn.isClosed() {
		t.Error("media-stream connection not closed after failed start")
	}
	if got := h.sess.State(); got != session.StateClosed {
		t.Errorf("final state = %s; want %s", got, session.StateClosed)
	}
}

func containsEvent(events []string, want string) bool {
	for _, ev := range events {
		if ev == want {
			return true
		}
	}
	return false
}
