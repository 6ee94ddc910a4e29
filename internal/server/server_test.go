package server_test

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nordlicht-labs/mayday/internal/bridge"
	bridgemock "github.com/nordlicht-labs/mayday/internal/bridge/mock"
	casemock "github.com/nordlicht-labs/mayday/internal/casestore/mock"
	"github.com/nordlicht-labs/mayday/internal/config"
	"github.com/nordlicht-labs/mayday/internal/server"
)

// fakeCallControl records hang-up requests.
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

func testConfig(mode config.BackendMode) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":0",
			PublicHost: "mayday.example.com",
			LogLevel:   config.LogInfo,
		},
		Telephony: config.TelephonyConfig{AccountSID: "AC1", AuthToken: "secret"},
		Bridge:    config.BridgeConfig{Mode: mode},
		Providers: config.ProvidersConfig{
			OpenAI: config.ProviderEntry{APIKey: "sk-test"},
		},
	}
}

type harness struct {
	srv     *httptest.Server
	backend *bridgemock.Backend
	cases   *casemock.Store
	calls   *fakeCallControl
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		backend: bridgemock.New(),
		cases:   &casemock.Store{},
		calls:   &fakeCallControl{},
	}
	s, err := server.New(cfg, h.cases, h.calls,
		server.WithBackendFactory(func() (bridge.Backend, error) {
			return h.backend, nil
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func postVoice(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	form := url.Values{
		"CallSid": {"CA1"},
		"From":    {"+15550001"},
		"To":      {"+15550002"},
	}
	resp, err := http.PostForm(srv.URL+"/voice", form)
	if err != nil {
		t.Fatalf("POST /voice: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("Content-Type = %q, want text/xml", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestVoiceWebhook_ConnectsStream(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(config.ModeRealtime))
	body := postVoice(t, h.srv)

	for _, want := range []string{
		"<Connect>",
		`url="wss://mayday.example.com/voice/stream"`,
		`name="CallSid" value="CA1"`,
		`name="From" value="+15550001"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "<Say") {
		t.Errorf("connect response must not carry a Say verb:\n%s", body)
	}
}

func TestVoiceWebhook_FallbackWhenBackendNotReady(t *testing.T) {
	t.Parallel()

	// Pipeline mode without ElevenLabs or LLM credentials.
	h := newHarness(t, testConfig(config.ModePipeline))
	body := postVoice(t, h.srv)

	if !strings.Contains(body, "<Say") || !strings.Contains(body, "<Hangup") {
		t.Fatalf("fallback must speak and hang up:\n%s", body)
	}
	if strings.Contains(body, "<Connect>") {
		t.Fatalf("fallback must not connect a stream:\n%s", body)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(config.ModeRealtime))
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(h.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestStream_RunsBridgeForCall(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(config.ModeRealtime))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/voice/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	write := func(raw string) {
		t.Helper()
		if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	write(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)
	write(`{"event":"start","streamSid":"MZ1","start":{"callSid":"CA1","streamSid":"MZ1","customParameters":{"From":"+15550001"}}}`)

	payload := base64.StdEncoding.EncodeToString(make([]byte, 160))
	write(`{"event":"media","media":{"track":"inbound","payload":"` + payload + `"}}`)

	deadline := time.Now().Add(5 * time.Second)
	for h.backend.ForwardCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the frame to reach the backend")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sess := h.backend.Started()
	if sess == nil {
		t.Fatal("backend was never started")
	}
	if sess.CallID != "CA1" || sess.StreamID != "MZ1" {
		t.Fatalf("session identifiers = %q/%q, want CA1/MZ1", sess.CallID, sess.StreamID)
	}
	if sess.From != "+15550001" {
		t.Fatalf("session From = %q", sess.From)
	}

	write(`{"event":"stop","stop":{"callSid":"CA1"}}`)

	// The bridge closes the backend when the call ends.
	select {
	case _, open := <-h.backend.Events():
		if open {
			t.Fatal("unexpected event before close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the backend to close")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.ModeRealtime)
	if _, err := server.New(nil, &casemock.Store{}, &fakeCallControl{}); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := server.New(cfg, nil, &fakeCallControl{}); err == nil {
		t.Error("nil case store accepted")
	}
	if _, err := server.New(cfg, &casemock.Store{}, nil); err == nil {
		t.Error("nil call control accepted")
	}
}
