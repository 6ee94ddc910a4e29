// Package server exposes Mayday's HTTP surface: the voice webhook that
// answers incoming calls with TwiML, the media-stream WebSocket endpoint
// that carries the call audio, health probes, and the Prometheus scrape
// endpoint.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nordlicht-labs/mayday/internal/bridge"
	"github.com/nordlicht-labs/mayday/internal/casestore"
	"github.com/nordlicht-labs/mayday/internal/config"
	"github.com/nordlicht-labs/mayday/internal/health"
	"github.com/nordlicht-labs/mayday/internal/observe"
	"github.com/nordlicht-labs/mayday/internal/session"
	"github.com/nordlicht-labs/mayday/internal/telephony"
)

// fallbackMessage is spoken to the caller when no speech-AI backend can be
// started for this deployment. The caller must never be left in silence.
const fallbackMessage = "We are currently unable to take your call. " +
	"Please hang up and contact your local emergency services directly."

// BackendFactory builds one fresh speech-AI backend per accepted call.
// Backends hold per-call connection state and are never reused.
type BackendFactory func() (bridge.Backend, error)

// Server routes webhook and media-stream traffic into the call bridge.
type Server struct {
	cfg        *config.Config
	cases      casestore.Store
	calls      telephony.CallControl
	metrics    *observe.Metrics
	health     *health.Handler
	log        *slog.Logger
	newBackend BackendFactory
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth sets the health handler, carrying any readiness checkers.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithBackendFactory overrides the config-derived backend construction.
// Tests use this to run calls against a mock backend.
func WithBackendFactory(f BackendFactory) Option {
	return func(s *Server) { s.newBackend = f }
}

// New creates a Server. cases and calls must be non-nil; the webhook
// fallback for missing provider credentials is handled per request via
// [config.Config.BackendReady], not here.
func New(cfg *config.Config, cases casestore.Store, calls telephony.CallControl, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server: config must not be nil")
	}
	if cases == nil {
		return nil, fmt.Errorf("server: case store must not be nil")
	}
	if calls == nil {
		return nil, fmt.Errorf("server: call control must not be nil")
	}
	s := &Server{cfg: cfg, cases: cases, calls: calls}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.newBackend == nil {
		s.newBackend = configFactory(s.cfg, s.log, s.metrics)
	}
	return s, nil
}

// Handler assembles the route table and wraps it in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /voice", s.handleVoice)
	mux.HandleFunc("GET /voice/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// handleVoice answers the telephony provider's incoming-call webhook.
// When the configured backend has its credentials the response connects
// the call to the media-stream endpoint; otherwise the caller hears a
// static spoken message and the call ends.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	callSid := r.PostFormValue("CallSid")
	from := r.PostFormValue("From")
	to := r.PostFormValue("To")

	var (
		body []byte
		err  error
	)
	if s.cfg.BackendReady() {
		wsURL := "wss://" + s.cfg.Server.PublicHost + "/voice/stream"
		body, err = telephony.ConnectStreamTwiML(wsURL, callSid, from, to)
	} else {
		s.log.Warn("backend not ready, answering with static fallback",
			"call_sid", callSid,
			"mode", s.cfg.Bridge.Mode,
		)
		body, err = telephony.SayHangupTwiML(fallbackMessage)
	}
	if err != nil {
		s.log.Error("building twiml response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.Write(body)
}

// handleStream accepts the provider's media-stream WebSocket and runs the
// call bridge until the call ends. The handler blocks for the lifetime of
// the call.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// Call logs carry the middleware span's trace identifiers so one call
	// can be followed across webhook, stream and bridge.
	log := observe.Logger(ctx, s.log)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("media-stream upgrade failed", "err", err)
		return
	}

	stream := telephony.NewMediaStream(conn, log)

	info, err := stream.Start(ctx)
	if err != nil {
		log.Warn("media-stream handshake failed", "err", err)
		stream.Close("handshake failed")
		return
	}

	sess := session.New(info.CallSid)
	sess.StreamID = info.StreamSid
	if info.CustomParameters != nil {
		if sess.CallID == "" {
			sess.CallID = info.CustomParameters["CallSid"]
		}
		sess.From = info.CustomParameters["From"]
	}

	backend, err := s.newBackend()
	if err != nil {
		log.Error("building call backend",
			"call_id", sess.CallID,
			"err", err,
		)
		stream.Close("backend unavailable")
		return
	}

	opts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithMetrics(s.metrics),
	}
	if ms := s.cfg.Bridge.EchoCooldownMs; ms > 0 {
		opts = append(opts, bridge.WithCooldown(time.Duration(ms)*time.Millisecond))
	}

	orch := bridge.New(stream, backend, s.cases, s.calls, opts...)
	if err := orch.Run(ctx, sess); err != nil {
		log.Error("call bridge failed",
			"call_id", sess.CallID,
			"err", err,
		)
	}
}
