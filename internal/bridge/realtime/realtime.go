// Package realtime implements the bridge.Backend interface on the OpenAI
// Realtime API.
//
// It holds one persistent WebSocket for the whole call and exchanges JSON
// events according to the Realtime protocol. Voice-activity detection and
// turn taking happen server side; the adapter transcodes between the
// telephony wire format (μ-law 8 kHz) and the model's linear PCM 24 kHz,
// surfaces audio deltas and tool calls as bridge events, and keeps the
// connection alive with periodic pings.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nordlicht-labs/mayday/internal/bridge"
	"github.com/nordlicht-labs/mayday/internal/session"
	"github.com/nordlicht-labs/mayday/pkg/audio"
)

var _ bridge.Backend = (*Backend)(nil)

const (
	defaultModel        = "gpt-4o-realtime-preview"
	defaultBaseURL      = "wss://api.openai.com/v1/realtime"
	defaultVoice        = "alloy"
	defaultPingInterval = 20 * time.Second

	// sampleRatio converts between the model's 24 kHz PCM and the 8 kHz
	// telephony rate.
	sampleRatio = 3

	caseToolName = "create_emergency_case"
)

// defaultInstructions is the assistant persona for the realtime session.
// The model collects the emergency record conversationally and calls the
// case tool once everything is present.
const defaultInstructions = `You are an emergency response assistant on a live phone call. The caller may be stressed or scared. Stay calm, warm and reassuring, and keep every reply short and natural for speech.

Collect, one piece at a time: the caller's full name, their identification number, their current location (as specific as possible), and a description of the emergency. Assess the category (fuel, medical, shelter, food_water, rescue, other) and a severity from 1 to 5 (5 = life-threatening) yourself from what they tell you.

When you have everything, call the ` + caseToolName + ` tool. After the tool confirms the case was created, tell the caller that help is on the way, that they can hang up, and to stay safe. If the tool reports missing information, ask for exactly that and try again.

Start the call by greeting the caller and asking what happened.`

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithModel sets the realtime model.
func WithModel(model string) Option {
	return func(b *Backend) { b.model = model }
}

// WithBaseURL overrides the WebSocket base URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(b *Backend) { b.baseURL = url }
}

// WithVoice sets the synthesis voice.
func WithVoice(voice string) Option {
	return func(b *Backend) { b.voice = voice }
}

// WithInstructions replaces the assistant persona.
func WithInstructions(instructions string) Option {
	return func(b *Backend) { b.instructions = instructions }
}

// WithPingInterval sets the keep-alive interval.
func WithPingInterval(d time.Duration) Option {
	return func(b *Backend) { b.pingInterval = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Backend) { b.log = log }
}

// ── Backend ────────────────────────────────────────────────────────────────────

// Backend is the realtime bridge.Backend. One Backend serves one call.
type Backend struct {
	apiKey       string
	model        string
	baseURL      string
	voice        string
	instructions string
	pingInterval time.Duration
	log          *slog.Logger

	conn   *websocket.Conn
	sess   *session.Session
	events chan bridge.Event
	outSeq uint64
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool

	eventsOnce sync.Once
}

// New creates a realtime Backend with the given API key and options.
func New(apiKey string, opts ...Option) *Backend {
	b := &Backend{
		apiKey:       apiKey,
		model:        defaultModel,
		baseURL:      defaultBaseURL,
		voice:        defaultVoice,
		instructions: defaultInstructions,
		pingInterval: defaultPingInterval,
		events:       make(chan bridge.Event, 64),
	}
	for _, o := range opts {
		o(b)
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	return b
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string         `json:"voice,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     turnDetection  `json:"turn_detection"`
	Tools             []realtimeTool `json:"tools,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type realtimeTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.output_audio.delta
	Delta string `json:"delta,omitempty"`

	// response.done
	Response *responseBody `json:"response,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

type responseBody struct {
	Output []responseOutputItem `json:"output,omitempty"`
}

type responseOutputItem struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// caseToolArgs mirrors the tool schema's argument document.
type caseToolArgs struct {
	FullName             string `json:"full_name"`
	IdentificationNumber string `json:"identification_number"`
	Location             string `json:"location"`
	EmergencyDescription string `json:"emergency_description"`
	Category             string `json:"category"`
	Severity             int    `json:"severity"`
}

// caseToolSchema declares the six required case fields to the model.
func caseToolSchema() realtimeTool {
	return realtimeTool{
		Type:        "function",
		Name:        caseToolName,
		Description: "Create an emergency case once all required information has been collected from the caller.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"full_name": map[string]any{
					"type": "string", "description": "The caller's full name.",
				},
				"identification_number": map[string]any{
					"type": "string", "description": "The caller's identification number.",
				},
				"location": map[string]any{
					"type": "string", "description": "The caller's current location, as specific as possible.",
				},
				"emergency_description": map[string]any{
					"type": "string", "description": "What happened and what the caller needs.",
				},
				"category": map[string]any{
					"type": "string",
					"enum": []string{"fuel", "medical", "shelter", "food_water", "rescue", "other"},
				},
				"severity": map[string]any{
					"type": "integer", "minimum": 1, "maximum": 5,
				},
			},
			"required": []string{
				"full_name", "identification_number", "location",
				"emergency_description", "category", "severity",
			},
		},
	}
}

// ── bridge.Backend implementation ─────────────────────────────────────────────

// Start dials the realtime endpoint, configures the session and triggers
// the greeting turn.
func (b *Backend) Start(ctx context.Context, sess *session.Session) error {
	if b.apiKey == "" {
		return fmt.Errorf("realtime: api key not configured")
	}
	b.sess = sess

	wsURL := fmt.Sprintf("%s?model=%s", b.baseURL, b.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + b.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.conn = conn

	update := sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Voice:             b.voice,
			Instructions:      b.instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 500,
			},
			Tools: []realtimeTool{caseToolSchema()},
		},
	}
	if err := b.writeJSON(update); err != nil {
		b.cancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return fmt.Errorf("realtime: session update: %w", err)
	}
	// The model does not speak first on its own.
	if err := b.writeJSON(map[string]string{"type": "response.create"}); err != nil {
		b.cancel()
		conn.Close(websocket.StatusInternalError, "greeting trigger failed")
		return fmt.Errorf("realtime: greeting: %w", err)
	}

	go b.receiveLoop()
	go b.keepalive()

	return nil
}

// ForwardInbound upsamples one μ-law frame to the model rate and appends
// it to the input buffer.
func (b *Backend) ForwardInbound(frame audio.AudioFrame) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("realtime: backend closed")
	}
	b.mu.Unlock()

	pcm := audio.TranscodeMuLawToPCM(frame.Data, sampleRatio)
	if len(pcm) == 0 {
		return nil
	}
	return b.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// Events implements bridge.Backend.
func (b *Backend) Events() <-chan bridge.Event { return b.events }

// CompleteTool returns the tool result and triggers the closing turn.
func (b *Backend) CompleteTool(_ context.Context, callID, result string) error {
	if err := b.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: result,
		},
	}); err != nil {
		return err
	}
	return b.writeJSON(map[string]string{"type": "response.create"})
}

// FailTool reports a rejected invocation so the model asks the caller for
// whatever is still missing.
func (b *Backend) FailTool(_ context.Context, callID, message string) error {
	output, _ := json.Marshal(map[string]string{"status": "rejected", "message": message})
	if err := b.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: string(output),
		},
	}); err != nil {
		return err
	}
	return b.writeJSON(map[string]string{"type": "response.create"})
}

// Close terminates the session. Idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	if b.conn != nil {
		b.conn.Close(websocket.StatusNormalClosure, "call ended")
	} else {
		// Never started: the receive loop will not close the stream.
		b.closeEvents()
	}
	return nil
}

// ── Internals ─────────────────────────────────────────────────────────────────

func (b *Backend) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads server events and dispatches them. It owns the event
// stream: the stream is closed when the loop exits.
func (b *Backend) receiveLoop() {
	defer b.closeEvents()

	for {
		_, data, err := b.conn.Read(b.ctx)
		if err != nil {
			if b.ctx.Err() == nil {
				b.log.Warn("realtime connection lost", "err", err)
			}
			return
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			// Unparseable backend event: log and continue the loop.
			b.log.Warn("unparseable realtime event", "err", err)
			continue
		}
		b.handleServerEvent(&evt)
	}
}

func (b *Backend) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.output_audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		mulaw := audio.TranscodePCMToMuLaw(pcm, sampleRatio)
		if len(mulaw) == 0 {
			return
		}
		b.emit(bridge.Event{Kind: bridge.EventAudio, Audio: b.outFrame(mulaw)})

	case "response.output_audio.done":
		// Flush input buffered during the assistant's turn so stale
		// pre-cooldown audio is discarded.
		if err := b.writeJSON(map[string]string{"type": "input_audio_buffer.clear"}); err != nil {
			b.log.Warn("input buffer clear", "err", err)
		}
		b.emit(bridge.Event{Kind: bridge.EventTurnDone})

	case "input_audio_buffer.speech_started":
		// Caller barged in mid-playback.
		if b.sess != nil && b.sess.Speaking() {
			if err := b.writeJSON(map[string]string{"type": "response.cancel"}); err != nil {
				b.log.Warn("response cancel", "err", err)
			}
			b.emit(bridge.Event{Kind: bridge.EventClear})
		}

	case "response.done":
		if evt.Response == nil {
			return
		}
		for _, item := range evt.Response.Output {
			if item.Type != "function_call" || item.Name != caseToolName {
				continue
			}
			inv, err := parseToolCall(item)
			if err != nil {
				b.log.Warn("unparseable tool call", "err", err)
				continue
			}
			b.emit(bridge.Event{Kind: bridge.EventTool, Tool: inv})
		}

	case "error":
		if evt.Error != nil {
			b.log.Warn("realtime error event",
				"code", evt.Error.Code,
				"message", evt.Error.Message,
			)
		}
	}
}

func parseToolCall(item responseOutputItem) (*session.ToolInvocation, error) {
	var args caseToolArgs
	if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
		return nil, fmt.Errorf("realtime: tool arguments: %w", err)
	}
	return &session.ToolInvocation{
		CallID: item.CallID,
		Record: session.Extraction{
			FullName:             args.FullName,
			IdentificationNumber: args.IdentificationNumber,
			Location:             args.Location,
			Description:          args.EmergencyDescription,
			Category:             session.Category(args.Category),
			Severity:             args.Severity,
		},
	}, nil
}

func (b *Backend) emit(ev bridge.Event) {
	select {
	case b.events <- ev:
	case <-b.ctx.Done():
	}
}

// outFrame tags one transcoded delta for the wire. Only the receive loop
// calls it, so the sequence counter needs no lock.
func (b *Backend) outFrame(mulaw []byte) audio.AudioFrame {
	f := audio.AudioFrame{
		Data:       mulaw,
		Encoding:   audio.EncodingMuLaw8k,
		SampleRate: 8000,
		Direction:  audio.DirectionOutbound,
		Seq:        b.outSeq,
	}
	b.outSeq++
	return f
}

// keepalive pings the server periodically. A missed pong is a fatal
// disconnect for this call only.
func (b *Backend) keepalive() {
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(b.ctx, b.pingInterval)
			err := b.conn.Ping(ctx)
			cancel()
			if err != nil {
				if b.ctx.Err() == nil {
					b.log.Warn("realtime keepalive failed", "err", err)
					b.cancel()
				}
				return
			}
		}
	}
}

func (b *Backend) closeEvents() {
	b.eventsOnce.Do(func() { close(b.events) })
}
