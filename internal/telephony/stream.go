package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nordlicht-labs/mayday/pkg/audio"
)

const (
	// OutboundChunkBytes is what Twilio expects per 20 ms at 8 kHz μ-law.
	// Producing a different chunk size is a protocol violation.
	OutboundChunkBytes = 160

	// ChunkInterval is the wire time one outbound chunk represents.
	ChunkInterval = 20 * time.Millisecond
)

// Conn is the subset of [websocket.Conn] the media stream uses. Tests
// substitute an in-memory implementation.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

var _ Conn = (*websocket.Conn)(nil)

// StartInfo carries the identifiers from Twilio's start event.
type StartInfo struct {
	StreamSid        string
	CallSid          string
	CustomParameters map[string]string
}

// MediaStream wraps one Twilio Media Streams WebSocket. It owns all reads
// and writes on the connection: the orchestrator's inbound loop calls
// [MediaStream.ReadEvent], and the outbound loop calls the Send methods.
// Writes are serialised by an internal mutex.
type MediaStream struct {
	conn Conn
	log  *slog.Logger

	// inSeq numbers inbound frames per stream. Only the single reader in
	// ReadEvent touches it.
	inSeq uint64

	writeMu sync.Mutex
}

// NewMediaStream wraps an accepted provider connection.
func NewMediaStream(conn Conn, log *slog.Logger) *MediaStream {
	if log == nil {
		log = slog.Default()
	}
	return &MediaStream{conn: conn, log: log}
}

// Start consumes the protocol preamble: the connected handshake (logged
// only) followed by the start event carrying the stream and call
// identifiers. Media traffic only begins after start, so no audio is lost.
func (m *MediaStream) Start(ctx context.Context) (StartInfo, error) {
	for {
		msg, err := m.readMessage(ctx)
		if err != nil {
			return StartInfo{}, fmt.Errorf("telephony: awaiting start: %w", err)
		}
		switch msg.Event {
		case "connected":
			m.log.Debug("media stream connected",
				"protocol", msg.Protocol,
				"version", msg.Version,
			)
		case "start":
			if msg.Start == nil || msg.StreamSid == "" {
				return StartInfo{}, errors.New("telephony: start event missing stream identifier")
			}
			return StartInfo{
				StreamSid:        msg.StreamSid,
				CallSid:          msg.Start.CallSid,
				CustomParameters: msg.Start.CustomParameters,
			}, nil
		case "stop":
			return StartInfo{}, errors.New("telephony: stream stopped before start")
		default:
			m.log.Warn("unexpected event before start", "event", msg.Event)
		}
	}
}

// ReadEvent blocks until the next media-stream event arrives. Media events
// on tracks other than inbound are skipped, as are media payloads that fail
// base64 decoding (one bad frame never ends the call). Returns an error
// only on transport failure.
func (m *MediaStream) ReadEvent(ctx context.Context) (Event, error) {
	for {
		msg, err := m.readMessage(ctx)
		if err != nil {
			return Event{}, fmt.Errorf("telephony: read: %w", err)
		}
		switch msg.Event {
		case "media":
			if msg.Media == nil || msg.Media.Track != "inbound" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil || len(payload) == 0 {
				m.log.Warn("dropping undecodable media payload", "err", err)
				continue
			}
			frame := audio.AudioFrame{
				Data:       payload,
				Encoding:   audio.EncodingMuLaw8k,
				SampleRate: 8000,
				Direction:  audio.DirectionInbound,
				Seq:        m.inSeq,
			}
			m.inSeq++
			return Event{Kind: EventMedia, Audio: frame}, nil
		case "stop":
			return Event{Kind: EventStop}, nil
		case "mark":
			name := ""
			if msg.Mark != nil {
				name = msg.Mark.Name
			}
			return Event{Kind: EventMark, MarkName: name}, nil
		case "dtmf":
			digit := ""
			if msg.DTMF != nil {
				digit = msg.DTMF.Digit
			}
			return Event{Kind: EventDTMF, Digit: digit}, nil
		case "connected", "start":
			m.log.Warn("duplicate preamble event", "event", msg.Event)
		default:
			m.log.Debug("ignoring unknown media-stream event", "event", msg.Event)
		}
	}
}

func (m *MediaStream) readMessage(ctx context.Context) (wireMessage, error) {
	for {
		_, data, err := m.conn.Read(ctx)
		if err != nil {
			return wireMessage{}, err
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.log.Warn("invalid media-stream json", "err", err)
			continue
		}
		return msg, nil
	}
}

// SendAudio writes μ-law audio back to the caller in exact
// [OutboundChunkBytes] chunks, padding a short trailing chunk with μ-law
// silence. It writes as fast as the socket allows; use
// [MediaStream.SendAudioPaced] when the source is a whole synthesised turn.
func (m *MediaStream) SendAudio(ctx context.Context, streamSid string, mulaw []byte) error {
	return m.sendChunks(ctx, streamSid, mulaw, nil)
}

// SendAudioPaced writes μ-law audio one chunk per [ChunkInterval] so a
// whole turn of synthesised speech does not overrun the provider's jitter
// buffer.
func (m *MediaStream) SendAudioPaced(ctx context.Context, streamSid string, mulaw []byte) error {
	ticker := time.NewTicker(ChunkInterval)
	defer ticker.Stop()
	return m.sendChunks(ctx, streamSid, mulaw, ticker.C)
}

func (m *MediaStream) sendChunks(ctx context.Context, streamSid string, mulaw []byte, pace <-chan time.Time) error {
	for off := 0; off < len(mulaw); off += OutboundChunkBytes {
		end := min(off+OutboundChunkBytes, len(mulaw))
		chunk := mulaw[off:end]
		if len(chunk) < OutboundChunkBytes {
			padded := make([]byte, OutboundChunkBytes)
			copy(padded, chunk)
			for i := len(chunk); i < OutboundChunkBytes; i++ {
				padded[i] = audio.MuLawSilence
			}
			chunk = padded
		}
		if err := m.writeJSON(ctx, outboundMedia{
			Event:     "media",
			StreamSid: streamSid,
			Media:     outboundPayload{Payload: base64.StdEncoding.EncodeToString(chunk)},
		}); err != nil {
			return fmt.Errorf("telephony: send media: %w", err)
		}
		if pace != nil && end < len(mulaw) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pace:
			}
		}
	}
	return nil
}

// Clear flushes Twilio's playout buffer. Sent when the caller interrupts
// the assistant so stale audio stops immediately.
func (m *MediaStream) Clear(ctx context.Context, streamSid string) error {
	if err := m.writeJSON(ctx, outboundClear{Event: "clear", StreamSid: streamSid}); err != nil {
		return fmt.Errorf("telephony: send clear: %w", err)
	}
	return nil
}

// SendMark queues a named mark; Twilio echoes it once all audio queued
// before it has played out.
func (m *MediaStream) SendMark(ctx context.Context, streamSid, name string) error {
	if err := m.writeJSON(ctx, outboundMark{
		Event:     "mark",
		StreamSid: streamSid,
		Mark:      markPayload{Name: name},
	}); err != nil {
		return fmt.Errorf("telephony: send mark: %w", err)
	}
	return nil
}

func (m *MediaStream) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.Write(ctx, websocket.MessageText, data)
}

// Close closes the provider socket with a normal-closure status.
func (m *MediaStream) Close(reason string) error {
	return m.conn.Close(websocket.StatusNormalClosure, reason)
}
