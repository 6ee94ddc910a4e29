// Package telephony implements the provider side of the voice bridge: the
// Twilio Media Streams WebSocket framing, TwiML responses for the inbound
// call webhook, and the out-of-band call-control operation used to hang up.
package telephony

import "github.com/nordlicht-labs/mayday/pkg/audio"

// wireMessage is the superset of fields Twilio sends on the media stream.
// Twilio frames are JSON text messages with an "event" discriminator.
type wireMessage struct {
	Event     string        `json:"event"`
	Protocol  string        `json:"protocol,omitempty"`
	Version   string        `json:"version,omitempty"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Stop      *stopPayload  `json:"stop,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
	DTMF      *dtmfPayload  `json:"dtmf,omitempty"`
}

type startPayload struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      mediaFormat       `json:"mediaFormat"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type stopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type markPayload struct {
	Name string `json:"name"`
}

type dtmfPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// outboundMedia is the frame shape for audio sent back to Twilio.
type outboundMedia struct {
	Event     string          `json:"event"`
	StreamSid string          `json:"streamSid"`
	Media     outboundPayload `json:"media"`
}

type outboundPayload struct {
	Payload string `json:"payload"`
}

// outboundClear flushes Twilio's playout buffer, used on interruption.
type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// outboundMark asks Twilio to echo a mark once queued audio has played.
type outboundMark struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}

// EventKind discriminates parsed media-stream events. The connected and
// start preamble is consumed by [MediaStream.Start] and never surfaces
// here.
type EventKind string

const (
	EventMedia EventKind = "media"
	EventStop  EventKind = "stop"
	EventMark  EventKind = "mark"
	EventDTMF  EventKind = "dtmf"
)

// Event is one parsed inbound media-stream event.
type Event struct {
	Kind EventKind

	// Audio is the decoded frame of an inbound-track media event, tagged
	// with its wire encoding and a per-stream sequence number.
	Audio audio.AudioFrame

	// Digit is set for DTMF events.
	Digit string

	// MarkName is set for mark events.
	MarkName string
}
