// Package audio provides the codec primitives for telephony voice bridging:
// G.711 μ-law expansion/compression, integer-ratio resampling, RMS loudness
// estimation, and a minimal WAV container writer.
//
// Everything here is stateless and allocation-conscious; frames flow through
// these functions on the hot path of every active call.
package audio

// Encoding identifies how the bytes of an [AudioFrame] are to be interpreted.
type Encoding string

const (
	// EncodingMuLaw8k is 8-bit G.711 μ-law at 8 kHz, the telephony wire format.
	EncodingMuLaw8k Encoding = "mulaw-8k"

	// EncodingPCM16 is 16-bit little-endian linear PCM. The frame's SampleRate
	// field carries the actual rate (8000, 16000 or 24000 depending on which
	// side of the bridge produced it).
	EncodingPCM16 Encoding = "pcm16"
)

// Direction marks which way a frame is travelling through the bridge.
type Direction string

const (
	// DirectionInbound flows caller → backend.
	DirectionInbound Direction = "inbound"

	// DirectionOutbound flows backend → caller.
	DirectionOutbound Direction = "outbound"
)

// AudioFrame is a single chunk of call audio, roughly 20 ms at the wire rate.
// Frames are immutable once produced: ownership passes from the producer to
// the one consumer that forwards or transcodes them, and no frame is retained
// after forwarding.
type AudioFrame struct {
	// Data holds the raw bytes in the frame's Encoding.
	Data []byte

	// Encoding of Data.
	Encoding Encoding

	// SampleRate in Hz. Always 8000 for μ-law frames.
	SampleRate int

	// Direction of travel.
	Direction Direction

	// Seq is a per-call monotonic sequence number assigned by the producer.
	Seq uint64
}
