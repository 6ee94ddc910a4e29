package audio

import "sync"

// G.711 μ-law constants.
const (
	muLawBias = 0x84  // added before the exponent search
	muLawClip = 32635 // largest magnitude representable after bias at 16-bit scale
)

// muLawToPCM is the 256-entry expansion table, built once per process on
// first use and read-only afterwards, so it is shared across all calls
// without locking.
var (
	muLawToPCM     [256]int16
	muLawTableOnce sync.Once
)

func buildMuLawTable() {
	for u := range 256 {
		x := 255 - u
		sign := x & 0x80
		exponent := (x >> 4) & 0x07
		mantissa := x & 0x0F
		sample := int32((mantissa<<3)+muLawBias) << exponent
		sample -= muLawBias
		if sign != 0 {
			sample = -sample
		}
		muLawToPCM[u] = int16(sample)
	}
}

// DecodeMuLaw expands 8-bit G.711 μ-law bytes into 16-bit linear samples.
// Deterministic and stateless; an empty input yields an empty result.
func DecodeMuLaw(data []byte) []int16 {
	muLawTableOnce.Do(buildMuLawTable)
	if len(data) == 0 {
		return nil
	}
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = muLawToPCM[b]
	}
	return out
}

// EncodeMuLaw compresses 16-bit linear samples into G.711 μ-law bytes.
// Samples outside the representable range are clipped before encoding.
// EncodeMuLaw(DecodeMuLaw(b)) reproduces b within one quantization step
// per sample (exactly, except for the ±0 code ambiguity).
func EncodeMuLaw(samples []int16) []byte {
	if len(samples) == 0 {
		return nil
	}
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = encodeMuLawSample(s)
	}
	return out
}

func encodeMuLawSample(sample int16) byte {
	var sign byte
	s := int32(sample)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	// Segment search: position of the highest set bit among bits 7..14.
	exponent := 7
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	u := sign | byte(exponent)<<4 | mantissa
	return 255 - u
}

// MuLawSilence is the μ-law code for a zero-amplitude sample, used to pad
// short trailing chunks so every outbound frame stays at the provider's
// expected size.
const MuLawSilence byte = 0xFF
