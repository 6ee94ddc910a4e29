package audio

import "encoding/binary"

// EncodeWAV wraps mono 16-bit PCM samples in a minimal RIFF/WAVE container
// (fmt + data chunks only), suitable for submitting one utterance to a
// transcription API. Returns nil for empty input.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	if len(samples) == 0 {
		return nil
	}
	dataLen := len(samples) * 2
	buf := make([]byte, 0, 44+dataLen)

	le := binary.LittleEndian
	var u32 [4]byte
	var u16 [2]byte
	put32 := func(v uint32) {
		le.PutUint32(u32[:], v)
		buf = append(buf, u32[:]...)
	}
	put16 := func(v uint16) {
		le.PutUint16(u16[:], v)
		buf = append(buf, u16[:]...)
	}

	buf = append(buf, "RIFF"...)
	put32(uint32(36 + dataLen))
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	put32(16)                     // fmt chunk size
	put16(1)                      // PCM
	put16(1)                      // mono
	put32(uint32(sampleRate))     // sample rate
	put32(uint32(sampleRate * 2)) // byte rate
	put16(2)                      // block align
	put16(16)                     // bits per sample

	buf = append(buf, "data"...)
	put32(uint32(dataLen))
	for _, s := range samples {
		put16(uint16(s))
	}
	return buf
}
