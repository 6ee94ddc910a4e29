package audio

// TranscodeMuLawToPCM decodes μ-law 8 kHz bytes and upsamples by ratio,
// returning little-endian 16-bit PCM at 8000*ratio Hz. Empty input yields nil.
func TranscodeMuLawToPCM(mulaw []byte, ratio int) []byte {
	samples := DecodeMuLaw(mulaw)
	if len(samples) == 0 {
		return nil
	}
	return PCMBytes(Upsample(samples, ratio))
}

// TranscodePCMToMuLaw downsamples little-endian 16-bit PCM at 8000*ratio Hz
// by ratio and compresses to μ-law 8 kHz bytes. Malformed (odd-length) or
// empty input yields nil; callers skip the frame.
func TranscodePCMToMuLaw(pcm []byte, ratio int) []byte {
	samples := SamplesFromPCM(pcm)
	if len(samples) == 0 {
		return nil
	}
	return EncodeMuLaw(Downsample(samples, ratio))
}
