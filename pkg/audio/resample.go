package audio

import "math"

// Upsample repeats every sample ratio times (nearest neighbor). This is a
// deliberate quality shortcut: it aliases, but stays intelligible over a
// phone line, costs nothing, and keeps latency flat. Callers wanting a
// filtered resampler must keep the length contract: len(out) == len(in)*ratio.
func Upsample(samples []int16, ratio int) []int16 {
	if ratio <= 1 || len(samples) == 0 {
		return samples
	}
	out := make([]int16, 0, len(samples)*ratio)
	for _, s := range samples {
		for range ratio {
			out = append(out, s)
		}
	}
	return out
}

// Downsample keeps every ratio-th sample (stride sampling).
// len(out) == ceil(len(in)/ratio).
func Downsample(samples []int16, ratio int) []int16 {
	if ratio <= 1 || len(samples) == 0 {
		return samples
	}
	out := make([]int16, 0, (len(samples)+ratio-1)/ratio)
	for i := 0; i < len(samples); i += ratio {
		out = append(out, samples[i])
	}
	return out
}

// RMS returns the root-mean-square amplitude of the samples, used only to
// classify frames as speech vs. silence. RMS(nil) == 0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SamplesFromPCM reinterprets little-endian 16-bit PCM bytes as samples.
// An odd-length input is malformed and yields nil; callers treat that as
// "no usable audio" and skip the frame.
func SamplesFromPCM(pcm []byte) []int16 {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil
	}
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// PCMBytes serialises samples as little-endian 16-bit PCM.
func PCMBytes(samples []int16) []byte {
	if len(samples) == 0 {
		return nil
	}
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
