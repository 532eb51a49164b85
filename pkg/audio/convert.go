package audio

import (
	"encoding/binary"
	"math"
)

// Convert reshapes 16-bit PCM from src to dst: channels are mixed down first
// (so only one channel is resampled), then the sample rate is changed, then
// mono is widened if dst asks for more channels. Returns pcm unchanged when
// the formats already match or either format is not 16-bit.
func Convert(pcm []byte, src, dst Format) []byte {
	if src == dst || src.SampleWidth != 2 || dst.SampleWidth != 2 {
		return pcm
	}
	out := pcm
	channels := src.Channels
	if channels > 1 && dst.Channels < channels {
		out = Downmix16(out, channels)
		channels = 1
	}
	if src.SampleRate != dst.SampleRate {
		if channels == 1 {
			out = ResampleMono16(out, src.SampleRate, dst.SampleRate)
		} else {
			out = Interleave16(resampleEach(Deinterleave16(out, channels), src.SampleRate, dst.SampleRate))
		}
	}
	if channels == 1 && dst.Channels > 1 {
		out = Upmix16(out, dst.Channels)
	}
	return out
}

// Downmix16 averages every interleaved sample block of the given channel
// count into one mono sample. Uses int32 accumulation so loud input cannot
// overflow.
func Downmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	block := channels * 2
	n := len(pcm) / block
	out := make([]byte, n*2)
	for i := range n {
		var sum int32
		for c := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[i*block+c*2:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// Upmix16 copies each mono sample into every one of channels outputs.
func Upmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	n := len(pcm) / 2
	out := make([]byte, n*2*channels)
	for i := range n {
		lo, hi := pcm[i*2], pcm[i*2+1]
		for c := range channels {
			j := (i*channels + c) * 2
			out[j], out[j+1] = lo, hi
		}
	}
	return out
}

// Deinterleave16 splits interleaved PCM into one mono buffer per channel.
func Deinterleave16(pcm []byte, channels int) [][]byte {
	block := channels * 2
	n := len(pcm) / block
	out := make([][]byte, channels)
	for c := range out {
		out[c] = make([]byte, n*2)
	}
	for i := range n {
		for c := range channels {
			copy(out[c][i*2:i*2+2], pcm[i*block+c*2:])
		}
	}
	return out
}

// Interleave16 is the inverse of [Deinterleave16]. The shortest channel
// decides the output length.
func Interleave16(chans [][]byte) []byte {
	if len(chans) == 0 {
		return nil
	}
	n := len(chans[0]) / 2
	for _, c := range chans[1:] {
		n = min(n, len(c)/2)
	}
	out := make([]byte, n*2*len(chans))
	for i := range n {
		for c, data := range chans {
			j := (i*len(chans) + c) * 2
			out[j], out[j+1] = data[i*2], data[i*2+1]
		}
	}
	return out
}

func resampleEach(chans [][]byte, srcRate, dstRate int) [][]byte {
	for i, c := range chans {
		chans[i] = ResampleMono16(c, srcRate, dstRate)
	}
	return chans
}

// ResampleMono16 changes the sample rate of 16-bit mono PCM using linear
// interpolation. Returns pcm unchanged when the rates match or are invalid.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcN := len(pcm) / 2
	dstN := int(int64(srcN) * int64(dstRate) / int64(srcRate))
	if dstN == 0 {
		return nil
	}
	sample := func(i int) float64 {
		if i >= srcN {
			i = srcN - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	out := make([]byte, dstN*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstN {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		v := sample(idx)*(1-frac) + sample(idx+1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v))))
	}
	return out
}

// Float32ToPCM16 converts normalised float samples in [-1, 1] to 16-bit PCM,
// clipping anything outside that range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(int32(math.Round(float64(s)*32767)))))
	}
	return out
}

// PCM16ToFloat32 converts 16-bit PCM to float samples in [-1, 1]. A trailing
// odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// Int16ToPCM16 encodes samples as little-endian bytes.
func Int16ToPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMS16 returns the root-mean-square level of 16-bit PCM in sample units
// (0 to 32768). Returns 0 for buffers shorter than one sample.
func RMS16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// NoiseGate16 silences every block of 16-bit PCM whose RMS level is below
// threshold. blockBytes is rounded down to whole samples; a trailing partial
// block is gated on its own level. The input is not modified.
func NoiseGate16(pcm []byte, threshold float64, blockBytes int) []byte {
	blockBytes &^= 1
	if threshold <= 0 || blockBytes <= 0 {
		return pcm
	}
	out := make([]byte, len(pcm))
	copy(out, pcm)
	for off := 0; off < len(out); off += blockBytes {
		end := min(off+blockBytes, len(out))
		if RMS16(out[off:end]) < threshold {
			clear(out[off:end])
		}
	}
	return out
}

func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
