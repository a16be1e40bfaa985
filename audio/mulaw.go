package audio

// MuLawSampleRate is the rate of G.711 telephone audio.
const MuLawSampleRate = 8000

var muLawToPCM [256]int16

func init() {
	for i := range 256 {
		muLawToPCM[i] = decodeMuLaw(byte(i))
	}
}

// MuLawDecode expands G.711 mu-law bytes into an 8 kHz PCM frame.
func MuLawDecode(data []byte) Frame {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = muLawToPCM[b]
	}
	return Frame{Samples: out, SampleRate: MuLawSampleRate}
}

// MuLawEncode compresses every sample of f. The caller is responsible for
// bringing f to 8 kHz first.
func MuLawEncode(f Frame) []byte {
	out := make([]byte, len(f.Samples))
	for i, s := range f.Samples {
		out[i] = EncodeMuLaw(s)
	}
	return out
}

// Sun Microsystems G.711 reference algorithm.
func decodeMuLaw(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F

	sample := int16((int32(mantissa)<<3 + 0x84) << exponent)
	sample -= 0x84

	if sign != 0 {
		return -sample
	}
	return sample
}

// EncodeMuLaw compresses one PCM16 sample.
func EncodeMuLaw(pcm int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)

	sign := (pcm >> 8) & 0x80
	// Widen before negating so -32768 does not overflow.
	mag := int32(pcm)
	if mag < 0 {
		mag = -mag
	}
	if mag > clip {
		mag = clip
	}
	mag += bias

	exponent := int32(7)
	for mask := int32(0x4000); mag&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (mag >> (exponent + 3)) & 0x0F

	return ^byte(int32(sign) | exponent<<4 | mantissa)
}
