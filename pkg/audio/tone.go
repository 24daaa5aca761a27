package audio

import (
	"encoding/binary"
	"math"
)

// ToneGenerator produces a mono sine wave as little-endian int16 PCM
type ToneGenerator struct {
	sampleRate int
	frequency  float64
	amplitude  float64
	phase      float64
}

// NewToneGenerator creates a generator; amplitude is in [0, 1]
func NewToneGenerator(sampleRate int, frequency, amplitude float64) *ToneGenerator {
	return &ToneGenerator{
		sampleRate: sampleRate,
		frequency:  frequency,
		amplitude:  math.Max(0, math.Min(1, amplitude)),
	}
}

// Next returns the next n samples
func (g *ToneGenerator) Next(n int) []byte {
	out := make([]byte, n*2)
	step := 2 * math.Pi * g.frequency / float64(g.sampleRate)
	for i := 0; i < n; i++ {
		sample := int16(g.amplitude * math.MaxInt16 * math.Sin(g.phase))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
		g.phase += step
		if g.phase > 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
	}
	return out
}
