package audio

import (
	"math"
	"sync"

	"gopkg.in/hraban/opus.v2"
)

// OpusDecoder decodes Opus audio to PCM
type OpusDecoder struct {
	decoder  *opus.Decoder
	channels int
}

// NewOpusDecoder creates a new Opus decoder
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}

	return &OpusDecoder{
		decoder:  dec,
		channels: channels,
	}, nil
}

// Decode decodes Opus data to PCM int16 samples
func (d *OpusDecoder) Decode(opusData []byte) ([]int16, error) {
	// 60ms at 48kHz is the largest Opus frame
	pcm := make([]int16, 5760*d.channels)

	n, err := d.decoder.Decode(opusData, pcm)
	if err != nil {
		return nil, err
	}

	return pcm[:n*d.channels], nil
}

// Level returns the RMS level of pcm normalised to [0, 1]
func Level(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Min(1, math.Sqrt(sum/float64(len(pcm))))
}

// LevelMeter tracks the level of a received Opus stream
type LevelMeter struct {
	decoder *OpusDecoder

	mu    sync.Mutex
	level float64
}

// NewLevelMeter creates a meter for a 48kHz stereo Opus stream
func NewLevelMeter() (*LevelMeter, error) {
	dec, err := NewOpusDecoder(SampleRate, Channels)
	if err != nil {
		return nil, err
	}
	return &LevelMeter{decoder: dec}, nil
}

// Write decodes one Opus payload and updates the level
func (m *LevelMeter) Write(payload []byte) error {
	pcm, err := m.decoder.Decode(payload)
	if err != nil {
		return err
	}
	level := Level(pcm)

	m.mu.Lock()
	m.level = level
	m.mu.Unlock()
	return nil
}

// Level returns the most recent level
func (m *LevelMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}
