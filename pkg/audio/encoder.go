package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"
)

const (
	// SampleRate is the Opus RTP clock rate
	SampleRate = 48000
	// Channels sent on the wire
	Channels = 2
	// FrameSize is 20ms at 48kHz, per channel
	FrameSize = 960
	// OpusPayloadType matches the default pion media engine
	OpusPayloadType = 111
)

// OpusEncoder encodes PCM audio to Opus
type OpusEncoder struct {
	encoder    *opus.Encoder
	sampleRate int
	channels   int
	frameSize  int // samples per channel per frame
}

// NewOpusEncoder creates a new Opus encoder; bitrate is in bits per second
// and 0 keeps the codec default.
func NewOpusEncoder(sampleRate, channels, frameSize, bitrate int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}

	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("set bitrate %d: %w", bitrate, err)
		}
	}

	return &OpusEncoder{
		encoder:    enc,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
	}, nil
}

// Encode encodes PCM int16 samples to Opus
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	data := make([]byte, 1024)
	n, err := e.encoder.Encode(pcm, data)
	if err != nil {
		return nil, err
	}
	return data[:n], nil
}

// EncodeBytes encodes PCM bytes (little-endian int16) to Opus
func (e *OpusEncoder) EncodeBytes(pcmBytes []byte) ([]byte, error) {
	numSamples := len(pcmBytes) / 2
	pcm := make([]int16, numSamples)
	for i := 0; i < numSamples; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(pcmBytes[i*2:]))
	}
	return e.Encode(pcm)
}

// FrameSize returns the frame size in samples per channel
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

// ResampleMono resamples mono PCM from one sample rate to another
// using linear interpolation
func ResampleMono(input []byte, inputRate, outputRate int) []byte {
	if inputRate == outputRate {
		return input
	}

	inputSamples := len(input) / 2
	if inputSamples == 0 {
		return nil
	}
	ratio := float64(outputRate) / float64(inputRate)
	outputSamples := int(float64(inputSamples) * ratio)

	output := make([]byte, outputSamples*2)

	for i := 0; i < outputSamples; i++ {
		srcPos := float64(i) / ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		idx1 := min(srcIdx, inputSamples-1)
		idx2 := min(srcIdx+1, inputSamples-1)

		s1 := int16(binary.LittleEndian.Uint16(input[idx1*2:]))
		s2 := int16(binary.LittleEndian.Uint16(input[idx2*2:]))

		sample := int16(float64(s1)*(1-frac) + float64(s2)*frac)

		binary.LittleEndian.PutUint16(output[i*2:], uint16(sample))
	}

	return output
}

// MonoToStereo converts mono PCM to stereo by duplicating each sample
func MonoToStereo(mono []byte) []byte {
	numSamples := len(mono) / 2
	stereo := make([]byte, numSamples*4)

	for i := 0; i < numSamples; i++ {
		sample := mono[i*2 : i*2+2]
		copy(stereo[i*4:], sample)
		copy(stereo[i*4+2:], sample)
	}

	return stereo
}

// RTPPacketizer wraps Opus frames into RTP packets
type RTPPacketizer struct {
	ssrc      uint32
	seqNum    uint16
	timestamp uint32
	frameSize uint32
}

// NewRTPPacketizer creates a new RTP packetizer
func NewRTPPacketizer(ssrc uint32, frameSize int) *RTPPacketizer {
	return &RTPPacketizer{
		ssrc:      ssrc,
		frameSize: uint32(frameSize),
	}
}

// Packetize creates an RTP packet carrying one Opus frame
func (p *RTPPacketizer) Packetize(opusData []byte) *rtp.Packet {
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    OpusPayloadType,
			SequenceNumber: p.seqNum,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc, // rewritten by pion on write
		},
		Payload: opusData,
	}

	p.seqNum++
	p.timestamp += p.frameSize

	return packet
}

// Pipeline turns mono PCM at an arbitrary rate into 20ms 48kHz stereo
// Opus frames
type Pipeline struct {
	encoder   *OpusEncoder
	inputRate int
	buffer    []byte
}

// NewPipeline creates a pipeline for mono PCM sampled at inputRate
func NewPipeline(inputRate, bitrate int) (*Pipeline, error) {
	encoder, err := NewOpusEncoder(SampleRate, Channels, FrameSize, bitrate)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	return &Pipeline{
		encoder:   encoder,
		inputRate: inputRate,
	}, nil
}

// frameBytes is one 20ms stereo frame of int16 samples
const frameBytes = FrameSize * Channels * 2

// Process buffers pcm and returns every complete Opus frame
func (p *Pipeline) Process(pcmMono []byte) ([][]byte, error) {
	if len(pcmMono) == 0 {
		return nil, nil
	}

	pcm48kMono := ResampleMono(pcmMono, p.inputRate, SampleRate)
	p.buffer = append(p.buffer, MonoToStereo(pcm48kMono)...)

	var frames [][]byte
	for len(p.buffer) >= frameBytes {
		frame := p.buffer[:frameBytes]
		p.buffer = p.buffer[frameBytes:]

		opusData, err := p.encoder.EncodeBytes(frame)
		if err != nil {
			return frames, fmt.Errorf("encode frame: %w", err)
		}
		frames = append(frames, opusData)
	}

	return frames, nil
}

// Reset clears the internal buffer
func (p *Pipeline) Reset() {
	p.buffer = p.buffer[:0]
}
