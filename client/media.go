package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"example.com/apprtc/pkg/audio"
)

// MediaSource provides the local tracks sent to the remote peer
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	// Start begins writing media; it returns immediately
	Start(ctx context.Context)
	Close() error
}

// MediaFactory acquires local media for a call
type MediaFactory func(ctx context.Context) (MediaSource, error)

const (
	toneFrequency = 440
	toneAmplitude = 0.3
	toneBitrate   = 32000
	frameDuration = 20 * time.Millisecond
)

// noMedia is a receive-only source
type noMedia struct{}

// NoMedia returns a source without tracks
func NoMedia(context.Context) (MediaSource, error) { return noMedia{}, nil }

func (noMedia) Tracks() []webrtc.TrackLocal { return nil }
func (noMedia) Start(context.Context)       {}
func (noMedia) Close() error                { return nil }

// ToneSource sends a sine tone as an Opus track
type ToneSource struct {
	track      *webrtc.TrackLocalStaticRTP
	pipeline   *audio.Pipeline
	packetizer *audio.RTPPacketizer
	tone       *audio.ToneGenerator

	once sync.Once
	done chan struct{}
}

// NewToneSource creates an Opus track playing a 440Hz tone
func NewToneSource(context.Context) (MediaSource, error) {
	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   audio.SampleRate,
			Channels:    audio.Channels,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio-"+id,
		"stream-"+id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	pipeline, err := audio.NewPipeline(audio.SampleRate, toneBitrate)
	if err != nil {
		return nil, err
	}

	return &ToneSource{
		track:      track,
		pipeline:   pipeline,
		packetizer: audio.NewRTPPacketizer(0, audio.FrameSize),
		tone:       audio.NewToneGenerator(audio.SampleRate, toneFrequency, toneAmplitude),
		done:       make(chan struct{}),
	}, nil
}

// Tracks returns the tone track
func (s *ToneSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// Start writes one Opus frame every 20ms until ctx is done or Close
func (s *ToneSource) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
			}

			frames, err := s.pipeline.Process(s.tone.Next(audio.FrameSize))
			if err != nil {
				log.Error().Err(err).Msg("Tone encode failed")
				return
			}
			for _, frame := range frames {
				if err := s.track.WriteRTP(s.packetizer.Packetize(frame)); err != nil && !errors.Is(err, io.ErrClosedPipe) {
					log.Error().Err(err).Msg("Tone write failed")
					return
				}
			}
		}
	}()
}

// Close stops the tone
func (s *ToneSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// FileSource plays an IVF video file and/or an Ogg Opus file
type FileSource struct {
	videoPath string
	audioPath string
	video     *webrtc.TrackLocalStaticSample
	audio     *webrtc.TrackLocalStaticSample

	once sync.Once
	done chan struct{}
}

// NewFileSource returns a factory playing the given files. Either path may
// be empty. The IVF header decides between VP8 and VP9.
func NewFileSource(paths ...string) MediaFactory {
	return func(context.Context) (MediaSource, error) {
		s := &FileSource{done: make(chan struct{})}
		id := uuid.NewString()

		for _, path := range paths {
			switch {
			case strings.HasSuffix(path, ".ivf"):
				mime, err := ivfMimeType(path)
				if err != nil {
					return nil, err
				}
				s.videoPath = path
				s.video, err = webrtc.NewTrackLocalStaticSample(
					webrtc.RTPCodecCapability{MimeType: mime}, "video-"+id, "stream-"+id)
				if err != nil {
					return nil, fmt.Errorf("failed to create video track: %w", err)
				}
			case strings.HasSuffix(path, ".ogg"):
				var err error
				s.audioPath = path
				s.audio, err = webrtc.NewTrackLocalStaticSample(
					webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio-"+id, "stream-"+id)
				if err != nil {
					return nil, fmt.Errorf("failed to create audio track: %w", err)
				}
			default:
				return nil, fmt.Errorf("unsupported media file %q (want .ivf or .ogg)", path)
			}
		}
		return s, nil
	}
}

func ivfMimeType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return "", fmt.Errorf("read ivf header: %w", err)
	}
	switch header.FourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	}
	return "", fmt.Errorf("unsupported ivf codec %q", header.FourCC)
}

// Tracks returns the tracks for the configured files
func (s *FileSource) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

// Start plays each file once
func (s *FileSource) Start(ctx context.Context) {
	if s.video != nil {
		go func() {
			if err := s.playIVF(ctx); err != nil {
				log.Error().Err(err).Str("file", s.videoPath).Msg("Video playback stopped")
			}
		}()
	}
	if s.audio != nil {
		go func() {
			if err := s.playOgg(ctx); err != nil {
				log.Error().Err(err).Str("file", s.audioPath).Msg("Audio playback stopped")
			}
		}()
	}
}

func (s *FileSource) playIVF(ctx context.Context) error {
	f, err := os.Open(s.videoPath)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}

	interval := time.Second / 30
	if header.TimebaseDenominator > 0 {
		interval = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			log.Info().Str("file", s.videoPath).Msg("Video file finished")
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.video.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
			return err
		}
	}
}

func (s *FileSource) playOgg(ctx context.Context) error {
	f, err := os.Open(s.audioPath)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-ticker.C:
		}

		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			log.Info().Str("file", s.audioPath).Msg("Audio file finished")
			return nil
		}
		if err != nil {
			return err
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples)/audio.SampleRate*1000) * time.Millisecond
		if err := s.audio.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}

// Close stops playback
func (s *FileSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
