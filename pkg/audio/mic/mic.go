// Package mic captures audio from the default input device via PortAudio.
//
// PortAudio is a process-wide library: [New] initialises it and
// [Source.Close] terminates it, so only one Source should be open at a time.
package mic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/emmy/pkg/audio"
)

const (
	defaultSampleRate = 16000

	// defaultFramesPerBuffer matches the chunk size the recogniser listens in.
	defaultFramesPerBuffer = 1024
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// Option is a functional option for [New].
type Option func(*Source)

// WithSampleRate sets the capture rate in Hz. Default: 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.sampleRate = rate }
}

// WithFramesPerBuffer sets how many samples each Read returns. Default: 1024.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) { s.framesPerBuffer = n }
}

// Source reads mono 16-bit PCM from the default microphone.
type Source struct {
	sampleRate      int
	framesPerBuffer int

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	samples uint64
	closed  bool
}

// New opens and starts the default input stream.
func New(opts ...Option) (*Source, error) {
	s := &Source{
		sampleRate:      defaultSampleRate,
		framesPerBuffer: defaultFramesPerBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	if s.sampleRate <= 0 || s.framesPerBuffer <= 0 {
		return nil, fmt.Errorf("mic: invalid sample rate %d or buffer size %d", s.sampleRate, s.framesPerBuffer)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("mic: initialize portaudio: %w", err)
	}
	s.buf = make([]int16, s.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.sampleRate), s.framesPerBuffer, s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("mic: open default input: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("mic: start stream: %w", err)
	}
	s.stream = stream

	slog.Info("microphone opened", "sample_rate", s.sampleRate, "frames_per_buffer", s.framesPerBuffer)
	return s, nil
}

// Read blocks for one buffer of audio. Cancellation is observed between
// buffers, so Read returns at most one buffer period after ctx is done.
func (s *Source) Read(ctx context.Context) (audio.AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return audio.AudioFrame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.AudioFrame{}, fmt.Errorf("mic: read: source closed")
	}
	if err := s.stream.Read(); err != nil {
		// Input overflow only means we fell behind; the buffer still holds audio.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return audio.AudioFrame{}, fmt.Errorf("mic: read: %w", err)
		}
		slog.Debug("microphone input overflowed")
	}

	data := make([]byte, len(s.buf)*2)
	for i, v := range s.buf {
		data[i*2] = byte(v)
		data[i*2+1] = byte(v >> 8)
	}
	ts := time.Duration(s.samples) * time.Second / time.Duration(s.sampleRate)
	s.samples += uint64(len(s.buf))

	return audio.AudioFrame{
		Data:       data,
		SampleRate: s.sampleRate,
		Channels:   1,
		Timestamp:  ts,
	}, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: s.sampleRate, Channels: 1}
}

// Close stops the stream and terminates PortAudio. It is idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := s.stream.Stop(); err != nil {
		firstErr = fmt.Errorf("mic: stop: %w", err)
	}
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("mic: close: %w", err)
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("mic: terminate: %w", err)
	}
	return firstErr
}
