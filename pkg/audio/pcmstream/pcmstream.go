// Package pcmstream reads raw signed 16-bit little-endian PCM from an
// [io.Reader], such as stdin fed by `arecord -f S16_LE -r 16000 -c 1`.
package pcmstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/emmy/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// DefaultChunk is the default frame length.
const DefaultChunk = 64 * time.Millisecond

// Option is a functional option for [New].
type Option func(*Source)

// WithFormat sets the format of the incoming PCM. Default: 16 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(s *Source) { s.format = f }
}

// WithChunk sets the duration of audio returned by each Read.
func WithChunk(d time.Duration) Option {
	return func(s *Source) { s.chunk = d }
}

// Source slices a PCM byte stream into [audio.AudioFrame]s.
//
// A background goroutine, started by the first Read, pulls frames from the
// reader so that Read can return as soon as its context is cancelled even
// while the reader blocks. Close closes the reader if it is an io.Closer and
// stops the goroutine.
type Source struct {
	r      io.Reader
	format audio.Format
	chunk  time.Duration
	size   int
	offset int64

	start  sync.Once
	chunks chan chunk
	done   chan struct{}
	closer sync.Once
}

// chunk is one read from the underlying reader.
type chunk struct {
	data []byte
	err  error
}

// New creates a Source over r.
func New(r io.Reader, opts ...Option) (*Source, error) {
	if r == nil {
		return nil, errors.New("pcmstream: reader is nil")
	}
	s := &Source{
		r:      r,
		format: audio.Format{SampleRate: 16000, Channels: 1},
		chunk:  DefaultChunk,
		chunks: make(chan chunk, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.format.SampleRate <= 0 || s.format.Channels <= 0 {
		return nil, fmt.Errorf("pcmstream: invalid format %s", s.format)
	}
	if s.chunk <= 0 {
		return nil, fmt.Errorf("pcmstream: chunk must be positive, got %s", s.chunk)
	}

	blockAlign := 2 * s.format.Channels
	s.size = int(int64(s.format.BytesPerSecond()) * int64(s.chunk) / int64(time.Second))
	s.size -= s.size % blockAlign
	if s.size == 0 {
		s.size = blockAlign
	}
	return s, nil
}

// Read returns the next frame. A final partial frame is returned as is
// (trimmed to whole samples); after that Read returns io.EOF. Read returns
// ctx.Err() as soon as ctx is done, without waiting for the reader.
func (s *Source) Read(ctx context.Context) (audio.AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return audio.AudioFrame{}, err
	}
	s.start.Do(func() { go s.pump() })

	var c chunk
	select {
	case got, ok := <-s.chunks:
		if !ok {
			return audio.AudioFrame{}, io.EOF
		}
		c = got
	case <-ctx.Done():
		return audio.AudioFrame{}, ctx.Err()
	case <-s.done:
		return audio.AudioFrame{}, io.EOF
	}
	if c.err != nil {
		return audio.AudioFrame{}, c.err
	}

	ts := time.Duration(s.offset) * time.Second / time.Duration(s.format.BytesPerSecond())
	s.offset += int64(len(c.data))
	return audio.AudioFrame{
		Data:       c.data,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  ts,
	}, nil
}

// pump reads frames until the reader ends, fails or the source is closed.
// The channel is closed after the last chunk.
func (s *Source) pump() {
	defer close(s.chunks)
	blockAlign := 2 * s.format.Channels
	for {
		buf := make([]byte, s.size)
		n, err := io.ReadFull(s.r, buf)
		n -= n % blockAlign

		var c chunk
		last := true
		switch {
		case err == nil:
			c, last = chunk{data: buf[:n]}, false
		case errors.Is(err, io.ErrUnexpectedEOF) && n > 0:
			c = chunk{data: buf[:n]}
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return
		default:
			select {
			case <-s.done:
				return
			default:
			}
			c = chunk{err: fmt.Errorf("pcmstream: read: %w", err)}
		}

		select {
		case s.chunks <- c:
		case <-s.done:
			return
		}
		if last {
			return
		}
	}
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Close implements [audio.Source]. It unblocks pending Reads.
func (s *Source) Close() error {
	var err error
	s.closer.Do(func() {
		close(s.done)
		if c, ok := s.r.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
