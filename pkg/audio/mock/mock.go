// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Player] for unit tests.
//
// Both mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose fields that control results.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Frames:  []audio.AudioFrame{speech, speech, silence},
//	    ReadErr: errors.New("device unplugged"),
//	}
//	player := &mock.Player{}
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/emmy/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source] that replays Frames in order.
//
// Once Frames is exhausted, Read returns ReadErr if set. Otherwise it returns
// io.EOF, or blocks until ctx is done when BlockWhenDone is true.
type Source struct {
	mu sync.Mutex

	// Frames are returned by successive Read calls.
	Frames []audio.AudioFrame

	// ReadErr is returned after Frames has been exhausted.
	ReadErr error

	// BlockWhenDone makes Read wait for ctx cancellation after the last frame.
	BlockWhenDone bool

	// FormatResult is returned by Format. Defaults to 16 kHz mono.
	FormatResult audio.Format

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next int
}

// Read implements [audio.Source].
func (s *Source) Read(ctx context.Context) (audio.AudioFrame, error) {
	s.mu.Lock()
	s.CallCountRead++
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return audio.AudioFrame{}, err
	}
	if s.next < len(s.Frames) {
		f := s.Frames[s.next]
		s.next++
		s.mu.Unlock()
		return f, nil
	}
	readErr, block := s.ReadErr, s.BlockWhenDone
	s.mu.Unlock()

	if readErr != nil {
		return audio.AudioFrame{}, readErr
	}
	if block {
		<-ctx.Done()
		return audio.AudioFrame{}, ctx.Err()
	}
	return audio.AudioFrame{}, io.EOF
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FormatResult == (audio.Format{}) {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return s.FormatResult
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records a single [Player.Play] invocation.
type PlayCall struct {
	// PCM is everything received on the pcm channel, concatenated.
	PCM []byte

	// Format is the format argument passed to Play.
	Format audio.Format
}

// Player is a mock [audio.Player]. Play drains the channel and records what
// it received.
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by Play after draining the input.
	PlayErr error

	// PlayCalls records all Play invocations.
	PlayCalls []PlayCall

	// OnPlay, if set, is called at the start of every Play.
	OnPlay func()
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	p.mu.Lock()
	onPlay := p.OnPlay
	p.mu.Unlock()
	if onPlay != nil {
		onPlay()
	}

	var got []byte
loop:
	for {
		select {
		case chunk, ok := <-pcm:
			if !ok {
				break loop
			}
			got = append(got, chunk...)
		case <-ctx.Done():
			go audio.Drain(pcm)
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayCalls = append(p.PlayCalls, PlayCall{PCM: got, Format: format})
	return p.PlayErr
}

// Calls returns a copy of the recorded Play calls.
func (p *Player) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlayCall(nil), p.PlayCalls...)
}
