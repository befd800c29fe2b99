// Package energy implements [vad.Engine] with an RMS energy detector.
//
// A frame is speech when its RMS energy exceeds the session threshold. Once
// speech has started, the utterance ends after PauseThreshold of consecutive
// non-speech audio. With DynamicEnergy enabled the threshold follows the
// ambient level between utterances:
//
//	damping   = DynamicDamping ^ frameSeconds
//	threshold = threshold*damping + energy*DynamicRatio*(1-damping)
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/vad"
)

const (
	defaultDamping = 0.15
	defaultRatio   = 1.5
)

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("energy: session closed")

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine creates energy-threshold sessions. It is stateless.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a fresh session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	var errs []error
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate))
	}
	if cfg.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("energy threshold must be non-negative, got %g", cfg.EnergyThreshold))
	}
	if cfg.PauseThreshold <= 0 {
		errs = append(errs, fmt.Errorf("pause threshold must be positive, got %s", cfg.PauseThreshold))
	}
	if cfg.DynamicDamping < 0 || cfg.DynamicDamping >= 1 {
		errs = append(errs, fmt.Errorf("dynamic damping must be in [0, 1), got %g", cfg.DynamicDamping))
	}
	if cfg.DynamicRatio < 0 {
		errs = append(errs, fmt.Errorf("dynamic ratio must be non-negative, got %g", cfg.DynamicRatio))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("energy: invalid config: %w", err)
	}

	if cfg.DynamicDamping == 0 {
		cfg.DynamicDamping = defaultDamping
	}
	if cfg.DynamicRatio == 0 {
		cfg.DynamicRatio = defaultRatio
	}
	return &Session{
		cfg:       cfg,
		format:    audio.Format{SampleRate: cfg.SampleRate, Channels: 1},
		threshold: cfg.EnergyThreshold,
	}, nil
}

// Session is a single energy-threshold detector. It is safe for concurrent
// use, though frames from different goroutines would interleave.
type Session struct {
	cfg    vad.Config
	format audio.Format

	mu        sync.Mutex
	threshold float64
	speaking  bool
	silence   time.Duration
	closed    bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if len(frame)%2 != 0 {
		return vad.VADEvent{}, fmt.Errorf("energy: frame has odd length %d", len(frame))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, ErrSessionClosed
	}

	energy := audio.ComputeRMS(frame)
	ev := vad.VADEvent{Energy: energy, Threshold: s.threshold}
	loud := energy > s.threshold
	dur := audio.DurationOf(frame, s.format)

	switch {
	case !s.speaking && loud:
		s.speaking = true
		s.silence = 0
		ev.Type = vad.VADSpeechStart
	case !s.speaking:
		if s.cfg.DynamicEnergy {
			s.recalibrate(energy, dur)
		}
		ev.Type = vad.VADSilence
	case loud:
		s.silence = 0
		ev.Type = vad.VADSpeechContinue
	default:
		s.silence += dur
		if s.silence >= s.cfg.PauseThreshold {
			s.speaking = false
			s.silence = 0
			ev.Type = vad.VADSpeechEnd
		} else {
			ev.Type = vad.VADSpeechContinue
		}
	}
	return ev, nil
}

func (s *Session) recalibrate(energy float64, dur time.Duration) {
	damping := math.Pow(s.cfg.DynamicDamping, dur.Seconds())
	target := energy * s.cfg.DynamicRatio
	s.threshold = s.threshold*damping + target*(1-damping)
}

// Threshold returns the current energy threshold.
func (s *Session) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// Reset drops any utterance in progress. The calibrated threshold is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	s.silence = 0
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
