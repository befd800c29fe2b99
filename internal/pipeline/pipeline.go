// Package pipeline runs the Emmy voice loop.
//
// Three goroutines cooperate through two unbounded FIFO queues:
//
//	capture ──Utterance──▶ transcribe ──Message──▶ present
//
// The capture stage segments microphone audio into utterances and never
// waits for downstream work. The transcription stage handles one utterance
// at a time: speech-to-text, then (unless verbose) completion and synthesis,
// with playback awaited so replies never overlap. The presentation stage
// prints every result line in order.
//
// Failures are contained per utterance and surface as error messages on the
// result queue. Only a failing acoustic source stops a stage, and even then
// the utterances already queued are processed before [Pipeline.Run] returns.
package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/emmy/internal/health"
	"github.com/MrWong99/emmy/internal/observe"
	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/llm"
	"github.com/MrWong99/emmy/pkg/provider/stt"
	"github.com/MrWong99/emmy/pkg/provider/tts"
	"github.com/MrWong99/emmy/pkg/provider/vad"
)

// Queue names used as metric labels.
const (
	utteranceQueueName = "utterance"
	resultQueueName    = "result"
)

// Config is the immutable configuration of a [Pipeline]. It is copied by
// [New]; later changes to the caller's value have no effect.
type Config struct {
	// Format is the PCM format utterances are captured in. Source frames
	// are converted to it. Zero selects 16 kHz mono.
	Format audio.Format

	// VAD configures the voice activity session. Its SampleRate is
	// overwritten with Format.SampleRate.
	VAD vad.Config

	// PhraseThreshold is the minimum amount of speech, trailing pause
	// excluded, for an utterance to be kept. Zero keeps everything.
	PhraseThreshold time.Duration

	// NonSpeakingDuration is how much audio before the speech onset is
	// prepended to an utterance.
	NonSpeakingDuration time.Duration

	// MaxPhraseDuration forces an utterance to end after this much audio.
	// Zero means unlimited.
	MaxPhraseDuration time.Duration

	// SaveFile persists each utterance as a WAV clip in TempDir and hands
	// the transcription stage the path instead of the samples.
	SaveFile bool
	TempDir  string

	// English forces English recognition instead of language detection.
	English bool

	// Verbose prints the raw transcription result and skips completion and
	// synthesis.
	Verbose bool

	Assistant Assistant

	// Voice selects the synthesis voice, pitch, and rate.
	Voice tts.VoiceProfile

	// OutputFormat is the PCM format of synthesised audio. Zero selects
	// 16 kHz mono.
	OutputFormat audio.Format

	// UtteranceTimeout bounds the processing of a single utterance. Zero
	// means no limit.
	UtteranceTimeout time.Duration
}

// Assistant holds the prompt and the fixed generation parameters.
type Assistant struct {
	Prompt        string
	Username      string
	StartSequence string
	StopSequence  string

	Temperature      float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxTokens        int
}

// Collaborators are the external services the pipeline drives. The pipeline
// does not close any of them.
type Collaborators struct {
	Source audio.Source
	VAD    vad.Engine
	STT    stt.Provider

	// LLM, TTS and Player may be nil in verbose mode.
	LLM    llm.Provider
	TTS    tts.Provider
	Player audio.Player

	// Names label provider metrics and spans.
	Names ProviderNames
}

// ProviderNames are the configured names of the collaborators.
type ProviderNames struct {
	STT string
	LLM string
	TTS string
}

// Corrector rewrites a transcript before it is shown and completed.
type Corrector interface {
	Correct(text string) string
}

// Pipeline connects the capture, transcription, and presentation stages.
// A Pipeline runs once.
type Pipeline struct {
	cfg     Config
	c       Collaborators
	out     io.Writer
	metrics *observe.Metrics
	capture *health.Flag
	correct Corrector

	utterances *Queue[audio.Utterance]
	results    *Queue[Message]

	// seq is the index of the next utterance. Owned by the capture stage.
	seq uint64
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithOutput sets where result lines are written. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.out = w }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithCaptureFlag sets a flag that is raised while the capture stage is
// reading from its source.
func WithCaptureFlag(f *health.Flag) Option {
	return func(p *Pipeline) { p.capture = f }
}

// WithCorrector sets a transcript corrector. It is not applied to raw results
// in verbose mode.
func WithCorrector(c Corrector) Option {
	return func(p *Pipeline) { p.correct = c }
}

// New validates the collaborators and returns a pipeline ready to [Pipeline.Run].
func New(cfg Config, c Collaborators, opts ...Option) (*Pipeline, error) {
	var errs []error
	if c.Source == nil {
		errs = append(errs, errors.New("pipeline: audio source is required"))
	}
	if c.VAD == nil {
		errs = append(errs, errors.New("pipeline: vad engine is required"))
	}
	if c.STT == nil {
		errs = append(errs, errors.New("pipeline: stt provider is required"))
	}
	if !cfg.Verbose {
		if c.LLM == nil {
			errs = append(errs, errors.New("pipeline: llm provider is required unless verbose"))
		}
		if c.TTS == nil {
			errs = append(errs, errors.New("pipeline: tts provider is required unless verbose"))
		}
		if c.Player == nil {
			errs = append(errs, errors.New("pipeline: audio player is required unless verbose"))
		}
	}
	if cfg.SaveFile && cfg.TempDir == "" {
		errs = append(errs, errors.New("pipeline: save_file requires a temp dir"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.Format{SampleRate: 16000, Channels: 1}
	}
	if cfg.OutputFormat == (audio.Format{}) {
		cfg.OutputFormat = audio.Format{SampleRate: 16000, Channels: 1}
	}
	cfg.VAD.SampleRate = cfg.Format.SampleRate

	p := &Pipeline{
		cfg: cfg,
		c:   c,
		out: os.Stdout,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.capture == nil {
		p.capture = &health.Flag{}
	}
	p.utterances = NewQueue[audio.Utterance](utteranceQueueName, p.metrics)
	p.results = NewQueue[Message](resultQueueName, p.metrics)
	return p, nil
}

// Run starts the three stages and blocks until all of them have finished.
//
// Cancelling ctx stops capture and dequeuing; the utterance being processed
// is completed first and its messages are still printed. Run returns the
// capture stage's [ErrDevice] error, if any, once the queued work is done.
// An exhausted source (io.EOF) ends the loop without error.
func (p *Pipeline) Run(ctx context.Context) error {
	// Stage failures must not cancel the other stages, so the group carries
	// no derived context.
	var g errgroup.Group
	g.Go(func() error { return p.runCapture(ctx) })
	g.Go(func() error { return p.runTranscribe(ctx) })
	g.Go(func() error { return p.present(ctx) })
	return g.Wait()
}
