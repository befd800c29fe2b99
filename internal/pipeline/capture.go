package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/vad"
)

// runCapture reads the source until ctx is done, the source is exhausted, or
// the device fails. Every completed utterance is pushed onto the utterance
// queue, which is closed on return.
func (p *Pipeline) runCapture(ctx context.Context) error {
	defer p.utterances.Close()
	log := slog.With("stage", "capture")

	sess, err := p.c.VAD.NewSession(p.cfg.VAD)
	if err != nil {
		p.capture.Clear("vad session failed")
		return fmt.Errorf("pipeline: capture: new vad session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("close vad session", "err", err)
		}
	}()

	conv := &audio.FormatConverter{Target: p.cfg.Format}
	seg := newSegmenter(p.cfg)

	p.capture.Set()
	log.Info("Emmy is listening!", "format", p.cfg.Format.String(),
		"energy_threshold", p.cfg.VAD.EnergyThreshold,
		"dynamic_energy", p.cfg.VAD.DynamicEnergy,
		"pause_threshold", p.cfg.VAD.PauseThreshold,
	)

	for {
		frame, err := p.c.Source.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				p.capture.Clear("capture stopped")
				return nil
			case errors.Is(err, io.EOF):
				p.capture.Clear("source exhausted")
				if pcm, ok := seg.flush(); ok {
					p.emit(ctx, pcm)
				}
				log.Info("audio source exhausted")
				return nil
			default:
				p.capture.Clear("device failed")
				derr := fmt.Errorf("%w: %w", ErrDevice, err)
				log.Error("capture stopped", "err", err)
				p.metrics.RecordStageError(ctx, errorClass(derr))
				_ = p.results.Push(errorMessage(p.seq, derr))
				return derr
			}
		}

		frame = conv.Convert(frame)
		if len(frame.Data) == 0 {
			continue
		}
		ev, err := sess.ProcessFrame(frame.Data)
		if err != nil {
			log.Warn("vad: dropping frame", "err", err)
			continue
		}

		pcm, done, forced := seg.feed(ev.Type, frame.Data)
		if forced {
			// A forced cut leaves the session mid-utterance.
			sess.Reset()
		}
		if !done {
			continue
		}
		if pcm == nil {
			p.metrics.PhrasesDiscarded.Add(ctx, 1)
			log.Debug("phrase too short, discarded")
			continue
		}
		p.emit(ctx, pcm)
	}
}

// emit wraps pcm into the next utterance and queues it. In file mode the
// clip is written first; if that fails the utterance keeps its samples in
// memory so it is not lost.
func (p *Pipeline) emit(ctx context.Context, pcm []byte) {
	seq := p.seq
	p.seq++

	u := audio.Utterance{
		Seq:        seq,
		ID:         uuid.New(),
		CapturedAt: time.Now(),
		Duration:   audio.DurationOf(pcm, p.cfg.Format),
	}
	if p.cfg.SaveFile {
		clip, err := audio.WriteClip(p.cfg.TempDir, seq, pcm, p.cfg.Format)
		if err != nil {
			perr := fmt.Errorf("%w: %w", ErrPersistence, err)
			slog.Warn("keeping utterance in memory", "stage", "capture", "seq", seq, "err", err)
			p.metrics.RecordStageError(ctx, errorClass(perr))
			_ = p.results.Push(errorMessage(seq, perr))
			u.Payload = audio.NewWaveform(pcm, p.cfg.Format)
		} else {
			u.Payload = clip
		}
	} else {
		u.Payload = audio.NewWaveform(pcm, p.cfg.Format)
	}

	if err := p.utterances.Push(u); err != nil {
		// Only happens after the queue was closed, which capture itself does
		// on return.
		slog.Error("utterance dropped", "stage", "capture", "seq", seq, "err", err)
		_ = audio.RemoveClip(u.Payload)
		return
	}
	p.metrics.UtterancesCaptured.Add(ctx, 1)
	slog.Debug("utterance captured", "stage", "capture", "seq", seq, "id", u.ID, "duration", u.Duration)
}

// ─── Segmentation ───────────────────────────────────────────────────────────

// segmenter turns a stream of VAD-classified frames into utterance buffers.
// It keeps a pre-roll of recent silence so the speech onset is not clipped.
type segmenter struct {
	preroll      [][]byte
	prerollBytes int
	prerollMax   int

	buf    []byte
	start  int // offset of the first speech byte in buf
	active bool

	phraseMin   int // minimum speech bytes, trailing pause excluded
	pauseBytes  int
	maxSpeech   int // 0 = unlimited
	bytesPerSec int
}

func newSegmenter(cfg Config) *segmenter {
	bps := cfg.Format.BytesPerSecond()
	return &segmenter{
		prerollMax:  bytesFor(cfg.NonSpeakingDuration, bps),
		phraseMin:   bytesFor(cfg.PhraseThreshold, bps),
		pauseBytes:  bytesFor(cfg.VAD.PauseThreshold, bps),
		maxSpeech:   bytesFor(cfg.MaxPhraseDuration, bps),
		bytesPerSec: bps,
	}
}

// bytesFor converts d into a whole number of 16-bit samples' worth of bytes.
func bytesFor(d time.Duration, bytesPerSec int) int {
	n := int(d.Seconds() * float64(bytesPerSec))
	return n &^ 1
}

// feed consumes one frame. done reports that an utterance ended with this
// frame; pcm is then its audio, or nil when it was too short to keep. forced
// reports that the end was caused by the maximum phrase duration.
func (s *segmenter) feed(ev vad.VADEventType, frame []byte) (pcm []byte, done, forced bool) {
	switch ev {
	case vad.VADSpeechStart:
		s.begin(frame)
	case vad.VADSpeechContinue:
		if !s.active {
			s.begin(frame)
		} else {
			s.buf = append(s.buf, frame...)
		}
	case vad.VADSpeechEnd:
		if !s.active {
			s.remember(frame)
			return nil, false, false
		}
		s.buf = append(s.buf, frame...)
		return s.finish(s.pauseBytes), true, false
	default:
		if s.active {
			// Silence without an end event: the engine lost the utterance.
			return s.finish(0), true, false
		}
		s.remember(frame)
		return nil, false, false
	}

	if s.maxSpeech > 0 && len(s.buf)-s.start >= s.maxSpeech {
		return s.finish(0), true, true
	}
	return nil, false, false
}

// flush ends an utterance that is still open, e.g. at end of input.
func (s *segmenter) flush() ([]byte, bool) {
	if !s.active {
		return nil, false
	}
	pcm := s.finish(0)
	return pcm, pcm != nil
}

func (s *segmenter) begin(frame []byte) {
	s.active = true
	s.buf = make([]byte, 0, s.prerollBytes+len(frame)+s.bytesPerSec)
	for _, f := range s.preroll {
		s.buf = append(s.buf, f...)
	}
	s.start = len(s.buf)
	s.buf = append(s.buf, frame...)
	s.preroll, s.prerollBytes = nil, 0
}

// finish closes the utterance. trailing is the amount of pause audio at the
// end of buf that does not count as speech.
func (s *segmenter) finish(trailing int) []byte {
	pcm := s.buf
	speech := len(pcm) - s.start - trailing
	s.buf, s.start, s.active = nil, 0, false
	if s.phraseMin > 0 && speech < s.phraseMin {
		return nil
	}
	return pcm
}

// remember adds a silent frame to the pre-roll, dropping the oldest frames
// beyond the configured length.
func (s *segmenter) remember(frame []byte) {
	if s.prerollMax <= 0 {
		return
	}
	s.preroll = append(s.preroll, append([]byte(nil), frame...))
	s.prerollBytes += len(frame)
	for s.prerollBytes > s.prerollMax && len(s.preroll) > 1 {
		s.prerollBytes -= len(s.preroll[0])
		s.preroll[0] = nil
		s.preroll = s.preroll[1:]
	}
}
