package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/emmy/internal/observe"
	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/llm"
	"github.com/MrWong99/emmy/pkg/provider/stt"
	"github.com/MrWong99/emmy/pkg/provider/tts"
)

// runTranscribe processes utterances one at a time until the utterance queue
// is closed and drained or ctx is done. It closes the result queue on return.
func (p *Pipeline) runTranscribe(ctx context.Context) error {
	defer p.results.Close()
	for {
		if ctx.Err() != nil {
			p.discardQueued()
			return nil
		}
		u, err := p.utterances.Pop(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) {
				p.discardQueued()
			}
			return nil
		}
		p.process(ctx, u)
	}
}

// discardQueued drops utterances left behind at shutdown, removing their
// clips.
func (p *Pipeline) discardQueued() {
	for p.utterances.Len() > 0 {
		u, err := p.utterances.Pop(context.Background())
		if err != nil {
			return
		}
		_ = audio.RemoveClip(u.Payload)
		slog.Debug("utterance discarded at shutdown", "stage", "transcribe", "seq", u.Seq)
	}
}

// process runs one utterance through inference, completion, and synthesis.
// It ignores cancellation of ctx so that an utterance is never abandoned
// half way; UtteranceTimeout bounds it instead.
func (p *Pipeline) process(parent context.Context, u audio.Utterance) {
	ctx := context.WithoutCancel(parent)
	if p.cfg.UtteranceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.UtteranceTimeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.utterance", trace.WithAttributes(
		attribute.Int64("utterance.seq", int64(u.Seq)),
		attribute.String("utterance.id", u.ID.String()),
		attribute.Float64("utterance.audio_seconds", u.Duration.Seconds()),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		p.metrics.UtteranceDuration.Record(ctx, time.Since(start).Seconds())
	}()
	log := observe.Logger(ctx).With("stage", "transcribe", "seq", u.Seq, "utterance_id", u.ID.String())

	res, err := p.recognise(ctx, u.Payload)
	if rerr := audio.RemoveClip(u.Payload); rerr != nil {
		p.fail(ctx, span, u.Seq, fmt.Errorf("%w: %w", ErrPersistence, rerr))
	}
	if err != nil {
		p.fail(ctx, span, u.Seq, fmt.Errorf("%w: %w", ErrInference, err))
		return
	}
	log.Debug("transcribed", "language", res.Language, "chars", len(res.Text))

	if p.cfg.Verbose {
		p.publish(rawMessage(u.Seq, res))
		return
	}

	transcript := res.Text
	if p.correct != nil {
		transcript = p.correct.Correct(transcript)
	}
	p.publish(heardMessage(u.Seq, transcript))
	if strings.TrimSpace(transcript) == "" {
		log.Debug("blank transcript, not asking for a reply")
		return
	}

	reply, err := p.complete(ctx, log, transcript)
	if err != nil {
		p.fail(ctx, span, u.Seq, fmt.Errorf("%w: %w", ErrCompletion, err))
		return
	}
	p.publish(replyMessage(u.Seq, reply))
	if strings.TrimSpace(reply) == "" {
		log.Debug("empty reply, nothing to say")
		return
	}

	if err := p.speak(ctx, reply); err != nil {
		p.fail(ctx, span, u.Seq, fmt.Errorf("%w: %w", ErrSynthesis, err))
		return
	}
	log.Info("Emmy is listening!")
}

// recognise runs speech-to-text on the payload.
func (p *Pipeline) recognise(ctx context.Context, payload audio.Payload) (*stt.Result, error) {
	ctx, span := observe.StartSpan(ctx, "stt.transcribe",
		trace.WithAttributes(attribute.String("provider", p.c.Names.STT)))
	defer span.End()

	opts := stt.Options{}
	if p.cfg.English {
		opts.Language = "en"
	}

	start := time.Now()
	res, err := p.c.STT.Transcribe(ctx, payload, opts)
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", p.c.Names.STT)))
	p.recordRequest(ctx, p.c.Names.STT, "stt", err)
	if err != nil {
		observe.FailSpan(span, err)
		return nil, err
	}
	if res == nil {
		res = &stt.Result{Language: opts.Language}
	}
	return res, nil
}

// complete asks the completion service for a reply to transcript and
// returns it trimmed at the stop sequence.
func (p *Pipeline) complete(ctx context.Context, log *slog.Logger, transcript string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(attribute.String("provider", p.c.Names.LLM)))
	defer span.End()

	a := p.cfg.Assistant
	req := llm.CompletionRequest{
		Prompt:           BuildPrompt(a, transcript),
		Temperature:      a.Temperature,
		FrequencyPenalty: a.FrequencyPenalty,
		PresencePenalty:  a.PresencePenalty,
		MaxTokens:        a.MaxTokens,
	}

	start := time.Now()
	resp, err := p.c.LLM.Complete(ctx, req)
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", p.c.Names.LLM)))
	p.recordRequest(ctx, p.c.Names.LLM, "llm", err)
	if err != nil {
		observe.FailSpan(span, err)
		return "", err
	}

	u := resp.Usage
	log.Info("completion usage",
		"prompt_tokens", u.PromptTokens,
		"completion_tokens", u.CompletionTokens,
		"billed_tokens", u.TotalTokens,
		"finish_reason", resp.FinishReason,
	)
	p.metrics.RecordTokens(ctx, u.PromptTokens, u.CompletionTokens)
	span.SetAttributes(attribute.Int("llm.total_tokens", u.TotalTokens))

	return TrimReply(resp.Text, a.StopSequence), nil
}

// speak synthesises reply and blocks until it has been played. A stream that
// yields no audio at all counts as a failure.
func (p *Pipeline) speak(ctx context.Context, reply string) error {
	ctx, span := observe.StartSpan(ctx, "tts.speak", trace.WithAttributes(
		attribute.String("provider", p.c.Names.TTS),
		attribute.String("voice", p.cfg.Voice.ID),
	))
	defer span.End()

	start := time.Now()
	err := p.synthesizeAndPlay(ctx, reply)
	p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", p.c.Names.TTS)))
	p.recordRequest(ctx, p.c.Names.TTS, "tts", err)
	if err != nil {
		observe.FailSpan(span, err)
	}
	return err
}

func (p *Pipeline) synthesizeAndPlay(ctx context.Context, reply string) error {
	stream, err := tts.SynthesizeText(ctx, p.c.TTS, reply, p.cfg.Voice)
	if err != nil {
		return err
	}

	// Count what reaches the player; the counter is read only after the
	// forwarding goroutine has closed played.
	var n int
	played := make(chan []byte)
	go func() {
		defer close(played)
		for chunk := range stream {
			n += len(chunk)
			played <- chunk
		}
	}()

	err = p.c.Player.Play(ctx, played, p.cfg.OutputFormat)
	audio.Drain(played)
	if err != nil {
		return fmt.Errorf("play: %w", err)
	}
	if n == 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.New("synthesis returned no audio")
	}
	return nil
}

// fail reports a per-utterance failure on the result queue.
func (p *Pipeline) fail(ctx context.Context, span trace.Span, seq uint64, err error) {
	observe.Logger(ctx).Warn("utterance step failed", "stage", "transcribe", "seq", seq, "class", errorClass(err), "err", err)
	p.metrics.RecordStageError(ctx, errorClass(err))
	observe.FailSpan(span, err)
	p.publish(errorMessage(seq, err))
}

// publish pushes msg onto the result queue. The result queue is closed only
// by the transcription stage itself, so a failed push cannot happen while
// processing.
func (p *Pipeline) publish(msg Message) {
	if err := p.results.Push(msg); err != nil {
		slog.Error("result dropped", "stage", "transcribe", "seq", msg.Seq, "err", err)
	}
}

func (p *Pipeline) recordRequest(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RecordProviderError(ctx, provider, kind)
	}
	p.metrics.RecordProviderRequest(ctx, provider, kind, status)
}
