package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// present writes every message of the result queue to out, one line each,
// in arrival order. It returns once the queue has been closed and drained.
// Termination is driven by the transcription stage closing the queue, so
// messages produced while shutting down are still shown.
func (p *Pipeline) present(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	for {
		msg, err := p.results.Pop(ctx)
		if err != nil {
			return nil
		}
		if _, err := fmt.Fprintln(p.out, msg.String()); err != nil {
			slog.Warn("pipeline: write result", "stage", "present", "err", err)
		}
	}
}
