package audio

import "context"

// Drain reads from ch until it is closed, discarding all values. Use it when
// a producer must be allowed to finish (e.g. a synthesis stream whose
// playback was abandoned) so its goroutine does not leak.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// Discard is a [Player] without a device. Play consumes the audio as fast as
// it arrives; it is used when the host has no speaker.
type Discard struct{}

var _ Player = Discard{}

// Play implements [Player].
func (Discard) Play(ctx context.Context, pcm <-chan []byte, _ Format) error {
	for {
		select {
		case _, ok := <-pcm:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			go Drain(pcm)
			return ctx.Err()
		}
	}
}
