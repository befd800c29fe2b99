// Package audio defines the audio types, codec helpers, and device
// abstractions of the Emmy voice loop.
//
// The two device abstractions are:
//
//   - [Source] — a microphone-like input yielding raw PCM [AudioFrame]s.
//   - [Player] — an output device that plays PCM synchronously.
//
// Implementations live in sub-packages (audio/mic, audio/pcmstream,
// audio/speaker). An [Utterance] is what the capture stage makes of a run of
// frames; its [Payload] is either a [Waveform] or a [ClipFile].
package audio

import "context"

// Source yields raw PCM frames from a single capture device.
//
// Read blocks until the next frame is available. It returns ctx.Err() when
// ctx is cancelled and io.EOF when the source is exhausted; any other error
// means the device has failed and no further frames will arrive.
//
// Implementations need not be safe for concurrent Read calls; the capture
// stage is the only reader.
type Source interface {
	Read(ctx context.Context) (AudioFrame, error)

	// Format reports the native format of the frames returned by Read.
	Format() Format

	Close() error
}

// Player plays PCM on an output device.
//
// Play consumes pcm until it is closed and returns once the last sample has
// been played, or ctx is done (in which case pending audio is discarded and
// ctx.Err() is returned). Callers must not start another Play before the
// previous one returned.
type Player interface {
	Play(ctx context.Context, pcm <-chan []byte, format Format) error
}
