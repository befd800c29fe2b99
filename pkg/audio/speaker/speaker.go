// Package speaker plays PCM on the default output device using beep's
// speaker (oto backend).
//
// The underlying device is process-global; create a single [Player].
package speaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"github.com/MrWong99/emmy/pkg/audio"
)

const (
	defaultDeviceRate = 16000
	defaultLatency    = 100 * time.Millisecond
	resampleQuality   = 4
)

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

// Option is a functional option for [New].
type Option func(*Player)

// WithDeviceRate sets the output device rate in Hz. Default: 16000.
func WithDeviceRate(rate int) Option {
	return func(p *Player) { p.deviceRate = beep.SampleRate(rate) }
}

// WithLatency sets the device buffer length. Default: 100 ms.
func WithLatency(d time.Duration) Option {
	return func(p *Player) { p.latency = d }
}

// Player is an [audio.Player] backed by the default output device. The device
// is opened lazily on the first Play.
type Player struct {
	deviceRate beep.SampleRate
	latency    time.Duration

	initOnce sync.Once
	initErr  error
}

// New returns a Player. No device is opened until the first Play.
func New(opts ...Option) *Player {
	p := &Player{deviceRate: defaultDeviceRate, latency: defaultLatency}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Player) init() error {
	p.initOnce.Do(func() {
		p.initErr = speaker.Init(p.deviceRate, p.deviceRate.N(p.latency))
		if p.initErr == nil {
			slog.Info("speaker opened", "sample_rate", int(p.deviceRate), "latency", p.latency)
		}
	})
	if p.initErr != nil {
		return fmt.Errorf("speaker: init: %w", p.initErr)
	}
	return nil
}

// Play streams pcm to the device as it arrives and returns once the last
// sample has been played. On ctx cancellation playback is cleared.
func (p *Player) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	if err := p.init(); err != nil {
		go audio.Drain(pcm)
		return err
	}

	q := &pcmQueue{channels: format.Channels}
	var s beep.Streamer = q
	if src := beep.SampleRate(format.SampleRate); src != p.deviceRate {
		s = beep.Resample(resampleQuality, src, p.deviceRate, s)
	}
	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))

	for {
		select {
		case chunk, ok := <-pcm:
			if !ok {
				q.close()
				select {
				case <-done:
					return nil
				case <-ctx.Done():
					speaker.Clear()
					return ctx.Err()
				}
			}
			q.push(chunk)
		case <-ctx.Done():
			speaker.Clear()
			go audio.Drain(pcm)
			return ctx.Err()
		}
	}
}

// Close releases the output device.
func (p *Player) Close() error {
	if p.initErr == nil {
		speaker.Close()
	}
	return nil
}

// pcmQueue is a beep.Streamer fed from a channel of PCM chunks. While empty
// and still open it plays silence so the speaker keeps pulling.
type pcmQueue struct {
	channels int

	mu      sync.Mutex
	samples []float64
	closed  bool
}

func (q *pcmQueue) push(chunk []byte) {
	if q.channels == 2 {
		chunk = audio.StereoToMono(chunk)
	}
	f := audio.PCMToFloat32(chunk, 1)
	q.mu.Lock()
	for _, v := range f {
		q.samples = append(q.samples, float64(v))
	}
	q.mu.Unlock()
}

func (q *pcmQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Stream implements beep.Streamer.
func (q *pcmQueue) Stream(buf [][2]float64) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(len(buf), len(q.samples))
	for i := range n {
		buf[i] = [2]float64{q.samples[i], q.samples[i]}
	}
	q.samples = q.samples[n:]
	if q.closed {
		return n, n > 0
	}
	for i := n; i < len(buf); i++ {
		buf[i] = [2]float64{}
	}
	return len(buf), true
}

// Err implements beep.Streamer.
func (q *pcmQueue) Err() error { return nil }
