package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// ErrUnknownPayload is returned for a nil [Payload].
var ErrUnknownPayload = errors.New("audio: unknown payload")

// PCMToFloat32 converts 16-bit little-endian PCM to mono float32 samples in
// [-1, 1], averaging channels when channels > 1. A trailing partial frame is
// ignored.
func PCMToFloat32(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	n := len(pcm) / (2 * channels)
	out := make([]float32, n)
	for i := range n {
		var sum float32
		for ch := range channels {
			sum += float32(sampleAt(pcm, i*channels+ch)) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Float32ToPCM converts float samples to 16-bit little-endian PCM, clamping
// values outside [-1, 1].
func Float32ToPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSample(out, i, clamp16(int32(math.Round(float64(s)*32768))))
	}
	return out
}

// NewWaveform converts mono or stereo PCM in format f into a [Waveform].
func NewWaveform(pcm []byte, f Format) Waveform {
	return Waveform{Samples: PCMToFloat32(pcm, f.Channels), SampleRate: f.SampleRate}
}

// ComputeRMS returns the root-mean-square energy of 16-bit PCM in sample
// units (0 to 32767). Buffers shorter than one sample yield 0.
func ComputeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// DurationOf returns the play length of pcm in format f.
func DurationOf(pcm []byte, f Format) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(len(pcm)) * time.Second / time.Duration(bps)
}

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	buf := make([]byte, 44+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// ClipName returns the file name used for the clip of utterance seq.
func ClipName(seq uint64) string {
	return "temp" + strconv.FormatUint(seq, 10) + ".wav"
}

// WriteClip persists mono PCM in format f as a WAV file named after seq
// inside dir. The caller may drop pcm once WriteClip returns.
func WriteClip(dir string, seq uint64, pcm []byte, f Format) (ClipFile, error) {
	path := filepath.Join(dir, ClipName(seq))
	file, err := os.Create(path)
	if err != nil {
		return ClipFile{}, fmt.Errorf("audio: create clip: %w", err)
	}

	samples := PCMToFloat32(pcm, f.Channels)
	format := beep.Format{
		SampleRate:  beep.SampleRate(f.SampleRate),
		NumChannels: 1,
		Precision:   2,
	}
	err = wav.Encode(file, monoStreamer(samples), format)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return ClipFile{}, fmt.Errorf("audio: encode clip %s: %w", path, err)
	}
	return ClipFile{Path: path, SampleRate: f.SampleRate}, nil
}

// LoadWaveform returns the samples of p. A [ClipFile] is decoded from disk;
// the file is left in place.
func LoadWaveform(p Payload) (Waveform, error) {
	switch v := p.(type) {
	case Waveform:
		return v, nil
	case ClipFile:
		return decodeClip(v.Path)
	default:
		return Waveform{}, ErrUnknownPayload
	}
}

// PayloadWAV returns p as a complete WAV file, suitable for uploads.
func PayloadWAV(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case Waveform:
		return EncodeWAV(Float32ToPCM(v.Samples), v.SampleRate, 1), nil
	case ClipFile:
		data, err := os.ReadFile(v.Path)
		if err != nil {
			return nil, fmt.Errorf("audio: read clip: %w", err)
		}
		return data, nil
	default:
		return nil, ErrUnknownPayload
	}
}

// RemoveClip deletes the backing file of a [ClipFile]. It is a no-op for
// in-memory payloads and for files that are already gone.
func RemoveClip(p Payload) error {
	c, ok := p.(ClipFile)
	if !ok {
		return nil
	}
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("audio: remove clip: %w", err)
	}
	return nil
}

// ParseWAV walks the RIFF chunks of a WAV file and returns its 16-bit PCM
// data together with the format from the "fmt " chunk. Chunks other than
// "fmt " and "data" are skipped, so headers longer than 44 bytes are fine.
func ParseWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, errors.New("audio: not a RIFF/WAVE file")
	}

	var (
		f        Format
		bits     int
		foundFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]

		switch id {
		case "fmt ":
			if size < 16 || len(body) < 16 {
				return nil, Format{}, errors.New("audio: short fmt chunk")
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != 1 && tag != 0xFFFE {
				return nil, Format{}, fmt.Errorf("audio: unsupported WAV encoding %d", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return nil, Format{}, errors.New("audio: data chunk before fmt chunk")
			}
			if bits != 16 {
				return nil, Format{}, fmt.Errorf("audio: unsupported %d-bit WAV", bits)
			}
			// Streaming writers leave the size unset; take what is there.
			if size > len(body) || size == 0 {
				size = len(body)
			}
			return body[:size], f, nil
		}

		off += 8 + size
		if size%2 != 0 {
			off++
		}
	}
	return nil, Format{}, errors.New("audio: WAV has no data chunk")
}

func decodeClip(path string) (Waveform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("audio: open clip: %w", err)
	}
	pcm, f, err := ParseWAV(data)
	if err != nil {
		return Waveform{}, fmt.Errorf("audio: decode clip %s: %w", path, err)
	}
	return NewWaveform(pcm, f), nil
}

// monoStreamer plays samples on both beep channels.
func monoStreamer(samples []float32) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(buf [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}
		n := min(len(buf), len(samples)-pos)
		for i := range n {
			v := float64(samples[pos+i])
			buf[i] = [2]float64{v, v}
		}
		pos += n
		return n, true
	})
}
