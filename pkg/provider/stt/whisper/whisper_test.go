package whisper_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/stt"
	"github.com/MrWong99/emmy/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceRequest captures the multipart fields of one POST /inference.
type inferenceRequest struct {
	Fields   map[string]string
	FileSize int
}

// newMockServer creates a test server that answers POST /inference with body
// and records every request it sees.
func newMockServer(t *testing.T, status int, body string) (*httptest.Server, func() []inferenceRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []inferenceRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec := inferenceRequest{Fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			rec.Fields[k] = v[0]
		}
		if f, _, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(f)
			rec.FileSize = len(data)
			f.Close()
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []inferenceRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]inferenceRequest(nil), reqs...)
	}
}

func mustNew(t *testing.T, url string, opts ...whisper.Option) *whisper.Provider {
	t.Helper()
	p, err := whisper.New(url, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_Waveform_VerboseJSON(t *testing.T) {
	t.Parallel()

	const body = `{"task":"transcribe","language":"english","duration":1.5,
		"text":" turn on the lights",
		"segments":[{"id":0,"text":" turn on the lights","start":0.0,"end":1.5}]}`
	srv, requests := newMockServer(t, http.StatusOK, body)
	p := mustNew(t, srv.URL+"/", whisper.WithModel("base.en"))

	wf := audio.Waveform{Samples: make([]float32, 1600), SampleRate: 16000}
	res, err := p.Transcribe(context.Background(), wf, stt.Options{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "turn on the lights" {
		t.Errorf("Text = %q, want %q", res.Text, "turn on the lights")
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want forced en", res.Language)
	}
	if res.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", res.Duration)
	}
	if len(res.Segments) != 1 || res.Segments[0].End != 1500*time.Millisecond {
		t.Errorf("Segments = %+v", res.Segments)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	got := reqs[0]
	if got.Fields["language"] != "en" || got.Fields["model"] != "base.en" || got.Fields["response_format"] != "verbose_json" {
		t.Errorf("fields = %v", got.Fields)
	}
	if got.FileSize != 44+1600*2 {
		t.Errorf("uploaded %d bytes, want %d", got.FileSize, 44+1600*2)
	}
}

func TestTranscribe_NoLanguageHint_AutoDetects(t *testing.T) {
	t.Parallel()

	srv, requests := newMockServer(t, http.StatusOK, `{"text":"hallo","detected_language":"de"}`)
	p := mustNew(t, srv.URL)

	res, err := p.Transcribe(context.Background(), audio.Waveform{SampleRate: 16000}, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Language != "de" {
		t.Errorf("Language = %q, want detected de", res.Language)
	}
	if lang := requests()[0].Fields["language"]; lang != "auto" {
		t.Errorf("language field = %q, want auto", lang)
	}
	if _, ok := requests()[0].Fields["model"]; ok {
		t.Error("model field sent although no model was configured")
	}
}

func TestTranscribe_ClipFile_UploadedAsIs(t *testing.T) {
	t.Parallel()

	clip, err := audio.WriteClip(t.TempDir(), 3, make([]byte, 640), audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("WriteClip: %v", err)
	}
	srv, requests := newMockServer(t, http.StatusOK, `{"text":"ok"}`)
	p := mustNew(t, srv.URL)

	if _, err := p.Transcribe(context.Background(), clip, stt.Options{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if requests()[0].FileSize == 0 {
		t.Error("clip was not uploaded")
	}
	if _, err := audio.LoadWaveform(clip); err != nil {
		t.Errorf("clip must be left in place: %v", err)
	}
}

func TestTranscribe_SegmentsOnly(t *testing.T) {
	t.Parallel()

	srv, _ := newMockServer(t, http.StatusOK, `{"segments":[{"text":" a "},{"text":"b"}]}`)
	res, err := mustNew(t, srv.URL).Transcribe(context.Background(), audio.Waveform{SampleRate: 16000}, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "a b" {
		t.Errorf("Text = %q, want %q", res.Text, "a b")
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		payload audio.Payload
	}{
		{"server error", http.StatusInternalServerError, "boom", audio.Waveform{SampleRate: 16000}},
		{"error field", http.StatusOK, `{"error":"failed to read WAV file"}`, audio.Waveform{SampleRate: 16000}},
		{"malformed json", http.StatusOK, `{not json`, audio.Waveform{SampleRate: 16000}},
		{"missing clip", http.StatusOK, `{"text":"x"}`, audio.ClipFile{Path: filepath.Join(t.TempDir(), "gone.wav")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newMockServer(t, tc.status, tc.body)
			if _, err := mustNew(t, srv.URL).Transcribe(context.Background(), tc.payload, stt.Options{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()

	srv, _ := newMockServer(t, http.StatusOK, `{"text":"x"}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mustNew(t, srv.URL).Transcribe(ctx, audio.Waveform{SampleRate: 16000}, stt.Options{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
