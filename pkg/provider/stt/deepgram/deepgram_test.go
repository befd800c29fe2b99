package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/stt"
)

// ---- helpers ----

// session records what the fake listen endpoint received.
type session struct {
	mu          sync.Mutex
	auth        string
	query       url.Values
	audioBytes  int
	closeStream bool
}

// newListenServer accepts one WebSocket per call, reads audio until
// CloseStream, answers with replies and then closes with status.
func newListenServer(t *testing.T, replies []string, status websocket.StatusCode) (*Provider, *session) {
	t.Helper()
	rec := &session{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.auth = r.Header.Get("Authorization")
		rec.query = r.URL.Query()
		rec.mu.Unlock()

		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(msg), "CloseStream") {
				rec.mu.Lock()
				rec.closeStream = true
				rec.mu.Unlock()
				break
			}
			rec.mu.Lock()
			rec.audioBytes += len(msg)
			rec.mu.Unlock()
		}
		for _, reply := range replies {
			if err := c.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
				return
			}
		}
		_ = c.Close(status, "")
	}))
	t.Cleanup(srv.Close)

	p, err := New("dg-key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/listen"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, rec
}

// ---- construction ----

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithModel("base"))
	raw, err := p.buildURL("de", 16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	want := map[string]string{
		"model": "base", "language": "de", "encoding": "linear16",
		"sample_rate": "16000", "channels": "1", "punctuate": "true",
	}
	for k, v := range want {
		if got := u.Query().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if u.Host != "api.deepgram.com" {
		t.Errorf("host = %q", u.Host)
	}
}

// ---- transcription ----

func TestTranscribe_JoinsFinalResults(t *testing.T) {
	t.Parallel()
	replies := []string{
		`{"type":"Results","is_final":false,"start":0,"duration":0.5,"channel":{"alternatives":[{"transcript":"what"}]}}`,
		`{"type":"Results","is_final":true,"start":0,"duration":0.8,"channel":{"alternatives":[{"transcript":"What time"}]}}`,
		`{"type":"Results","is_final":true,"start":0.8,"duration":0.7,"channel":{"alternatives":[{"transcript":" is it? "}]}}`,
		`{"type":"Results","is_final":true,"start":1.5,"duration":0.2,"channel":{"alternatives":[{"transcript":""}]}}`,
		`{"type":"Metadata","duration":1.7}`,
	}
	p, rec := newListenServer(t, replies, websocket.StatusNormalClosure)

	wf := audio.Waveform{Samples: make([]float32, 16000), SampleRate: 16000}
	res, err := p.Transcribe(context.Background(), wf, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "What time is it?" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want provider default en", res.Language)
	}
	if res.Duration != 1700*time.Millisecond {
		t.Errorf("Duration = %v, want 1.7s", res.Duration)
	}
	if len(res.Segments) != 2 || res.Segments[1].End != 1500*time.Millisecond {
		t.Errorf("Segments = %+v", res.Segments)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.auth != "Token dg-key" {
		t.Errorf("Authorization = %q", rec.auth)
	}
	if rec.audioBytes != 32000 || !rec.closeStream {
		t.Errorf("server got %d audio bytes, CloseStream=%v", rec.audioBytes, rec.closeStream)
	}
}

func TestTranscribe_ForcedLanguage(t *testing.T) {
	t.Parallel()
	p, rec := newListenServer(t, nil, websocket.StatusNormalClosure)

	res, err := p.Transcribe(context.Background(), audio.Waveform{Samples: make([]float32, 160), SampleRate: 8000}, stt.Options{Language: "fr"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" || res.Language != "fr" {
		t.Errorf("res = %+v", res)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.query.Get("language") != "fr" || rec.query.Get("sample_rate") != "8000" {
		t.Errorf("query = %v", rec.query)
	}
}

func TestTranscribe_AbnormalClose(t *testing.T) {
	t.Parallel()
	p, _ := newListenServer(t, nil, websocket.StatusPolicyViolation)
	if _, err := p.Transcribe(context.Background(), audio.Waveform{Samples: make([]float32, 160), SampleRate: 16000}, stt.Options{}); err == nil {
		t.Fatal("expected error for abnormal close")
	}
}

func TestTranscribe_DialFailure(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithEndpoint("ws://127.0.0.1:1/v1/listen"))
	if _, err := p.Transcribe(context.Background(), audio.Waveform{SampleRate: 16000}, stt.Options{}); err == nil {
		t.Fatal("expected dial error")
	}
}
