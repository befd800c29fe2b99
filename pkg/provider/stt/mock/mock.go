// Package mock provides a test double for the stt.Provider interface.
//
// Results are served from a script: the n-th Transcribe call returns
// Results[n] / Errors[n] when present, falling back to Result / Err.
//
// Example:
//
//	p := &mock.Provider{
//	    Results: []*stt.Result{{Text: "hello"}, nil},
//	    Errors:  []error{nil, errors.New("model crashed")},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Payload is the audio passed to Transcribe.
	Payload audio.Payload
	// Opts is the Options passed to Transcribe.
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results scripts per-call results by call index.
	Results []*stt.Result

	// Errors scripts per-call errors by call index.
	Errors []error

	// Result is returned once Results is exhausted. A nil Result yields an
	// empty transcript.
	Result *stt.Result

	// Err is returned once Errors is exhausted.
	Err error

	// OnTranscribe, if set, is called with the payload before returning.
	OnTranscribe func(audio.Payload)

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the scripted result.
func (p *Provider) Transcribe(_ context.Context, payload audio.Payload, opts stt.Options) (*stt.Result, error) {
	p.mu.Lock()
	idx := len(p.TranscribeCalls)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Payload: payload, Opts: opts})
	res, err := p.Result, p.Err
	if idx < len(p.Results) {
		res = p.Results[idx]
	}
	if idx < len(p.Errors) {
		err = p.Errors[idx]
	}
	hook := p.OnTranscribe
	p.mu.Unlock()

	if hook != nil {
		hook(payload)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &stt.Result{Language: opts.Language}
	}
	cp := *res
	return &cp, nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.TranscribeCalls...)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
