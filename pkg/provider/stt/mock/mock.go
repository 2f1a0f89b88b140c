// Package mock provides configurable in-memory stt.Provider and
// stt.SessionHandle implementations for tests.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxlingo/voxlingo/pkg/provider/stt"
	"github.com/voxlingo/voxlingo/pkg/types"
)

// Session is a scriptable stt.SessionHandle. Tests drive it by calling
// EmitPartial and EmitFinal; audio sent via SendAudio is recorded for
// inspection.
type Session struct {
	mu       sync.Mutex
	chunks   [][]byte
	closed   bool
	expires  time.Time
	partials chan types.Transcript
	finals   chan types.Transcript
}

// NewSession creates a Session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
	}
}

// SetExpiry sets the value returned by ExpiresAt.
func (s *Session) SetExpiry(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires = t
}

// EmitPartial delivers an interim transcript to the consumer.
func (s *Session) EmitPartial(text string) {
	s.partials <- types.Transcript{Text: text, IsFinal: false}
}

// EmitFinal delivers a final transcript to the consumer.
func (s *Session) EmitFinal(text string) {
	s.finals <- types.Transcript{Text: text, IsFinal: true, Confidence: 1.0}
}

// SendAudio records the chunk. Returns an error after Close.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock stt: session closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.chunks = append(s.chunks, cp)
	return nil
}

// SentChunks returns a copy of all audio chunks received so far.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Partials returns the interim transcript channel.
func (s *Session) Partials() <-chan types.Transcript { return s.partials }

// Finals returns the final transcript channel.
func (s *Session) Finals() <-chan types.Transcript { return s.finals }

// ExpiresAt returns the configured expiry, or zero.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expires
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close marks the session closed and closes both transcript channels.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	return nil
}

// Provider is a scriptable stt.Provider that hands out mock Sessions.
type Provider struct {
	// StartErr, when non-nil, is returned by every StartStream call.
	StartErr error

	mu       sync.Mutex
	sessions []*Session
	configs  []stt.StreamConfig
}

// Compile-time interface checks.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// StartStream returns a fresh Session and records the config.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s := NewSession()
	p.sessions = append(p.sessions, s)
	p.configs = append(p.configs, cfg)
	return s, nil
}

// Sessions returns all sessions handed out so far, oldest first.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// LastConfig returns the StreamConfig of the most recent StartStream call.
func (p *Provider) LastConfig() stt.StreamConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.configs) == 0 {
		return stt.StreamConfig{}
	}
	return p.configs[len(p.configs)-1]
}
