// Package deepgram implements streaming speech-to-text on the Deepgram
// listen WebSocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxlingo/voxlingo/pkg/provider/stt"
	"github.com/voxlingo/voxlingo/pkg/types"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

var errStreamClosed = errors.New("deepgram: session is closed")

// Provider opens streaming recognition sessions against Deepgram.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	sessionTTL time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the Deepgram model, e.g. "nova-3".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the fallback recognition language; StreamConfig.Language
// takes precedence per session.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSessionTTL makes sessions report an expiry, letting the transcription
// adapter reconnect before Deepgram's server-side stream limit hits.
func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.sessionTTL = ttl }
}

// New builds a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials the listen endpoint and returns a live session. Audio
// writes and transcript reads each run on their own goroutine until Close.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &stream{
		conn:     conn,
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	if p.sessionTTL > 0 {
		s.expiresAt = time.Now().Add(p.sessionTTL)
	}

	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.writeLoop(ctx)
	return s, nil
}

// buildURL assembles the listen URL, letting cfg override the provider's
// language and sample-rate defaults.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	} else {
		q.Set("language", p.language)
	}
	if cfg.SampleRate != 0 {
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	} else {
		q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// stream is one live recognition session.
type stream struct {
	conn      *websocket.Conn
	partials  chan types.Transcript
	finals    chan types.Transcript
	audio     chan []byte
	expiresAt time.Time

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*stream)(nil)

// SendAudio queues one PCM chunk for delivery.
func (s *stream) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errStreamClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errStreamClosed
	}
}

func (s *stream) Partials() <-chan types.Transcript { return s.partials }

func (s *stream) Finals() <-chan types.Transcript { return s.finals }

func (s *stream) ExpiresAt() time.Time { return s.expiresAt }

// Close flushes pending audio via CloseStream and tears the socket down.
// Idempotent; always returns nil.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop forwards queued audio as binary frames. On shutdown it drains
// whatever is still queued so CloseStream flushes a complete utterance.
func (s *stream) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop fans Results events out to the partial and final channels until
// the socket errors or closes.
func (s *stream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		dst := s.partials
		if t.IsFinal {
			dst = s.finals
		}
		select {
		case dst <- t:
		case <-s.done:
		}
	}
}

// resultsEvent is the subset of Deepgram's Results payload we consume.
type resultsEvent struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse extracts a Transcript from a raw socket message;
// non-Results events and empty alternative lists report false.
func parseDeepgramResponse(data []byte) (types.Transcript, bool) {
	var ev resultsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return types.Transcript{}, false
	}
	if ev.Type != "Results" || len(ev.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}
	best := ev.Channel.Alternatives[0]
	return types.Transcript{
		Text:       best.Transcript,
		IsFinal:    ev.IsFinal,
		Confidence: best.Confidence,
	}, true
}
