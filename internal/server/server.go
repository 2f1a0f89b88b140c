// Package server owns the WebSocket edge: it upgrades client connections,
// parses inbound protocol messages, and dispatches them to the session's
// coordinator. One connection is one session; closing either ends both.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxlingo/voxlingo/internal/config"
	"github.com/voxlingo/voxlingo/internal/convo"
	"github.com/voxlingo/voxlingo/internal/graph"
	"github.com/voxlingo/voxlingo/internal/observe"
	"github.com/voxlingo/voxlingo/internal/protocol"
	"github.com/voxlingo/voxlingo/pkg/audio"
	"github.com/voxlingo/voxlingo/pkg/provider/tts"
	"github.com/voxlingo/voxlingo/pkg/types"
)

// Deps bundles everything a Server needs. All fields except Metrics,
// Enrichers, and Logger are required.
type Deps struct {
	Config   config.ServerConfig
	Session  config.SessionConfig
	Catalog  *config.Catalog
	Executor graph.Executor
	Registry *convo.Registry

	// TTS serves isolated pronunciation requests outside the session graph.
	TTS tts.Provider

	// Enrichers builds the per-session enrichment processors. Nil disables
	// enrichment.
	Enrichers func() convo.Enrichers

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server accepts WebSocket connections and runs one coordinator per client.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// New creates a Server from deps.
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{deps: deps, log: log}
}

// Register adds the WebSocket route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.HandleWS)
}

// HandleWS upgrades the connection and serves the session until the client
// disconnects.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.deps.Config.AllowedOrigins,
	})
	if err != nil {
		s.log.Warn("websocket handshake failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	sessionID := uuid.NewString()
	log := s.log.With("session_id", sessionID)
	log.Info("session connected", "remote", r.RemoteAddr)

	sess := convo.NewSession(sessionID, s.deps.Catalog.Default(), s.deps.Session.StreamBuffer)
	sender := newWSSender(conn)

	var enrichers convo.Enrichers
	if s.deps.Enrichers != nil {
		enrichers = s.deps.Enrichers()
	}

	coord := convo.NewCoordinator(sess, s.deps.Executor, sender,
		s.deps.Catalog, s.deps.Registry, enrichers, s.deps.Session, s.deps.Metrics, s.log)
	s.deps.Registry.Put(sessionID, coord)
	defer coord.Destroy()

	if m := s.deps.Metrics; m != nil {
		m.ActiveSessions.Add(r.Context(), 1)
		defer m.ActiveSessions.Add(context.Background(), -1)
	}

	coord.Start(r.Context())
	s.readLoop(r.Context(), conn, coord, sender, log)

	log.Info("session disconnected")
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop pumps inbound frames until the connection dies.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, coord *convo.Coordinator, sender *wsSender, log *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				log.Debug("connection closed", "status", status)
			} else {
				log.Warn("connection read failed", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			log.Debug("ignoring non-text frame")
			continue
		}

		msg, err := protocol.ParseInbound(data)
		if err != nil {
			s.rejectMessage(ctx, sender, log, err)
			continue
		}
		s.dispatch(ctx, coord, sender, log, msg)
	}
}

// dispatch routes one parsed client message.
func (s *Server) dispatch(ctx context.Context, coord *convo.Coordinator, sender *wsSender, log *slog.Logger, msg any) {
	switch m := msg.(type) {
	case *protocol.AudioChunk:
		coord.AddAudioChunk(m.AudioData)
	case *protocol.TextMessage:
		coord.SendTextMessage(m.Text)
	case *protocol.SetLanguage:
		if err := coord.SetLanguage(m.LanguageCode); err != nil {
			log.Warn("set_language rejected", "language", m.LanguageCode, "err", err)
		}
	case *protocol.UserContext:
		coord.SetUserContext(m.UserID, m.Timezone, m.LanguageCode)
	case *protocol.ResetFlashcards:
		coord.ResetFlashcards()
	case *protocol.ConversationContextReset:
		coord.ResetConversation()
	case *protocol.FlashcardClicked:
		log.Debug("flashcard clicked", "card_id", m.CardID)
	case *protocol.TTSPronounceRequest:
		go s.pronounce(ctx, coord, sender, log, m)
	default:
		log.Warn("unhandled message", "type", msg)
	}
}

// rejectMessage tells the client about an unusable frame without ending the
// session.
func (s *Server) rejectMessage(ctx context.Context, sender *wsSender, log *slog.Logger, parseErr error) {
	log.Debug("rejecting inbound message", "err", parseErr)

	var msg string
	switch {
	case errors.Is(parseErr, protocol.ErrTextTooLong):
		msg = "Message is too long."
	case errors.Is(parseErr, protocol.ErrUnknownType):
		// Unknown types are silently ignored for forward compatibility.
		return
	default:
		msg = "Message could not be parsed."
	}
	if err := sender.Send(ctx, protocol.Error{Type: protocol.TypeError, Message: msg}); err != nil {
		log.Debug("send failed", "err", err)
	}
}

// pronounce runs an isolated one-shot synthesis outside the session graph
// and streams the result back flagged as pronunciation audio.
func (s *Server) pronounce(ctx context.Context, coord *convo.Coordinator, sender *wsSender, log *slog.Logger, req *protocol.TTSPronounceRequest) {
	if req.Text == "" || s.deps.TTS == nil {
		return
	}

	voice := coord.Session().Voice()
	if req.LanguageCode != "" {
		if lang, err := s.deps.Catalog.Resolve(req.LanguageCode); err == nil {
			voice = types.VoiceProfile{ID: lang.VoiceID, SpeedFactor: lang.SpeedFactor}
		}
	}

	pcm, err := tts.Synthesize(ctx, s.deps.TTS, req.Text, voice)
	if err != nil {
		log.Warn("pronunciation synthesis failed", "err", err)
		if err := sender.Send(ctx, protocol.Error{
			Type:    protocol.TypeError,
			Message: "Pronunciation audio could not be generated.",
		}); err != nil {
			log.Debug("send failed", "err", err)
		}
		return
	}
	if len(pcm) == 0 {
		return
	}

	samples := audio.Int16BytesToFloat32(pcm)
	out := protocol.AudioStream{
		Type:            protocol.TypeAudioStream,
		Audio:           audio.EncodeBase64(audio.Float32ToBytes(samples)),
		AudioFormat:     protocol.AudioFormatFloat32,
		SampleRate:      s.deps.Session.SampleRate,
		IsFirstChunk:    true,
		IsPronunciation: true,
	}
	if err := sender.Send(ctx, out); err != nil {
		log.Debug("send failed", "err", err)
		return
	}
	done := protocol.AudioStreamComplete{
		Type:            protocol.TypeAudioStreamComplete,
		IsPronunciation: true,
	}
	if err := sender.Send(ctx, done); err != nil {
		log.Debug("send failed", "err", err)
	}
}
