package server

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// writeTimeout bounds a single outbound message write. A client that cannot
// keep up is disconnected rather than allowed to stall the session.
const writeTimeout = 10 * time.Second

// wsSender serialises outbound JSON messages onto one WebSocket connection.
// The coordinator's output loop, its speech callback, and enrichment
// goroutines all send concurrently; the mutex keeps frames whole.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSSender(conn *websocket.Conn) *wsSender {
	return &wsSender{conn: conn}
}

// Send writes msg as a JSON text frame.
func (s *wsSender) Send(ctx context.Context, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, msg)
}
