package broker

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	networkTCP       = "tcp"
	networkWebSocket = "websocket"
)

// ---------------------------------------------------------------------------
// WebSocket transport.
//
// The broker protocol runs unchanged over WebSocket: one inbound message is
// one request, and every reply or push frame goes out as one text message.
// ---------------------------------------------------------------------------

type websocketTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWebsocketTransport(conn *websocket.Conn) *websocketTransport {
	return &websocketTransport{conn: conn}
}

// Read returns the next non-empty message, cut to len(p).
func (t *websocketTransport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		_, reader, err := t.conn.NextReader()
		if err != nil {
			return 0, err
		}

		n, err := io.ReadFull(reader, p)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return n, err
		}
		if n == 0 {
			continue
		}
		// Anything beyond len(p) is discarded by the next NextReader call.
		return n, nil
	}
}

func (t *websocketTransport) Write(p []byte) (int, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *websocketTransport) Close() error {
	return t.conn.Close()
}

func (t *websocketTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket upgrades the request and hands the connection to the
// control loop. The hijacked connection outlives this handler.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("remote", c.Request.RemoteAddr),
			zap.Error(err))
		return
	}

	s.register(c.Request.Context(), newWebsocketTransport(conn), networkWebSocket)
}
