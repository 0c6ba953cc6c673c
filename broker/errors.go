package broker

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

var (
	ErrInvalidConfig = errors.New("broker: invalid config")
	ErrSlowConsumer  = errors.New("broker: outbound queue full")
	ErrServerStopped = errors.New("broker: server stopped")
	ErrEmptyRead     = errors.New("broker: zero-length read")
)

// isClosedError reports whether err is an ordinary end of a connection
// rather than a transport failure worth a warning.
func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrEmptyRead) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "use of closed network connection") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "forcibly closed") ||
		strings.Contains(s, "connection aborted")
}
