package broker

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/Thejuampi/minibroker/internal/topicstore"
)

// transport is the byte stream under one client connection. *net.TCPConn
// satisfies it directly; WebSocket connections are adapted in websocket.go.
type transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() net.Addr
}

type connStats struct {
	requestsIn  atomic.Uint64
	bytesIn     atomic.Uint64
	framesOut   atomic.Uint64
	bytesOut    atomic.Uint64
	pushOut     atomic.Uint64
	pushDropped atomic.Uint64
}

// connection binds a broker-assigned ConnID to the transport currently
// serving it. The ID, not the socket, is what the topic store sees, so a
// reused OS handle can never inherit another client's state.
type connection struct {
	id          topicstore.ConnID
	transport   transport
	network     string
	remoteAddr  string
	connectedAt time.Time

	writer *connWriter
	stats  connStats
}

// connEvent is posted by a connection's reader goroutine. A request and a
// later close from the same reader travel on the same channel, so the loop
// always sees them in order.
type connEvent struct {
	conn   *connection
	data   []byte
	closed bool
	err    error
}

type acceptedConn struct {
	transport transport
	network   string
}

// ---------------------------------------------------------------------------
// readLoop: per-connection reader goroutine.
//
// Each iteration is one bounded read and therefore one request. A zero-length
// read or any error ends the connection. The loop stops early when the
// server is stopping.
// ---------------------------------------------------------------------------

func (c *connection) readLoop(events chan<- connEvent, stopping <-chan struct{}, bufferSize int) {
	post := func(ev connEvent) bool {
		select {
		case events <- ev:
			return true
		case <-stopping:
			return false
		}
	}

	for {
		buf := make([]byte, bufferSize)
		n, err := c.transport.Read(buf)
		if n > 0 {
			c.stats.requestsIn.Add(1)
			c.stats.bytesIn.Add(uint64(n))
			if !post(connEvent{conn: c, data: buf[:n]}) {
				return
			}
		}
		if err != nil || n == 0 {
			if err == nil {
				err = ErrEmptyRead
			}
			post(connEvent{conn: c, closed: true, err: err})
			return
		}
	}
}

func tuneTCP(conn net.Conn, noDelay bool) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(noDelay)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}
}
