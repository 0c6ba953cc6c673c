package broker

import (
	"context"
	"time"

	"github.com/Thejuampi/minibroker/internal/topicstore"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// loop: the broker's single control loop.
//
// It owns the connection registry and is the only goroutine that applies
// requests to the store, so requests are processed strictly one at a time:
//   - accepted transports get a fresh ConnID, a writer and a reader
//   - a request is decoded, applied, and its reply queued before the next
//     event is looked at
//   - a close event runs the client cleanup
//
// The loop never performs socket I/O. Replies and pushes go through each
// connection's writer queue, so a peer that stops reading cannot stall it.
// ---------------------------------------------------------------------------

func (s *Server) loop(ctx context.Context) error {
	defer s.shutdownConnections()

	for {
		select {
		case <-ctx.Done():
			return nil

		case accepted := <-s.accepted:
			s.openConnection(accepted)

		case ev := <-s.events:
			conn := s.lookup(ev.conn.id)
			if conn != ev.conn {
				// Already torn down; late events from its reader are ignored.
				continue
			}
			if ev.closed {
				s.dropConnection(conn, ev.err, true)
				continue
			}
			s.serve(conn, ev.data)
		}
	}
}

func (s *Server) lookup(id topicstore.ConnID) *connection {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return s.conns[id]
}

func (s *Server) openConnection(accepted acceptedConn) {
	s.nextID++
	conn := &connection{
		id:          s.nextID,
		transport:   accepted.transport,
		network:     accepted.network,
		remoteAddr:  accepted.transport.RemoteAddr().String(),
		connectedAt: time.Now(),
	}

	bufSize := s.cfg.WriteBufferSize
	if accepted.network == networkWebSocket {
		bufSize = 0
	}
	conn.writer = newConnWriter(conn.transport, s.cfg.OutboundDepth, bufSize, &conn.stats, func(err error) {
		if !isClosedError(err) {
			s.logger.Warn("write failed", zap.Uint64("conn", uint64(conn.id)), zap.Error(err))
		}
		// The reader sees the close and reports it to the loop.
		_ = conn.transport.Close()
	})

	s.connsMu.Lock()
	s.conns[conn.id] = conn
	s.connsMu.Unlock()

	s.active.Add(1)
	s.metrics.connectionsAccepted.Inc()
	s.metrics.connectionsActive.Inc()
	if s.cfg.LogConnections {
		s.logger.Info("connected",
			zap.Uint64("conn", uint64(conn.id)),
			zap.String("network", conn.network),
			zap.String("remote", conn.remoteAddr),
			zap.Int64("active", s.active.Load()))
	}

	s.readers.Add(1)
	go func() {
		defer s.readers.Done()
		conn.readLoop(s.events, s.stopping, s.cfg.ReadBufferSize)
	}()
}

func (s *Server) serve(conn *connection, data []byte) {
	reply := s.handler.handle(conn.id, data)
	if conn.writer.enqueue(reply) {
		return
	}

	s.metrics.slowConsumers.Inc()
	s.logger.Warn("slow consumer, closing connection",
		zap.Uint64("conn", uint64(conn.id)),
		zap.String("remote", conn.remoteAddr))
	s.dropConnection(conn, ErrSlowConsumer, false)
}

// push implements pusher for the handler.
func (s *Server) push(id topicstore.ConnID, frame []byte) bool {
	conn := s.lookup(id)
	if conn == nil {
		return false
	}
	if conn.writer.enqueue(frame) {
		conn.stats.pushOut.Add(1)
		return true
	}
	conn.stats.pushDropped.Add(1)
	return false
}

// dropConnection removes a connection from the registry and the store right
// away. Closing the transport happens in the background: with flush set the
// writer first gets up to CloseLinger to write what is queued.
func (s *Server) dropConnection(conn *connection, reason error, flush bool) {
	s.connsMu.Lock()
	delete(s.conns, conn.id)
	s.connsMu.Unlock()

	cleaned := s.store.Disconnect(conn.id)
	s.active.Add(-1)
	s.metrics.connectionsActive.Dec()

	if reason != nil && !isClosedError(reason) {
		s.logger.Warn("connection failed", zap.Uint64("conn", uint64(conn.id)), zap.Error(reason))
	}
	if s.cfg.LogConnections {
		s.logger.Info("disconnected",
			zap.Uint64("conn", uint64(conn.id)),
			zap.String("remote", conn.remoteAddr),
			zap.Int("subscriptions", cleaned.Subscriptions),
			zap.Int("cursors", cleaned.Cursors),
			zap.Uint64("requests", conn.stats.requestsIn.Load()),
			zap.Uint64("frames_out", conn.stats.framesOut.Load()),
			zap.Uint64("bytes_in", conn.stats.bytesIn.Load()),
			zap.Uint64("bytes_out", conn.stats.bytesOut.Load()),
			zap.Int64("active", s.active.Load()))
	}

	linger := time.Duration(0)
	if flush {
		linger = s.cfg.CloseLinger
	}

	s.closers.Add(1)
	go func() {
		defer s.closers.Done()
		// Closing the transport unblocks a writer stuck on a peer that
		// stopped reading.
		force := time.AfterFunc(linger, func() { _ = conn.transport.Close() })
		defer force.Stop()
		conn.writer.close()
		_ = conn.transport.Close()
	}()
}

// shutdownConnections runs when the loop exits. Readers blocked on the
// event channel are released through s.stopping.
func (s *Server) shutdownConnections() {
	close(s.stopping)

	s.connsMu.RLock()
	conns := make([]*connection, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.RUnlock()

	for _, conn := range conns {
		s.dropConnection(conn, nil, true)
	}

	s.closers.Wait()
	s.readers.Wait()
}
