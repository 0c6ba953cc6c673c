// Package broker implements the topic publish/subscribe broker: a TCP (and
// optionally WebSocket) front end whose requests are all processed by one
// control loop against a topicstore.Store.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thejuampi/minibroker/internal/logging"
	"github.com/Thejuampi/minibroker/internal/topicstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const eventQueueDepth = 256

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logging.OrNop(logger)
	}
}

// Server is one broker instance.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	store   *topicstore.Store
	metrics *metrics
	handler *handler

	listener      net.Listener
	adminListener net.Listener
	admin         *http.Server

	accepted chan acceptedConn
	events   chan connEvent
	stopping chan struct{}

	// conns is written only by the control loop; the admin API reads it.
	connsMu sync.RWMutex
	conns   map[topicstore.ConnID]*connection
	nextID  topicstore.ConnID

	active  atomic.Int64
	readers sync.WaitGroup
	closers sync.WaitGroup
	runOnce sync.Once
	started time.Time
}

// New validates cfg and builds a server. Nothing is bound until Listen or
// Run is called.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := topicstore.New()
	s := &Server{
		cfg:      cfg,
		logger:   zap.NewNop(),
		store:    store,
		metrics:  newMetrics(store),
		accepted: make(chan acceptedConn),
		events:   make(chan connEvent, eventQueueDepth),
		stopping: make(chan struct{}),
		conns:    make(map[topicstore.ConnID]*connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("broker")
	s.handler = &handler{
		store:   store,
		pusher:  s,
		metrics: s.metrics,
		logger:  s.logger,
	}
	return s, nil
}

// Listen binds the broker listener and, if configured, the admin listener.
// Failing to bind is the only fatal broker error.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("broker: listen %s: %w", s.cfg.Addr, err)
	}

	if s.cfg.AdminAddr != "" {
		adminListener, err := net.Listen("tcp", s.cfg.AdminAddr)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("broker: admin listen %s: %w", s.cfg.AdminAddr, err)
		}
		s.adminListener = adminListener
		s.admin = &http.Server{
			Handler:           s.adminRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	s.listener = listener
	return nil
}

// Addr is the bound broker address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// AdminAddr is the bound admin address, or nil when the admin API is off.
func (s *Server) AdminAddr() net.Addr {
	if s.adminListener == nil {
		return nil
	}
	return s.adminListener.Addr()
}

// Run serves until ctx is cancelled, then closes every connection and waits
// for all broker goroutines. A server runs once.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	var err = ErrServerStopped
	s.runOnce.Do(func() {
		err = s.run(ctx)
	})
	return err
}

func (s *Server) run(ctx context.Context) error {
	s.started = time.Now()
	g, gctx := errgroup.WithContext(ctx)

	s.logger.Info("listening",
		zap.String("addr", s.listener.Addr().String()),
		zap.Stringer("admin", addrOrNone(s.AdminAddr())),
		zap.Int("read_buffer", s.cfg.ReadBufferSize),
		zap.Int("out_depth", s.cfg.OutboundDepth))

	g.Go(func() error {
		return s.loop(gctx)
	})
	g.Go(func() error {
		return s.acceptLoop(gctx)
	})
	if s.admin != nil {
		g.Go(func() error {
			s.logger.Info("admin API listening", zap.String("addr", s.adminListener.Addr().String()))
			if err := s.admin.Serve(s.adminListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("broker: admin serve: %w", err)
			}
			return nil
		})
	}
	if s.cfg.StatsInterval > 0 {
		g.Go(func() error {
			s.statsLogger(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		_ = s.listener.Close()
		if s.admin != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.admin.Shutdown(shutdownCtx)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info("stopped")
	return err
}

// ---------------------------------------------------------------------------
// acceptLoop: hands new TCP connections to the control loop.
// ---------------------------------------------------------------------------

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		tuneTCP(conn, s.cfg.NoDelay)

		if !s.register(ctx, conn, networkTCP) {
			return nil
		}
	}
}

// register passes a transport to the control loop. It closes the transport
// and reports false when the server is stopping.
func (s *Server) register(ctx context.Context, t transport, network string) bool {
	select {
	case s.accepted <- acceptedConn{transport: t, network: network}:
		return true
	case <-s.stopping:
	case <-ctx.Done():
	}
	_ = t.Close()
	return false
}

// ---------------------------------------------------------------------------
// Stats logger goroutine
// ---------------------------------------------------------------------------

func (s *Server) statsLogger(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.store.Stats()
			s.logger.Info("stats",
				zap.Int64("connections", s.active.Load()),
				zap.Int("topics", stats.Topics),
				zap.Int("subscriptions", stats.Subscriptions),
				zap.Int("entries", stats.Entries),
				zap.Int("cursors", stats.Cursors),
				zap.Int("dedupe_ids", stats.DedupeIDs),
				zap.Uint64("truncations", stats.Truncations))
		}
	}
}

type noAddr struct{}

func (noAddr) String() string { return "disabled" }

func addrOrNone(addr net.Addr) fmt.Stringer {
	if addr == nil {
		return noAddr{}
	}
	return addr
}
