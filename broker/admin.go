package broker

import (
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/Thejuampi/minibroker/internal/topicstore"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ---------------------------------------------------------------------------
// Admin API. Operational visibility into broker state.
//
// Endpoints:
//   GET /healthz                 liveness
//   GET /admin/status            uptime and store counters
//   GET /admin/topics            per-topic summary
//   GET /admin/topics/:topic     subscribers, log length and cursors
//   GET /admin/connections       active connections with counters
//   GET /metrics                 Prometheus exposition
//   GET /ws                      broker protocol over WebSocket
// ---------------------------------------------------------------------------

// adminRouter leaves gin's mode alone; brokerd selects release mode once at
// startup.
func (s *Server) adminRouter() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	admin := router.Group("/admin")
	admin.GET("/status", s.handleAdminStatus)
	admin.GET("/topics", s.handleAdminTopics)
	admin.GET("/topics/:topic", s.handleAdminTopic)
	admin.GET("/connections", s.handleAdminConnections)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))
	router.GET("/ws", s.handleWebSocket)

	return router
}

func (s *Server) handleAdminStatus(c *gin.Context) {
	stats := s.store.Stats()
	c.JSON(http.StatusOK, gin.H{
		"server":    "minibroker",
		"uptime":    time.Since(s.started).String(),
		"uptime_ms": time.Since(s.started).Milliseconds(),
		"started":   s.started.Format(time.RFC3339),
		"connections": gin.H{
			"current": s.active.Load(),
		},
		"store": gin.H{
			"topics":        stats.Topics,
			"subscriptions": stats.Subscriptions,
			"entries":       stats.Entries,
			"cursors":       stats.Cursors,
			"dedupe_ids":    stats.DedupeIDs,
			"truncations":   stats.Truncations,
		},
		"goroutines": runtime.NumGoroutine(),
		"config": gin.H{
			"addr":        s.cfg.Addr,
			"read_buffer": s.cfg.ReadBufferSize,
			"out_depth":   s.cfg.OutboundDepth,
		},
	})
}

type topicSummary struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
	LogLength   int    `json:"log_length"`
	Cursors     int    `json:"cursors"`
}

func (s *Server) handleAdminTopics(c *gin.Context) {
	topics := s.store.Topics()
	out := make([]topicSummary, 0, len(topics))
	for _, info := range topics {
		out = append(out, topicSummary{
			Name:        info.Name,
			Subscribers: len(info.Subscribers),
			LogLength:   info.LogLength,
			Cursors:     len(info.Cursors),
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "topics": out})
}

type cursorView struct {
	Conn   topicstore.ConnID `json:"conn"`
	Offset int               `json:"offset"`
}

func (s *Server) handleAdminTopic(c *gin.Context) {
	info, ok := s.store.Topic(c.Param("topic"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "topic not found"})
		return
	}

	cursors := make([]cursorView, 0, len(info.Cursors))
	for conn, offset := range info.Cursors {
		cursors = append(cursors, cursorView{Conn: conn, Offset: offset})
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].Conn < cursors[j].Conn })

	subscribers := info.Subscribers
	if subscribers == nil {
		subscribers = []topicstore.ConnID{}
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        info.Name,
		"subscribers": subscribers,
		"log_length":  info.LogLength,
		"cursors":     cursors,
	})
}

type connectionView struct {
	ID          topicstore.ConnID `json:"id"`
	Network     string            `json:"network"`
	RemoteAddr  string            `json:"remote_addr"`
	ConnectedAt time.Time         `json:"connected_at"`
	RequestsIn  uint64            `json:"requests_in"`
	BytesIn     uint64            `json:"bytes_in"`
	FramesOut   uint64            `json:"frames_out"`
	BytesOut    uint64            `json:"bytes_out"`
	PushOut     uint64            `json:"push_out"`
	PushDropped uint64            `json:"push_dropped"`
}

func (s *Server) handleAdminConnections(c *gin.Context) {
	s.connsMu.RLock()
	out := make([]connectionView, 0, len(s.conns))
	for _, conn := range s.conns {
		out = append(out, connectionView{
			ID:          conn.id,
			Network:     conn.network,
			RemoteAddr:  conn.remoteAddr,
			ConnectedAt: conn.connectedAt,
			RequestsIn:  conn.stats.requestsIn.Load(),
			BytesIn:     conn.stats.bytesIn.Load(),
			FramesOut:   conn.stats.framesOut.Load(),
			BytesOut:    conn.stats.bytesOut.Load(),
			PushOut:     conn.stats.pushOut.Load(),
			PushDropped: conn.stats.pushDropped.Load(),
		})
	}
	s.connsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	c.JSON(http.StatusOK, gin.H{"count": len(out), "connections": out})
}
