package broker

import (
	"testing"

	"github.com/Thejuampi/minibroker/internal/topicstore"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type pushRecord struct {
	conn  topicstore.ConnID
	frame string
}

type fakePusher struct {
	pushes []pushRecord
	full   map[topicstore.ConnID]bool
}

func (p *fakePusher) push(id topicstore.ConnID, frame []byte) bool {
	if p.full[id] {
		return false
	}
	p.pushes = append(p.pushes, pushRecord{conn: id, frame: string(frame)})
	return true
}

func newTestHandler(t *testing.T) (*handler, *fakePusher) {
	t.Helper()
	store := topicstore.New()
	pusher := &fakePusher{full: map[topicstore.ConnID]bool{}}
	return &handler{
		store:   store,
		pusher:  pusher,
		metrics: newMetrics(store),
		logger:  zaptest.NewLogger(t),
	}, pusher
}

func TestHandlerReplies(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		request string
		want    string
	}{
		{"SUBSCRIBE:news", "SUBSCRIBED:news\n"},
		{"SUBSCRIBE:news\r\n", "SUBSCRIBED:news\n"},
		{"UNSUBSCRIBE:news", "UNSUBSCRIBED:news\n"},
		{"UNSUBSCRIBE:never", "UNSUBSCRIBED:never\n"},
		{"PUBLISH:news:hello:0:m1", "PUBLISHED:news\n"},
		{"GET_MESSAGES:empty", "NO_MESSAGES\n"},
		{"subscribe:news", "INVALID_COMMAND\n"},
		{"HELLO", "INVALID_COMMAND\n"},
		{"\n", "INVALID_COMMAND\n"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, string(h.handle(1, []byte(tc.request))), "request %q", tc.request)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.requests.WithLabelValues("INVALID")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.requests.WithLabelValues("SUBSCRIBE")))
}

func TestHandlerPublishPushesToSubscribers(t *testing.T) {
	h, pusher := newTestHandler(t)

	h.handle(1, []byte("SUBSCRIBE:sensors"))
	h.handle(2, []byte("SUBSCRIBE:sensors"))
	h.handle(3, []byte("SUBSCRIBE:other"))

	reply := h.handle(2, []byte("PUBLISH:sensors:temp=21:7:u1"))
	assert.Equal(t, "PUBLISHED:sensors\n", string(reply))

	// The publisher is a subscriber too and gets its own push.
	assert.Equal(t, []pushRecord{
		{conn: 1, frame: "MESSAGE:sensors:temp=21:u1\n"},
		{conn: 2, frame: "MESSAGE:sensors:temp=21:u1\n"},
	}, pusher.pushes)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.publishAccepted))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.pushDelivered))
}

func TestHandlerDuplicatePublish(t *testing.T) {
	h, pusher := newTestHandler(t)
	h.handle(1, []byte("SUBSCRIBE:sensors"))

	h.handle(2, []byte("PUBLISH:sensors:temp=21:0:u1"))
	reply := h.handle(2, []byte("PUBLISH:sensors:temp=22:0:u1"))

	assert.Equal(t, "PUBLISHED:sensors\n", string(reply))
	assert.Len(t, pusher.pushes, 1)
	assert.Equal(t, 1, h.store.LogLength("sensors"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.publishDuplicates))
}

func TestHandlerPushDropped(t *testing.T) {
	h, pusher := newTestHandler(t)
	h.handle(1, []byte("SUBSCRIBE:sensors"))
	h.handle(2, []byte("SUBSCRIBE:sensors"))
	pusher.full[1] = true

	reply := h.handle(3, []byte("PUBLISH:sensors:temp=21:0:u1"))

	assert.Equal(t, "PUBLISHED:sensors\n", string(reply))
	require.Len(t, pusher.pushes, 1)
	assert.Equal(t, topicstore.ConnID(2), pusher.pushes[0].conn)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.pushDropped))
	assert.Equal(t, 1, h.store.LogLength("sensors"), "a dropped push must not affect the log")
}

func TestHandlerGetMessages(t *testing.T) {
	h, _ := newTestHandler(t)

	h.handle(9, []byte("PUBLISH:sensors:a:0:m1"))
	h.handle(9, []byte("PUBLISH:sensors:b:0:m2"))

	reply := h.handle(1, []byte("GET_MESSAGES:sensors"))
	assert.Equal(t, "MESSAGE:sensors:a:m1\nMESSAGE:sensors:b:m2\n", string(reply))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.truncations))

	assert.Equal(t, "NO_MESSAGES\n", string(h.handle(1, []byte("GET_MESSAGES:sensors"))))
}

func TestHandlerMessageIDKeepsColons(t *testing.T) {
	h, _ := newTestHandler(t)

	h.handle(1, []byte("PUBLISH:t:v:0:id:with:colons"))
	assert.True(t, h.store.HasMessageID("id:with:colons"))
	assert.Equal(t, "MESSAGE:t:v:id:with:colons\n", string(h.handle(2, []byte("GET_MESSAGES:t"))))
}
