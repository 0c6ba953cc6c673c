package broker

import (
	"github.com/Thejuampi/minibroker/internal/protocol"
	"github.com/Thejuampi/minibroker/internal/topicstore"
	"go.uber.org/zap"
)

// pusher delivers an unsolicited frame to a connection. It reports false
// when the frame could not be queued.
type pusher interface {
	push(id topicstore.ConnID, frame []byte) bool
}

// handler decodes one request, applies it to the store and returns the
// response frame. It is only called from the control loop.
type handler struct {
	store   *topicstore.Store
	pusher  pusher
	metrics *metrics
	logger  *zap.Logger
}

func (h *handler) handle(conn topicstore.ConnID, data []byte) []byte {
	request, err := protocol.Parse(data)
	if err != nil {
		h.metrics.requests.WithLabelValues(protocol.KindInvalid.String()).Inc()
		h.logger.Debug("invalid request",
			zap.Uint64("conn", uint64(conn)),
			zap.String("verb", request.Verb),
			zap.Error(err))
		return protocol.AppendInvalidCommand(nil)
	}

	h.metrics.requests.WithLabelValues(request.Kind.String()).Inc()

	switch request.Kind {
	case protocol.KindSubscribe:
		if h.store.Subscribe(conn, request.Topic) {
			h.logger.Debug("subscribed", zap.Uint64("conn", uint64(conn)), zap.String("topic", request.Topic))
		}
		return protocol.AppendSubscribed(nil, request.Topic)

	case protocol.KindUnsubscribe:
		if h.store.Unsubscribe(conn, request.Topic) {
			h.logger.Debug("unsubscribed", zap.Uint64("conn", uint64(conn)), zap.String("topic", request.Topic))
		}
		return protocol.AppendUnsubscribed(nil, request.Topic)

	case protocol.KindPublish:
		h.publish(conn, request)
		// Duplicates are answered exactly like new messages.
		return protocol.AppendPublished(nil, request.Topic)

	case protocol.KindGetMessages:
		return h.getMessages(conn, request.Topic)

	default:
		return protocol.AppendInvalidCommand(nil)
	}
}

func (h *handler) publish(conn topicstore.ConnID, request protocol.Request) {
	result := h.store.Publish(request.Topic, request.Content, request.MessageID)
	if !result.Accepted {
		h.metrics.publishDuplicates.Inc()
		h.logger.Debug("duplicate message ignored",
			zap.Uint64("conn", uint64(conn)),
			zap.String("topic", request.Topic),
			zap.String("message_id", request.MessageID))
		return
	}
	h.metrics.publishAccepted.Inc()

	if len(result.Subscribers) == 0 {
		return
	}

	// One frame shared by every subscriber queue.
	frame := protocol.AppendMessage(nil, request.Topic, result.Entry.Content, result.Entry.MessageID)
	for _, subscriber := range result.Subscribers {
		if h.pusher.push(subscriber, frame) {
			h.metrics.pushDelivered.Inc()
			continue
		}
		h.metrics.pushDropped.Inc()
		h.logger.Warn("push dropped",
			zap.Uint64("conn", uint64(subscriber)),
			zap.String("topic", request.Topic),
			zap.String("message_id", request.MessageID))
	}
}

func (h *handler) getMessages(conn topicstore.ConnID, topic string) []byte {
	result := h.store.GetMessages(conn, topic)
	if result.Truncated {
		h.metrics.truncations.Inc()
		h.logger.Debug("topic log truncated", zap.String("topic", topic))
	}

	if len(result.Entries) == 0 {
		return protocol.AppendNoMessages(nil)
	}

	var out []byte
	for _, entry := range result.Entries {
		out = protocol.AppendMessage(out, topic, entry.Content, entry.MessageID)
	}
	return out
}
