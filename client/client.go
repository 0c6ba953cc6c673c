// Package client is a Go client for the topic broker. It publishes,
// manages subscriptions, receives pushed messages and pulls topic logs over
// one TCP connection.
//
// The broker treats every read as one request, so a Client never has more
// than one request in flight. Push notifications may arrive at any time and
// are delivered on Messages.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Thejuampi/minibroker/internal/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// barrierPrefix names the private topics used to mark the end of a pull
// response. Unsubscribing from a topic nobody subscribed to changes nothing
// on the broker.
const barrierPrefix = "_barrier."

const maxLineSize = 1 << 20

var (
	ErrClosed             = errors.New("client: closed")
	ErrInvalidCommand     = errors.New("client: broker rejected the request")
	ErrUnexpectedResponse = errors.New("client: unexpected response")
	ErrRequestTooLarge    = errors.New("client: request exceeds the broker's read size")
)

// Message is one topic message received by push or pull.
type Message struct {
	Topic     string
	Content   string
	MessageID string
}

// pendingRequest receives every reply line while a request is in flight.
// During a pull, MESSAGE lines for the pulled topic are routed here too.
type pendingRequest struct {
	pullTopic string
	pull      bool
	lines     chan protocol.Response
	finished  chan struct{}
}

// Client is safe for concurrent use. Requests are serialized.
type Client struct {
	conn   net.Conn
	opts   options
	logger *zap.Logger

	requestMu sync.Mutex

	mu         sync.Mutex
	pending    *pendingRequest
	subscribed map[string]struct{}
	err        error

	// deliverMu orders pushes against closing messages.
	deliverMu      sync.Mutex
	messages       chan Message
	messagesClosed bool
	seen           *seenTracker
	dropped        atomic.Uint64

	done       chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
}

// Dial connects to the broker at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return newClient(conn, opts...), nil
}

func newClient(conn net.Conn, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		conn:       conn,
		opts:       o,
		logger:     o.logger.Named("client"),
		subscribed: make(map[string]struct{}),
		messages:   make(chan Message, o.messageBuffer),
		seen:       newSeenTracker(o.seenCapacity),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Messages streams pushed messages for subscribed topics. It is closed when
// the client shuts down.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Dropped counts pushes discarded because Messages was full.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Err reports why the client stopped, or nil while it is running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the connection down and waits for the reader to finish.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	<-c.readerDone
	return nil
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// Subscribe registers for pushes on topic.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	return c.command(ctx, protocol.Request{Kind: protocol.KindSubscribe, Topic: topic}, protocol.ResponseSubscribed)
}

// Unsubscribe stops pushes on topic. Unsubscribing from a topic that was
// never subscribed succeeds.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	return c.command(ctx, protocol.Request{Kind: protocol.KindUnsubscribe, Topic: topic}, protocol.ResponseUnsubscribed)
}

// Publish sends content to topic under a fresh message ID and returns it.
func (c *Client) Publish(ctx context.Context, topic, content string) (string, error) {
	var messageID = uuid.NewString()
	return messageID, c.PublishWithID(ctx, topic, content, messageID)
}

// PublishWithID publishes under a caller-chosen message ID. The broker
// accepts an ID once; republishing it is acknowledged but has no effect.
func (c *Client) PublishWithID(ctx context.Context, topic, content, messageID string) error {
	if err := protocol.CheckField(content); err != nil {
		return err
	}
	if strings.ContainsAny(messageID, "\r\n") {
		return protocol.ErrReservedCharacter
	}
	return c.command(ctx, protocol.Request{
		Kind:      protocol.KindPublish,
		Topic:     topic,
		Content:   content,
		ClientID:  c.opts.clientID,
		MessageID: messageID,
	}, protocol.ResponsePublished)
}

// GetMessages pulls the entries of topic this connection has not pulled
// yet. It works with or without a subscription. Pushes for topic that race
// the reply are still delivered on Messages, and an entry already handed
// out by push is left out while the duplicate window remembers it.
func (c *Client) GetMessages(ctx context.Context, topic string) ([]Message, error) {
	if err := protocol.CheckField(topic); err != nil {
		return nil, err
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	p, err := c.begin(topic, true)
	if err != nil {
		return nil, err
	}
	defer c.end(p)

	if err := c.send(ctx, protocol.Request{Kind: protocol.KindGetMessages, Topic: topic}); err != nil {
		return nil, err
	}

	first, err := c.await(ctx, p)
	if err != nil {
		return nil, err
	}
	switch first.Kind {
	case protocol.ResponseNoMessages:
		return nil, nil
	case protocol.ResponseMessage:
	case protocol.ResponseInvalidCommand:
		return nil, ErrInvalidCommand
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedResponse, first.Line())
	}

	// The reply may span several reads. Its end is found by sending a
	// no-op request and waiting for that reply.
	var lines = []protocol.Response{first}
	var emptyReply bool
	var barrier = barrierPrefix + uuid.NewString()
	if err := c.send(ctx, protocol.Request{Kind: protocol.KindUnsubscribe, Topic: barrier}); err != nil {
		return nil, err
	}

	for {
		resp, err := c.await(ctx, p)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.Kind == protocol.ResponseMessage:
			lines = append(lines, resp)
		case resp.Kind == protocol.ResponseUnsubscribed && resp.Topic == barrier:
			entries, pushes := splitPull(lines, c.isSubscribed(topic), emptyReply)
			for _, push := range pushes {
				c.deliver(push)
			}
			return c.collect(entries), nil
		case resp.Kind == protocol.ResponseNoMessages:
			// Everything before it was pushed ahead of an empty reply.
			emptyReply = true
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnexpectedResponse, resp.Line())
		}
	}
}

func (c *Client) collect(entries []protocol.Response) []Message {
	var out []Message
	for _, resp := range entries {
		if c.seen.seenBefore(resp.MessageID) {
			c.logger.Debug("duplicate message suppressed",
				zap.String("topic", resp.Topic),
				zap.String("message_id", resp.MessageID))
			continue
		}
		out = append(out, Message{Topic: resp.Topic, Content: resp.Content, MessageID: resp.MessageID})
	}
	return out
}

func (c *Client) isSubscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribed[topic]
	return ok
}

// track records the subscription change of an acknowledged request.
func (c *Client) track(request protocol.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch request.Kind {
	case protocol.KindSubscribe:
		c.subscribed[request.Topic] = struct{}{}
	case protocol.KindUnsubscribe:
		delete(c.subscribed, request.Topic)
	}
}

func (c *Client) command(ctx context.Context, request protocol.Request, want protocol.ResponseKind) error {
	if err := protocol.CheckField(request.Topic); err != nil {
		return err
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	p, err := c.begin("", false)
	if err != nil {
		return err
	}
	defer c.end(p)

	if err := c.send(ctx, request); err != nil {
		return err
	}
	resp, err := c.await(ctx, p)
	if err != nil {
		return err
	}

	switch {
	case resp.Kind == want && resp.Topic == request.Topic:
		c.track(request)
		return nil
	case resp.Kind == protocol.ResponseInvalidCommand:
		return ErrInvalidCommand
	default:
		return fmt.Errorf("%w: %q", ErrUnexpectedResponse, resp.Line())
	}
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.timeout)
}

func (c *Client) begin(pullTopic string, pull bool) (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	p := &pendingRequest{
		pullTopic: pullTopic,
		pull:      pull,
		lines:     make(chan protocol.Response, 16),
		finished:  make(chan struct{}),
	}
	c.pending = p
	return p, nil
}

func (c *Client) end(p *pendingRequest) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
	close(p.finished)
}

func (c *Client) send(ctx context.Context, request protocol.Request) error {
	var line = request.Encode()
	if len(line) > c.opts.maxRequestSize {
		return ErrRequestTooLarge
	}

	var deadline, _ = ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		c.fail(err)
		return fmt.Errorf("client: send %s: %w", request.Kind, err)
	}
	return nil
}

// await returns the next reply line. A request that times out leaves the
// reply stream unmatched, so the client is closed.
func (c *Client) await(ctx context.Context, p *pendingRequest) (protocol.Response, error) {
	select {
	case resp := <-p.lines:
		return resp, nil
	case <-c.done:
		return protocol.Response{}, c.Err()
	case <-ctx.Done():
		c.fail(fmt.Errorf("client: request abandoned: %w", ctx.Err()))
		return protocol.Response{}, ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// readLoop: splits the byte stream into lines and routes them.
// ---------------------------------------------------------------------------

func (c *Client) readLoop() {
	defer close(c.readerDone)
	defer c.closeMessages()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for scanner.Scan() {
		c.dispatch(scanner.Text())
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case <-c.done:
	default:
		c.logger.Debug("connection lost", zap.Error(err))
	}
	c.fail(fmt.Errorf("client: connection lost: %w", err))
}

func (c *Client) dispatch(line string) {
	if line == "" {
		return
	}
	resp, err := protocol.ParseResponse(line)
	if err != nil {
		c.logger.Debug("unparseable line ignored", zap.String("line", line))
		return
	}

	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()

	if resp.Kind == protocol.ResponseMessage && (p == nil || !p.pull || resp.Topic != p.pullTopic) {
		c.deliver(resp)
		return
	}
	if p == nil {
		c.logger.Debug("unsolicited response ignored", zap.String("line", line))
		return
	}

	select {
	case p.lines <- resp:
	case <-p.finished:
	case <-c.done:
	}
}

func (c *Client) closeMessages() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.messagesClosed = true
	close(c.messages)
}

// deliver is called by the reader and, for pushes held during a pull, by
// GetMessages.
func (c *Client) deliver(resp protocol.Response) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if c.messagesClosed {
		return
	}

	if c.seen.seenBefore(resp.MessageID) {
		c.logger.Debug("duplicate message suppressed",
			zap.String("topic", resp.Topic),
			zap.String("message_id", resp.MessageID))
		return
	}

	select {
	case c.messages <- Message{Topic: resp.Topic, Content: resp.Content, MessageID: resp.MessageID}:
	default:
		c.dropped.Add(1)
		c.logger.Warn("push dropped, message buffer full",
			zap.String("topic", resp.Topic),
			zap.String("message_id", resp.MessageID))
	}
}
