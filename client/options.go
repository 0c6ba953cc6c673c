package client

import (
	"time"

	"github.com/Thejuampi/minibroker/internal/logging"
	"go.uber.org/zap"
)

const (
	defaultTimeout        = 5 * time.Second
	defaultMessageBuffer  = 256
	defaultMaxRequestSize = 1024
)

type options struct {
	timeout        time.Duration
	messageBuffer  int
	seenCapacity   int
	maxRequestSize int
	clientID       int
	logger         *zap.Logger
}

func defaultOptions() options {
	return options{
		timeout:        defaultTimeout,
		messageBuffer:  defaultMessageBuffer,
		seenCapacity:   defaultSeenCapacity,
		maxRequestSize: defaultMaxRequestSize,
		logger:         zap.NewNop(),
	}
}

// Option customises a Client.
type Option func(*options)

// WithTimeout bounds each request whose context carries no deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithMessageBuffer sets the depth of the Messages channel. Pushes that
// arrive while it is full are dropped.
func WithMessageBuffer(depth int) Option {
	return func(o *options) {
		if depth > 0 {
			o.messageBuffer = depth
		}
	}
}

// WithDuplicateWindow sets how many recent message IDs are remembered to
// suppress repeats across pushes and pulls. Zero disables suppression.
func WithDuplicateWindow(size int) Option {
	return func(o *options) {
		o.seenCapacity = size
	}
}

// WithMaxRequestSize matches the broker's per-request read size. Longer
// requests would be cut by the broker and are rejected up front.
func WithMaxRequestSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.maxRequestSize = size
		}
	}
}

// WithClientID sets the informational client ID sent with publishes.
func WithClientID(id int) Option {
	return func(o *options) {
		o.clientID = id
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logging.OrNop(logger)
	}
}
