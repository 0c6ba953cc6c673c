package protocol

import (
	"errors"
	"strings"
)

// ResponseKind classifies a line sent by the broker.
type ResponseKind int

const (
	ResponseUnknown ResponseKind = iota
	ResponseSubscribed
	ResponseUnsubscribed
	ResponsePublished
	ResponseNoMessages
	ResponseMessage
	ResponseInvalidCommand
)

const (
	prefixSubscribed   = "SUBSCRIBED"
	prefixUnsubscribed = "UNSUBSCRIBED"
	prefixPublished    = "PUBLISHED"
	prefixMessage      = "MESSAGE"
	lineNoMessages     = "NO_MESSAGES"
	lineInvalidCommand = "INVALID_COMMAND"
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseSubscribed:
		return prefixSubscribed
	case ResponseUnsubscribed:
		return prefixUnsubscribed
	case ResponsePublished:
		return prefixPublished
	case ResponseNoMessages:
		return lineNoMessages
	case ResponseMessage:
		return prefixMessage
	case ResponseInvalidCommand:
		return lineInvalidCommand
	default:
		return "UNKNOWN"
	}
}

// ---------------------------------------------------------------------------
// Encoding. The Append* helpers add one newline-terminated line to dst.
// ---------------------------------------------------------------------------

func appendTopicLine(dst []byte, prefix, topic string) []byte {
	dst = append(dst, prefix...)
	dst = append(dst, ':')
	dst = append(dst, topic...)
	return append(dst, '\n')
}

// AppendSubscribed adds a SUBSCRIBED:<topic> line.
func AppendSubscribed(dst []byte, topic string) []byte {
	return appendTopicLine(dst, prefixSubscribed, topic)
}

// AppendUnsubscribed adds an UNSUBSCRIBED:<topic> line.
func AppendUnsubscribed(dst []byte, topic string) []byte {
	return appendTopicLine(dst, prefixUnsubscribed, topic)
}

// AppendPublished adds a PUBLISHED:<topic> line. Duplicates get it too.
func AppendPublished(dst []byte, topic string) []byte {
	return appendTopicLine(dst, prefixPublished, topic)
}

// AppendNoMessages adds the empty pull reply.
func AppendNoMessages(dst []byte) []byte {
	return append(append(dst, lineNoMessages...), '\n')
}

// AppendInvalidCommand adds the reply to a request that does not parse.
func AppendInvalidCommand(dst []byte) []byte {
	return append(append(dst, lineInvalidCommand...), '\n')
}

// AppendMessage adds a MESSAGE line. Pull results and push notifications
// share this format.
func AppendMessage(dst []byte, topic, content, messageID string) []byte {
	dst = append(dst, prefixMessage...)
	dst = append(dst, ':')
	dst = append(dst, topic...)
	dst = append(dst, ':')
	dst = append(dst, content...)
	dst = append(dst, ':')
	dst = append(dst, messageID...)
	return append(dst, '\n')
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// ErrUnknownResponse is returned by ParseResponse for lines it does not recognise.
var ErrUnknownResponse = errors.New("protocol: unknown response line")

// Response is one decoded broker line.
type Response struct {
	Kind      ResponseKind
	Topic     string
	Content   string
	MessageID string
}

// Line renders the response without its terminator.
func (r Response) Line() string {
	var out []byte
	switch r.Kind {
	case ResponseSubscribed:
		out = AppendSubscribed(out, r.Topic)
	case ResponseUnsubscribed:
		out = AppendUnsubscribed(out, r.Topic)
	case ResponsePublished:
		out = AppendPublished(out, r.Topic)
	case ResponseNoMessages:
		out = AppendNoMessages(out)
	case ResponseMessage:
		out = AppendMessage(out, r.Topic, r.Content, r.MessageID)
	case ResponseInvalidCommand:
		out = AppendInvalidCommand(out)
	default:
		return ""
	}
	return string(out[:len(out)-1])
}

// ParseResponse decodes one line (with or without its terminator).
func ParseResponse(line string) (Response, error) {
	line = strings.TrimRight(line, "\r\n")

	switch line {
	case lineNoMessages:
		return Response{Kind: ResponseNoMessages}, nil
	case lineInvalidCommand:
		return Response{Kind: ResponseInvalidCommand}, nil
	}

	var prefix, rest, found = strings.Cut(line, fieldSeparator)
	if !found {
		return Response{}, ErrUnknownResponse
	}

	switch prefix {
	case prefixSubscribed:
		return Response{Kind: ResponseSubscribed, Topic: rest}, nil
	case prefixUnsubscribed:
		return Response{Kind: ResponseUnsubscribed, Topic: rest}, nil
	case prefixPublished:
		return Response{Kind: ResponsePublished, Topic: rest}, nil
	case prefixMessage:
		var fields = strings.SplitN(rest, fieldSeparator, 3)
		if len(fields) < 3 {
			return Response{}, ErrUnknownResponse
		}
		return Response{
			Kind:      ResponseMessage,
			Topic:     fields[0],
			Content:   fields[1],
			MessageID: fields[2],
		}, nil
	default:
		return Response{}, ErrUnknownResponse
	}
}
