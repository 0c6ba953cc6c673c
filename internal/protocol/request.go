// Package protocol implements the broker's colon-delimited, line-oriented
// wire format.
//
// A request is a single line
//
//	type:topic:content:clientId:messageID
//
// where trailing fields may be omitted. Responses and push notifications are
// newline-terminated lines; one transport write may carry several of them.
package protocol

import (
	"errors"
	"strconv"
	"strings"
)

// Kind is the closed set of request commands.
type Kind int

const (
	KindInvalid Kind = iota
	KindSubscribe
	KindUnsubscribe
	KindPublish
	KindGetMessages
)

const (
	verbSubscribe   = "SUBSCRIBE"
	verbUnsubscribe = "UNSUBSCRIBE"
	verbPublish     = "PUBLISH"
	verbGetMessages = "GET_MESSAGES"

	fieldSeparator = ":"
	requestFields  = 5
)

func (k Kind) String() string {
	switch k {
	case KindSubscribe:
		return verbSubscribe
	case KindUnsubscribe:
		return verbUnsubscribe
	case KindPublish:
		return verbPublish
	case KindGetMessages:
		return verbGetMessages
	default:
		return "INVALID"
	}
}

// ParseKind maps a wire verb to its Kind. Verbs are case-sensitive.
func ParseKind(verb string) Kind {
	switch verb {
	case verbSubscribe:
		return KindSubscribe
	case verbUnsubscribe:
		return KindUnsubscribe
	case verbPublish:
		return KindPublish
	case verbGetMessages:
		return KindGetMessages
	default:
		return KindInvalid
	}
}

// Parse errors. The broker answers both with INVALID_COMMAND.
var (
	// ErrEmptyRequest is returned when the first line is blank.
	ErrEmptyRequest = errors.New("protocol: empty request")
	// ErrUnknownCommand is returned for a verb outside the command set.
	ErrUnknownCommand = errors.New("protocol: unknown command")
)

// Request is a decoded wire request.
type Request struct {
	Kind Kind
	// Verb is the type field as received.
	Verb      string
	Topic     string
	Content   string
	ClientID  int
	MessageID string
}

// Parse decodes one request. Only the first line of data is considered.
// Missing trailing fields decode as empty strings and a missing or
// non-numeric client ID as zero. An unrecognised verb still yields the
// decoded fields, with Kind set to KindInvalid and ErrUnknownCommand.
func Parse(data []byte) (Request, error) {
	var line = string(data)
	if index := strings.IndexByte(line, '\n'); index >= 0 {
		line = line[:index]
	}
	line = strings.TrimSuffix(line, "\r")
	line = strings.TrimRight(line, "\x00")

	if strings.TrimSpace(line) == "" {
		return Request{}, ErrEmptyRequest
	}

	var fields = strings.SplitN(line, fieldSeparator, requestFields)
	for len(fields) < requestFields {
		fields = append(fields, "")
	}

	var request = Request{
		Kind:      ParseKind(fields[0]),
		Verb:      fields[0],
		Topic:     fields[1],
		Content:   fields[2],
		MessageID: fields[4],
	}
	if id, err := strconv.Atoi(strings.TrimSpace(fields[3])); err == nil {
		request.ClientID = id
	}

	if request.Kind == KindInvalid {
		return request, ErrUnknownCommand
	}
	return request, nil
}

// Encode renders the request in wire form, without a line terminator.
// Trailing empty fields are omitted.
func (r Request) Encode() string {
	var verb = r.Verb
	if r.Kind != KindInvalid {
		verb = r.Kind.String()
	}

	var fields = []string{verb, r.Topic, r.Content, strconv.Itoa(r.ClientID), r.MessageID}
	var last = len(fields)
	for last > 1 && (fields[last-1] == "" || (last-1 == 3 && r.ClientID == 0)) {
		last--
	}
	return strings.Join(fields[:last], fieldSeparator)
}

// ErrReservedCharacter is returned by CheckField for values that would break
// the framing.
var ErrReservedCharacter = errors.New("protocol: field contains ':' or a line break")

// CheckField rejects topic and content values that cannot be carried in a
// request field. Message IDs are exempt because they occupy the rest of the
// line.
func CheckField(value string) error {
	if strings.ContainsAny(value, ":\r\n") {
		return ErrReservedCharacter
	}
	return nil
}
