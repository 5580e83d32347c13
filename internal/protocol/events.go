// Package protocol defines the socket event set shared by the chat server and
// the widget engine. Events travel as {"event": <name>, "data": <payload>}
// frames; every inbound frame decodes to one member of a closed Event set so
// dispatch is a compile-time-checked type switch instead of string matching.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"marketchat/internal/models"
)

// Event names on the wire.
const (
	NameSendMessage         = "sendMessage"
	NameTyping              = "typing"
	NameStopTyping          = "stopTyping"
	NameMarkAsRead          = "markAsRead"
	NameGetHistory          = "getHistory"
	NameReceiveMessage      = "receiveMessage"
	NameMessageDelivered    = "messageDelivered"
	NameAllMessagesRead     = "allMessagesRead"
	NameUserOnline          = "userOnline"
	NameUserOffline         = "userOffline"
	NameMessagesHistory     = "messagesHistory"
	NameMessageNotification = "messageNotification"
)

// Event is the closed set of socket events. Only types in this package
// implement it.
type Event interface {
	EventName() string
}

// SendMessage submits a new message (client -> server).
type SendMessage struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// Typing signals that From is typing to To (both directions on the wire).
type Typing struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
}

// StopTyping signals that From stopped typing to To.
type StopTyping struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
}

// MarkAsRead asks the server to mark every message from ReceiverID to UserID
// as read (client -> server).
type MarkAsRead struct {
	UserID     string `json:"userId"`
	ReceiverID string `json:"receiverId"`
}

// GetHistory requests history over the socket instead of REST
// (client -> server).
type GetHistory struct {
	UserID     string `json:"userId"`
	ReceiverID string `json:"receiverId"`
}

// ReceiveMessage carries a full persisted message (server -> client).
type ReceiveMessage struct {
	models.Message
}

// MessageDelivered acknowledges delivery of a single message
// (server -> client).
type MessageDelivered struct {
	MessageID string `json:"messageId"`
}

// AllMessagesRead is the bulk read acknowledgement: From has read the
// messages of the receiving client (server -> client).
type AllMessagesRead struct {
	From string `json:"from"`
}

// UserOnline reports a presence transition (server -> client).
type UserOnline struct {
	UserID string `json:"userId"`
}

// UserOffline reports a presence transition (server -> client).
type UserOffline struct {
	UserID string `json:"userId"`
}

// MessagesHistory is the socket-path history response (server -> client).
type MessagesHistory struct {
	Partner  *models.Profile  `json:"partner,omitempty"`
	Messages []models.Message `json:"messages"`
}

// MessageNotification is the out-of-band new-message notice delivered even
// when the recipient is not scoped to From (server -> client).
type MessageNotification struct {
	To      string    `json:"to"`
	From    string    `json:"from"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Unknown is returned for event names this package does not recognize.
// Receivers must ignore it silently; it exists so a newer peer never makes an
// older one error out.
type Unknown struct {
	Name string
}

func (SendMessage) EventName() string         { return NameSendMessage }
func (Typing) EventName() string              { return NameTyping }
func (StopTyping) EventName() string          { return NameStopTyping }
func (MarkAsRead) EventName() string          { return NameMarkAsRead }
func (GetHistory) EventName() string          { return NameGetHistory }
func (ReceiveMessage) EventName() string      { return NameReceiveMessage }
func (MessageDelivered) EventName() string    { return NameMessageDelivered }
func (AllMessagesRead) EventName() string     { return NameAllMessagesRead }
func (UserOnline) EventName() string          { return NameUserOnline }
func (UserOffline) EventName() string         { return NameUserOffline }
func (MessagesHistory) EventName() string     { return NameMessagesHistory }
func (MessageNotification) EventName() string { return NameMessageNotification }
func (u Unknown) EventName() string           { return u.Name }

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode serializes an event into a wire frame.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.EventName(), err)
	}
	return json.Marshal(envelope{Event: e.EventName(), Data: data})
}

// Decode parses a wire frame into its concrete event. Unrecognized event
// names yield Unknown, not an error; a malformed frame or payload is an error.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode event frame: %w", err)
	}

	var (
		event Event
		err   error
	)
	switch env.Event {
	case NameSendMessage:
		event, err = decodePayload[SendMessage](env)
	case NameTyping:
		event, err = decodePayload[Typing](env)
	case NameStopTyping:
		event, err = decodePayload[StopTyping](env)
	case NameMarkAsRead:
		event, err = decodePayload[MarkAsRead](env)
	case NameGetHistory:
		event, err = decodePayload[GetHistory](env)
	case NameReceiveMessage:
		event, err = decodePayload[ReceiveMessage](env)
	case NameMessageDelivered:
		event, err = decodePayload[MessageDelivered](env)
	case NameAllMessagesRead:
		event, err = decodePayload[AllMessagesRead](env)
	case NameUserOnline:
		event, err = decodePayload[UserOnline](env)
	case NameUserOffline:
		event, err = decodePayload[UserOffline](env)
	case NameMessagesHistory:
		event, err = decodePayload[MessagesHistory](env)
	case NameMessageNotification:
		event, err = decodePayload[MessageNotification](env)
	default:
		return Unknown{Name: env.Event}, nil
	}
	return event, err
}

func decodePayload[T Event](env envelope) (Event, error) {
	var payload T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
	}
	return payload, nil
}
