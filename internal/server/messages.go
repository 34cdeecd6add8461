package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/go-dirchat/internal/types"
)

const (
	EventConnectionSuccess = "connection_success"
	EventReconnectRequired = "reconnect_required"
	EventJoinChat          = "join_chat"
	EventRoomJoined        = "room_joined"
	EventUpdatePresence    = "update_presence"
	EventLeaveRoom         = "leave_room"
	EventSendMessage       = "send_message"
	EventNewMessage        = "new_message"
	EventNotification      = "new_message_notification"
	EventDelivered         = "message_delivered"
	EventInboxUpdate       = "inbox_update"
	EventMessageRead       = "message_read"
	EventOnlineUsers       = "online_users_update"
	EventError             = "error"
)

var validate = validator.New()

// ClientMessage is the envelope of every frame a client sends. Data is
// decoded into the payload type of Event.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinChat struct {
	RecipientId int    `json:"recipient_id" validate:"required,gt=0"`
	Room        string `json:"room,omitempty"`
}

type UpdatePresence struct {
	RecipientId int `json:"recipient_id" validate:"required,gt=0"`
}

type LeaveRoom struct {
	Room string `json:"room" validate:"required"`
}

type SendMessage struct {
	RecipientId int             `json:"recipient_id" validate:"required,gt=0"`
	Content     string          `json:"content" validate:"max=10000"`
	TempId      json.RawMessage `json:"temp_id,omitempty"`
	FileIds     []int           `json:"file_ids,omitempty" validate:"dive,gt=0"`
}

// decodePayload unmarshals raw into v and runs its validation tags.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid payload", ErrValidation)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	return nil
}

type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ConnectionSuccess struct {
	Message string `json:"message"`
}

type ReconnectRequired struct {
	Reason string `json:"reason"`
}

type RoomJoined struct {
	Room string `json:"room"`
}

type Notification struct {
	MessageId   int       `json:"message_id"`
	SenderId    int       `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	RecipientId int       `json:"recipient_id"`
	Content     string    `json:"content"`
	Room        string    `json:"room"`
	Timestamp   time.Time `json:"timestamp"`
}

type Delivered struct {
	TempId    json.RawMessage `json:"temp_id,omitempty"`
	MessageId int             `json:"message_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// InboxUpdate tells a user to refresh one inbox row. RecipientId is set on
// the sender's copy, SenderId on the recipient's.
type InboxUpdate struct {
	UserId       int       `json:"user_id"`
	RecipientId  int       `json:"recipient_id,omitempty"`
	SenderId     int       `json:"sender_id,omitempty"`
	Content      string    `json:"content,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	IsReadUpdate bool      `json:"is_read_update,omitempty"`
}

type MessageRead struct {
	MessageId int  `json:"message_id"`
	IsRead    bool `json:"is_read"`
}

type OnlineUsers struct {
	Users     []types.OnlineUser `json:"users"`
	OnlineIds []int              `json:"online_ids"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func newServerMessage(event string, data any) *ServerMessage {
	return &ServerMessage{Event: event, Data: data}
}

func ErrorMessage(msg string) *ServerMessage {
	return newServerMessage(EventError, ErrorPayload{Message: msg})
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
