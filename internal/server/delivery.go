package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/npezzotti/go-dirchat/internal/types"
)

// AuthContext identifies the user on whose behalf an operation runs.
type AuthContext struct {
	UserId  int
	IsAdmin bool
}

func (a AuthContext) authenticated() bool {
	return a.UserId > 0
}

type DeliveryRequest struct {
	RecipientId int
	Content     string
	FileIds     []int
	// TempId is echoed back unchanged in the delivery acknowledgement.
	TempId json.RawMessage
}

// Deliver persists a message from auth's user and fans it out to everyone
// who should see it. It is the entry point for synchronous callers; the
// socket path goes through deliver with its originating connection.
func (cs *ChatServer) Deliver(ctx context.Context, auth AuthContext, req DeliveryRequest) (types.Message, error) {
	return cs.deliver(ctx, auth, req, nil)
}

func (cs *ChatServer) deliver(ctx context.Context, auth AuthContext, req DeliveryRequest, origin *Client) (types.Message, error) {
	if !auth.authenticated() {
		return types.Message{}, ErrUnauthenticated
	}

	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.FileIds) == 0 {
		return types.Message{}, fmt.Errorf("%w: message content is empty", ErrValidation)
	}

	recipient, err := cs.db.GetUserById(ctx, req.RecipientId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, fmt.Errorf("%w: recipient %d", ErrNotFound, req.RecipientId)
		}
		return types.Message{}, fmt.Errorf("%w: get recipient: %w", ErrDeliveryFailed, err)
	}

	sender, err := cs.db.GetUserById(ctx, auth.UserId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, fmt.Errorf("%w: sender %d", ErrNotFound, auth.UserId)
		}
		return types.Message{}, fmt.Errorf("%w: get sender: %w", ErrDeliveryFailed, err)
	}

	dbMsg, err := cs.db.CreateMessage(ctx, database.CreateMessageParams{
		SenderId:    sender.Id,
		RecipientId: recipient.Id,
		Content:     content,
		FileIds:     req.FileIds,
		CreatedAt:   Now(),
	})
	if err != nil {
		if errors.Is(err, database.ErrAttachmentUnavailable) {
			return types.Message{}, fmt.Errorf("%w: %s", ErrValidation, err.Error())
		}
		cs.log.Error().Err(err).Int("sender_id", sender.Id).Msg("persist message")
		return types.Message{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	// persisted: from here on nothing is rolled back or surfaced
	msg := toMessage(dbMsg, ToUser(sender).DisplayName())
	room := msg.Room

	cs.hub.Publish(room, newServerMessage(EventNewMessage, msg))

	if cs.presence.IsViewing(recipient.Id, room) {
		cs.hub.Publish(PersonalChannel(recipient.Id), newServerMessage(EventNotification, Notification{
			MessageId:   msg.Id,
			SenderId:    msg.SenderId,
			SenderName:  msg.SenderName,
			RecipientId: msg.RecipientId,
			Content:     msg.Content,
			Room:        room,
			Timestamp:   msg.Timestamp,
		}))
	}

	cs.hub.Publish(PersonalChannel(sender.Id), newServerMessage(EventInboxUpdate, InboxUpdate{
		UserId:      sender.Id,
		RecipientId: recipient.Id,
		Content:     msg.Content,
		Timestamp:   msg.Timestamp,
	}))

	if cs.presence.IsRegistered(recipient.Id) {
		cs.hub.Publish(PersonalChannel(recipient.Id), newServerMessage(EventInboxUpdate, InboxUpdate{
			UserId:    recipient.Id,
			SenderId:  sender.Id,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}))
	}

	if origin != nil {
		origin.queueMessage(newServerMessage(EventDelivered, Delivered{
			TempId:    req.TempId,
			MessageId: msg.Id,
			Timestamp: msg.Timestamp,
		}))
	}

	cs.stats.Incr(metricMessagesDelivered)
	return msg, nil
}

func toMessage(m database.Message, senderName string) types.Message {
	files := make([]types.File, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, types.File{
			Id:       f.Id,
			Filename: f.Filename,
			Filesize: f.Size,
		})
	}

	return types.Message{
		Id:          m.Id,
		SenderId:    m.SenderId,
		RecipientId: m.RecipientId,
		SenderName:  senderName,
		Content:     m.Content,
		Timestamp:   m.CreatedAt.UTC(),
		Room:        RoomName(m.SenderId, m.RecipientId),
		IsRead:      m.IsRead,
		Files:       files,
	}
}

// ToUser converts a store record to its wire shape.
func ToUser(u database.User) types.User {
	return types.User{
		Id:         u.Id,
		Username:   u.Username,
		Fullname:   u.Fullname,
		Email:      u.Email,
		Department: u.Department,
		Position:   u.Position,
		IsActive:   u.IsActive,
		LastSeen:   u.LastSeen,
	}
}
