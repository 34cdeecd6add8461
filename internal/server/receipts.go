package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MarkRead flips a message to read on behalf of its recipient. Marking an
// already read message succeeds and re-emits the same events.
func (cs *ChatServer) MarkRead(ctx context.Context, auth AuthContext, messageId int) error {
	if !auth.authenticated() {
		return ErrUnauthenticated
	}

	msg, err := cs.db.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: message %d", ErrNotFound, messageId)
		}
		return fmt.Errorf("get message: %w", err)
	}

	if msg.RecipientId != auth.UserId {
		return ErrForbidden
	}

	if !msg.IsRead {
		if _, err := cs.db.MarkMessageRead(ctx, messageId); err != nil {
			return fmt.Errorf("mark message read: %w", err)
		}
		cs.stats.Incr(metricReadReceipts)
	}

	cs.hub.Publish(RoomName(msg.SenderId, msg.RecipientId), newServerMessage(EventMessageRead, MessageRead{
		MessageId: msg.Id,
		IsRead:    true,
	}))
	cs.publishReadUpdate(auth.UserId, msg.SenderId)

	return nil
}

// MarkAllRead marks every unread message from senderId to auth's user as
// read and returns how many changed. Only messages addressed to the caller
// are selected, so no further authorization is needed.
func (cs *ChatServer) MarkAllRead(ctx context.Context, auth AuthContext, senderId int) (int, error) {
	if !auth.authenticated() {
		return 0, ErrUnauthenticated
	}

	ids, err := cs.db.MarkAllRead(ctx, senderId, auth.UserId)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	room := RoomName(senderId, auth.UserId)
	for _, id := range ids {
		cs.hub.Publish(room, newServerMessage(EventMessageRead, MessageRead{
			MessageId: id,
			IsRead:    true,
		}))
		cs.stats.Incr(metricReadReceipts)
	}
	cs.publishReadUpdate(auth.UserId, senderId)

	return len(ids), nil
}

func (cs *ChatServer) publishReadUpdate(readerId, senderId int) {
	cs.hub.Publish(PersonalChannel(readerId), newServerMessage(EventInboxUpdate, InboxUpdate{
		UserId:       readerId,
		SenderId:     senderId,
		Timestamp:    Now(),
		IsReadUpdate: true,
	}))
}
