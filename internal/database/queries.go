package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Placeholders must first appear in ascending order. SQLite numbers $N
// parameters by first appearance, so $2 before $1 would swap the bindings.
const (
	userColumns    = "id, username, fullname, email, department, title, is_active, last_seen, created_at"
	messageColumns = "id, sender_id, recipient_id, content, is_read, created_at"
	fileColumns    = "id, filename, stored_name, user_id, size, message_id, created_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// placeholders returns "$start, $start+1, ..." for n parameters.
func placeholders(start, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = "$" + strconv.Itoa(start+i)
	}
	return strings.Join(p, ", ")
}

func scanUser(row rowScanner) (User, error) {
	var (
		u        User
		lastSeen sql.NullTime
	)
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.Fullname,
		&u.Email,
		&u.Department,
		&u.Position,
		&u.IsActive,
		&lastSeen,
		&u.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}

	if lastSeen.Valid {
		u.LastSeen = lastSeen.Time.UTC()
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.SenderId,
		&m.RecipientId,
		&m.Content,
		&m.IsRead,
		&m.CreatedAt,
	)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, err
}

func scanFile(row rowScanner) (File, error) {
	var (
		f         File
		messageId sql.NullInt64
	)
	err := row.Scan(
		&f.Id,
		&f.Filename,
		&f.StoredName,
		&f.UserId,
		&f.Size,
		&messageId,
		&f.CreatedAt,
	)
	if err != nil {
		return File{}, err
	}

	if messageId.Valid {
		id := int(messageId.Int64)
		f.MessageId = &id
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return f, nil
}

func (db *SQLChatRepository) UpsertDirectoryUser(ctx context.Context, params UpsertUserParams) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (username, fullname, email, department, title, is_active, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, TRUE, $6) "+
			"ON CONFLICT (username) DO UPDATE SET fullname = EXCLUDED.fullname, email = EXCLUDED.email, "+
			"department = EXCLUDED.department, title = EXCLUDED.title, is_active = TRUE "+
			"RETURNING "+userColumns,
		params.Username,
		params.Fullname,
		params.Email,
		params.Department,
		params.Position,
		time.Now().UTC(),
	)

	return scanUser(row)
}

func (db *SQLChatRepository) GetUserById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1 LIMIT 1",
		id,
	)

	return scanUser(row)
}

func (db *SQLChatRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1 LIMIT 1",
		username,
	)

	return scanUser(row)
}

// GetUsersByIds returns the users that exist among ids, ordered by id.
// Unknown ids are skipped.
func (db *SQLChatRepository) GetUsersByIds(ctx context.Context, ids []int) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id IN ("+placeholders(1, len(ids))+") ORDER BY id",
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *SQLChatRepository) TouchLastSeen(ctx context.Context, id int, t time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE users SET last_seen = $1 WHERE id = $2",
		t.UTC(),
		id,
	)
	return err
}

// DeactivateUsersExcept marks every active user whose username is not in
// usernames as inactive. An empty list is a no-op so an unreachable
// directory never locks everyone out.
func (db *SQLChatRepository) DeactivateUsersExcept(ctx context.Context, usernames []string) (int, error) {
	if len(usernames) == 0 {
		return 0, nil
	}

	args := make([]any, len(usernames))
	for i, u := range usernames {
		args[i] = u
	}

	res, err := db.conn.ExecContext(ctx,
		"UPDATE users SET is_active = FALSE WHERE is_active = TRUE AND username NOT IN ("+
			placeholders(1, len(usernames))+")",
		args...,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// CreateMessage inserts the message and links its attachments in a single
// transaction. If any attachment cannot be linked nothing is written.
func (db *SQLChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC().Round(time.Millisecond)
	}

	row := tx.QueryRowContext(ctx,
		"INSERT INTO messages (sender_id, recipient_id, content, is_read, created_at) "+
			"VALUES ($1, $2, $3, FALSE, $4) RETURNING "+messageColumns,
		params.SenderId,
		params.RecipientId,
		params.Content,
		createdAt.UTC(),
	)

	var msg Message
	msg, err = scanMessage(row)
	if err != nil {
		return Message{}, err
	}

	for _, fileId := range params.FileIds {
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			"UPDATE files SET message_id = $1 WHERE id = $2 AND user_id = $3 AND message_id IS NULL",
			msg.Id,
			fileId,
			params.SenderId,
		)
		if err != nil {
			return Message{}, err
		}

		var n int64
		if n, err = res.RowsAffected(); err != nil {
			return Message{}, err
		}
		if n != 1 {
			err = fmt.Errorf("%w: file %d", ErrAttachmentUnavailable, fileId)
			return Message{}, err
		}
	}

	if err = attachFiles(ctx, tx, []*Message{&msg}); err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *SQLChatRepository) GetMessage(ctx context.Context, id int) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1",
		id,
	)

	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, err
	}

	if err := attachFiles(ctx, db.conn, []*Message{&msg}); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// MarkMessageRead reports whether the message transitioned from unread to
// read. A message that is already read is left untouched.
func (db *SQLChatRepository) MarkMessageRead(ctx context.Context, id int) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET is_read = TRUE WHERE id = $1 AND is_read = FALSE",
		id,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *SQLChatRepository) MarkAllRead(ctx context.Context, senderId, recipientId int) ([]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		"UPDATE messages SET is_read = TRUE "+
			"WHERE sender_id = $1 AND recipient_id = $2 AND is_read = FALSE RETURNING id",
		senderId,
		recipientId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GetConversation returns up to limit messages exchanged between the two
// users, newest first.
func (db *SQLChatRepository) GetConversation(ctx context.Context, userA, userB, limit int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1) "+
			"ORDER BY created_at DESC, id DESC LIMIT $3",
		userA,
		userB,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	if err := attachFiles(ctx, db.conn, ptrs); err != nil {
		return nil, err
	}

	return msgs, nil
}

func (db *SQLChatRepository) CountUnread(ctx context.Context, recipientId int) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE recipient_id = $1 AND is_read = FALSE",
		recipientId,
	).Scan(&count)

	return count, err
}

// ListConversations returns one row per peer the user has exchanged
// messages with, most recently active first.
func (db *SQLChatRepository) ListConversations(ctx context.Context, userId int) ([]ConversationRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT
			m.id, m.sender_id, m.recipient_id, m.content, m.is_read, m.created_at,
			u.id, u.username, u.fullname, u.email, u.department, u.title, u.is_active, u.last_seen, u.created_at
		FROM (
			SELECT
				CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS peer_id,
				MAX(id) AS last_id
			FROM messages
			WHERE sender_id = $1 OR recipient_id = $1
			GROUP BY peer_id
		) latest
		JOIN messages m ON m.id = latest.last_id
		JOIN users u ON u.id = latest.peer_id
		ORDER BY m.created_at DESC, m.id DESC`,
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []ConversationRow
	for rows.Next() {
		var (
			c        ConversationRow
			lastSeen sql.NullTime
		)
		err := rows.Scan(
			&c.LastMessage.Id,
			&c.LastMessage.SenderId,
			&c.LastMessage.RecipientId,
			&c.LastMessage.Content,
			&c.LastMessage.IsRead,
			&c.LastMessage.CreatedAt,
			&c.Peer.Id,
			&c.Peer.Username,
			&c.Peer.Fullname,
			&c.Peer.Email,
			&c.Peer.Department,
			&c.Peer.Position,
			&c.Peer.IsActive,
			&lastSeen,
			&c.Peer.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			c.Peer.LastSeen = lastSeen.Time.UTC()
		}
		c.LastMessage.CreatedAt = c.LastMessage.CreatedAt.UTC()
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	unread, err := db.unreadBySender(ctx, userId)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i].UnreadCount = unread[convs[i].Peer.Id]
	}

	return convs, nil
}

func (db *SQLChatRepository) unreadBySender(ctx context.Context, recipientId int) (map[int]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT sender_id, COUNT(*) FROM messages "+
			"WHERE recipient_id = $1 AND is_read = FALSE GROUP BY sender_id",
		recipientId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var senderId, count int
		if err := rows.Scan(&senderId, &count); err != nil {
			return nil, err
		}
		counts[senderId] = count
	}

	return counts, rows.Err()
}

func (db *SQLChatRepository) CreateFile(ctx context.Context, params CreateFileParams) (File, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO files (filename, stored_name, user_id, size, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING "+fileColumns,
		params.Filename,
		params.StoredName,
		params.UserId,
		params.Size,
		time.Now().UTC(),
	)

	return scanFile(row)
}

func (db *SQLChatRepository) GetFile(ctx context.Context, id int) (File, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE id = $1 LIMIT 1",
		id,
	)

	return scanFile(row)
}

func (db *SQLChatRepository) ListFilesOlderThan(ctx context.Context, cutoff time.Time) ([]File, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE created_at < $1 ORDER BY id",
		cutoff.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	return files, rows.Err()
}

func (db *SQLChatRepository) DeleteFile(ctx context.Context, id int) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM files WHERE id = $1", id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *SQLChatRepository) CountStats(ctx context.Context) (Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE is_active = TRUE),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM files)`,
	).Scan(
		&s.TotalUsers,
		&s.ActiveUsers,
		&s.TotalMessages,
		&s.TotalFiles,
	)

	return s, err
}

// attachFiles loads the attachments of msgs in one query.
func attachFiles(ctx context.Context, q querier, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	byId := make(map[int]*Message, len(msgs))
	args := make([]any, len(msgs))
	for i, m := range msgs {
		m.Files = []File{}
		byId[m.Id] = m
		args[i] = m.Id
	}

	rows, err := q.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE message_id IN ("+placeholders(1, len(msgs))+") ORDER BY id",
		args...,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return err
		}
		if f.MessageId == nil {
			continue
		}
		if m, ok := byId[*f.MessageId]; ok {
			m.Files = append(m.Files, f)
		}
	}

	return rows.Err()
}
