package store

import (
	"time"

	"github.com/matheus3301/wppdash/internal/model"
)

// UpsertConversation inserts or updates a conversation record (idempotent on
// session_id + conv_id).
func (db *DB) UpsertConversation(c *model.Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (session_id, conv_id, name, is_group, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, conv_id) DO UPDATE SET
			name = excluded.name,
			is_group = excluded.is_group,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at`,
		c.SessionID, c.ID, c.Name, c.IsGroup, c.UnreadCount, c.LastMessageAt, c.LastMessage, now)
	return err
}

// UpsertMessage inserts or updates a message (idempotent on session_id +
// msg_id). Delivery only moves forward, even when an older copy of the
// message is written again.
func (db *DB) UpsertMessage(m *model.Message) error {
	now := time.Now().UnixMilli()
	senderName := ""
	if m.Sender != nil {
		senderName = m.Sender.DisplayName()
	}
	_, err := db.Exec(`
		INSERT INTO messages (session_id, msg_id, conv_id, from_me, body, message_type, has_media, delivery, timestamp, quoted_id, sender_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, msg_id) DO UPDATE SET
			body = excluded.body,
			sender_name = excluded.sender_name,
			delivery = MAX(delivery, excluded.delivery)`,
		m.SessionID, m.ID, m.ConversationID, m.FromMe, m.Body, m.Type, m.HasMedia, m.Delivery, m.Timestamp, m.QuotedID, senderName, now)
	return err
}

// AdvanceDelivery raises a message's delivery state. Regressions and unknown
// ids are no-ops.
func (db *DB) AdvanceDelivery(sessionID, msgID string, state model.DeliveryState) error {
	_, err := db.Exec(`
		UPDATE messages SET delivery = ?
		WHERE session_id = ? AND msg_id = ? AND delivery < ?`,
		state, sessionID, msgID, state)
	return err
}

// ListConversations returns a session's archived conversations sorted by
// last message timestamp descending.
func (db *DB) ListConversations(sessionID string) ([]model.Conversation, error) {
	rows, err := db.Query(`
		SELECT conv_id, name, is_group, unread_count, last_message_at, last_message_preview
		FROM conversations
		WHERE session_id = ?
		ORDER BY last_message_at DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []model.Conversation
	for rows.Next() {
		c := model.Conversation{SessionID: sessionID}
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.UnreadCount, &c.LastMessageAt, &c.LastMessage); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ListMessages returns a conversation's archived messages oldest first.
func (db *DB) ListMessages(sessionID, convID string) ([]model.Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, from_me, body, message_type, has_media, delivery, timestamp, quoted_id, sender_name
		FROM messages
		WHERE session_id = ? AND conv_id = ?
		ORDER BY timestamp ASC`, sessionID, convID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		m := model.Message{SessionID: sessionID, ConversationID: convID}
		var senderName string
		if err := rows.Scan(&m.ID, &m.FromMe, &m.Body, &m.Type, &m.HasMedia, &m.Delivery, &m.Timestamp, &m.QuotedID, &senderName); err != nil {
			return nil, err
		}
		if senderName != "" {
			m.Sender = &model.Sender{Name: senderName}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DropSession removes every archived row for a logged-out session.
func (db *DB) DropSession(sessionID string) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM conversations WHERE session_id = ?`, sessionID)
	return err
}
