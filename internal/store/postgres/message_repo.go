package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5/pgtype"

	"chathub/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Save(ctx context.Context, m *domain.Message) error {
	var path, typ sql.NullString
	if m.Attachment != nil {
		path = sql.NullString{String: m.Attachment.Path, Valid: true}
		typ = sql.NullString{String: m.Attachment.Type, Valid: m.Attachment.Type != ""}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, chat_id, sender_id, content, attachment_path, attachment_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, string(m.ID), string(m.ChatID), string(m.SenderID), m.Content, path, typ, string(m.Status), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	m := &domain.Message{}
	var path, typ sql.NullString
	var readBy []string
	err := r.db.QueryRowContext(ctx, `
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.attachment_path, m.attachment_type,
		       m.status, m.created_at,
		       COALESCE(ARRAY(SELECT user_id FROM message_readers WHERE message_id = m.id ORDER BY read_at, user_id), '{}')
		FROM messages m WHERE m.id = $1
	`, string(id)).Scan(
		&m.ID, &m.ChatID, &m.SenderID, &m.Content, &path, &typ, &m.Status, &m.CreatedAt, readersScanner(&readBy),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if path.Valid {
		m.Attachment = &domain.Attachment{Path: path.String, Type: typ.String}
	}
	m.ReadBy = toParticipants(readBy)
	return m, nil
}

func (r *MessageRepo) UpdateStatus(ctx context.Context, id domain.MessageID, status domain.MessageStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status = $1 WHERE id = $2`, string(status), string(id))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) AddReader(ctx context.Context, id domain.MessageID, reader domain.ParticipantID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_readers (message_id, user_id, read_at) VALUES ($1, $2, NOW())
		ON CONFLICT DO NOTHING
	`, string(id), string(reader))
	if err != nil {
		return fmt.Errorf("add reader: %w", err)
	}
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id domain.MessageID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) DeleteMany(ctx context.Context, ids []domain.MessageID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ANY($1)`, toStrings(ids)); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

func (r *MessageRepo) HideForUser(ctx context.Context, userID domain.ParticipantID, ids []domain.MessageID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hidden_messages (user_id, message_id, hidden_at)
		SELECT $1, unnest($2::text[]), NOW()
		ON CONFLICT DO NOTHING
	`, string(userID), toStrings(ids))
	if err != nil {
		return fmt.Errorf("hide messages: %w", err)
	}
	return nil
}

// ListForChat returns the newest limit messages visible to viewer, oldest first.
func (r *MessageRepo) ListForChat(ctx context.Context, chatID domain.ChatID, viewer domain.ParticipantID, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.attachment_path, m.attachment_type,
		       m.status, m.created_at,
		       COALESCE(ARRAY(SELECT user_id FROM message_readers WHERE message_id = m.id ORDER BY read_at, user_id), '{}')
		FROM messages m
		WHERE m.chat_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM hidden_messages h WHERE h.message_id = m.id AND h.user_id = $2
		  )
		ORDER BY m.created_at DESC
		LIMIT $3
	`, string(chatID), string(viewer), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		var path, typ sql.NullString
		var readBy []string
		if err := rows.Scan(
			&m.ID, &m.ChatID, &m.SenderID, &m.Content, &path, &typ, &m.Status, &m.CreatedAt, readersScanner(&readBy),
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if path.Valid {
			m.Attachment = &domain.Attachment{Path: path.String, Type: typ.String}
		}
		m.ReadBy = toParticipants(readBy)
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	// Reverse to chronological order (DB returns DESC)
	slices.Reverse(res)
	return res, nil
}

// readersScanner decodes the text[] of reader ids; the stdlib driver hands
// arrays over in their text form.
func readersScanner(dst *[]string) sql.Scanner {
	return pgtype.NewMap().SQLScanner(dst)
}

func toStrings(ids []domain.MessageID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func toParticipants(ids []string) []domain.ParticipantID {
	out := make([]domain.ParticipantID, len(ids))
	for i, id := range ids {
		out[i] = domain.ParticipantID(id)
	}
	return out
}
