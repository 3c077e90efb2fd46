package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"chathub/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, chat_id, sender_id, content, attachment_path, attachment_type, status, created_at`

func (r *MessageRepo) Save(ctx context.Context, m *domain.Message) error {
	var path, typ sql.NullString
	if m.Attachment != nil {
		path = sql.NullString{String: m.Attachment.Path, Valid: true}
		typ = sql.NullString{String: m.Attachment.Type, Valid: m.Attachment.Type != ""}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(m.ID), string(m.ChatID), string(m.SenderID), m.Content, path, typ, string(m.Status), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if m.ReadBy, err = r.readers(ctx, id); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepo) UpdateStatus(ctx context.Context, id domain.MessageID, status domain.MessageStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, string(status), string(id))
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
		INSERT OR IGNORE INTO message_readers (message_id, user_id, read_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`, string(id), string(reader))
	if err != nil {
		return fmt.Errorf("add reader: %w", err)
	}
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id domain.MessageID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, string(id))
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
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id IN (`+placeholders(len(ids))+`)`, args...); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

func (r *MessageRepo) HideForUser(ctx context.Context, userID domain.ParticipantID, ids []domain.MessageID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO hidden_messages (user_id, message_id, hidden_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
		`, string(userID), string(id)); err != nil {
			return fmt.Errorf("hide message: %w", err)
		}
	}
	return tx.Commit()
}

// ListForChat returns the newest limit messages visible to viewer, oldest first.
func (r *MessageRepo) ListForChat(ctx context.Context, chatID domain.ChatID, viewer domain.ParticipantID, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.chat_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM hidden_messages h WHERE h.message_id = m.id AND h.user_id = ?
		  )
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT ?
	`, string(chatID), string(viewer), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	// readers are loaded after the cursor is closed; the pool holds one connection
	for _, m := range res {
		if m.ReadBy, err = r.readers(ctx, m.ID); err != nil {
			return nil, err
		}
	}
	slices.Reverse(res)
	return res, nil
}

func (r *MessageRepo) readers(ctx context.Context, id domain.MessageID) ([]domain.ParticipantID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM message_readers WHERE message_id = ? ORDER BY read_at ASC, rowid ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list readers: %w", err)
	}
	defer rows.Close()

	res := []domain.ParticipantID{}
	for rows.Next() {
		var reader domain.ParticipantID
		if err := rows.Scan(&reader); err != nil {
			return nil, fmt.Errorf("scan reader: %w", err)
		}
		res = append(res, reader)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*domain.Message, error) {
	m := &domain.Message{}
	var path, typ sql.NullString
	if err := s.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &path, &typ, &m.Status, &m.CreatedAt); err != nil {
		return nil, err
	}
	if path.Valid {
		m.Attachment = &domain.Attachment{Path: path.String, Type: typ.String}
	}
	return m, nil
}
