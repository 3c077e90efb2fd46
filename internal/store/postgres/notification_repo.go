package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"chathub/internal/domain"
)

type NotificationRepo struct {
	db *sql.DB
}

func NewNotificationRepo(db *sql.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

var _ domain.NotificationRepository = (*NotificationRepo)(nil)

const notificationColumns = `id, sender_id, receiver_id, chat_id, message_id, content, is_read, created_at`

func (r *NotificationRepo) Save(ctx context.Context, n *domain.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, string(n.ID), string(n.SenderID), string(n.ReceiverID), string(n.ChatID), string(n.MessageID),
		n.Content, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepo) Delete(ctx context.Context, id domain.NotificationID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *NotificationRepo) DeleteOwned(ctx context.Context, id domain.NotificationID, receiverID domain.ParticipantID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND receiver_id = $2`, string(id), string(receiverID))
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *NotificationRepo) DeleteForChat(ctx context.Context, chatID domain.ChatID, receiverID domain.ParticipantID) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE chat_id = $1 AND receiver_id = $2`, string(chatID), string(receiverID))
	if err != nil {
		return 0, fmt.Errorf("clear notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// ListForReceiver returns the receiver's notifications, newest first.
func (r *NotificationRepo) ListForReceiver(ctx context.Context, receiverID domain.ParticipantID) ([]*domain.Notification, error) {
	return r.list(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE receiver_id = $1 ORDER BY created_at DESC`, string(receiverID))
}

func (r *NotificationRepo) ListForMessage(ctx context.Context, messageID domain.MessageID) ([]*domain.Notification, error) {
	return r.list(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE message_id = $1 ORDER BY created_at DESC`, string(messageID))
}

func (r *NotificationRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var res []*domain.Notification
	for rows.Next() {
		n := &domain.Notification{}
		if err := rows.Scan(&n.ID, &n.SenderID, &n.ReceiverID, &n.ChatID, &n.MessageID,
			&n.Content, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
