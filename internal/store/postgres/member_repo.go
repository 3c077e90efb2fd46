package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"chathub/internal/domain"
)

type MemberRepo struct {
	db *sql.DB
}

func NewMemberRepo(db *sql.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

var _ domain.MemberRepository = (*MemberRepo)(nil)

func (r *MemberRepo) Add(ctx context.Context, chatID domain.ChatID, userID domain.ParticipantID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_members (chat_id, user_id, joined_at) VALUES ($1, $2, NOW())
		ON CONFLICT DO NOTHING
	`, string(chatID), string(userID))
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (r *MemberRepo) ListMembers(ctx context.Context, chatID domain.ChatID) ([]domain.ParticipantID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY joined_at ASC, user_id ASC
	`, string(chatID))
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var res []domain.ParticipantID
	for rows.Next() {
		var id domain.ParticipantID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (r *MemberRepo) IsMember(ctx context.Context, chatID domain.ChatID, userID domain.ParticipantID) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)
	`, string(chatID), string(userID)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return ok, nil
}
