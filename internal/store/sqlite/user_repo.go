package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chathub/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

// Upsert seeds or refreshes a user row. Used by tooling and tests; the
// user store itself is external.
func (r *UserRepo) Upsert(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, is_active, is_online, last_seen)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, is_active = excluded.is_active
	`, string(u.ID), u.DisplayName, u.IsActive, u.IsOnline)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id domain.ParticipantID) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, display_name, is_active, is_online, last_seen FROM users WHERE id = ?`, string(id),
	).Scan(&u.ID, &u.DisplayName, &u.IsActive, &u.IsOnline, &u.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) SetOnlineStatus(ctx context.Context, id domain.ParticipantID, isOnline bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_seen = CURRENT_TIMESTAMP WHERE id = ?`, isOnline, string(id))
	if err != nil {
		return fmt.Errorf("set online status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
