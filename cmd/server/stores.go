package main

import (
	"database/sql"
	"fmt"

	"chathub/internal/domain"
	"chathub/internal/store/memory"
	"chathub/internal/store/postgres"
	"chathub/internal/store/sqlite"
)

type stores struct {
	users         domain.UserRepository
	members       domain.MemberRepository
	messages      domain.MessageRepository
	notifications domain.NotificationRepository
	close         func() error
}

func openStores(driver, dsn string) (*stores, error) {
	switch driver {
	case "memory":
		m := memory.New()
		return &stores{
			users:         m.Users(),
			members:       m.Members(),
			messages:      m.Messages(),
			notifications: m.Notifications(),
			close:         func() error { return nil },
		}, nil
	case "sqlite":
		db, err := sqlite.Open(dsn)
		if err != nil {
			return nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return sqlStores(db, sqlite.NewUserRepo(db), sqlite.NewMemberRepo(db), sqlite.NewMessageRepo(db), sqlite.NewNotificationRepo(db)), nil
	case "postgres":
		db, err := postgres.Open(dsn)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return sqlStores(db, postgres.NewUserRepo(db), postgres.NewMemberRepo(db), postgres.NewMessageRepo(db), postgres.NewNotificationRepo(db)), nil
	}
	return nil, fmt.Errorf("unsupported db driver %q", driver)
}

func sqlStores(
	db *sql.DB,
	users domain.UserRepository,
	members domain.MemberRepository,
	messages domain.MessageRepository,
	notifications domain.NotificationRepository,
) *stores {
	return &stores{
		users:         users,
		members:       members,
		messages:      messages,
		notifications: notifications,
		close:         db.Close,
	}
}
