package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	database, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(database); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return database, nil
}

func runMigrations(database *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id SERIAL PRIMARY KEY,
            username TEXT NOT NULL UNIQUE,
            display_name TEXT NOT NULL DEFAULT '',
            team TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            sender_id INT NOT NULL,
            receiver_id INT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            kind TEXT NOT NULL,
            state TEXT NOT NULL,
            fail_reason TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            delivered_at TIMESTAMPTZ,
            read_at TIMESTAMPTZ,
            failed_at TIMESTAMPTZ,
            deleted BOOLEAN NOT NULL DEFAULT FALSE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver_state ON messages (receiver_id, state) WHERE deleted = FALSE;`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (sender_id, receiver_id, created_at DESC);`,
	}

	for _, m := range migrations {
		if _, err := database.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
