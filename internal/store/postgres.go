package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	logx "remindd/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS notifications (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    type          TEXT NOT NULL,
    content       TEXT NOT NULL,
    scheduled_for BIGINT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    sent_at       BIGINT,
    error         TEXT
);

CREATE INDEX IF NOT EXISTS idx_notifications_status_scheduled
    ON notifications (status, scheduled_for);

CREATE TABLE IF NOT EXISTS user_preferences (
    user_id         TEXT PRIMARY KEY,
    enabled         BOOLEAN NOT NULL DEFAULT FALSE,
    morning_time    TEXT NOT NULL DEFAULT '',
    noon_time       TEXT NOT NULL DEFAULT '',
    afternoon_time  TEXT NOT NULL DEFAULT '',
    evening_time    TEXT NOT NULL DEFAULT '',
    night_time      TEXT NOT NULL DEFAULT '',
    channel_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    destination     TEXT NOT NULL DEFAULT '',
    start_hour      INTEGER NOT NULL DEFAULT 0,
    end_hour        INTEGER NOT NULL DEFAULT 24
);
`

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqlStore{db: db, log: log, rebind: true}, nil
}
