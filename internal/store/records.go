package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"remindd/internal/notif"
	logx "remindd/pkg/logx"
)

// sqlStore serves both sqlite and postgres. Queries are written with "?"
// placeholders; rebind rewrites them to "$n" for postgres.
type sqlStore struct {
	db     *sql.DB
	log    logx.Logger
	rebind bool
}

func (s *sqlStore) q(query string) string {
	if !s.rebind {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Create(ctx context.Context, rec notif.Record) error {
	if rec.Status == "" {
		rec.Status = notif.StatusPending
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO notifications(id, user_id, type, content, scheduled_for, status, sent_at, error)
		 VALUES(?,?,?,?,?,?,?,?)`),
		rec.ID, rec.UserID, rec.Type, rec.Content, rec.ScheduledFor.UnixMilli(),
		string(rec.Status), nullMillis(rec.SentAt), nullStr(rec.Error),
	)
	return err
}

func (s *sqlStore) Get(ctx context.Context, id string) (notif.Record, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, user_id, type, content, scheduled_for, status, sent_at, error
		 FROM notifications WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notif.Record{}, ErrNotFound
	}
	return rec, err
}

// Claim is the at-most-once gate: the conditional update succeeds for exactly
// one caller even when concurrent schedulers observe the same pending record.
func (s *sqlStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE notifications SET status = ? WHERE id = ? AND status = ?`),
		string(notif.StatusProcessing), id, string(notif.StatusPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqlStore) Complete(ctx context.Context, id string, status notif.Status, errMsg string) error {
	if status != notif.StatusSent && status != notif.StatusFailed {
		return errors.New("complete requires a terminal status")
	}
	var sentAt any
	if status == notif.StatusSent {
		sentAt = time.Now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE notifications SET status = ?, sent_at = ?, error = ?
		 WHERE id = ? AND status = ?`),
		string(status), sentAt, nullStr(errMsg), id, string(notif.StatusProcessing),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) Release(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE notifications SET status = ? WHERE id = ? AND status = ?`),
		string(notif.StatusPending), id, string(notif.StatusProcessing),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) ResetFailed(ctx context.Context, since time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE notifications SET status = ?, error = NULL
		 WHERE status = ? AND scheduled_for >= ?`),
		string(notif.StatusPending), string(notif.StatusFailed), since.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStore) DuePending(ctx context.Context, now time.Time, limit int) ([]notif.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, type, content, scheduled_for, status, sent_at, error
		 FROM notifications
		 WHERE status = ? AND scheduled_for <= ?
		 ORDER BY scheduled_for ASC
		 LIMIT ?`),
		string(notif.StatusPending), now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notif.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqlStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM notifications
		 WHERE scheduled_for < ? AND status IN (?, ?)`),
		cutoff.UnixMilli(), string(notif.StatusSent), string(notif.StatusFailed),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (notif.Record, error) {
	var (
		rec      notif.Record
		status   string
		schedMs  int64
		sentAtMs sql.NullInt64
		errMsg   sql.NullString
	)
	if err := r.Scan(&rec.ID, &rec.UserID, &rec.Type, &rec.Content, &schedMs, &status, &sentAtMs, &errMsg); err != nil {
		return notif.Record{}, err
	}
	rec.ScheduledFor = time.UnixMilli(schedMs)
	rec.Status = notif.Status(status)
	if sentAtMs.Valid {
		t := time.UnixMilli(sentAtMs.Int64)
		rec.SentAt = &t
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	return rec, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
