package store

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/Tyrowin/campuschat/internal/identity"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id          BIGSERIAL PRIMARY KEY,
	sender_id   TEXT        NOT NULL,
	receiver_id TEXT        NOT NULL,
	content     TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, receiver_id, created_at);
CREATE TABLE IF NOT EXISTS users (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT ''
);
`

const (
	insertMessageSQL = `INSERT INTO messages (sender_id, receiver_id, content, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`

	conversationSQL = `SELECT id, sender_id, receiver_id, content, created_at FROM messages
WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
ORDER BY created_at ASC, id ASC`

	userSQL = `SELECT id, name, email FROM users WHERE id = $1`
)

// pgxDB is the part of *pgxpool.Pool the Postgres stores use.
type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OpenPostgres connects a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return pool, nil
}

// EnsurePostgresSchema creates the messages and users tables if missing.
func EnsurePostgresSchema(ctx context.Context, db pgxDB) error {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return errors.Wrap(err, "create postgres schema")
	}
	return nil
}

// PostgresLog stores messages in the messages table.
type PostgresLog struct {
	db pgxDB
}

// NewPostgresLog wraps a pool (or any pgx query surface).
func NewPostgresLog(db pgxDB) *PostgresLog {
	return &PostgresLog{db: db}
}

// Append implements MessageLog.
func (l *PostgresLog) Append(ctx context.Context, sender, receiver, content string, ts time.Time) (string, error) {
	var id int64
	if err := l.db.QueryRow(ctx, insertMessageSQL, sender, receiver, content, ts.UTC()).Scan(&id); err != nil {
		return "", unavailable("insert message", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// Query implements MessageLog.
func (l *PostgresLog) Query(ctx context.Context, userA, userB string) ([]Message, error) {
	rows, err := l.db.Query(ctx, conversationSQL, userA, userB)
	if err != nil {
		return nil, unavailable("query conversation", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			id int64
			m  Message
		)
		if err := rows.Scan(&id, &m.Sender, &m.Receiver, &m.Content, &m.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan message row")
		}
		m.ID = strconv.FormatInt(id, 10)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read conversation", err)
	}
	return out, nil
}

// PostgresDirectory reads display info from the users table.
type PostgresDirectory struct {
	db pgxDB
}

// NewPostgresDirectory wraps a pool.
func NewPostgresDirectory(db pgxDB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// LookupDisplayInfo implements identity.Directory.
func (d *PostgresDirectory) LookupDisplayInfo(ctx context.Context, userID string) (identity.DisplayInfo, error) {
	var u identity.DisplayInfo
	err := d.db.QueryRow(ctx, userSQL, userID).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.DisplayInfo{}, errors.Wrapf(identity.ErrNotFound, "user %q", userID)
	}
	if err != nil {
		return identity.DisplayInfo{}, errors.Wrap(err, "lookup user")
	}
	return u, nil
}
