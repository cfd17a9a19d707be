// Package pgsink implements the WARM/COLD/ARCHIVE-tier Sink on
// jmoiron/sqlx over jackc/pgx/v5, the sqlx-over-pgx persistence idiom the
// pack's worker service uses for its attachment and settings adapters.
package pgsink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/chittyos/chittyrouter-sub005/capability"
)

const schema = `
CREATE TABLE IF NOT EXISTS gateway_objects (
	key          TEXT PRIMARY KEY,
	message_id   TEXT NOT NULL,
	from_addr    TEXT,
	to_addr      TEXT,
	subject      TEXT,
	content_hash TEXT,
	size_bytes   BIGINT,
	stored_at    TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	content      BYTEA
);
CREATE INDEX IF NOT EXISTS gateway_objects_expires_at_idx ON gateway_objects(expires_at);
`

// Open connects to Postgres via pgx's database/sql driver and runs the
// schema migration.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgsink.Open: connect: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(30 * time.Second)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgsink.Open: schema: %w", err)
	}
	return db, nil
}

// Sink is a durable metadata-grade capability.Sink. name distinguishes
// the warm/cold/archive role when several Sinks share one database.
type Sink struct {
	name string
	db   *sqlx.DB
}

// New builds a Sink over an already-Open'd *sqlx.DB.
func New(name string, db *sqlx.DB) *Sink {
	return &Sink{name: name, db: db}
}

func (s *Sink) Name() string             { return s.name }
func (s *Sink) AcceptsFullContent() bool { return true }
func (s *Sink) SupportsTTL() bool        { return false } // expires_at is advisory; repair/reaper enforces it

// Put upserts the object row.
func (s *Sink) Put(ctx context.Context, key string, value []byte, meta capability.SinkMetadata) error {
	storedAt := meta.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	ttl := meta.TTL
	if ttl <= 0 {
		ttl = 365 * 24 * time.Hour
	}

	const q = `
		INSERT INTO gateway_objects (
			key, message_id, from_addr, to_addr, subject, content_hash, size_bytes, stored_at, expires_at, content
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (key) DO UPDATE SET
			message_id = EXCLUDED.message_id, from_addr = EXCLUDED.from_addr, to_addr = EXCLUDED.to_addr,
			subject = EXCLUDED.subject, content_hash = EXCLUDED.content_hash, size_bytes = EXCLUDED.size_bytes,
			stored_at = EXCLUDED.stored_at, expires_at = EXCLUDED.expires_at, content = EXCLUDED.content;`
	_, err := s.db.ExecContext(ctx, q,
		key, meta.MessageID, meta.From, meta.To, meta.Subject, meta.ContentHash,
		int64(len(value)), storedAt, storedAt.Add(ttl), value)
	if err != nil {
		return fmt.Errorf("pgsink: put %q: %w", key, err)
	}
	return nil
}

// Get reads the stored content back by key.
func (s *Sink) Get(ctx context.Context, key string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM gateway_objects WHERE key = $1;`, key).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, capability.NewError(capability.InputInvalid, "sink_key_not_found", nil)
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

type objectRow struct {
	MessageID   string    `db:"message_id"`
	FromAddr    string    `db:"from_addr"`
	ToAddr      string    `db:"to_addr"`
	Subject     string    `db:"subject"`
	ContentHash string    `db:"content_hash"`
	SizeBytes   int64     `db:"size_bytes"`
	StoredAt    time.Time `db:"stored_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// Head returns stored metadata without reading the content column.
func (s *Sink) Head(ctx context.Context, key string) (capability.SinkMetadata, error) {
	var row objectRow
	err := s.db.GetContext(ctx, &row, `
		SELECT message_id, from_addr, to_addr, subject, content_hash, size_bytes, stored_at, expires_at
		FROM gateway_objects WHERE key = $1;`, key)
	if err == sql.ErrNoRows {
		return capability.SinkMetadata{}, capability.NewError(capability.InputInvalid, "sink_key_not_found", nil)
	}
	if err != nil {
		return capability.SinkMetadata{}, err
	}
	return capability.SinkMetadata{
		MessageID:   row.MessageID,
		From:        row.FromAddr,
		To:          row.ToAddr,
		Subject:     row.Subject,
		ContentHash: row.ContentHash,
		SizeBytes:   row.SizeBytes,
		StoredAt:    row.StoredAt,
		TTL:         row.ExpiresAt.Sub(row.StoredAt),
	}, nil
}

// Delete removes a stored object ahead of its natural TTL expiry.
func (s *Sink) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM gateway_objects WHERE key = $1;`, key)
	return err
}

// Reap deletes rows past expires_at, run on a schedule by the owning
// component since Postgres has no native per-row TTL.
func (s *Sink) Reap(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM gateway_objects WHERE expires_at < now();`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
