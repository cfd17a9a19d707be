// Package sqlitesink implements the HOT-tier Sink on crawshaw.io/sqlite,
// the pool/blob/janitor idiom the pack's mail daemon uses for its primary
// database (spilldb/db), its webcache blob store, and its greylist TTL
// table.
package sqlitesink

import (
	"context"
	"fmt"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"github.com/chittyos/chittyrouter-sub005/capability"
)

const schema = `
CREATE TABLE IF NOT EXISTS HotObjects (
	Key         TEXT PRIMARY KEY,
	MessageID   TEXT NOT NULL,
	FromAddr    TEXT,
	ToAddr      TEXT,
	Subject     TEXT,
	ContentHash TEXT,
	SizeBytes   INTEGER,
	StoredAt    INTEGER NOT NULL, -- unix seconds
	ExpiresAt   INTEGER NOT NULL, -- unix seconds
	Content     BLOB
);
CREATE INDEX IF NOT EXISTS HotObjects_ExpiresAt ON HotObjects(ExpiresAt);
`

// Open creates (or reuses) the on-disk HOT-tier database and runs its
// schema migration, mirroring db.Open/db.Init's WAL-mode, bounded
// cache_size setup.
func Open(dbfile string) (*sqlitex.Pool, error) {
	conn, err := sqlite.OpenConn(dbfile, 0)
	if err != nil {
		return nil, fmt.Errorf("sqlitesink.Open: init open: %v", err)
	}
	if err := initConn(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitesink.Open: init: %v", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("sqlitesink.Open: init close: %v", err)
	}

	pool, err := sqlitex.Open(dbfile, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("sqlitesink.Open: pool: %v", err)
	}
	return pool, nil
}

func initConn(conn *sqlite.Conn) error {
	if err := sqlitex.ExecTransient(conn, `PRAGMA journal_mode=WAL;`, nil); err != nil {
		return err
	}
	if err := sqlitex.ExecTransient(conn, `PRAGMA cache_size=-20000;`, nil); err != nil {
		return err
	}
	return sqlitex.ExecScript(conn, schema)
}

// Sink is the HOT-tier capability.Sink: full content, blob-backed, native
// TTL via a background Janitor sweep.
type Sink struct {
	name string
	pool *sqlitex.Pool
}

// New builds a Sink over an already-Open'd pool. name is the logical sink
// name registered with store.Manager (e.g. "hot_primary", "hot_backup").
func New(name string, pool *sqlitex.Pool) *Sink {
	return &Sink{name: name, pool: pool}
}

func (s *Sink) Name() string             { return s.name }
func (s *Sink) AcceptsFullContent() bool { return true }
func (s *Sink) SupportsTTL() bool        { return true }

// Put writes value as a zero-blob followed by an in-place copy, the same
// two-step insert-then-OpenBlob idiom spilldb/webcache uses to avoid
// holding the whole payload in a single bound parameter.
func (s *Sink) Put(ctx context.Context, key string, value []byte, meta capability.SinkMetadata) (err error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return context.Canceled
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	storedAt := meta.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	ttl := meta.TTL
	if ttl <= 0 {
		ttl = 365 * 24 * time.Hour
	}
	expiresAt := storedAt.Add(ttl)

	stmt := conn.Prep(`
		INSERT INTO HotObjects (
			Key, MessageID, FromAddr, ToAddr, Subject, ContentHash, SizeBytes, StoredAt, ExpiresAt, Content
		) VALUES (
			$key, $messageID, $from, $to, $subject, $contentHash, $sizeBytes, $storedAt, $expiresAt, $content
		)
		ON CONFLICT (Key) DO UPDATE SET
			MessageID=$messageID, FromAddr=$from, ToAddr=$to, Subject=$subject,
			ContentHash=$contentHash, SizeBytes=$sizeBytes, StoredAt=$storedAt,
			ExpiresAt=$expiresAt, Content=$content;`)
	stmt.SetText("$key", key)
	stmt.SetText("$messageID", meta.MessageID)
	stmt.SetText("$from", meta.From)
	stmt.SetText("$to", meta.To)
	stmt.SetText("$subject", meta.Subject)
	stmt.SetText("$contentHash", meta.ContentHash)
	stmt.SetInt64("$sizeBytes", int64(len(value)))
	stmt.SetInt64("$storedAt", storedAt.Unix())
	stmt.SetInt64("$expiresAt", expiresAt.Unix())
	stmt.SetZeroBlob("$content", int64(len(value)))
	if _, err := stmt.Step(); err != nil {
		return err
	}

	rowID := conn.LastInsertRowID()
	blob, err := conn.OpenBlob("", "HotObjects", "Content", rowID, true)
	if err != nil {
		return err
	}
	if _, err := blob.Write(value); err != nil {
		blob.Close()
		return err
	}
	return blob.Close()
}

// Get reads the stored content back by key.
func (s *Sink) Get(ctx context.Context, key string) ([]byte, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return nil, context.Canceled
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT rowid FROM HotObjects WHERE Key = $key;`)
	stmt.SetText("$key", key)
	found, err := stmt.Step()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, capability.NewError(capability.InputInvalid, "sink_key_not_found", nil)
	}
	rowID := stmt.GetInt64("rowid")
	stmt.Reset()

	blob, err := conn.OpenBlob("", "HotObjects", "Content", rowID, false)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	buf := make([]byte, blob.Size())
	if _, err := blob.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Head returns stored metadata without reading the blob content.
func (s *Sink) Head(ctx context.Context, key string) (capability.SinkMetadata, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return capability.SinkMetadata{}, context.Canceled
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT MessageID, FromAddr, ToAddr, Subject, ContentHash, SizeBytes, StoredAt, ExpiresAt
		FROM HotObjects WHERE Key = $key;`)
	stmt.SetText("$key", key)
	found, err := stmt.Step()
	if err != nil {
		return capability.SinkMetadata{}, err
	}
	if !found {
		return capability.SinkMetadata{}, capability.NewError(capability.InputInvalid, "sink_key_not_found", nil)
	}
	meta := capability.SinkMetadata{
		MessageID:   stmt.GetText("MessageID"),
		From:        stmt.GetText("FromAddr"),
		To:          stmt.GetText("ToAddr"),
		Subject:     stmt.GetText("Subject"),
		ContentHash: stmt.GetText("ContentHash"),
		SizeBytes:   stmt.GetInt64("SizeBytes"),
		StoredAt:    time.Unix(stmt.GetInt64("StoredAt"), 0),
		TTL:         time.Unix(stmt.GetInt64("ExpiresAt"), 0).Sub(time.Unix(stmt.GetInt64("StoredAt"), 0)),
	}
	return meta, nil
}

// Delete removes a stored object ahead of its natural TTL expiry, e.g. on
// an explicit erasure request.
func (s *Sink) Delete(ctx context.Context, key string) error {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return context.Canceled
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`DELETE FROM HotObjects WHERE Key = $key;`)
	stmt.SetText("$key", key)
	_, err := stmt.Step()
	return err
}

// Janitor periodically sweeps expired rows, the same ticker-plus-CleanNow
// pattern as spilldb/db.Janitor.
type Janitor struct {
	Logf func(format string, v ...interface{})

	ctx      context.Context
	cancelFn func()
	done     chan struct{}

	pool     *sqlitex.Pool
	cleanNow chan struct{}
}

// NewJanitor builds a Janitor over pool. Call Run in its own goroutine.
func NewJanitor(pool *sqlitex.Pool) *Janitor {
	ctx, cancelFn := context.WithCancel(context.Background())
	return &Janitor{
		Logf:     func(format string, v ...interface{}) {},
		ctx:      ctx,
		cancelFn: cancelFn,
		done:     make(chan struct{}),
		pool:     pool,
		cleanNow: make(chan struct{}),
	}
}

// CleanNow requests an out-of-band sweep; it is a no-op if one is already
// pending.
func (j *Janitor) CleanNow() {
	select {
	case j.cleanNow <- struct{}{}:
	default:
	}
}

// Run blocks, sweeping expired rows every 30 minutes until Shutdown.
func (j *Janitor) Run() error {
	defer close(j.done)

	t := time.NewTicker(30 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-j.ctx.Done():
			return nil
		case <-t.C:
		case <-j.cleanNow:
		}
		if err := j.clean(); err != nil && err != context.Canceled {
			j.Logf("sqlitesink janitor: clean failed: %v", err)
		}
	}
}

// Shutdown stops the sweep loop and waits for it to exit.
func (j *Janitor) Shutdown(ctx context.Context) error {
	j.cancelFn()
	select {
	case <-j.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (j *Janitor) clean() error {
	start := time.Now()
	conn := j.pool.Get(j.ctx)
	if conn == nil {
		return context.Canceled
	}
	defer j.pool.Put(conn)

	stmt := conn.Prep(`DELETE FROM HotObjects WHERE ExpiresAt < $now;`)
	stmt.SetInt64("$now", time.Now().Unix())
	if _, err := stmt.Step(); err != nil {
		return err
	}
	removed := conn.Changes()
	j.Logf("sqlitesink janitor: removed=%d duration=%s", removed, time.Since(start))
	return nil
}
