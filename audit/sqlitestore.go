package audit

import (
	"context"
	"encoding/json"
	"time"

	"crawshaw.io/sqlite/sqlitex"
)

const ringSchema = `
CREATE TABLE IF NOT EXISTS AuditRings (
	Name    TEXT PRIMARY KEY,
	Data    TEXT NOT NULL,
	Version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS AuditStats (
	ID      INTEGER PRIMARY KEY CHECK (ID = 1),
	Data    TEXT NOT NULL,
	Version INTEGER NOT NULL
);
`

// SQLiteStore implements Rings and StatsStore as single versioned rows in
// the HOT-tier database, the same compare-and-swap-by-version-column
// idiom spilldb/db uses for its settings table.
type SQLiteStore struct {
	pool *sqlitex.Pool
}

// NewSQLiteStore migrates the ring/stats tables into an already-open
// sqlitesink pool and returns a Store over it.
func NewSQLiteStore(pool *sqlitex.Pool) (*SQLiteStore, error) {
	conn := pool.Get(context.Background())
	if conn == nil {
		return nil, context.Canceled
	}
	defer pool.Put(conn)
	if err := sqlitex.ExecScript(conn, ringSchema); err != nil {
		return nil, err
	}
	return &SQLiteStore{pool: pool}, nil
}

// LoadRing implements Rings. A missing row reports version 0 and an empty
// ring, which SaveRing treats as "insert".
func (s *SQLiteStore) LoadRing(ctx context.Context, name string) ([]LogEntry, int64, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return nil, 0, context.Canceled
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT Data, Version FROM AuditRings WHERE Name = $name;`)
	stmt.SetText("$name", name)
	found, err := stmt.Step()
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return nil, 0, nil
	}
	data := stmt.GetText("Data")
	version := stmt.GetInt64("Version")
	stmt.Reset()

	var entries []LogEntry
	if data != "" {
		if err := json.Unmarshal([]byte(data), &entries); err != nil {
			return nil, 0, err
		}
	}
	return entries, version, nil
}

// SaveRing implements Rings. ttl is accepted for interface symmetry with
// redissink's native-TTL sinks; the ring table has no row expiry of its
// own since recent_log/urgent_items are rewritten on every append.
func (s *SQLiteStore) SaveRing(ctx context.Context, name string, entries []LogEntry, version int64, ttl time.Duration) (bool, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return false, context.Canceled
	}
	defer s.pool.Put(conn)

	raw, err := json.Marshal(entries)
	if err != nil {
		return false, err
	}

	if version == 0 {
		stmt := conn.Prep(`INSERT INTO AuditRings (Name, Data, Version) VALUES ($name, $data, 1)
			ON CONFLICT(Name) DO NOTHING;`)
		stmt.SetText("$name", name)
		stmt.SetText("$data", string(raw))
		if _, err := stmt.Step(); err != nil {
			return false, err
		}
		return conn.Changes() > 0, nil
	}

	stmt := conn.Prep(`UPDATE AuditRings SET Data = $data, Version = Version + 1 WHERE Name = $name AND Version = $version;`)
	stmt.SetText("$name", name)
	stmt.SetText("$data", string(raw))
	stmt.SetInt64("$version", version)
	if _, err := stmt.Step(); err != nil {
		return false, err
	}
	return conn.Changes() > 0, nil
}

// LoadStats implements StatsStore.
func (s *SQLiteStore) LoadStats(ctx context.Context) (Stats, int64, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return Stats{}, 0, context.Canceled
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep(`SELECT Data, Version FROM AuditStats WHERE ID = 1;`)
	found, err := stmt.Step()
	if err != nil {
		return Stats{}, 0, err
	}
	if !found {
		return Stats{}, 0, nil
	}
	data := stmt.GetText("Data")
	version := stmt.GetInt64("Version")
	stmt.Reset()

	var st Stats
	if data != "" {
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return Stats{}, 0, err
		}
	}
	return st, version, nil
}

// SaveStats implements StatsStore.
func (s *SQLiteStore) SaveStats(ctx context.Context, st Stats, version int64, ttl time.Duration) (bool, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return false, context.Canceled
	}
	defer s.pool.Put(conn)

	raw, err := json.Marshal(st)
	if err != nil {
		return false, err
	}

	if version == 0 {
		stmt := conn.Prep(`INSERT INTO AuditStats (ID, Data, Version) VALUES (1, $data, 1)
			ON CONFLICT(ID) DO NOTHING;`)
		stmt.SetText("$data", string(raw))
		if _, err := stmt.Step(); err != nil {
			return false, err
		}
		return conn.Changes() > 0, nil
	}

	stmt := conn.Prep(`UPDATE AuditStats SET Data = $data, Version = Version + 1 WHERE ID = 1 AND Version = $version;`)
	stmt.SetText("$data", string(raw))
	stmt.SetInt64("$version", version)
	if _, err := stmt.Step(); err != nil {
		return false, err
	}
	return conn.Changes() > 0, nil
}
