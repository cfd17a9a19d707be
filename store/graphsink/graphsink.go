// Package graphsink implements the advisory case-graph Sink on
// github.com/neo4j/neo4j-go-driver/v5, grounded on the pack's worker
// service's classification-pattern adapter, which stores/queries the same
// session-per-call, MERGE-on-conflict shape this package uses for case
// nodes and their message edges.
package graphsink

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/chittyos/chittyrouter-sub005/capability"
)

// NewDriver builds and verifies a Neo4j driver connection.
func NewDriver(ctx context.Context, url, username, password string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if username != "" {
		auth = neo4j.BasicAuth(username, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("graphsink.NewDriver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graphsink.NewDriver: verify: %w", err)
	}
	return driver, nil
}

// Sink is the advisory case-graph Sink: it records a CaseMessage node
// linked to its Case node, never the message's full content, so it never
// accepts full content regardless of caller intent.
type Sink struct {
	driver neo4j.DriverWithContext
	dbName string
}

// New builds a Sink over an already-connected driver.
func New(driver neo4j.DriverWithContext, dbName string) *Sink {
	return &Sink{driver: driver, dbName: dbName}
}

func (s *Sink) Name() string             { return "case_graph" }
func (s *Sink) AcceptsFullContent() bool { return false }
func (s *Sink) SupportsTTL() bool        { return false } // advisory graph nodes are retained with their case, not TTL'd

// EnsureIndexes creates the case/message indexes this Sink depends on.
func (s *Sink) EnsureIndexes(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT case_key_unique IF NOT EXISTS FOR (c:Case) REQUIRE c.case_key IS UNIQUE`,
		`CREATE INDEX message_key_idx IF NOT EXISTS FOR (m:CaseMessage) ON (m.key)`,
	}
	for _, q := range queries {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return err
		}
	}
	return nil
}

// Put records a CaseMessage node and its edge to the Case node named by
// meta.Extra["case_key"]. If no case_key is present, Put is a no-op
// success: not every envelope belongs to a case.
func (s *Sink) Put(ctx context.Context, key string, value []byte, meta capability.SinkMetadata) error {
	caseKey := meta.Extra["case_key"]
	if caseKey == "" {
		return nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (c:Case {case_key: $caseKey})
			MERGE (m:CaseMessage {key: $key})
			SET m.message_id = $messageID, m.from_addr = $from, m.to_addr = $to,
				m.subject = $subject, m.stored_at = $storedAt
			MERGE (m)-[:BELONGS_TO]->(c)`,
			map[string]any{
				"caseKey":   caseKey,
				"key":       key,
				"messageID": meta.MessageID,
				"from":      meta.From,
				"to":        meta.To,
				"subject":   meta.Subject,
				"storedAt":  meta.StoredAt.Unix(),
			})
		return nil, err
	})
	return err
}

// Get is unsupported: the case graph is advisory metadata, not content
// storage.
func (s *Sink) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, capability.NewError(capability.InputInvalid, "case_graph_get_unsupported", nil)
}

// Head returns the minimal metadata recorded for a CaseMessage node.
func (s *Sink) Head(ctx context.Context, key string) (capability.SinkMetadata, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rec, err := tx.Run(ctx, `MATCH (m:CaseMessage {key: $key}) RETURN m.message_id, m.from_addr, m.to_addr, m.subject, m.stored_at`,
			map[string]any{"key": key})
		if err != nil {
			return nil, err
		}
		if !rec.Next(ctx) {
			return nil, capability.NewError(capability.InputInvalid, "sink_key_not_found", nil)
		}
		vals := rec.Record().Values
		return capability.SinkMetadata{
			MessageID: fmt.Sprint(vals[0]),
			From:      fmt.Sprint(vals[1]),
			To:        fmt.Sprint(vals[2]),
			Subject:   fmt.Sprint(vals[3]),
			StoredAt:  time.Unix(toInt64(vals[4]), 0),
		}, nil
	})
	if err != nil {
		return capability.SinkMetadata{}, err
	}
	return result.(capability.SinkMetadata), nil
}

// Delete removes a CaseMessage node.
func (s *Sink) Delete(ctx context.Context, key string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `MATCH (m:CaseMessage {key: $key}) DETACH DELETE m`, map[string]any{"key": key})
	})
	return err
}

func toInt64(v any) int64 {
	if i, ok := v.(int64); ok {
		return i
	}
	return 0
}
