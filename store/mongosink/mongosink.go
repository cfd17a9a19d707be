// Package mongosink implements the evidence/vector-index advisory Sink on
// go.mongodb.org/mongo-driver, the client the pack's worker service uses
// for its report and email-body adapters.
package mongosink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chittyos/chittyrouter-sub005/capability"
)

// Connect dials MongoDB and verifies connectivity with a bounded Ping,
// mirroring the pack's NewClient helper.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second)

	client, err := mongo.Connect(cctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongosink.Connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		return nil, fmt.Errorf("mongosink.Connect: ping: %w", err)
	}
	return client, nil
}

type objectDoc struct {
	Key         string    `bson:"_id"`
	MessageID   string    `bson:"message_id"`
	From        string    `bson:"from_addr"`
	To          string    `bson:"to_addr"`
	Subject     string    `bson:"subject"`
	ContentHash string    `bson:"content_hash"`
	SizeBytes   int64     `bson:"size_bytes"`
	StoredAt    time.Time `bson:"stored_at"`
	ExpiresAt   time.Time `bson:"expires_at"`
	Content     []byte    `bson:"content,omitempty"`
}

// Sink is the evidence-collection advisory Sink: it stores a full-content
// copy alongside metadata for case-evidence archival/discoverability and
// relies on a MongoDB TTL index on expires_at for expiry, rather than a
// janitor goroutine.
type Sink struct {
	coll *mongo.Collection
}

// New builds a Sink over the given collection. EnsureIndexes must be
// called once per database to install the TTL index.
func New(coll *mongo.Collection) *Sink {
	return &Sink{coll: coll}
}

// EnsureIndexes creates the TTL index on expires_at, the Mongo-native
// analogue of sqlitesink's Janitor sweep.
func (s *Sink) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

func (s *Sink) Name() string             { return "evidence" }
func (s *Sink) AcceptsFullContent() bool { return true }
func (s *Sink) SupportsTTL() bool        { return true }

// Put upserts the evidence document.
func (s *Sink) Put(ctx context.Context, key string, value []byte, meta capability.SinkMetadata) error {
	storedAt := meta.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	ttl := meta.TTL
	if ttl <= 0 {
		ttl = 1825 * 24 * time.Hour // evidence default, spec.md §4.6 PDF/legal retention
	}
	doc := objectDoc{
		Key:         key,
		MessageID:   meta.MessageID,
		From:        meta.From,
		To:          meta.To,
		Subject:     meta.Subject,
		ContentHash: meta.ContentHash,
		SizeBytes:   int64(len(value)),
		StoredAt:    storedAt,
		ExpiresAt:   storedAt.Add(ttl),
		Content:     value,
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

// Get reads the stored content back by key.
func (s *Sink) Get(ctx context.Context, key string) ([]byte, error) {
	doc, err := s.find(ctx, key)
	if err != nil {
		return nil, err
	}
	return doc.Content, nil
}

// Head returns stored metadata without the content field.
func (s *Sink) Head(ctx context.Context, key string) (capability.SinkMetadata, error) {
	doc, err := s.find(ctx, key)
	if err != nil {
		return capability.SinkMetadata{}, err
	}
	return capability.SinkMetadata{
		MessageID:   doc.MessageID,
		From:        doc.From,
		To:          doc.To,
		Subject:     doc.Subject,
		ContentHash: doc.ContentHash,
		SizeBytes:   doc.SizeBytes,
		StoredAt:    doc.StoredAt,
		TTL:         doc.ExpiresAt.Sub(doc.StoredAt),
	}, nil
}

// Delete removes a document ahead of its natural TTL expiry.
func (s *Sink) Delete(ctx context.Context, key string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (s *Sink) find(ctx context.Context, key string) (objectDoc, error) {
	var doc objectDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return objectDoc{}, capability.NewError(capability.InputInvalid, "sink_key_not_found", nil)
	}
	return doc, err
}
