package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chittyos/chittyrouter-sub005/gwconfig"
)

// TestBuildSQLiteOnlyAndClose exercises the wiring path with only the
// always-available HOT tier configured: no Postgres/Redis/Mongo/Neo4j DSN
// set, so classifier, forwarding dedup, and rate-limit counters all stay
// nil, matching a minimal single-node deployment.
func TestBuildSQLiteOnlyAndClose(t *testing.T) {
	cfg := gwconfig.Defaults()
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "gateway.sqlite3")

	gw, err := Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if gw.Coordinator == nil || gw.Server == nil {
		t.Fatal("Build returned a Gateway missing its Coordinator or Server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBuildRejectsUnopenableSQLitePath(t *testing.T) {
	cfg := gwconfig.Defaults()
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "missing-dir", "nested", "gateway.sqlite3")

	if _, err := Build(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("want an error when the sqlite directory does not exist")
	}
}
