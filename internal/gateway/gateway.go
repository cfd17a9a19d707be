// Package gateway wires a gwconfig.Config into a runnable pipeline.Coordinator
// and httpapi.Server, constructing every concrete capability adapter
// (classify/openaicap, idauth, forward, and the store/* sinks).
package gateway

import (
	"context"
	"fmt"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"

	"github.com/chittyos/chittyrouter-sub005/audit"
	"github.com/chittyos/chittyrouter-sub005/capability"
	"github.com/chittyos/chittyrouter-sub005/classify"
	"github.com/chittyos/chittyrouter-sub005/classify/openaicap"
	"github.com/chittyos/chittyrouter-sub005/forward"
	"github.com/chittyos/chittyrouter-sub005/gwconfig"
	"github.com/chittyos/chittyrouter-sub005/httpapi"
	"github.com/chittyos/chittyrouter-sub005/idauth"
	"github.com/chittyos/chittyrouter-sub005/limiter"
	"github.com/chittyos/chittyrouter-sub005/normalize"
	"github.com/chittyos/chittyrouter-sub005/pipeline"
	"github.com/chittyos/chittyrouter-sub005/route"
	"github.com/chittyos/chittyrouter-sub005/store"
	"github.com/chittyos/chittyrouter-sub005/store/graphsink"
	"github.com/chittyos/chittyrouter-sub005/store/mongosink"
	"github.com/chittyos/chittyrouter-sub005/store/pgsink"
	"github.com/chittyos/chittyrouter-sub005/store/redissink"
	"github.com/chittyos/chittyrouter-sub005/store/sqlitesink"
)

// Gateway owns every long-lived resource the Coordinator and Server need,
// so Close can release them in reverse dependency order.
type Gateway struct {
	Config      gwconfig.Config
	Coordinator *pipeline.Coordinator
	Admission   *pipeline.Admission
	Server      *httpapi.Server
	Logger      zerolog.Logger

	hotPool     *sqlitex.Pool
	pgDB        *sqlx.DB
	redis       *redis.Client
	mongoClient *mongo.Client
	neoDriver   neo4j.DriverWithContext
	janitor     *sqlitesink.Janitor
}

// Build constructs a Gateway from cfg. Dependency-unavailable errors at
// startup are the caller's responsibility to map to exit code 69, per
// spec.md §6.
func Build(ctx context.Context, cfg gwconfig.Config, logger zerolog.Logger) (*Gateway, error) {
	gw := &Gateway{Config: cfg, Logger: logger}

	hotPool, err := sqlitesink.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("gateway: sqlitesink open: %w", err)
	}
	gw.hotPool = hotPool
	hotSink := sqlitesink.New("hot_primary", hotPool)
	janitor := sqlitesink.NewJanitor(hotPool)
	janitor.Logf = func(format string, v ...interface{}) { logger.Debug().Msgf(format, v...) }
	go func() { _ = janitor.Run() }()
	gw.janitor = janitor

	auditStore, err := audit.NewSQLiteStore(hotPool)
	if err != nil {
		return nil, fmt.Errorf("gateway: audit store: %w", err)
	}

	var backupSink capability.Sink
	if cfg.Storage.PostgresDSN != "" {
		pgDB, err := pgsink.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("gateway: pgsink open: %w", err)
		}
		gw.pgDB = pgDB
		backupSink = pgsink.New("warm_backup", pgDB)
	}

	var redisStore *redissink.Store
	if cfg.Storage.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		redisStore = redissink.New(redisClient)
		gw.redis = redisClient
	}

	sinks := []capability.Sink{hotSink}
	if backupSink != nil {
		sinks = append(sinks, backupSink)
	}
	if redisStore != nil {
		sinks = append(sinks, redisStore.AsSink())
	}
	if cfg.Storage.MongoURI != "" {
		mongoClient, err := mongosink.Connect(ctx, cfg.Storage.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("gateway: mongosink connect: %w", err)
		}
		gw.mongoClient = mongoClient
		dbName := cfg.Storage.MongoDB
		if dbName == "" {
			dbName = "chittyrouter"
		}
		evidenceSink := mongosink.New(mongoClient.Database(dbName).Collection("evidence"))
		if err := evidenceSink.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("gateway: mongosink indexes: %w", err)
		}
		sinks = append(sinks, evidenceSink)
	}
	if cfg.Storage.Neo4jURL != "" {
		neoDriver, err := graphsink.NewDriver(ctx, cfg.Storage.Neo4jURL, cfg.Storage.Neo4jUser, cfg.Storage.Neo4jPass)
		if err != nil {
			return nil, fmt.Errorf("gateway: graphsink connect: %w", err)
		}
		gw.neoDriver = neoDriver
		graphSink := graphsink.New(neoDriver, "")
		if err := graphSink.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("gateway: graphsink indexes: %w", err)
		}
		sinks = append(sinks, graphSink)
	}
	sinkManager := store.NewManager(sinks...)

	var classifier capability.Classifier
	if cfg.Classifier.Provider == "openai" && cfg.Classifier.APIKey != "" {
		client := openaicap.New(cfg.Classifier.APIKey, cfg.Classifier.Model)
		var cache classify.Cache
		if redisStore != nil {
			cache = redisStore
		}
		adapter := classify.NewAdapter(client, cache, logger)
		adapter.Timeout = cfg.ClassifierTimeout()
		classifier = adapter
	}

	var idAuthority capability.IdAuthority
	switch {
	case cfg.IdAuthority.TokenURL != "":
		idAuthority = idauth.New(cfg.IdAuthority.ClientID, cfg.IdAuthority.ClientSecret, cfg.IdAuthority.TokenURL, cfg.IdAuthority.Scopes)
	case cfg.AllowAnonymous:
		idAuthority = idauth.AllowAnonymousAuthority{}
	}

	var lim *limiter.Limiter
	var forwardDedup route.ForwardDedup
	if redisStore != nil {
		lim = limiter.New(redisStore, limiter.Limits{
			PerSenderHourLimit: cfg.PerSenderHourLimit,
			PerDomainHourLimit: cfg.PerDomainHourLimit,
			DedupTTL:           cfg.DedupTTL(),
		})
		forwardDedup = redisStore
	}

	filer := iox.NewFiler(0)
	meter := otel.Meter("chittyrouter")
	metrics, err := audit.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("gateway: metrics: %w", err)
	}
	auditLog := audit.New(auditStore, auditStore, logger)

	coordCfg := pipeline.Config{
		Tables: cfg.Tables(),
		Limits: normalize.Limits{
			MaxEnvelopeBytes:   cfg.MaxEnvelopeBytes,
			MaxAttachmentBytes: cfg.MaxAttachmentBytes,
			PreviewLen:         cfg.ContentTruncateLength,
		},
		NormalizeCaps: normalize.Capabilities{
			Filer:       filer,
			IDAuthority: idAuthority,
			AllowAnon:   cfg.AllowAnonymous,
		},
		Limiter:           lim,
		Classifier:        classifier,
		Forwarder:         forward.NewSMTPForwarder(cfg.LocalHostname, cfg.ForwardFromAddr),
		ForwardDedup:      forwardDedup,
		SinkManager:       sinkManager,
		SinkTTLOverrides:  cfg.KindTTLOverridesByKind(),
		Audit:             auditLog,
		Metrics:           metrics,
		DefaultRoute:      cfg.DefaultRoute,
		RetainFullContent: cfg.RetainFullContent,
		Deadline:          cfg.PipelineDeadline(),
	}
	gw.Coordinator = pipeline.New(coordCfg)
	gw.Admission = pipeline.NewAdmission(cfg.MaxInflight)
	gw.Server = httpapi.New(gw.Coordinator, gw.Admission, cfg.HTTP.AdmissionRatePerMin)

	return gw, nil
}

// Close releases background resources (janitor, database handles, Redis
// client) in reverse dependency order.
func (g *Gateway) Close(ctx context.Context) error {
	if g.janitor != nil {
		_ = g.janitor.Shutdown(ctx)
	}
	if g.neoDriver != nil {
		_ = g.neoDriver.Close(ctx)
	}
	if g.mongoClient != nil {
		_ = g.mongoClient.Disconnect(ctx)
	}
	if g.redis != nil {
		_ = g.redis.Close()
	}
	if g.pgDB != nil {
		_ = g.pgDB.Close()
	}
	if g.hotPool != nil {
		_ = g.hotPool.Close()
	}
	return nil
}
