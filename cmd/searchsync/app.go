package main

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/config"
	"github.com/lagoon-cms/searchsync/internal/cron"
	"github.com/lagoon-cms/searchsync/internal/domain"
	"github.com/lagoon-cms/searchsync/internal/esclient"
	"github.com/lagoon-cms/searchsync/internal/events"
	"github.com/lagoon-cms/searchsync/internal/export"
	"github.com/lagoon-cms/searchsync/internal/index"
	"github.com/lagoon-cms/searchsync/internal/indexer"
	logpkg "github.com/lagoon-cms/searchsync/internal/logger"
	"github.com/lagoon-cms/searchsync/internal/queue"
	"github.com/lagoon-cms/searchsync/internal/search"
	"github.com/lagoon-cms/searchsync/internal/store"
)

const hydratorCacheSize = 1024

// app is the assembled application graph.
type app struct {
	cfg        config.Config
	logger     *zap.Logger
	db         *sql.DB
	store      *store.Store
	queue      *queue.DeleteQueue
	gateway    *esclient.Gateway
	indexes    *index.Manager
	indexer    *indexer.Service
	searcher   *search.Service
	dispatcher *events.Dispatcher
	reconciler *cron.Reconciler
	scheduler  *cron.Scheduler
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}

// buildApp loads configuration and wires every service together.
func buildApp(ctx context.Context) (*app, error) {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		return nil, err
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	st := store.New(db)
	dq := queue.New(db)
	gateway := esclient.New(cfg.OpenSearch, logger)

	indexes := index.NewManager(gateway, cfg.OpenSearch.IndexPrefix, cfg.OpenSearch.SearchAlias, nil, logger)

	builder := export.NewBuilder(logger,
		export.MetadataEnricher{
			Names:     export.DefaultMetadataNames(),
			TagFields: []string{"interests", "skills"},
		},
		export.CounterEnricher{Source: st},
		export.RelationshipEnricher{Source: st, Names: cfg.Indexing.RelationshipNames},
	)

	sync := indexer.NewService(st, gateway, builder, dq, indexer.Options{
		WriteAlias:    indexes.WriteAlias(),
		Pairs:         searchablePairs(cfg.Indexing.Types),
		ScanBatchSize: cfg.Indexing.ScanBatchSize,
		BulkBatchSize: cfg.Indexing.IndexBatchSize,
		Guards:        []indexer.Guard{indexer.BannedUserGuard()},
	}, logger)

	hydrator, err := search.NewCachedHydrator(st, hydratorCacheSize)
	if err != nil {
		return nil, err
	}

	searcher := search.NewService(gateway, hydrator, indexes.ReadAlias(),
		cfg.Search.TypeBoosts,
		search.Decay{
			TimeField:  cfg.Search.Decay.TimeField,
			OffsetDays: cfg.Search.Decay.OffsetDays,
			ScaleDays:  cfg.Search.Decay.ScaleDays,
			Decay:      cfg.Search.Decay.Decay,
		},
		logger)

	dispatcher := events.NewDispatcher(st, sync, hydrator, logger)

	reconciler := cron.NewReconciler(gateway, st, dq, indexes.ReadAlias(), searchablePairs(cfg.Indexing.Types), logger)

	scheduler := cron.NewScheduler(sync, reconciler,
		cron.SettingGate{Settings: st, Enabled: cfg.Indexing.SyncEnabled},
		time.Duration(cfg.Indexing.MaxRunTimeSec)*time.Second,
		cfg.Indexing.CronValidate,
		logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		store:      st,
		queue:      dq,
		gateway:    gateway,
		indexes:    indexes,
		indexer:    sync,
		searcher:   searcher,
		dispatcher: dispatcher,
		reconciler: reconciler,
		scheduler:  scheduler,
	}, nil
}

func storeEnsureSchema(ctx context.Context, a *app) error {
	return store.EnsureSchema(ctx, a.db)
}

// searchablePairs parses "type" and "type.subtype" entries.
func searchablePairs(types []string) []domain.TypeSubtype {
	if len(types) == 0 {
		types = []string{"user", "group", "object.blog", "object.file", "object.page"}
	}
	out := make([]domain.TypeSubtype, 0, len(types))
	for _, t := range types {
		if i := strings.IndexByte(t, '.'); i >= 0 {
			out = append(out, domain.TypeSubtype{Type: t[:i], Subtype: t[i+1:]})
			continue
		}
		out = append(out, domain.TypeSubtype{Type: t})
	}
	return out
}
