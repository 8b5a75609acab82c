package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tunecanon/internal/app"
	"tunecanon/internal/config"
	"tunecanon/internal/server"
	"tunecanon/internal/util"
	"tunecanon/pkg/catalog"
	"tunecanon/pkg/enrich"
	"tunecanon/pkg/queue"
	"tunecanon/pkg/storage"
	"tunecanon/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}

	musicbrainz := catalog.NewMusicBrainzClient(cfg.MusicBrainzBaseURL, cfg.CoverArtBaseURL, cfg.UpstreamUserAgent)
	discogs := catalog.NewDiscogsClient(cfg.DiscogsBaseURL, cfg.DiscogsToken)

	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Name:     cfg.QueueName,
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	var artwork storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		artwork, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
	} else {
		slog.Warn("no minio endpoint configured, artwork caching disabled")
	}

	appCore, err := app.New(app.Config{
		Store:            dataStore,
		MusicBrainz:      musicbrainz,
		Discogs:          discogs,
		Dispatcher:       enrich.NewDispatcher(jobQueue),
		Artwork:          artwork,
		DailyMaxAttempts: cfg.DailyChallengeTries,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	worker, err := enrich.NewWorker(enrich.WorkerConfig{
		Store:       dataStore,
		MusicBrainz: musicbrainz,
		Discogs:     discogs,
		Artwork:     artwork,
		Provenance:  appCore.ProvenanceLogger(),
	})
	if err != nil {
		log.Fatalf("failed to init worker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobQueue.Start(ctx, cfg.QueueWorkers, worker.Handle)

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenSecret:    []byte(cfg.InternalTokenSecret),
		AllowedIssuers: strings.Split(cfg.InternalTokenIssuers, ","),
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("resolver server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
