package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/povchingiz/google-meet-recording/internal/api"
	"github.com/povchingiz/google-meet-recording/internal/capture"
	"github.com/povchingiz/google-meet-recording/internal/config"
	"github.com/povchingiz/google-meet-recording/internal/jobs"
	"github.com/povchingiz/google-meet-recording/internal/orchestrator"
	"github.com/povchingiz/google-meet-recording/internal/store"
)

// Run serves the recording API until ctx is cancelled, then stops accepting
// requests and drains in-flight pipelines.
func Run(ctx context.Context, cfg config.Config) error {
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline, err := BuildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(st, pipeline, OrchestratorOptions(cfg))
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	jobsCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	jobs.NewRunner(orch, jobs.Options{
		OrphanAfter: cfg.OrphanAfter,
		Retention:   cfg.SessionRetention,
	}).Start(jobsCtx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewRouter(cfg, orch),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("meetrec listening on %s capture=%s storage=%s", cfg.ListenAddr, cfg.CaptureProvider, cfg.StorageProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("event=http_shutdown_failed err=%q", err.Error())
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Printf("event=pipeline_drain_incomplete err=%q", err.Error())
	}
	log.Printf("meetrec stopped")
	return nil
}

func OrchestratorOptions(cfg config.Config) orchestrator.Options {
	return orchestrator.Options{
		MaxDurationMinutes:    cfg.MaxDurationMinutes,
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		RecordingsDir:         cfg.RecordingsDir,
		AuthTimeout:           cfg.AuthTimeout,
		JoinTimeout:           cfg.JoinTimeout,
		UploadTimeout:         cfg.UploadTimeout,
		RecordGrace:           cfg.RecordGrace,
	}
}

// openStore uses Postgres when a database URL is configured and the in-memory
// registry otherwise.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Printf("event=store_selected kind=memory")
		return store.NewMemoryStore(), func() {}, nil
	}
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("migrate db: %w", err)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}
	log.Printf("event=store_selected kind=postgres")
	return store.NewPostgresStore(pool), pool.Close, nil
}

// BuildPipeline wires the capture collaborators selected by the capture and
// storage providers.
func BuildPipeline(ctx context.Context, cfg config.Config) (capture.Pipeline, error) {
	fake := capture.NewFake(capture.FakeOptions{
		StageDelay: 500 * time.Millisecond,
		RecordFor:  5 * time.Second,
	})
	p := fake.Pipeline()

	if cfg.CaptureProvider == "live" {
		browser, err := capture.NewChromeBrowser(capture.ChromeOptions{
			Email:    cfg.GmailAddress,
			Password: cfg.GmailPassword,
			Headless: cfg.ChromeHeadless,
		})
		if err != nil {
			return capture.Pipeline{}, fmt.Errorf("init browser: %w", err)
		}
		recorder, err := capture.NewFFmpegRecorder(capture.FFmpegOptions{
			Binary:      cfg.FFmpegBinary,
			InputFormat: cfg.FFmpegFormat,
			InputSource: cfg.FFmpegSource,
		})
		if err != nil {
			return capture.Pipeline{}, fmt.Errorf("init recorder: %w", err)
		}
		p.Authenticator = browser
		p.Joiner = browser
		p.Recorder = recorder
	}

	if cfg.StorageProvider == "s3" {
		uploader, err := capture.NewS3Uploader(ctx, capture.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Prefix:          cfg.S3Prefix,
			UsePathStyle:    cfg.S3UsePathStyle,
			LinkTTL:         cfg.S3LinkTTL,
		})
		if err != nil {
			return capture.Pipeline{}, fmt.Errorf("init s3 uploader: %w", err)
		}
		p.Uploader = uploader
	}
	return p, p.Validate()
}
