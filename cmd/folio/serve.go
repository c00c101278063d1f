package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"folio/api/db"
	"folio/api/internal/app"
	"folio/api/internal/media"
	"folio/api/internal/metadata"
	"folio/api/internal/search"
	"folio/api/internal/session"
	"folio/api/internal/store"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and public pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags.load(), skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply pending migrations on start")
	return cmd
}

func openDatabase(ctx context.Context, rt runtime) (*sql.DB, error) {
	conn, err := store.Open(ctx, rt.cfg.DatabaseURL, store.DefaultPoolOptions())
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return conn, nil
}

func migrateUp(ctx context.Context, rt runtime, conn *sql.DB) error {
	if dir := strings.TrimSpace(rt.cfg.MigrationsDir); dir != "" {
		return store.ApplyMigrationsDir(ctx, conn, dir, rt.logger)
	}
	return store.ApplyMigrations(ctx, conn, db.Migrations(), rt.logger)
}

func runServe(ctx context.Context, rt runtime, skipMigrate bool) error {
	cfg, logger := rt.cfg, rt.logger

	conn, err := openDatabase(ctx, rt)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !skipMigrate {
		if err := migrateUp(ctx, rt, conn); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}

	dataStore := store.NewPostgresStore(conn)

	redisStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer redisStore.Close()

	var primary search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		primary = meiliClient
	}
	pgfts := search.NewPgFTS(conn)
	searchService := search.NewService(primary, pgfts, pgfts, logger)
	defer searchService.Wait()
	if primary != nil {
		go func() {
			count, err := searchService.ReindexAll(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("search reindex failed")
				return
			}
			logger.Info().Int("records", count).Msg("search index rebuilt")
		}()
	}

	var mediaService *media.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := media.NewMinioStore(media.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MediaPublicURL,
		})
		if err != nil {
			return err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", cfg.MinioBucket).Msg("image uploads disabled")
		} else {
			mediaService = media.NewService(objects, cfg.MaxUploadBytes, logger)
		}
	}

	service := app.New(cfg, app.Deps{
		Store:    dataStore,
		Sessions: redisStore,
		Media:    mediaService,
		Metadata: metadata.NewService(metadata.Options{APIURL: cfg.MetadataAPIURL, Timeout: cfg.MetadataTimeout}, logger),
		Search:   searchService,
		Logger:   logger,
	})

	httpServer, err := app.NewHTTPServer(service, cfg.CORSOrigin)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("version", version).Msg("folio listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	return nil
}
