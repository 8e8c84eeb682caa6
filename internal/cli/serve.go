package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	utils "uploadflow/internal"
	"uploadflow/internal/s3"
	"uploadflow/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the multipart session server",
		Long: "Serve the file resource used by 'uploadflow upload'. Objects go to S3 when a\n" +
			"bucket is configured and are kept in memory otherwise.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, g)
		},
	}

	cfg := g.cfg
	flags := cmd.Flags()
	flags.StringVar(&cfg.Port, "port", cfg.Port, "Listen port")
	flags.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "Required API key (empty disables auth)")
	flags.StringVar(&cfg.S3Bucket, "bucket", cfg.S3Bucket, "S3 bucket")
	flags.StringVar(&cfg.S3Region, "region", cfg.S3Region, "S3 region")
	flags.StringVar(&cfg.S3Endpoint, "endpoint", cfg.S3Endpoint, "S3-compatible endpoint URL")
	flags.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "Idle lifetime of an upload session")
	flags.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "Maximum open sessions (0 = unlimited)")

	return cmd
}

func newStore(ctx context.Context, g *globalOptions) (server.ObjectStore, error) {
	cfg := g.cfg
	if cfg.S3Bucket == "" {
		g.logger.Warn("No S3 bucket configured, objects are kept in memory")
		return server.NewMemoryStore(), nil
	}
	client, err := s3.NewClient(ctx, cfg.S3Region, cfg.S3Bucket, cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.S3Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return client, nil
}

func runServe(cmd *cobra.Command, g *globalOptions) error {
	cfg := g.cfg
	logger := g.logger

	store, err := newStore(cmd.Context(), g)
	if err != nil {
		return err
	}

	srv := server.New(store, server.Config{
		APIKey:      cfg.APIKey,
		MaxSessions: cfg.MaxSessions,
		SessionTTL:  cfg.SessionTTL,
		Gatherer:    prometheus.DefaultGatherer,
	}, logger)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           srv,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting server 🚀", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	stop := utils.NotifyQuit()
	defer stop()
	select {
	case <-utils.QuitChan:
	case err := <-errc:
		return fmt.Errorf("server failed to start: %w", err)
	}

	logger.Info("Shutting down server... 🛑")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}
