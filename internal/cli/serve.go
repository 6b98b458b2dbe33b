package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"rccrawler/internal/config"
	"rccrawler/internal/crawler"
	"rccrawler/internal/handlers"
	"rccrawler/internal/logging"
	"rccrawler/internal/platform"
	"rccrawler/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "serve the runs and harvests API on PORT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			return Serve(cmd.Context(), cfg)
		},
	}
}

// Serve runs the API until ctx is cancelled. Crawls started through the API
// are cancelled with it and waited for before returning.
func Serve(ctx context.Context, cfg *config.Config) error {
	log := logging.For("server")

	store, err := storage.NewPocketBaseStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	res, err := newCrawlResources(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer res.Close()

	template := res.template
	template.Store = store
	service := crawler.NewService(ctx, platform.NewRegistry(), template)
	defer service.Wait()

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set, starting crawls and cleanups through the API is disabled")
	}

	mux := http.NewServeMux()
	handlers.NewCrawlHandler(store, service, cfg.JWTSecret).Routes(mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
