package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gwi.com/journal-companion/internal/api"
	"gwi.com/journal-companion/internal/core"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the embedding worker and journal watcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
	return cmd
}

func serve(parent context.Context, a *app) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// First pass right away so entries indexed while the server was down get embedded.
	a.worker.RunOnce(ctx)
	if err := a.worker.Start(ctx); err != nil {
		return err
	}
	defer a.worker.Stop()

	var background sync.WaitGroup
	if a.cfg.Watch {
		watcher := core.NewJournalWatcher(a.store.JournalDir(), a.journal, a.cfg.WatchDebounce, a.logger)
		background.Add(1)
		go func() {
			defer background.Done()
			if err := watcher.Run(ctx); err != nil {
				a.logger.Error("journal watcher stopped", "error", err)
			}
		}()
	}

	apiHandler := api.NewAPIHandler(a.journal, a.chat, a.rag, api.HandlerOptions{Retrieval: a.retrieval}, a.logger)
	router := api.NewRouter(apiHandler, api.RouterOptions{MaxBodyBytes: a.cfg.MaxBodyBytes})

	serverAddr := fmt.Sprintf(":%s", a.cfg.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-parent.Done():
	case err := <-serverErr:
		return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
	}
	a.logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	cancel()
	background.Wait()
	// Titles still being generated are saved before the store closes.
	a.chat.Wait()
	a.logger.Info("server exited gracefully")
	return nil
}
