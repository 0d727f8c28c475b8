package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/argview/server/internal/api"
	"github.com/argview/server/internal/config"
	"github.com/argview/server/internal/session"
	"github.com/spf13/cobra"
)

func newServeCommand(configPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  `Connects to the layout backend and serves sessions over HTTP and websocket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides the config file)")

	return cmd
}

func runServe(configPath string, port int) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	log.Printf("Starting argview server on port %d", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := session.NewRegistry(st.options(cfg), cfg.Server.Title)
	defer registry.CloseAll()

	if cfg.Backend.File != "" {
		s, err := registry.Open(ctx, st.options(cfg).Ref, 0, 0)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", cfg.Backend.File, err)
		}
		log.Printf("Default session %s for %s", s.ID(), cfg.Backend.File)
	}

	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			registry.Reconfigure(next.View, next.Mutations)
			log.Printf("Configuration reloaded from %s", configPath)
		})
		if err != nil {
			log.Printf("Config watch disabled: %v", err)
		}
	}()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
	return nil
}
