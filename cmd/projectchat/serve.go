package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	pchttp "github.com/Strob0t/projectchat/internal/adapter/http"
	pcmcp "github.com/Strob0t/projectchat/internal/adapter/mcp"
	cfotel "github.com/Strob0t/projectchat/internal/adapter/otel"
	"github.com/Strob0t/projectchat/internal/adapter/ws"
	"github.com/Strob0t/projectchat/internal/config"
	"github.com/Strob0t/projectchat/internal/logger"
	"github.com/Strob0t/projectchat/internal/middleware"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"storage", cfg.Storage.Driver,
		"nats", cfg.NATS.Enabled,
		"otel", cfg.OTEL.Enabled,
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		otelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(otelCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin)...)
	defer hub.Close()

	a, err := newApp(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	hub.SetAuthorizer(func(r *http.Request, projectID string) error {
		_, err := a.projects.GetOwned(r.Context(), projectID, middleware.UserIDFromContext(r.Context()))
		return err
	})

	// --- HTTP ---

	handlers := &pchttp.Handlers{
		Projects:      a.projects,
		Conversations: a.convs,
		Tools:         a.tools,
		LiteLLM:       a.llm,
		Checks:        a.readinessChecks(),
	}

	opts := pchttp.RouteOptions{WebSocket: hub.HandleWS}
	if a.queue != nil {
		kv, err := a.queue.KeyValue(ctx, cfg.NATS.IdempotencyBucket, cfg.NATS.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("idempotency kv: %w", err)
		}
		opts.Idempotency = middleware.Idempotency(kv)
	}
	if cfg.MCP.Enabled {
		mcpServer := pcmcp.NewServer(pcmcp.ServerConfig{Name: "projectchat", Version: version}, pcmcp.ServerDeps{
			Tools:       a.tools,
			Projects:    a.projects,
			Transcripts: a.convs,
			UserID:      middleware.UserIDFromContext,
		})
		opts.MCP = pcmcp.AuthMiddleware(cfg.MCP.APIKey, mcpServer.Handler())
		slog.Info("mcp server enabled", "path", "/mcp")
	}

	r := chi.NewRouter()
	if cfg.OTEL.Enabled {
		r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	}
	r.Use(pchttp.SecurityHeaders)
	r.Use(pchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(pchttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Identity(cfg.Auth.Enabled, cfg.Auth.DefaultUser))
	if cfg.Rate.RequestsPerSecond > 0 {
		rl := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
		stopCleanup := rl.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
		defer stopCleanup()
		r.Use(rl.Handler)
	}
	pchttp.MountRoutes(r, handlers, opts)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// writeTimeout bounds one request. A turn makes up to MaxToolRounds+1
// gateway calls plus tool execution.
func writeTimeout(cfg *config.Config) time.Duration {
	calls := time.Duration(cfg.Orchestrator.MaxToolRounds + 1)
	return calls*cfg.LiteLLM.RequestTimeout + 30*time.Second
}

// originPatterns turns the CORS origin into WebSocket origin patterns. A
// wildcard or unparsable origin yields none, which accepts any origin.
func originPatterns(origin string) []string {
	if origin == "" || origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
