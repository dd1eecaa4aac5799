package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3/option"

	pchttp "github.com/Strob0t/projectchat/internal/adapter/http"
	"github.com/Strob0t/projectchat/internal/adapter/litellm"
	cfnats "github.com/Strob0t/projectchat/internal/adapter/nats"
	"github.com/Strob0t/projectchat/internal/adapter/natskv"
	cfotel "github.com/Strob0t/projectchat/internal/adapter/otel"
	"github.com/Strob0t/projectchat/internal/adapter/postgres"
	"github.com/Strob0t/projectchat/internal/adapter/ristretto"
	"github.com/Strob0t/projectchat/internal/adapter/sqlite"
	"github.com/Strob0t/projectchat/internal/adapter/tiered"
	"github.com/Strob0t/projectchat/internal/config"
	"github.com/Strob0t/projectchat/internal/port/broadcast"
	"github.com/Strob0t/projectchat/internal/port/cache"
	"github.com/Strob0t/projectchat/internal/port/database"
	"github.com/Strob0t/projectchat/internal/resilience"
	"github.com/Strob0t/projectchat/internal/service"
)

// app is the wired service graph shared by serve and chat.
type app struct {
	cfg      *config.Config
	store    database.Store
	queue    *cfnats.Queue // nil when NATS is disabled
	llm      *litellm.Client
	projects *service.ProjectService
	tools    *service.ToolRegistry
	convs    *service.ConversationService
	closers  []func()
}

// newApp connects infrastructure and builds the services. hub may be nil.
// On error everything opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config, hub broadcast.Broadcaster) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// --- Infrastructure ---

	if a.store, err = a.openStore(ctx); err != nil {
		return nil, err
	}

	if cfg.NATS.Enabled {
		queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.queue = queue
		a.onClose(func() { _ = queue.Close() })
	}

	projectCache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}

	var httpClient *http.Client
	if cfg.OTEL.Enabled {
		httpClient = cfotel.HTTPClient(&http.Client{})
	}

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	var gwOpts []option.RequestOption
	if httpClient != nil {
		gwOpts = append(gwOpts, option.WithHTTPClient(httpClient))
	}
	gateway := litellm.NewGateway(cfg.LiteLLM, breaker, gwOpts...)

	a.llm = litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)
	if httpClient != nil {
		a.llm.SetHTTPClient(cfotel.HTTPClient(&http.Client{Timeout: 10 * time.Second}))
	}

	// --- Services ---

	a.projects = service.NewProjectService(a.store, projectCache, cfg.Cache.TTL)
	a.tools = service.NewProjectToolRegistry(a.projects)
	a.convs = service.NewConversationService(a.store, a.projects, gateway, a.tools, hub, cfg.Orchestrator)
	if a.queue != nil {
		a.convs.SetPublisher(a.queue)
	}
	if cfg.OTEL.Enabled {
		metrics, err := cfotel.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		a.convs.SetMetrics(metrics)
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (database.Store, error) {
	switch a.cfg.Storage.Driver {
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, a.cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		a.onClose(func() { _ = s.Close() })
		slog.Info("sqlite opened", "path", a.cfg.SQLite.Path)
		return s, nil
	default:
		pool, err := postgres.NewPool(ctx, a.cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.onClose(pool.Close)
		slog.Info("postgres connected")

		if err := postgres.RunMigrations(ctx, a.cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")
		return postgres.NewStore(pool), nil
	}
}

// openCache builds the project cache: ristretto in front of a NATS KV bucket,
// or ristretto alone without NATS.
func (a *app) openCache(ctx context.Context) (cache.Cache, error) {
	l1, err := ristretto.New(a.cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	a.onClose(l1.Close)

	var l2 cache.Cache
	if a.queue != nil {
		kv, err := a.queue.KeyValue(ctx, a.cfg.Cache.L2Bucket, a.cfg.Cache.L2TTL)
		if err != nil {
			return nil, fmt.Errorf("l2 cache: %w", err)
		}
		l2 = natskv.New(kv)
	}
	return tiered.New(l1, l2, a.cfg.Cache.TTL), nil
}

// readinessChecks lists the probes behind /health/ready.
func (a *app) readinessChecks() []pchttp.Check {
	checks := []pchttp.Check{
		{Name: a.cfg.Storage.Driver, Probe: a.store.Ping},
		{Name: "litellm", Probe: a.llm.Health},
	}
	if a.queue != nil {
		checks = append(checks, pchttp.Check{Name: "nats", Probe: func(context.Context) error {
			if !a.queue.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}})
	}
	return checks
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
