package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/triagestack/triage-engine/internal/api"
	"github.com/triagestack/triage-engine/internal/cache"
	"github.com/triagestack/triage-engine/internal/config"
	"github.com/triagestack/triage-engine/internal/evidence"
	"github.com/triagestack/triage-engine/internal/metrics"
	"github.com/triagestack/triage-engine/internal/reasoning"
	"github.com/triagestack/triage-engine/internal/responder"
	"github.com/triagestack/triage-engine/internal/router"
	"github.com/triagestack/triage-engine/internal/store"
	"github.com/triagestack/triage-engine/internal/tools"
	"github.com/triagestack/triage-engine/internal/triage"
	"github.com/triagestack/triage-engine/internal/utils"
)

func main() {
	var configPath string
	var botHandle string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&botHandle, "handle", "triage-bot", "Bot handle used for mention addressing")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting triage-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var remoteCache cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Redis.Enabled && cfg.Cache.Redis.URL != "" {
		provider, err := cache.NewRedisProvider(context.Background(), cfg.Cache.Redis.URL)
		if err != nil {
			logger.Warn("redis cache unavailable, continuing without remote tier", slog.Any("error", err))
		} else {
			remoteCache = provider
			defer provider.Close()
		}
	}
	contextCache := cache.NewContextCache(cfg.Cache.EntryCap, remoteCache)

	repos := make([]evidence.Repo, 0, len(cfg.Evidence.Repos))
	for _, r := range cfg.Evidence.Repos {
		repos = append(repos, evidence.Repo{Name: r.Name, Path: r.Path})
	}
	local := evidence.NewLocalAdapter(repos, cfg.Evidence.MaxFileBytes, utils.ComponentLogger(logger, "evidence"))

	var adapter evidence.Adapter = local
	if cfg.Evidence.Sourcegraph.Endpoint != "" {
		indexed := evidence.NewSourcegraphAdapter(
			cfg.Evidence.Sourcegraph.Endpoint,
			cfg.Evidence.Sourcegraph.Token,
			local.Repos(),
			cfg.Evidence.Sourcegraph.Timeout,
		)
		adapter = evidence.NewLayeredAdapter(indexed, local, utils.ComponentLogger(logger, "evidence"))
	}

	var incidentStore store.Store
	switch cfg.Store.Driver {
	case "sqlite":
		sqliteStore, err := store.NewSQLiteStore(cfg.Store.Path, cfg.Store.HistoryCap)
		if err != nil {
			logger.Error("failed to open sqlite store", slog.Any("error", err))
			os.Exit(1)
		}
		incidentStore = sqliteStore
	default:
		incidentStore = store.NewMemoryStore(cfg.Store.HistoryCap)
	}
	defer incidentStore.Close()

	dispatcher := tools.NewDispatcher(adapter, tools.Budget{
		MaxCalls:       cfg.Reasoning.MaxToolCalls,
		MaxSessionTime: cfg.Reasoning.SessionBudget,
		PerCallTimeout: cfg.Evidence.Sourcegraph.Timeout,
	}, utils.ComponentLogger(logger, "tools"))

	var agent reasoning.Agent
	if cfg.Reasoning.Enabled {
		client := reasoning.NewChatClient(cfg.Reasoning.BaseURL, cfg.Reasoning.APIKey, cfg.Reasoning.Timeout)
		agent = reasoning.NewChatAgent(client, cfg.Reasoning.Model, cfg.Reasoning.MaxToolCalls, utils.ComponentLogger(logger, "reasoning"))
	} else {
		logger.Info("reasoning backend disabled; all jobs take the fallback path")
	}
	fallback := reasoning.NewFallback(cfg.Triage.MaxSnippets, utils.ComponentLogger(logger, "fallback"))

	var replySink responder.Responder
	if cfg.Responder.WebhookURL != "" {
		replySink = responder.NewWebhookResponder(cfg.Responder.WebhookURL, cfg.Responder.Timeout, utils.ComponentLogger(logger, "responder"))
	} else {
		replySink = responder.NewLogResponder(utils.ComponentLogger(logger, "responder"))
	}

	builder := triage.NewContextBuilder(adapter, contextCache, nil, triage.BuilderOptions{
		KeywordLimit:   cfg.Triage.KeywordLimit,
		MaxSnippets:    cfg.Triage.MaxSnippets,
		SnippetContext: cfg.Triage.SnippetContext,
		IncludeCommits: cfg.Evidence.IncludeCommits,
		SearchTTL:      cfg.Cache.SearchTTL,
		ThreadTTL:      cfg.Cache.ThreadTTL,
	}, utils.ComponentLogger(logger, "triage"))

	service := triage.NewService(incidentStore, builder, dispatcher, agent, fallback, replySink, cfg.Workers.JobTimeout, utils.ComponentLogger(logger, "triage"))
	pool := triage.NewPool(service, cfg.Workers.Parallelism, cfg.Workers.QueueDepth, utils.ComponentLogger(logger, "pool"))

	server := api.NewServer(cfg.Server.Address, router.New(botHandle), service, pool, incidentStore, utils.ComponentLogger(logger, "api"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	pool.Close()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("triage-engine stopped")
}
