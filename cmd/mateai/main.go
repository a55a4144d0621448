// MateAI server: ingests team events into searchable memory and answers
// questions over it through a tool-using agent.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/mehdiaksoy/mateai/pkg/adapter"
	slackadapter "github.com/mehdiaksoy/mateai/pkg/adapter/slack"
	"github.com/mehdiaksoy/mateai/pkg/agent"
	"github.com/mehdiaksoy/mateai/pkg/api"
	"github.com/mehdiaksoy/mateai/pkg/config"
	"github.com/mehdiaksoy/mateai/pkg/database"
	"github.com/mehdiaksoy/mateai/pkg/eventlog"
	"github.com/mehdiaksoy/mateai/pkg/ingest"
	"github.com/mehdiaksoy/mateai/pkg/knowledge"
	"github.com/mehdiaksoy/mateai/pkg/llm"
	"github.com/mehdiaksoy/mateai/pkg/metrics"
	"github.com/mehdiaksoy/mateai/pkg/pipeline"
	"github.com/mehdiaksoy/mateai/pkg/promptctx"
	"github.com/mehdiaksoy/mateai/pkg/queue"
	"github.com/mehdiaksoy/mateai/pkg/retrieval"
	"github.com/mehdiaksoy/mateai/pkg/tools"
	"github.com/mehdiaksoy/mateai/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with environment", "path", envPath)
	}

	slog.Info("Starting MateAI", "version", version.String(), "config_dir", *configDir)

	if err := run(*configDir); err != nil {
		log.Fatalf("Fatal: %v", err)
	}
}

func run(configDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// Database.
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL, schema up to date")

	// Stores.
	events := eventlog.NewPostgresStore(dbClient.Pool())
	chunks := knowledge.NewPostgresStore(dbClient.Pool(), cfg.Embedding.Dimensions)

	// LLM providers.
	providers, err := llm.BuildManager(ctx, cfg.LLM, cfg.Embedding, os.Getenv)
	if err != nil {
		return fmt.Errorf("failed to build LLM providers: %w", err)
	}
	embedProvider, err := providers.Get(cfg.Embedding.Provider)
	if err != nil {
		return fmt.Errorf("embedding provider unavailable: %w", err)
	}
	chatProvider, err := providers.Default()
	if err != nil {
		return fmt.Errorf("chat provider unavailable: %w", err)
	}

	// Queues.
	rdb := queue.NewRedisClient(cfg.Queue)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	ingestionQueue := queue.New(queue.QueueIngestion, rdb, cfg.Queue)
	processingQueue := queue.New(queue.QueueProcessing, rdb, cfg.Queue)
	embeddingQueue := queue.New(queue.QueueEmbedding, rdb, cfg.Queue)
	agentTasksQueue := queue.New(queue.QueueAgentTasks, rdb, cfg.Queue)

	// Pipeline, split so embedding backpressure never holds processing.
	pipe := pipeline.New(events, chunks,
		pipeline.NewSummarizer(chatProvider),
		pipeline.NewEmbedder(embedProvider, cfg.Embedding.Model, cfg.Embedding.Dimensions, cfg.Embedding.BatchSize))
	pipe.SplitAfterSummarization(embeddingQueue)

	// Retrieval, context building, agent.
	var reranker llm.Provider
	if cfg.Retrieval.RerankEnabled {
		reranker = chatProvider
	}
	retriever := retrieval.NewService(chunks, embedProvider, reranker, cfg.Retrieval)
	registry := tools.NewRegistry()
	if err := tools.RegisterMemoryTools(registry, retriever); err != nil {
		return fmt.Errorf("failed to register memory tools: %w", err)
	}
	builder := promptctx.NewBuilder(retriever, cfg.Context)
	agentSvc := agent.New(providers, registry, builder, cfg.Agent)

	// Ingestion.
	ingestWorker := ingest.NewWorker(events, processingQueue)

	// Workers, one per queue.
	podID, _ := os.Hostname()
	if podID == "" {
		podID = "mateai"
	}
	ingestionWorker := queue.NewWorker(queue.WorkerID(podID, 0), ingestionQueue,
		ingestWorker.Handler(), queue.WorkerOptions{Concurrency: cfg.Queue.WorkerCount})
	processingWorker := queue.NewWorker(queue.WorkerID(podID, 1), processingQueue,
		pipe.Handler(), queue.WorkerOptions{Concurrency: cfg.Queue.WorkerCount})
	embeddingWorker := queue.NewWorker(queue.WorkerID(podID, 2), embeddingQueue,
		pipe.EmbedHandler(), queue.WorkerOptions{Concurrency: cfg.Queue.WorkerCount})
	agentTasksWorker := queue.NewWorker(queue.WorkerID(podID, 3), agentTasksQueue,
		agentTaskHandler(agentSvc), queue.WorkerOptions{Concurrency: 1})

	ingestionWorker.Start(ctx)
	processingWorker.Start(ctx)
	embeddingWorker.Start(ctx)
	agentTasksWorker.Start(ctx)

	reaper := queue.NewReaper(rdb,
		[]*queue.Queue{ingestionQueue, processingQueue, embeddingQueue, agentTasksQueue},
		cfg.Queue.ReaperInterval)
	reaper.Start(ctx)

	// Chunk tier lifecycle.
	lifecycle := knowledge.NewLifecycle(chunks, cfg.Chunk)
	lifecycle.Start(ctx)

	// Source adapters.
	var slackRuntime *adapter.Runtime
	if cfg.Adapters.Slack != nil && cfg.Adapters.Slack.Enabled {
		botToken := os.Getenv(cfg.Adapters.Slack.BotTokenEnv)
		appToken := os.Getenv(cfg.Adapters.Slack.AppTokenEnv)
		if botToken == "" || appToken == "" {
			slog.Warn("Slack adapter enabled but tokens are unset, skipping")
		} else {
			slackRuntime = adapter.NewRuntime(slackadapter.New(botToken, appToken))
			slackRuntime.Start(ctx)
			ingestWorker.Start(ctx, slackRuntime.Events())
			slog.Info("Slack adapter started")
		}
	}

	// Metrics and HTTP API.
	promRegistry := prometheus.NewRegistry()
	metrics.Register(promRegistry)
	go pollQueueDepths(ctx, []*queue.Queue{
		ingestionQueue, processingQueue, embeddingQueue, agentTasksQueue,
	})

	server := api.NewServer(cfg.Server, agentSvc, retriever, chunks, promRegistry,
		api.ReadinessCheck{Name: "database", Check: func(ctx context.Context) error {
			h := dbClient.Health(ctx)
			if !h.Healthy {
				return fmt.Errorf("database unhealthy: %s", h.Error)
			}
			return nil
		}},
		api.ReadinessCheck{Name: "queue", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()

		// Shut down in reverse dependency order: stop taking traffic,
		// stop the sources, drain the workers, then background jobs.
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		if slackRuntime != nil {
			slackRuntime.Stop()
		}
		ingestWorker.Stop()
		ingestionWorker.Stop()
		processingWorker.Stop()
		embeddingWorker.Stop()
		agentTasksWorker.Stop()
		reaper.Stop()
		lifecycle.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

// agentTaskHandler executes deferred agent queries from the agent-tasks
// queue. Results land in the log; the queue exists for operator-driven
// batch questions and scheduled digests.
func agentTaskHandler(agentSvc *agent.Agent) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("invalid agent task payload: %w", err)
		}
		result, err := agentSvc.Query(ctx, payload.Query, agent.QueryOptions{
			IncludeMemoryContext: true,
		})
		if err != nil {
			return err
		}
		slog.Info("Agent task completed",
			"job_id", job.ID, "success", result.Success, "response", result.Response)
		return nil
	}
}

// pollQueueDepths refreshes the queue depth gauges.
func pollQueueDepths(ctx context.Context, queues []*queue.Queue) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range queues {
				stats, err := q.Stats(ctx)
				if err != nil {
					continue
				}
				metrics.QueueDepth.WithLabelValues(q.Name()).Set(float64(stats.Pending + stats.Priority))
			}
		}
	}
}
