package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/xphd/d3m-mini-ms/internal/config"
	"github.com/xphd/d3m-mini-ms/internal/controller"
	"github.com/xphd/d3m-mini-ms/internal/handler"
	"github.com/xphd/d3m-mini-ms/internal/observability"
	"github.com/xphd/d3m-mini-ms/internal/pkg/logger"
	"github.com/xphd/d3m-mini-ms/internal/repository/contract"
	"github.com/xphd/d3m-mini-ms/internal/repository/implementation"
	"github.com/xphd/d3m-mini-ms/internal/repository/memory"
	"github.com/xphd/d3m-mini-ms/internal/service"
	"github.com/xphd/d3m-mini-ms/internal/websocket"
	pktNats "github.com/xphd/d3m-mini-ms/pkg/nats"
	"github.com/xphd/d3m-mini-ms/pkg/store"
	"github.com/xphd/d3m-mini-ms/pkg/ta2"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// SessionTopic carries lifecycle events on the in-process bus.
const SessionTopic = "relay.session"

type Container struct {
	Logger  logger.ILogger
	Metrics *observability.RelayMetrics

	// Controllers
	SolutionController controller.ISolutionController
	GatewayHandler     *handler.GatewayHandler

	Orchestrator service.ISearchOrchestrator

	// Background Services (Exposed for main.go to run)
	ForwarderService service.IEventForwarderService
	WebSocketHub     *websocket.Hub

	closers []func()
}

func NewContainer(cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewRelayMetrics(registry)

	problem, err := loadProblem(cfg.Search.ProblemPath)
	if err != nil {
		return nil, err
	}

	c := &Container{Logger: sysLogger, Metrics: metrics}

	// 2. Event Bus. Publish blocks until the forwarder acks so lifecycle
	// events reach the front end in order.
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermillLogger,
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	// 3. Infrastructure
	artifacts, err := c.newArtifactRepository(cfg.Artifacts, sysLogger)
	if err != nil {
		return nil, err
	}

	ta2Client := ta2.NewClient(ta2.Options{
		UserAgent:         cfg.TA2.UserAgent,
		Version:           cfg.TA2.ProtocolVersion,
		AllowedValueTypes: cfg.TA2.AllowedValueTypes,
		ConnectTimeout:    cfg.TA2.ConnectTimeout,
	}, sysLogger, metrics)
	c.closers = append(c.closers, func() { _ = ta2Client.Close() })

	var mirror service.EventMirror
	if cfg.Events.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.Events.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("Bootstrap", "NATS unavailable, lifecycle events stay local", map[string]interface{}{"error": err.Error()})
		} else {
			mirror = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
	}

	// 4. Services
	sessions := store.NewSessionStore(cfg.Search.RankCutoff)
	solutionService := service.NewSolutionService(
		ta2Client,
		artifacts,
		sessions,
		service.SolutionServiceConfig{Metrics: cfg.Search.Metrics, RankMetric: cfg.Search.RankMetric},
		sysLogger,
	)
	publisherService := service.NewPublisherService(SessionTopic, pubSub)
	orchestrator := service.NewSearchOrchestrator(
		ta2Client,
		solutionService,
		sessions,
		publisherService,
		metrics,
		service.OrchestratorConfig{
			Address:          cfg.TA2.Address,
			TimeBoundMinutes: cfg.Search.TimeBoundMinutes,
			Priority:         cfg.Search.Priority,
			Problem:          problem,
			DatasetURI:       cfg.Search.DatasetURI,
			Metrics:          cfg.Search.Metrics,
			SearchDeadline:   cfg.Search.Deadline,
		},
		sysLogger,
	)

	// 5. Gateway
	wsLogger := logger.NewIsolatedLogger(cfg.App.GatewayLogFilePath)
	wsHub := websocket.NewHub(wsLogger, metrics)

	c.Orchestrator = orchestrator
	c.WebSocketHub = wsHub
	c.ForwarderService = service.NewEventForwarderService(pubSub, SessionTopic, wsHub, mirror, sysLogger)
	c.GatewayHandler = handler.NewGatewayHandler(orchestrator, solutionService, wsHub, wsLogger)
	c.SolutionController = controller.NewSolutionController(orchestrator, solutionService)
	return c, nil
}

// Start runs the hub and the event forwarder until ctx ends.
func (c *Container) Start(ctx context.Context) error {
	go c.WebSocketHub.Run(ctx)
	return c.ForwarderService.Consume(ctx)
}

func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.Logger.Sync()
}

func (c *Container) newArtifactRepository(cfg config.ArtifactConfig, log logger.ILogger) (contract.ArtifactRepository, error) {
	var repo contract.ArtifactRepository
	switch cfg.Backend {
	case "", "file":
		repo = implementation.NewFileArtifactRepository(cfg.Dir)
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warn("Bootstrap", "Failed to parse Redis URL, using direct Addr", map[string]interface{}{"error": err.Error()})
			opt = &redis.Options{Addr: cfg.RedisURL}
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Warn("Bootstrap", "Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		repo = implementation.NewRedisArtifactRepository(rdb)
	default:
		return nil, fmt.Errorf("bootstrap: unknown artifact backend %q", cfg.Backend)
	}
	return memory.NewArtifactCache(repo, cfg.CacheTTL), nil
}

// loadProblem reads the problem document forwarded to SearchSolutions. An
// empty path sends none.
func loadProblem(path string) (json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read problem: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("bootstrap: problem %s is not valid JSON", path)
	}
	return raw, nil
}
