// File: internal/interfaces/cli/serve.go
// serve: wires config, engine, transports and sinks into one process.

package cli

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/turtacn/mapsync/internal/config"
	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/infrastructure/database/redis"
	"github.com/turtacn/mapsync/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/prometheus"
	httpapi "github.com/turtacn/mapsync/internal/interfaces/http"
	"github.com/turtacn/mapsync/internal/interfaces/http/handlers"
	"github.com/turtacn/mapsync/internal/interfaces/http/middleware"
	"github.com/turtacn/mapsync/internal/interfaces/ws"
	"github.com/turtacn/mapsync/internal/sync/engine"
	"github.com/turtacn/mapsync/internal/sync/provider"
)

// NewServeCmd runs the synchronization service.
func NewServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine with its HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg := cliCtx.Config
			if port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := newService(ctx, cfg, cliCtx.Logger)
			if err != nil {
				return err
			}
			if cliCtx.ConfigPath != "" {
				svc.watchConfig(ctx, cliCtx.ConfigPath)
			}
			ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.Port))
			if err != nil {
				svc.close()
				return err
			}
			return svc.run(ctx, ln)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

// service is the wired process: engine, transports and optional mirrors.
type service struct {
	cfg *config.Config
	log logging.Logger

	collector prometheus.MetricsCollector
	metrics   *prometheus.SyncMetrics

	engine  *engine.Engine
	gateway *ws.Gateway
	hub     *ws.Hub
	server  *httpapi.Server
	limiter *middleware.TokenBucketLimiter

	redis   *redis.Client
	mirror  *redis.Mirror
	journal *kafka.Journal
}

func newService(ctx context.Context, cfg *config.Config, log logging.Logger) (_ *service, err error) {
	svc := &service{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			svc.close()
		}
	}()

	if cfg.Metrics.Enabled {
		svc.collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, log)
		if err != nil {
			return nil, err
		}
	} else {
		svc.collector = prometheus.NewNoopCollector()
	}
	svc.metrics = prometheus.NewSyncMetrics(svc.collector)

	opts := cfg.EngineOptions()
	if cfg.Redis.Enabled {
		if err = svc.openMirror(ctx); err != nil {
			return nil, err
		}
		if v, ok, lerr := svc.mirror.LastViewport(ctx); lerr != nil {
			log.Warn("could not read mirrored viewport", logging.Err(lerr))
		} else if ok {
			log.Info("resuming from mirrored viewport", logging.Any("viewport", v))
			opts.InitialViewport = v.Normalized()
		}
	}
	if cfg.Kafka.Enabled {
		if err = svc.openJournal(); err != nil {
			return nil, err
		}
	}

	wsOpts := ws.Options{
		ReadLimit:      cfg.WebSocket.ReadLimit,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	svc.gateway = ws.NewGateway(pane.KnownProviders, wsOpts, log, svc.metrics)
	svc.hub = ws.NewHub(wsOpts, log, svc.metrics)

	engOpts := []engine.Option{engine.WithMetrics(svc.metrics), engine.WithListener(svc.hub.Listener())}
	if svc.mirror != nil {
		engOpts = append(engOpts, engine.WithListener(svc.mirror.Listener()))
	}
	if svc.journal != nil {
		engOpts = append(engOpts, engine.WithListener(svc.journal.Listener()))
	}
	svc.engine, err = engine.New(provider.NewRegistry(svc.gateway.Runtimes()...), opts, log, engOpts...)
	if err != nil {
		return nil, err
	}

	svc.server = httpapi.NewServer(httpapi.ServerConfig{
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, svc.router(), log)
	return svc, nil
}

func (s *service) openMirror(ctx context.Context) error {
	rc := s.cfg.Redis
	client, err := redis.NewClient(ctx, redis.Config{
		Addrs:        []string{rc.Addr},
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		DialTimeout:  rc.DialTimeout,
		WriteTimeout: rc.WriteTimeout,
	}, s.log)
	if err != nil {
		return err
	}
	s.redis = client
	s.mirror = redis.NewMirror(client, redis.MirrorOptions{
		KeyPrefix:    rc.KeyPrefix,
		StateTTL:     rc.StateTTL,
		QueueSize:    rc.QueueSize,
		WriteTimeout: rc.WriteTimeout,
	}, s.log, s.metrics)
	return nil
}

func (s *service) openJournal() error {
	kc := s.cfg.Kafka
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:       kc.Brokers,
		ClientID:      kc.ClientID,
		Acks:          kc.Acks,
		BatchSize:     kc.BatchSize,
		BatchTimeout:  kc.BatchTimeout,
		Compression:   kc.Compression,
		WriteTimeout:  kc.WriteTimeout,
		SASLMechanism: kc.SASLMechanism,
		SASLUsername:  kc.SASLUsername,
		SASLPassword:  kc.SASLPassword,
		TLSEnabled:    kc.TLSEnabled,
		TLSCAPath:     kc.TLSCAPath,
	}, s.log)
	if err != nil {
		return err
	}
	s.journal = kafka.NewJournal(producer, kafka.JournalOptions{
		Topic:        kc.Topic,
		QueueSize:    kc.QueueSize,
		WriteTimeout: kc.WriteTimeout,
	}, s.log, s.metrics)
	return nil
}

func (s *service) router() *gin.Engine {
	gin.SetMode(s.cfg.Server.Mode)

	checkers := []handlers.HealthChecker{
		handlers.CheckFunc{Component: "engine", Fn: func(ctx context.Context) error {
			_, err := s.engine.Snapshot(ctx)
			return err
		}},
	}
	if s.gateway != nil {
		// Widgets connect from the host page, so a missing one never fails readiness.
		checkers = append(checkers, handlers.CheckFunc{Component: "widgets", Info: func() string {
			return widgetSummary(s.gateway.Connected())
		}})
	}
	if s.redis != nil {
		checkers = append(checkers, handlers.CheckFunc{Component: "redis", Fn: s.redis.Ping})
	}

	rc := httpapi.RouterConfig{
		SyncHandler:   handlers.NewSyncHandler(s.engine),
		WSHandler:     handlers.NewWSHandler(s.gateway, s.hub, s.engine),
		HealthHandler: handlers.NewHealthHandler(Version, checkers...),
		Logger:        s.log,
		Metrics:       s.metrics,
		Logging:       middleware.DefaultLoggingConfig(),
	}
	if s.cfg.Metrics.Enabled {
		rc.MetricsCollector = s.collector
		rc.MetricsPath = s.cfg.Metrics.Path
	}
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		cors := middleware.DefaultCORSConfig(s.cfg.Server.AllowedOrigins...)
		rc.CORS = &cors
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		s.limiter = middleware.NewTokenBucketLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, 5*time.Minute)
		rc.RateLimiter = s.limiter
	}
	return httpapi.NewRouter(rc)
}

// widgetSummary renders live widget connections as "left=google right=kakao".
func widgetSummary(conns map[pane.ID]pane.ProviderKind) string {
	if len(conns) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(conns))
	for id, kind := range conns {
		parts = append(parts, id.String()+"="+kind.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// watchConfig applies sync timing and log level edits without a restart.
func (s *service) watchConfig(ctx context.Context, path string) {
	err := config.Watch(path, s.log, func(cfg *config.Config) {
		if logging.SetLevel(s.log, cfg.Log.Level) {
			s.log.Info("log level applied", logging.String("level", cfg.Log.Level))
		}
		if err := s.engine.UpdateOptions(ctx, cfg.EngineOptions()); err != nil {
			s.log.Warn("could not apply reloaded sync options", logging.Err(err))
		}
	})
	if err != nil {
		s.log.Warn("config watch disabled", logging.String("file", path), logging.Err(err))
	}
}

// run starts the engine, creates the configured panes and serves on ln until
// ctx is cancelled.
func (s *service) run(ctx context.Context, ln net.Listener) error {
	defer s.close()

	s.engine.Start(ctx)
	s.gateway.OnDetach(func(id pane.ID) {
		if err := s.engine.ReloadPane(context.Background(), id); err != nil {
			s.log.Debug("pane reload skipped", logging.Pane(id.String()), logging.Err(err))
		}
	})
	for id, pc := range s.cfg.PaneConfigs() {
		if err := s.engine.SetPaneConfig(ctx, id, pc); err != nil {
			_ = ln.Close()
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.server.Stop(stopCtx)
}

// close releases every component in reverse dependency order.  Safe on a
// partially built service.
func (s *service) close() {
	if s.engine != nil {
		s.engine.Stop()
	}
	if s.gateway != nil {
		s.gateway.Close()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.mirror != nil {
		s.mirror.Close()
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.log.Warn("journal close failed", logging.Err(err))
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
