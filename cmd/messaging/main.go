package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/api"
	"github.com/hirewire/messaging-service/internal/auth"
	"github.com/hirewire/messaging-service/internal/config"
	"github.com/hirewire/messaging-service/internal/events"
	"github.com/hirewire/messaging-service/internal/logger"
	"github.com/hirewire/messaging-service/internal/metrics"
	"github.com/hirewire/messaging-service/internal/service"
	"github.com/hirewire/messaging-service/internal/store"
	"github.com/hirewire/messaging-service/internal/ws"
)

// Server holds every dependency of the messaging process.
type Server struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	store    store.MessageStore
	users    store.UserDirectory
	rdb      *redis.Client
	producer *events.Producer
	hub      *ws.Hub
	api      *api.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg *config.Config, log *zap.SugaredLogger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	var (
		msgStore store.MessageStore
		users    store.UserDirectory
	)
	switch cfg.Store.Driver {
	case "badger":
		b, err := store.NewBadger(cfg.Store.Path, log)
		if err != nil {
			cancel()
			return nil, err
		}
		msgStore, users = b, b
	default:
		m, err := store.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, log)
		if err != nil {
			cancel()
			return nil, err
		}
		msgStore, users = m, m
	}

	hub := ws.NewHub(log)
	nodeID := uuid.NewString()

	var (
		rdb      *redis.Client
		bridge   *ws.Bridge
		presence *ws.Presence
	)
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bridge = ws.NewBridge(rdb, cfg.Redis.Channel, nodeID, log)
		presence = ws.NewPresence(rdb, "")
		go bridge.Run(ctx, hub)
	}

	var producer *events.Producer
	if cfg.Kafka.Enabled {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	}

	dispatcher := ws.NewDispatcher(hub, bridge, nodeID, log)
	svc := service.NewMessaging(msgStore, users, dispatcher, producer, log)
	validator := auth.NewValidator(cfg.JWT.Secret)
	apiServer := api.NewServer(cfg, svc, hub, presence, validator, log)

	return &Server{
		cfg:      cfg,
		log:      log,
		store:    msgStore,
		users:    users,
		rdb:      rdb,
		producer: producer,
		hub:      hub,
		api:      apiServer,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (s *Server) Start() {
	go func() {
		addr := ":" + s.cfg.Server.Port
		s.log.Infow("messaging service listening", "addr", addr, "store", s.cfg.Store.Driver)
		if err := s.api.Listen(addr); err != nil {
			s.log.Fatalw("server exited", "error", err)
		}
	}()
}

func (s *Server) Shutdown() {
	s.log.Info("shutting down")
	s.cancel()

	s.hub.CloseAll()

	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			s.log.Errorw("close kafka producer", "error", err)
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.log.Errorw("close redis", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Close(ctx); err != nil {
		s.log.Errorw("close store", "error", err)
	}
	if err := s.api.Shutdown(10 * time.Second); err != nil {
		s.log.Errorw("shutdown http server", "error", err)
	}
	s.log.Info("stopped")
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.Development)
	if err != nil {
		panic(err)
	}
	metrics.Init()

	server, err := NewServer(cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize", "error", err)
	}
	server.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infow("signal received", "signal", sig.String())

	server.Shutdown()
}
