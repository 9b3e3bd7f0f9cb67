package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/db"
	"github.com/suPer8Hu/chat-relay/internal/httpapi"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/logging"
	"github.com/suPer8Hu/chat-relay/internal/persist"
	"github.com/suPer8Hu/chat-relay/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-relay/internal/store/redisstore"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := ai.NewDefaultRegistry(ai.Settings{
		Endpoint:          cfg.ProviderEndpoint,
		DefaultModel:      cfg.Model,
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
	})
	provider, err := reg.Get(ctx, cfg.AIProvider, cfg.Model)
	if err != nil {
		log.Fatal().Err(err).Msg("ai provider")
	}

	h := &handlers.Handler{}

	// persistence sinks
	var sinks []persist.Sink
	switch cfg.PersistSink {
	case config.SinkDB:
		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer func() { _ = db.Close(gdb) }()

		repo := chat.NewRepo(gdb)
		if err := repo.AutoMigrate(); err != nil {
			log.Fatal().Err(err).Msg("db migrate")
		}
		h.Repo = repo
		sinks = append(sinks, persist.SinkFunc(repo.Write))

	case config.SinkRabbitMQ:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq publisher")
		}
		defer func() { _ = pub.Close() }()
		sinks = append(sinks, pub)

	case config.SinkLog:
		sinks = append(sinks, persist.LogSink)
	}

	if cfg.RedisAddr != "" {
		cache := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err := cache.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis not reachable, continuing")
		}
		defer func() { _ = cache.Close() }()
		h.Cache = cache
		sinks = append(sinks, cache)
	}

	queue := persist.NewQueue(persist.Multi(sinks...), cfg.PersistQueueCapacity,
		persist.WithWriteTimeout(cfg.PersistWriteTimeout))
	queue.Start()

	store := chat.NewMemoryStore(cfg.SlidingWindowCapacity, cfg.StoreShards)
	relay := chat.NewRelay(store, chat.NewStreamClient(provider, cfg.Model), queue, cfg.MaxTokens, cfg.StreamBuffer)

	h.Relay = relay
	h.Store = store
	h.Queue = queue

	srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewRouter(h))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("provider", cfg.AIProvider).
			Str("model", cfg.Model).
			Str("persist_sink", cfg.PersistSink).
			Msg("server started")
		return srv.ListenAndServe()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("server shutting down")

		// open streams are cancelled and discarded; no record is submitted
		// once the HTTP side has stopped
		hctx, hcancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer hcancel()
		if err := srv.Shutdown(hctx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}

		qctx, qcancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer qcancel()
		if err := queue.Shutdown(qctx); err != nil {
			log.Warn().Err(err).Interface("stats", queue.Stats()).Msg("persist queue not drained")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
	log.Info().Interface("stats", queue.Stats()).Msg("server stopped")
}
