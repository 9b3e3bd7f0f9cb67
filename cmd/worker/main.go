// Command worker drains chat records published by the server's rabbitmq sink
// into the database.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/db"
	"github.com/suPer8Hu/chat-relay/internal/logging"
	"github.com/suPer8Hu/chat-relay/internal/store/rabbitmq"
)

const (
	maxRetries = 3
	retryDelay = 5 * time.Second
	slowWrite  = 500 * time.Millisecond
)

type consumer struct {
	repo         *chat.Repo
	topo         rabbitmq.Topology
	writeTimeout time.Duration

	pubMu sync.Mutex
	ch    *amqp.Channel
}

// handle settles exactly one delivery. Failed writes are parked on the retry
// queue until maxRetries, then dead-lettered.
func (c *consumer) handle(ctx context.Context, logger zerolog.Logger, d amqp.Delivery) {
	rec, err := rabbitmq.DecodeRecord(d.Body)
	if err != nil {
		logger.Warn().Err(err).Str("message_id", d.MessageId).Msg("bad message, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	logger = logger.With().
		Str("turn_id", rec.TurnID).
		Str("user_id", rec.UserID.String()).
		Str("chat_id", rec.ChatID.String()).
		Logger()

	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	err = c.repo.Write(wctx, rec)
	cancel()
	cost := time.Since(start)

	if err == nil {
		if aerr := d.Ack(false); aerr != nil {
			logger.Warn().Err(aerr).Msg("ack failed")
		}
		if cost > slowWrite {
			logger.Info().Dur("cost", cost).Msg("slow record write")
		}
		return
	}

	attempt := rabbitmq.RetryCount(d) + 1
	ev := logger.Error().Err(err).Int("attempt", attempt).Dur("cost", cost)
	if attempt > maxRetries {
		ev.Msg("record write failed, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	if perr := c.retry(ctx, d); perr != nil {
		ev.AnErr("retry_err", perr).Msg("record write failed, retry publish failed")
		_ = d.Nack(false, false)
		return
	}
	ev.Msg("record write failed, retry scheduled")
	_ = d.Ack(false)
}

func (c *consumer) retry(ctx context.Context, d amqp.Delivery) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.ch.PublishWithContext(ctx, "", c.topo.Retry, false, false, rabbitmq.RetryPublishing(d, retryDelay))
}

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer func() { _ = db.Close(gdb) }()

	repo := chat.NewRepo(gdb)
	if err := repo.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	topo := rabbitmq.TopologyFor(cfg.RabbitQueue)
	if err := topo.Declare(ch); err != nil {
		log.Fatal().Err(err).Msg("queue declare")
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(topo.Main, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &consumer{repo: repo, topo: topo, writeTimeout: cfg.PersistWriteTimeout, ch: ch}
	log.Info().Str("queue", topo.Main).Int("concurrency", concurrency).Msg("worker started")

	deliveries := make(chan amqp.Delivery, concurrency*2)
	var wg sync.WaitGroup
	for i := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger := log.With().Str("component", "worker").Int("worker", i).Logger()
			// deliveries already taken are finished during shutdown
			wctx := context.WithoutCancel(ctx)
			for d := range deliveries {
				c.handle(wctx, logger, d)
			}
		}()
	}

	exit := 0
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			break loop
		case d, ok := <-msgs:
			if !ok {
				// unacked deliveries go back to the queue with the connection
				log.Error().Msg("delivery channel closed")
				exit = 1
				break loop
			}
			deliveries <- d
		}
	}
	close(deliveries)
	wg.Wait()
	if exit != 0 {
		os.Exit(exit)
	}
}
