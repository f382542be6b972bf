// Command batchmq runs the durable batching bridge: it drains one or more
// broker queues, decodes each message body, accumulates the results into
// batches, and bulk-inserts them into a relational database.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cyberstudio/batchmq/internal/broker"
	brokerkafka "github.com/cyberstudio/batchmq/internal/broker/kafka"
	brokerrabbitmq "github.com/cyberstudio/batchmq/internal/broker/rabbitmq"
	"github.com/cyberstudio/batchmq/internal/config"
	"github.com/cyberstudio/batchmq/internal/consumer"
	"github.com/cyberstudio/batchmq/internal/decode"
	decodeavro "github.com/cyberstudio/batchmq/internal/decode/avro"
	decodejson "github.com/cyberstudio/batchmq/internal/decode/json"
	"github.com/cyberstudio/batchmq/internal/inserter"
	"github.com/cyberstudio/batchmq/internal/pipeline"
	"github.com/cyberstudio/batchmq/internal/store"
	storemssql "github.com/cyberstudio/batchmq/internal/store/mssql"
	storemysql "github.com/cyberstudio/batchmq/internal/store/mysql"
	storepostgres "github.com/cyberstudio/batchmq/internal/store/postgres"
	storesqlite "github.com/cyberstudio/batchmq/internal/store/sqlite"
	"github.com/cyberstudio/batchmq/pkg/concurrency"
	"github.com/cyberstudio/batchmq/pkg/logger"
	"github.com/cyberstudio/batchmq/pkg/resilience"
	"github.com/cyberstudio/batchmq/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.Init(cfg.Log)

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	src, err := newBrokerSource(cfg.Broker)
	if err != nil {
		log.Error("failed to construct broker source", "error", err)
		os.Exit(1)
	}

	st, err := newStore(cfg.Database)
	if err != nil {
		log.Error("failed to construct store", "error", err)
		os.Exit(1)
	}

	decoder, err := newDecoder(cfg.Decode)
	if err != nil {
		log.Error("failed to construct decoder", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connection acquisition is the one place the bridge wraps a circuit
	// breaker from the resilience library around a blocking call: once
	// connected, the bulk insert engine's own fixed-interval retry loop is
	// what keeps the batch pipeline alive, not this breaker.
	connectBreaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("db-connect"))
	if err := connectBreaker.Execute(ctx, st.Connect); err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := src.Connect(ctx); err != nil {
		log.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer src.Close()

	queues := strings.Split(cfg.Broker.Queues, ",")
	pool := concurrency.NewWorkerPool(len(queues), len(queues))
	pool.Start(ctx)

	for _, name := range queues {
		name := strings.TrimSpace(name)
		if name == "" {
			continue
		}

		c := consumer.New(consumer.Config{
			BatchSize: cfg.Broker.BatchSize,
			Interval:  cfg.Broker.Interval,
		}, decoder)
		e := inserter.New(inserter.Config{RetryInterval: cfg.Database.RetryPeriod}, st)
		p := pipeline.New(pipeline.Queue{Name: name, TableName: name, BatchSize: cfg.Broker.BatchSize}, c, e, log)

		pool.Submit(func(ctx context.Context) {
			if err := p.Run(ctx, src, cfg.Broker.BatchSize); err != nil && ctx.Err() == nil {
				log.Error("pipeline exited", "queue", name, "error", err)
			}
		})
	}

	<-ctx.Done()
	log.Info("shutting down")
	pool.Stop()
}

func newBrokerSource(cfg config.BrokerConfig) (broker.Source, error) {
	switch cfg.Driver {
	case "kafka":
		return brokerkafka.New(brokerkafka.Config{
			Brokers: []string{cfg.Host + ":" + cfg.Port},
			Group:   "batchmq",
		}), nil
	default:
		url := "amqp://" + cfg.Username + ":" + cfg.Password + "@" + cfg.Host + ":" + cfg.Port + "/"
		return brokerrabbitmq.New(brokerrabbitmq.Config{URL: url, Durable: true}), nil
	}
}

func newStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "mysql":
		return storemysql.New(storemysql.Config{
			Host: cfg.Host, Port: cfg.Port, User: cfg.Username, Password: cfg.Password, Name: cfg.Database,
			StatementTimeoutMs: cfg.StatementTimeoutMs, EchoPool: cfg.EchoPool,
		}), nil
	case "sqlite":
		return storesqlite.New(storesqlite.Config{
			Path: cfg.Database, StatementTimeoutMs: cfg.StatementTimeoutMs, EchoPool: cfg.EchoPool,
		}), nil
	case "mssql":
		return storemssql.New(storemssql.Config{
			Host: cfg.Host, Port: cfg.Port, User: cfg.Username, Password: cfg.Password, Name: cfg.Database,
			Encrypt:            cfg.SSLMode == "require" || cfg.SSLMode == "true",
			StatementTimeoutMs: cfg.StatementTimeoutMs, EchoPool: cfg.EchoPool,
		}), nil
	default:
		return storepostgres.New(storepostgres.Config{
			Host: cfg.Host, Port: cfg.Port, User: cfg.Username, Password: cfg.Password, Name: cfg.Database,
			SSLMode: cfg.SSLMode, MaxOpenConns: cfg.PoolSize, MaxIdleConns: cfg.PoolSize,
			StatementTimeoutMs: cfg.StatementTimeoutMs, EchoPool: cfg.EchoPool,
		}), nil
	}
}

func newDecoder(cfg config.DecodeConfig) (decode.Decoder, error) {
	if cfg.Driver == "avro" {
		return decodeavro.New(), nil
	}
	return decodejson.New("created_at"), nil
}
