// Package main is the entry point for agentd, the appchain agent. It wires
// the chain runtime, transaction queue, dispatcher, and socket endpoint
// together using the service registry pattern, and supports a one-shot mode
// that executes a single command and exits.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"

	"github.com/appchainio/agentd/internal/api"
	"github.com/appchainio/agentd/internal/blobstore"
	"github.com/appchainio/agentd/internal/chain"
	"github.com/appchainio/agentd/internal/dispatch"
	"github.com/appchainio/agentd/internal/endpoint"
	"github.com/appchainio/agentd/internal/events"
	"github.com/appchainio/agentd/internal/handlers"
	"github.com/appchainio/agentd/internal/protocol"
	"github.com/appchainio/agentd/internal/txqueue"
	"github.com/appchainio/agentd/internal/wallet"
	"github.com/appchainio/agentd/pkg/config"
	"github.com/appchainio/agentd/pkg/health"
	"github.com/appchainio/agentd/pkg/logging"
	"github.com/appchainio/agentd/pkg/metrics"
	"github.com/appchainio/agentd/pkg/service"
)

func main() {
	envFile := pflag.String("env-file", "", "Path to an env file loaded before the environment")
	socketPath := pflag.String("socket", "", "Unix socket path (overrides AGENT_SOCKET_PATH)")
	socketFormat := pflag.String("socket-format", "", "Wire format, text or cbor (overrides AGENT_SOCKET_FORMAT)")
	keyFile := pflag.String("key", "", "Signing key file (overrides AGENT_KEY_FILE)")
	logLevel := pflag.String("log-level", "", "Log level: debug, info, warn, error")
	opsAddr := pflag.String("ops-addr", "", "Ops HTTP listen address (overrides AGENT_OPS_ADDR)")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *socketPath != "" {
		cfg.Socket.Path = *socketPath
	}
	if *socketFormat != "" {
		cfg.Socket.Format = *socketFormat
	}
	if *keyFile != "" {
		cfg.Key.File = *keyFile
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *opsAddr != "" {
		cfg.Ops.Addr = *opsAddr
	}

	// Logs go to stderr; stdout carries the socket discovery line and
	// one-shot command output.
	logger := logging.New(logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      os.Stderr,
		ServiceName: "agentd",
		Environment: cfg.Log.Environment,
	})

	format, err := protocol.ParseFormat(cfg.Socket.Format)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	signer, err := wallet.Load(cfg.Key.File)
	if err != nil {
		logger.Error("failed to load signing key", "file", cfg.Key.File, "error", err)
		os.Exit(1)
	}
	logger.Info("signer loaded", "address", signer.Address())

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	runtime, err := chain.NewRedisRuntime(rdb, signer, logger)
	if err != nil {
		logger.Error("failed to initialize chain runtime", "error", err)
		os.Exit(1)
	}

	m := metrics.New(metrics.DefaultConfig())

	var sink txqueue.EventSink
	if cfg.Kafka.Enabled {
		publisher, err := events.NewPublisher(cfg.Kafka.Brokers, logger)
		if err != nil {
			logger.Error("failed to initialize event publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		sink = publisher
	}

	queue := txqueue.New(runtime, logger, m, sink, txqueue.Options{
		TrackNonce:     cfg.Queue.TrackNonce,
		Depth:          cfg.Queue.Depth,
		PollInterval:   cfg.Queue.PollInterval,
		PollMaxRetries: cfg.Queue.PollMaxRetries,
	})

	dispatcher := dispatch.New(queue, logger, m)
	if err := handlers.Register(dispatcher, handlers.Deps{
		Runtime: runtime,
		Blobs:   blobstore.NewRedis(rdb),
		Signer:  signer,
	}); err != nil {
		logger.Error("failed to register command handlers", "error", err)
		os.Exit(1)
	}

	// One-shot mode: execute the command given on the command line, write
	// its encoded response to stdout, and exit. The process exit code does
	// not reflect the command outcome; callers read the response status.
	if pflag.NArg() > 0 {
		runOnce(queue, dispatcher, format, strings.Join(pflag.Args(), " "), logger)
		return
	}

	serve(cfg, format, queue, dispatcher, m, runtime, logger)
}

func runOnce(queue *txqueue.Queue, dispatcher *dispatch.Dispatcher, format protocol.Format, command string, logger *logging.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)

	resp := dispatcher.Dispatch(ctx, &protocol.CommandRequest{Command: command})
	data, err := protocol.EncodeResponse(format, resp)
	if err != nil {
		logger.Error("failed to encode response", "error", err)
		cancel()
		os.Exit(1)
	}
	os.Stdout.Write(data)

	cancel()
	queue.Wait()
}

func serve(cfg *config.Config, format protocol.Format, queue *txqueue.Queue, dispatcher *dispatch.Dispatcher, m *metrics.Metrics, runtime *chain.RedisRuntime, logger *logging.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := service.NewRegistry(logger)

	queueService := txqueue.NewQueueService(queue)
	if err := registry.Register(queueService); err != nil {
		logger.Error("failed to register txqueue service", "error", err)
		os.Exit(1)
	}

	server := endpoint.New(dispatcher, logger, m, endpoint.Options{
		SocketPath: cfg.Socket.Path,
		Format:     format,
	})
	endpointService := endpoint.NewSocketService(server, logger)
	if err := registry.Register(endpointService); err != nil {
		logger.Error("failed to register endpoint service", "error", err)
		os.Exit(1)
	}

	if cfg.Ops.Addr != "" {
		healthReg := health.NewRegistry(logger)
		healthReg.Register("txqueue", health.ServiceChecker("txqueue", func(ctx context.Context) error {
			return queueService.Health()
		}))
		healthReg.Register("endpoint", health.ServiceChecker("endpoint", func(ctx context.Context) error {
			return endpointService.Health()
		}))
		healthReg.Register("redis", health.DependencyChecker("redis", runtime.Ping))

		opsService := api.NewOpsService(api.NewServer(cfg.Ops.Addr, healthReg, m, logger), logger)
		if err := registry.Register(opsService); err != nil {
			logger.Error("failed to register ops service", "error", err)
			os.Exit(1)
		}
	}

	if err := registry.StartAll(ctx); err != nil {
		logger.Error("failed to start services", "error", err)
		registry.StopAll(context.Background())
		os.Exit(1)
	}
	logger.Info("all services started", "socket", cfg.Socket.Path, "format", string(format))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Info("shutting down", "signal", fmt.Sprintf("%v", sig))
	cancel()

	if err := registry.StopAll(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
