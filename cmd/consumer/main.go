package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/relaykit/fetchqueue"
	"github.com/relaykit/fetchqueue/transport/fetchconn"
)

// payload is the application-level shape this example expects inside each
// accepted message's Bytes.
type payload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	config := fetchqueue.DefaultConfig(logger)
	config.WorkQueue = "fetchqueue:work"
	config.WorkingQueue = "fetchqueue:working"
	config.CompleteQueue = "fetchqueue:complete"
	config.ConsumerThreads = 8
	config.ConnFactory = fetchconn.NewFactory()

	logger.Info("fetchqueue configuration",
		zap.Int("consumer_threads", config.ConsumerThreads),
		zap.Duration("fetch_timeout", config.FetchTimeout))

	sup, err := fetchqueue.NewSupervisor(config)
	if err != nil {
		log.Fatalf("failed to create supervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// Consume the downstream message channel in the background, in its
	// own top-level goroutine so it runs independently of worker restarts.
	go func() {
		for messages := range sup.Messages() {
			for _, m := range messages {
				var p payload
				if err := json.Unmarshal(m.Bytes, &p); err != nil {
					logger.Warn("failed to unmarshal message",
						zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
					continue
				}
				logger.Info("received message",
					zap.String("id", p.ID), zap.String("name", p.Name),
					zap.Int32("partition", m.Partition), zap.Int64("offset", m.Offset))
			}
		}
	}()

	logger.Info("starting fetchqueue consumer")
	if err := sup.Run(ctx); err != nil {
		log.Fatalf("supervisor error: %v", err)
	}
	logger.Info("shutdown complete", zap.Any("stats", sup.Stats()))
}
