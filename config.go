// config.go
package fetchqueue

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RedisConfig is the connection configuration for the shared Redis pool.
type RedisConfig struct {
	Host      string        // default: localhost
	Port      int           // default: 6379
	Password  string        // default: none
	Timeout   time.Duration // default: 4000ms, per-command timeout
	MaxActive int           // default: 20, pool size
}

// DefaultRedisConfig returns sane defaults for a local Redis instance.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:      "localhost",
		Port:      6379,
		Timeout:   4000 * time.Millisecond,
		MaxActive: 20,
	}
}

// Config contains configuration for the Supervisor.
type Config struct {
	// Redis connection.
	Redis RedisConfig

	// Work queue protocol list names, all required.
	WorkQueue     string
	WorkingQueue  string
	CompleteQueue string

	// Worker pool configuration.
	ConsumerThreads    int // number of workers (default: 1)
	ConsumerQueueLimit int // pool internal queue capacity (default: 10)

	// Fetch configuration.
	FetchTimeout        time.Duration // default: 10s, per-unit fetch wait
	MaxReconnectRetries int           // bounds the Reconnected-sentinel retry loop (default: 5)

	// Downstream channel.
	MessageChannelCapacity int // default: 100 if not supplied

	// Shutdown.
	ShutdownGrace time.Duration // default: 10s

	// Logging.
	Logger *zap.Logger // required

	// ConnFactory creates a ProducerConn for a broker endpoint. Required;
	// see transport/fetchconn for the libkafka-backed implementation.
	ConnFactory ConnFactory

	// Decoder folds over a raw fetch response payload. Optional; defaults
	// to the newline-delimited-JSON decoder (see defaultDecoder in
	// decoder_default.go), which reads the format transport/fetchconn emits.
	Decoder Decoder
}

// DefaultConfig returns a Config with sane defaults. Callers must still
// set WorkQueue/WorkingQueue/CompleteQueue and ConnFactory.
func DefaultConfig(logger *zap.Logger) Config {
	return Config{
		Redis:                  DefaultRedisConfig(),
		ConsumerThreads:        1,
		ConsumerQueueLimit:     10,
		FetchTimeout:           10000 * time.Millisecond,
		MaxReconnectRetries:    5,
		MessageChannelCapacity: 100,
		ShutdownGrace:          10 * time.Second,
		Logger:                 logger,
	}
}

// Validate checks if config is valid.
func (c Config) Validate() error {
	if c.ConsumerThreads <= 0 {
		return fmt.Errorf("ConsumerThreads must be > 0, got %d", c.ConsumerThreads)
	}
	if c.Logger == nil {
		return fmt.Errorf("Logger is required")
	}
	if c.WorkQueue == "" || c.WorkingQueue == "" || c.CompleteQueue == "" {
		return fmt.Errorf("WorkQueue, WorkingQueue, and CompleteQueue are required")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FetchTimeout must be > 0")
	}
	if c.ConnFactory == nil {
		return fmt.Errorf("ConnFactory is required")
	}
	return nil
}
