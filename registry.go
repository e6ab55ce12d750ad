// registry.go
package fetchqueue

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ProducerRegistry lazily creates and caches one ProducerConn per broker
// endpoint. Each Worker owns exactly one registry instance outright, so
// no mutex is needed here — there is never a second goroutine with a
// view onto the same map.
type ProducerRegistry struct {
	factory  ConnFactory
	conf     FetchConnConfig
	logger   *zap.Logger
	conns    map[BrokerKey]ProducerConn
	created  int64
	onCreate func()
}

// NewProducerRegistry creates an empty registry. factory is called only
// when no connection for the BrokerKey is cached (first use, after a
// failed creation, or after CloseAll). onCreate, if non-nil, is
// called once per successful creation (used to feed Supervisor.Stats()).
func NewProducerRegistry(factory ConnFactory, conf FetchConnConfig, logger *zap.Logger, onCreate func()) *ProducerRegistry {
	return &ProducerRegistry{
		factory:  factory,
		conf:     conf,
		logger:   logger,
		conns:    make(map[BrokerKey]ProducerConn),
		onCreate: onCreate,
	}
}

// GetOrCreate returns the existing connection for key, or creates one. A
// failed creation is not retried by the registry itself — the caller
// decides whether and when to retry.
func (r *ProducerRegistry) GetOrCreate(ctx context.Context, key BrokerKey) (ProducerConn, error) {
	if conn, ok := r.conns[key]; ok {
		return conn, nil
	}
	conn, err := r.factory(ctx, key, r.conf)
	if err != nil {
		return nil, fmt.Errorf("fetchqueue: creating producer for %s: %w: %w", key, ErrNoProducer, err)
	}
	r.conns[key] = conn
	r.created++
	if r.onCreate != nil {
		r.onCreate()
	}
	r.logger.Info("created producer connection", zap.String("broker", key.String()))
	return conn, nil
}

// Created returns the number of connections this registry has created.
func (r *ProducerRegistry) Created() int64 {
	return r.created
}

// CloseAll closes every cached connection. Only the supervisor calls
// this, on consumer stop or before rebuilding a restarted worker's state,
// so a restarted worker never inherits a predecessor's stale connections.
func (r *ProducerRegistry) CloseAll() {
	for key, conn := range r.conns {
		if err := conn.Close(); err != nil {
			r.logger.Warn("error closing producer connection",
				zap.String("broker", key.String()), zap.Error(err))
		}
	}
	r.conns = make(map[BrokerKey]ProducerConn)
}
