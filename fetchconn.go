// fetchconn.go
package fetchqueue

import "context"

// ReadEvent is one item delivered on a ProducerConn's ReadCh. Exactly one
// of Bytes, Reconnected, or Poison is meaningful per event — a tagged
// variant instead of mixed runtime types funneled through one channel.
type ReadEvent struct {
	Bytes       []byte
	Reconnected bool
	Poison      bool
}

// PartitionOffset is one (partition, offset) pair within a fetch request.
type PartitionOffset struct {
	Partition int32
	Offset    int64
}

// TopicFetch is a fetch request for one topic across one or more
// partitions, as sent by ProducerConn.SendFetch.
type TopicFetch struct {
	Topic      string
	Partitions []PartitionOffset
}

// ProducerConn is the contract the core consumes from a Kafka fetch
// client. The wire encoding itself is out of scope for this package; a
// concrete implementation lives in transport/fetchconn, backed by
// github.com/mkocikowski/libkafka.
type ProducerConn interface {
	// SendFetch dispatches a non-blocking fetch request.
	SendFetch(ctx context.Context, fetches []TopicFetch) error
	// ReadCh delivers successful response frames and sentinel events.
	ReadCh() <-chan ReadEvent
	// ErrorCh delivers transport errors.
	ErrorCh() <-chan error
	// Close releases the connection's resources. Only the supervisor
	// calls this, on consumer stop or worker restart.
	Close() error
}

// ConnFactory creates a ProducerConn for a broker endpoint. The Producer
// Registry calls this at most once per BrokerKey at any given time.
type ConnFactory func(ctx context.Context, key BrokerKey, conf FetchConnConfig) (ProducerConn, error)

// FetchConnConfig carries the subset of Config a ConnFactory needs, kept
// separate so transport implementations don't import the whole Config.
type FetchConnConfig struct {
	FetchTimeout int // ms, informational; the real wait is done by the Worker
}
