// conn.go
package fetchconn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mkocikowski/libkafka/batch"
	"github.com/mkocikowski/libkafka/client"
	"github.com/mkocikowski/libkafka/client/fetcher"
	"github.com/mkocikowski/libkafka/record"

	"github.com/relaykit/fetchqueue"
)

// partitionKey identifies one topic-partition fetcher within a Conn.
type partitionKey struct {
	topic     string
	partition int32
}

// Conn is the libkafka-backed fetchqueue.ProducerConn for one broker
// endpoint. It lazily opens one fetcher.PartitionFetcher per
// (topic, partition) it is asked to fetch, grounded in the pattern shown
// by mkocikowski-kafkaclient's consumer.Static and consumer.Exchange
// (client.PartitionClient + fetcher.PartitionFetcher, SetOffset/Fetch,
// RecordSet.Batches(), batch.Unmarshal, Batch.Records(decompressor)).
type Conn struct {
	bootstrap     string
	decompressors map[int16]batch.Decompressor

	mu       sync.Mutex
	fetchers map[partitionKey]*fetcher.PartitionFetcher

	readCh  chan fetchqueue.ReadEvent
	errorCh chan error

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewFactory returns a fetchqueue.ConnFactory that opens Conns against
// libkafka brokers.
func NewFactory() fetchqueue.ConnFactory {
	return func(ctx context.Context, key fetchqueue.BrokerKey, conf fetchqueue.FetchConnConfig) (fetchqueue.ProducerConn, error) {
		return newConn(key), nil
	}
}

func newConn(key fetchqueue.BrokerKey) *Conn {
	decompressors := make(map[int16]batch.Decompressor, len(defaultDecompressors()))
	for codec, d := range defaultDecompressors() {
		decompressors[codec] = d
	}
	return &Conn{
		bootstrap:     fmt.Sprintf("%s:%d", key.Host, key.Port),
		decompressors: decompressors,
		fetchers:      make(map[partitionKey]*fetcher.PartitionFetcher),
		readCh:        make(chan fetchqueue.ReadEvent, 1),
		errorCh:       make(chan error, 1),
		closed:        make(chan struct{}),
	}
}

func (c *Conn) ReadCh() <-chan fetchqueue.ReadEvent { return c.readCh }
func (c *Conn) ErrorCh() <-chan error               { return c.errorCh }

// SendFetch dispatches one non-blocking fetch per requested
// (topic, partition), each in its own goroutine, and funnels its outcome
// onto readCh/errorCh.
func (c *Conn) SendFetch(ctx context.Context, fetches []fetchqueue.TopicFetch) error {
	for _, tf := range fetches {
		for _, po := range tf.Partitions {
			f := c.fetcherFor(tf.Topic, po.Partition)
			f.SetOffset(po.Offset)

			c.wg.Add(1)
			go c.doFetch(ctx, f, tf.Topic, po.Partition)
		}
	}
	return nil
}

func (c *Conn) fetcherFor(topic string, partition int32) *fetcher.PartitionFetcher {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := partitionKey{topic, partition}
	if f, ok := c.fetchers[key]; ok {
		return f
	}
	f := &fetcher.PartitionFetcher{
		PartitionClient: client.PartitionClient{
			Bootstrap: c.bootstrap,
			Topic:     topic,
			Partition: partition,
		},
	}
	c.fetchers[key] = f
	return f
}

// doFetch performs one blocking libkafka fetch call and reports the
// result on readCh (success, even if empty) or errorCh (transport error).
// It never resends the fetch itself: the Worker's wait/classify loop owns
// retry semantics.
func (c *Conn) doFetch(ctx context.Context, f *fetcher.PartitionFetcher, topic string, partition int32) {
	defer c.wg.Done()

	resp, err := f.Fetch()
	select {
	case <-c.closed:
		return
	case <-ctx.Done():
		return
	default:
	}

	if err != nil {
		select {
		case c.errorCh <- fmt.Errorf("fetchconn: fetch %s/%d: %w", topic, partition, err):
		case <-c.closed:
		}
		return
	}

	payload, perr := c.encodeResponse(topic, partition, resp)
	if perr != nil {
		select {
		case c.errorCh <- perr:
		case <-c.closed:
		}
		return
	}

	select {
	case c.readCh <- fetchqueue.ReadEvent{Bytes: payload}:
	case <-c.closed:
	}
}

// encodeResponse walks a fetch response's record batches exactly as
// mkocikowski-kafkaclient's consumer.Exchange.parseFetchResponse does
// (unmarshal each raw batch off the record set, decompress, unmarshal
// records), and re-expresses the result as the defaultDecoder's wire
// format so the core's Fetch Response Reader can consume it without a
// direct libkafka dependency.
func (c *Conn) encodeResponse(topic string, partition int32, resp *fetcher.Response) ([]byte, error) {
	if resp == nil {
		return nil, nil
	}

	var buf []byte
	appendLine := func(v any) error {
		line, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
		return nil
	}

	for _, raw := range resp.RecordSet.Batches() {
		b, err := batch.Unmarshal(raw)
		if err != nil {
			if jerr := appendLine(wireFetchErrorLine(topic, fmt.Sprintf("unmarshaling batch: %v", err))); jerr != nil {
				return nil, jerr
			}
			continue
		}

		d := c.decompressors[b.CompressionType()]
		if d == nil {
			if jerr := appendLine(wireFetchErrorLine(topic, fmt.Sprintf("no decompressor for codec %d", b.CompressionType()))); jerr != nil {
				return nil, jerr
			}
			continue
		}

		marshaledRecords, err := b.Records(d)
		if err != nil {
			if jerr := appendLine(wireFetchErrorLine(topic, fmt.Sprintf("reading batch records: %v", err))); jerr != nil {
				return nil, jerr
			}
			continue
		}

		baseOffset := b.BaseOffset
		for i, mr := range marshaledRecords {
			r, err := record.Unmarshal(mr)
			if err != nil {
				return nil, fmt.Errorf("fetchconn: unmarshaling record: %w", err)
			}
			if jerr := appendLine(wireMessageLine(topic, partition, baseOffset+int64(i), r.Value)); jerr != nil {
				return nil, jerr
			}
		}
	}
	return buf, nil
}

// wireMessageLine/wireFetchErrorLine mirror decoder_default.go's wireItem shape so
// the core's default decoder can parse this package's output without
// either package importing the other's unexported types.
type wireItem struct {
	Message    *wireMessageBody    `json:"message,omitempty"`
	FetchError *wireFetchErrorBody `json:"fetch_error,omitempty"`
}

type wireMessageBody struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
	Bytes     []byte `json:"bytes"`
}

type wireFetchErrorBody struct {
	Code    int16  `json:"code"`
	Topic   string `json:"topic"`
	Context string `json:"context"`
}

func wireMessageLine(topic string, partition int32, offset int64, value []byte) wireItem {
	return wireItem{Message: &wireMessageBody{Topic: topic, Partition: partition, Offset: offset, Bytes: value}}
}

func wireFetchErrorLine(topic, context string) wireItem {
	return wireItem{FetchError: &wireFetchErrorBody{Topic: topic, Context: context}}
}

// Close releases this connection's resources. Only the supervisor calls
// this, on consumer stop or worker restart.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		// Deliver the Poison sentinel so any in-flight waiter unblocks
		// immediately instead of riding out its fetch timeout.
		select {
		case c.readCh <- fetchqueue.ReadEvent{Poison: true}:
		default:
		}
	})
	c.wg.Wait()
	return nil
}
