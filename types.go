// types.go
package fetchqueue

import "fmt"

// BrokerKey identifies a Kafka broker endpoint. It is the cache key the
// Producer Registry uses to deduplicate connections.
type BrokerKey struct {
	Host string
	Port int
}

func (k BrokerKey) String() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}

// WorkUnit is a planner-produced request to fetch up to Len messages from
// (Topic, Partition) starting at Offset, against the broker identified by
// Producer. WorkUnits are never mutated in place once placed on the work
// queue.
type WorkUnit struct {
	Producer  BrokerKey `json:"producer"`
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Len       int64     `json:"len"`
}

// Valid reports whether w has every field the publish path requires.
func (w WorkUnit) Valid() bool {
	return w.Producer.Host != "" && w.Producer.Port > 0 && w.Topic != "" && w.Len >= 0
}

// Status is the outcome classification of a settled work unit.
type Status string

const (
	StatusOK   Status = "ok"
	StatusFail Status = "fail"
)

// RespData is the settled payload attached to a WorkOutcome. A nil
// *RespData means the unit made no measurable progress.
type RespData struct {
	OffsetRead int64 `json:"offset-read"`
}

// WorkOutcome is the settled result of one worker cycle: the originating
// WorkUnit plus its Status and optional RespData. Once written to the
// complete queue it is immutable.
type WorkOutcome struct {
	WorkUnit
	Status   Status    `json:"status"`
	RespData *RespData `json:"resp-data,omitempty"`
}

// Message is a single accepted Kafka record, already filtered to a work
// unit's (topic, partition, offset window) by the Fetch Response Reader.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Bytes     []byte
}

// FetchError is a broker-reported error surfaced by the fetch decoder. It
// does not by itself abort the work unit it was produced for.
type FetchError struct {
	Code    int16
	Topic   string
	Context string
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetch error %d on %s: %s", e.Code, e.Topic, e.Context)
}

// Stats are runtime counters exposed by the Supervisor. They are purely
// observational: nothing in the core reads them back to make decisions.
type Stats struct {
	UnitsClaimed      int64
	UnitsSettledOK    int64
	UnitsSettledFail  int64
	ProducersCreated  int64
	WorkerRestarts    int64
	DispatcherRetries int64
}
