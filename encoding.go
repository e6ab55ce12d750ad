// encoding.go
package fetchqueue

import (
	"encoding/json"
	"fmt"
)

// encodingVersion is bumped whenever the encoded wire shape of WorkUnit or
// WorkOutcome changes in an incompatible way, so multiple
// consumers and producers sharing one queue can agree on the format.
const encodingVersion = 1

type envelope struct {
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeWorkUnit serializes a WorkUnit for the work queue.
func EncodeWorkUnit(w WorkUnit) ([]byte, error) {
	return encodeEnvelope(w)
}

// DecodeWorkUnit parses a work queue payload produced by EncodeWorkUnit.
func DecodeWorkUnit(data []byte) (WorkUnit, error) {
	var w WorkUnit
	if err := decodeEnvelope(data, &w); err != nil {
		return WorkUnit{}, err
	}
	return w, nil
}

// EncodeWorkOutcome serializes a WorkOutcome for the complete queue.
func EncodeWorkOutcome(o WorkOutcome) ([]byte, error) {
	return encodeEnvelope(o)
}

// DecodeWorkOutcome parses a complete queue payload produced by
// EncodeWorkOutcome.
func DecodeWorkOutcome(data []byte) (WorkOutcome, error) {
	var o WorkOutcome
	if err := decodeEnvelope(data, &o); err != nil {
		return WorkOutcome{}, err
	}
	return o, nil
}

func encodeEnvelope(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("fetchqueue: encoding payload: %w", err)
	}
	return json.Marshal(envelope{Version: encodingVersion, Payload: payload})
}

func decodeEnvelope(data []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("fetchqueue: decoding envelope: %w", err)
	}
	if env.Version != encodingVersion {
		return fmt.Errorf("fetchqueue: unsupported encoding version %d", env.Version)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("fetchqueue: decoding payload: %w", err)
	}
	return nil
}
