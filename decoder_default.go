// decoder_default.go
package fetchqueue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// wireItem is the on-the-wire shape defaultDecoder expects: one JSON object
// per line, each either a message or a fetch error.
type wireItem struct {
	Message *struct {
		Topic     string `json:"topic"`
		Partition int32  `json:"partition"`
		Offset    int64  `json:"offset"`
		Bytes     []byte `json:"bytes"`
	} `json:"message,omitempty"`
	FetchError *struct {
		Code    int16  `json:"code"`
		Topic   string `json:"topic"`
		Context string `json:"context"`
	} `json:"fetch_error,omitempty"`
}

// defaultDecoder is the fallback Decoder used when Config.Decoder is not
// set. It exists so the core is independently testable without a live
// Kafka wire decoder, using a simple newline-delimited-JSON framing.
// transport/fetchconn decodes the actual Kafka fetch-response wire format
// with libkafka and re-emits the records in this framing, so this decoder
// also serves that transport.
type defaultDecoder struct{}

func (defaultDecoder) Decode(payload []byte, step func(FetchItem) error) error {
	for _, line := range bytes.Split(payload, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var wi wireItem
		if err := json.Unmarshal(line, &wi); err != nil {
			return fmt.Errorf("fetchqueue: default decoder: %w", err)
		}
		item, err := wi.toFetchItem()
		if err != nil {
			return err
		}
		if err := step(item); err != nil {
			return err
		}
	}
	return nil
}

func (wi wireItem) toFetchItem() (FetchItem, error) {
	switch {
	case wi.Message != nil:
		return FetchItem{Message: &Message{
			Topic:     wi.Message.Topic,
			Partition: wi.Message.Partition,
			Offset:    wi.Message.Offset,
			Bytes:     wi.Message.Bytes,
		}}, nil
	case wi.FetchError != nil:
		return FetchItem{FetchErr: &FetchError{
			Code:    wi.FetchError.Code,
			Topic:   wi.FetchError.Topic,
			Context: wi.FetchError.Context,
		}}, nil
	default:
		return FetchItem{}, fmt.Errorf("fetchqueue: default decoder: item has neither message nor fetch_error")
	}
}
