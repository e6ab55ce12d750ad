// reader.go
package fetchqueue

import "errors"

// FetchItem is one item decoded from a raw fetch response by the external
// fetch decoder. It is a tagged variant: exactly one of Message or
// FetchErr is set.
type FetchItem struct {
	Message  *Message
	FetchErr *FetchError
}

// Decoder folds over the decoded items of a raw fetch response payload,
// calling step once per item. It is the boundary to whatever Kafka wire
// decoder is in use; defaultDecoder (decoder_default.go) reads the
// newline-delimited-JSON payloads transport/fetchconn produces.
type Decoder interface {
	Decode(payload []byte, step func(FetchItem) error) error
}

// ErrMalformedFetchItem is returned by ReadFetchResponse when the decoder
// produces an item that is neither a Message nor a FetchError. It is a
// decoder bug, not a recoverable per-message condition, so it fails the
// whole unit rather than folding into the returned error vector.
var ErrMalformedFetchItem = errors.New("fetchqueue: decoder produced neither a message nor a fetch error")

// dedupKey identifies one record: {topic, partition, offset}. Only an
// exact repeat of all three collapses to a single message; distinct
// offsets for the same (topic, partition) are kept as distinct messages.
type dedupKey struct {
	topic     string
	partition int32
	offset    int64
}

// ReadFetchResponse decodes payload into the (messages, errors) pair for
// work unit w. The returned messages are ordered by first occurrence and
// cover every offset in [w.Offset, w.Offset+w.Len) that the decoder
// produced a record for.
//
// Messages outside w's (topic, partition, offset window) are discarded
// silently — Kafka's wire framing can return adjacent records. FetchErrors
// are accumulated and never abort the fold. An item that is neither a
// Message nor a FetchError is a fatal decoder bug: ReadFetchResponse
// returns immediately with a non-nil error so the caller fails the unit.
//
// Deduplication is keyed on the full (topic, partition, offset): only a
// genuine repeat of the same record collapses, keeping the last copy the
// decoder produced for it. Distinct offsets within the window are never
// collapsed into each other.
func ReadFetchResponse(w WorkUnit, payload []byte, dec Decoder) ([]Message, []FetchError, error) {
	if len(payload) == 0 {
		return nil, nil, nil
	}

	accepted := make(map[dedupKey]int) // dedupKey -> index into order
	var order []Message
	var fetchErrs []FetchError

	err := dec.Decode(payload, func(item FetchItem) error {
		switch {
		case item.Message != nil:
			m := *item.Message
			if m.Topic != w.Topic || m.Partition != w.Partition {
				return nil // discard: mismatched topic/partition
			}
			if m.Offset < w.Offset {
				return nil // discard: before the requested window
			}
			if m.Offset >= w.Offset+w.Len {
				return nil // discard: beyond the requested window
			}
			key := dedupKey{m.Topic, m.Partition, m.Offset}
			if idx, ok := accepted[key]; ok {
				order[idx] = m // overwrite in place: last write wins
				return nil
			}
			accepted[key] = len(order)
			order = append(order, m)
			return nil

		case item.FetchErr != nil:
			fetchErrs = append(fetchErrs, *item.FetchErr)
			return nil

		default:
			return ErrMalformedFetchItem
		}
	})
	if errors.Is(err, ErrMalformedFetchItem) {
		return nil, fetchErrs, err
	}
	if err != nil {
		// Fold any other decode failure into the error vector without
		// losing whatever was already accumulated.
		fetchErrs = append(fetchErrs, FetchError{Context: err.Error()})
	}

	if len(order) == 0 {
		return nil, fetchErrs, nil
	}
	return order, fetchErrs, nil
}

// MaxOffset returns the highest Offset among messages, and false if
// messages is empty.
func MaxOffset(messages []Message) (int64, bool) {
	if len(messages) == 0 {
		return 0, false
	}
	max := messages[0].Offset
	for _, m := range messages[1:] {
		if m.Offset > max {
			max = m.Offset
		}
	}
	return max, true
}
