package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventRecord is the field/value form of a control-plane event. Fields whose
// value was null on the wire are absent.
type EventRecord map[string]string

func (r EventRecord) Has(field string) bool {
	_, ok := r[field]
	return ok
}

func (r EventRecord) Get(field string) string {
	return r[field]
}

// DecodeRecord decodes a JSON object body. Scalars are kept in their textual
// form so epoch millisecond values survive unchanged.
func DecodeRecord(body []byte) (EventRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty event body")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("event body is not a JSON object: %w", err)
	}

	record := make(EventRecord, len(raw))
	for field, value := range raw {
		value = bytes.TrimSpace(value)
		switch {
		case bytes.Equal(value, []byte("null")):
			continue
		case len(value) > 0 && value[0] == '"':
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return nil, fmt.Errorf("field %q: %w", field, err)
			}
			record[field] = s
		default:
			record[field] = string(value)
		}
	}

	if len(record) == 0 {
		return nil, fmt.Errorf("event record has no fields")
	}
	return record, nil
}

// DecodeTable decodes an AMQP header table, the map-message form some
// control planes publish with an empty body.
func DecodeTable(table amqp.Table) (EventRecord, error) {
	record := make(EventRecord, len(table))
	for field, value := range table {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			record[field] = v
		case []byte:
			record[field] = string(v)
		case bool:
			record[field] = strconv.FormatBool(v)
		case time.Time:
			record[field] = strconv.FormatInt(v.UnixMilli(), 10)
		default:
			record[field] = fmt.Sprint(v)
		}
	}

	if len(record) == 0 {
		return nil, fmt.Errorf("event record has no fields")
	}
	return record, nil
}

func EncodeRecord(record EventRecord) ([]byte, error) {
	if len(record) == 0 {
		return nil, fmt.Errorf("event record has no fields")
	}
	payload, err := json.Marshal(map[string]string(record))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event record: %w", err)
	}
	return payload, nil
}
