package consumer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// ErrMalformed marks records that can never be decoded.
var ErrMalformed = errors.New("malformed record")

const wireHeaderLen = 5

func decode(record kafka.Message) (Message, error) {
	if len(record.Value) < wireHeaderLen {
		return Message{}, fmt.Errorf("%w: value is %d bytes", ErrMalformed, len(record.Value))
	}
	if magic := record.Value[0]; magic != 0 {
		return Message{}, fmt.Errorf("%w: magic byte %d", ErrMalformed, magic)
	}

	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_type"] == "" {
		return Message{}, fmt.Errorf("%w: event_type header missing", ErrMalformed)
	}
	if headers["tenant_id"] == "" {
		return Message{}, fmt.Errorf("%w: tenant_id header missing", ErrMalformed)
	}

	return Message{
		Topic:         record.Topic,
		Partition:     record.Partition,
		Offset:        record.Offset,
		Timestamp:     record.Time,
		EventType:     headers["event_type"],
		TenantID:      headers["tenant_id"],
		SchemaSubject: headers["schema_subject"],
		SchemaID:      int(binary.BigEndian.Uint32(record.Value[1:wireHeaderLen])),
		Payload:       append([]byte(nil), record.Value[wireHeaderLen:]...),
	}, nil
}
