// Package consumer reads calculation events back from Kafka for downstream
// reporting.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Reader is the subset of *kafka.Reader the processor drives.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// Validator checks a decoded payload before it reaches the handler.
type Validator interface {
	Validate(msg Message) error
}

// Message is a decoded outbox record.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	TenantID      string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger overrides the processor logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithValidator rejects payloads that fail v before they are handled.
func WithValidator(v Validator) Option {
	return func(p *Processor) { p.validator = v }
}

// Processor fetches records, decodes them and hands them to a Handler.
// Offsets are committed after a successful Handle and for records that can
// never be handled. Handler failures leave the offset uncommitted so the
// record is redelivered.
type Processor struct {
	reader    Reader
	handler   Handler
	validator Validator
	logger    zerolog.Logger
}

// NewProcessor returns a processor reading from reader.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{reader: reader, handler: handler, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx is cancelled or the reader reports cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		record, err := p.reader.FetchMessage(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return err
		case err != nil:
			p.logger.Warn().Err(err).Msg("fetch failed")
			continue
		}
		p.process(ctx, record)
	}
	return ctx.Err()
}

func (p *Processor) process(ctx context.Context, record kafka.Message) {
	log := p.logger.With().
		Str("topic", record.Topic).
		Int("partition", record.Partition).
		Int64("offset", record.Offset).
		Logger()

	msg, err := p.decodeAndValidate(record)
	if err != nil {
		recordDecodeError(record.Topic)
		log.Error().Err(err).Msg("skipping malformed record")
		p.commit(ctx, log, record)
		return
	}

	if err := p.handler.Handle(ctx, msg); err != nil {
		recordHandlerError(msg)
		log.Error().Err(err).
			Str("event_type", msg.EventType).
			Str("tenant_id", msg.TenantID).
			Msg("handler failed, leaving offset uncommitted")
		return
	}

	if p.commit(ctx, log, record) {
		recordProcessed(msg)
	}
}

func (p *Processor) decodeAndValidate(record kafka.Message) (Message, error) {
	msg, err := decode(record)
	if err != nil || p.validator == nil {
		return msg, err
	}
	return msg, p.validator.Validate(msg)
}

func (p *Processor) commit(ctx context.Context, log zerolog.Logger, record kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, record); err != nil {
		log.Error().Err(err).Msg("commit failed")
		return false
	}
	return true
}
