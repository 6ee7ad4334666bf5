package events

import (
	"context"

	"github.com/simaogato/financik-backend/internal/domain"
)

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.LedgerEvent) error { return nil }

func (NopPublisher) Close() error { return nil }

var (
	_ domain.EventPublisher = NopPublisher{}
	_ domain.EventPublisher = (*KafkaPublisher)(nil)
	_ domain.EventPublisher = (*AMQPPublisher)(nil)
)
