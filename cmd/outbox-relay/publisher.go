package main

import (
	"context"

	"github.com/drfirst/go-era/internal/infrastructure/postgres"
	"github.com/drfirst/go-era/internal/infrastructure/redpanda"
	"github.com/drfirst/go-era/pkg/circuitbreaker"
)

// producer is the part of redpanda.Producer the relay needs
type producer interface {
	Produce(ctx context.Context, rec *redpanda.Record) (*redpanda.Delivery, error)
}

// breakerPublisher adapts the producer to postgres.OutboxPublisher with one circuit per topic
type breakerPublisher struct {
	producer producer
	breakers *circuitbreaker.Manager
}

func (p *breakerPublisher) Publish(ctx context.Context, topic, key string, value []byte) (postgres.Receipt, error) {
	cb, err := p.breakers.Get(topic)
	if err != nil {
		return postgres.Receipt{}, err
	}

	delivery, err := circuitbreaker.Call(ctx, cb, func(ctx context.Context) (*redpanda.Delivery, error) {
		return p.producer.Produce(ctx, &redpanda.Record{Topic: topic, Key: key, Value: value})
	})
	if err != nil {
		return postgres.Receipt{}, err
	}
	return postgres.Receipt{Partition: delivery.Partition, Offset: delivery.Offset}, nil
}
