package service

import (
	"context"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
)

// used when events.driver is none
type nopPublisher struct{}

func (nopPublisher) PublishEvent(context.Context, domain.TaskEvent) error { return nil }

type nopCache struct{}

func (nopCache) Put(context.Context, *domain.TaskRecord) error { return nil }

func (nopCache) Get(context.Context, string) (*domain.TaskRecord, error) {
	return nil, domain.ErrTaskNotFound
}

func publisherOrNop(p port.EventPublisher) port.EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func cacheOrNop(c port.ResultCache) port.ResultCache {
	if c == nil {
		return nopCache{}
	}
	return c
}
