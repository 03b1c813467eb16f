package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/kanban_backend/config"
)

const (
	EventTypeTransition = "lifecycle.transition"
	EventTypeQueueEntry = "lifecycle.queue_entry"
)

// EventPublisher is the bus contract the orchestrator consumes. Publish
// failures are best-effort on the commit path: logged and swallowed, never
// propagated into a committed transition's result.
type EventPublisher interface {
	Publish(ctx context.Context, msg config.LifecycleMessage) error
}

// PubSubEventPublisher publishes on the configured lifecycle topic.
type PubSubEventPublisher struct{}

func NewPubSubEventPublisher() *PubSubEventPublisher {
	return &PubSubEventPublisher{}
}

func (p *PubSubEventPublisher) Publish(ctx context.Context, msg config.LifecycleMessage) error {
	_, err := config.PublishLifecycleMessage(ctx, msg)
	return err
}
