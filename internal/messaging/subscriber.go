package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"scicache-backend/internal/errors"
)

// EventSubscriber provides high-level event subscription functionality
type EventSubscriber struct {
	client        *Client
	logger        *slog.Logger
	subscriptions map[string]*Subscription
	handlers      map[string][]MessageHandler
	mu            sync.RWMutex
}

// NewEventSubscriber creates a new event subscriber
func NewEventSubscriber(client *Client, logger *slog.Logger) *EventSubscriber {
	return &EventSubscriber{
		client:        client,
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		handlers:      make(map[string][]MessageHandler),
	}
}

// Subscribe to a specific subject
func (s *EventSubscriber) Subscribe(ctx context.Context, subject string, handler MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Add handler to the list
	s.handlers[subject] = append(s.handlers[subject], handler)

	// If this is the first handler for this subject, create a subscription
	if len(s.handlers[subject]) == 1 {
		subscription, err := s.client.Subscribe(subject, func(m *nats.Msg) {
			// Convert to internal Message type and call handler
			msg := &Message{
				Subject:      m.Subject,
				Data:         m.Data,
				ReplySubject: m.Reply,
			}
			for _, handler := range s.handlers[subject] {
				handler(context.Background(), msg)
			}
		})
		if err != nil {
			delete(s.handlers, subject)
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subscriptions[subject] = &Subscription{
			sub:    subscription,
			logger: s.logger,
		}
	}

	s.logger.Info("Added handler for subject",
		slog.String("subject", subject),
		slog.Int("total_handlers", len(s.handlers[subject])))

	return nil
}

// SubscribeQueue subscribes to a subject with a queue group
func (s *EventSubscriber) SubscribeQueue(ctx context.Context, subject, queue string, handler MessageHandler) error {
	key := fmt.Sprintf("%s:%s", subject, queue)

	s.mu.Lock()
	defer s.mu.Unlock()

	// For queue subscriptions, we create individual subscriptions
	subscription, err := s.client.SubscribeQueue(subject, queue, func(m *nats.Msg) {
		// Convert to internal Message type and call handler
		msg := &Message{
			Subject:      m.Subject,
			Data:         m.Data,
			ReplySubject: m.Reply,
		}
		handler(context.Background(), msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to queue %s for subject %s: %w", queue, subject, err)
	}

	s.subscriptions[key] = &Subscription{
		sub:    subscription,
		logger: s.logger,
	}

	s.logger.Info("Subscribed to queue",
		slog.String("subject", subject),
		slog.String("queue", queue))

	return nil
}

// Unsubscribe from a subject
func (s *EventSubscriber) Unsubscribe(subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscription, exists := s.subscriptions[subject]
	if !exists {
		return fmt.Errorf("no subscription found for subject: %s", subject)
	}

	if err := subscription.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", subject, err)
	}

	delete(s.subscriptions, subject)
	delete(s.handlers, subject)

	s.logger.Info("Unsubscribed from subject", slog.String("subject", subject))
	return nil
}

// UnsubscribeAll unsubscribes from all subjects
func (s *EventSubscriber) UnsubscribeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	for subject, subscription := range s.subscriptions {
		if err := subscription.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unsubscribe from %s: %w", subject, err))
		}
	}

	s.subscriptions = make(map[string]*Subscription)
	s.handlers = make(map[string][]MessageHandler)

	if len(errs) > 0 {
		return fmt.Errorf("errors during unsubscribe: %v", errs)
	}

	s.logger.Info("Unsubscribed from all subjects")
	return nil
}

// Paper Event Handlers

// OnPaperResolved registers a handler for paper resolved events
func (s *EventSubscriber) OnPaperResolved(ctx context.Context, handler func(event *PaperResolvedEvent) error) error {
	return s.Subscribe(ctx, SubjectPaperResolved, func(ctx context.Context, msg *Message) error {
		var event PaperResolvedEvent
		if err := msg.Unmarshal(&event); err != nil {
			return errors.NewSerializationError("unmarshal_paper_resolved", err)
		}
		return handler(&event)
	})
}

// OnCacheInvalidated registers a handler for cache invalidated events
func (s *EventSubscriber) OnCacheInvalidated(ctx context.Context, handler func(event *CacheInvalidatedEvent) error) error {
	return s.Subscribe(ctx, SubjectCacheInvalidated, func(ctx context.Context, msg *Message) error {
		var event CacheInvalidatedEvent
		if err := msg.Unmarshal(&event); err != nil {
			return errors.NewSerializationError("unmarshal_cache_invalidated", err)
		}
		return handler(&event)
	})
}

// OnAliasConflict registers a handler for alias conflict events
func (s *EventSubscriber) OnAliasConflict(ctx context.Context, handler func(event *AliasConflictEvent) error) error {
	return s.Subscribe(ctx, SubjectAliasConflict, func(ctx context.Context, msg *Message) error {
		var event AliasConflictEvent
		if err := msg.Unmarshal(&event); err != nil {
			return errors.NewSerializationError("unmarshal_alias_conflict", err)
		}
		return handler(&event)
	})
}

// Ingest Event Handlers

// OnRelationIngestRequested registers a handler for ingest requests
func (s *EventSubscriber) OnRelationIngestRequested(ctx context.Context, handler func(event *RelationIngestRequestedEvent) error) error {
	return s.Subscribe(ctx, SubjectIngestRequested, func(ctx context.Context, msg *Message) error {
		var event RelationIngestRequestedEvent
		if err := msg.Unmarshal(&event); err != nil {
			return errors.NewSerializationError("unmarshal_relation_ingest_requested", err)
		}
		return handler(&event)
	})
}

// OnRelationIngestRequestedQueue registers a queue-group handler for ingest
// requests, so a pool of workers splits the load and each request is
// handled once
func (s *EventSubscriber) OnRelationIngestRequestedQueue(ctx context.Context, queueGroup string, handler func(event *RelationIngestRequestedEvent) error) error {
	return s.SubscribeQueue(ctx, SubjectIngestRequested, queueGroup, func(ctx context.Context, msg *Message) error {
		var event RelationIngestRequestedEvent
		if err := msg.Unmarshal(&event); err != nil {
			return errors.NewSerializationError("unmarshal_relation_ingest_requested_queue", err)
		}
		return handler(&event)
	})
}

// OnRelationIngestCompleted registers a handler for ingest completion events
func (s *EventSubscriber) OnRelationIngestCompleted(ctx context.Context, handler func(event *RelationIngestCompletedEvent) error) error {
	return s.Subscribe(ctx, SubjectIngestCompleted, func(ctx context.Context, msg *Message) error {
		var event RelationIngestCompletedEvent
		if err := msg.Unmarshal(&event); err != nil {
			return errors.NewSerializationError("unmarshal_relation_ingest_completed", err)
		}
		return handler(&event)
	})
}

// Search Event Handlers

// OnSearchCompleted registers a handler for search completed events
func (s *EventSubscriber) OnSearchCompleted(ctx context.Context, handler func(event *SearchCompletedEvent) error) error {
	return s.Subscribe(ctx, SubjectSearchCompleted, func(ctx context.Context, msg *Message) error {
		var event SearchCompletedEvent
		if err := msg.Unmarshal(&event); err != nil {
			return errors.NewSerializationError("unmarshal_search_completed", err)
		}
		return handler(&event)
	})
}

// Notification Event Handlers

// OnSystemNotification registers a handler for system notifications
func (s *EventSubscriber) OnSystemNotification(ctx context.Context, handler func(event *SystemNotificationEvent) error) error {
	return s.Subscribe(ctx, SubjectNotificationSystem, func(ctx context.Context, msg *Message) error {
		var event SystemNotificationEvent
		if err := msg.Unmarshal(&event); err != nil {
			return errors.NewSerializationError("unmarshal_system_notification", err)
		}
		return handler(&event)
	})
}

// OnHealthCheck registers a handler for health check events
func (s *EventSubscriber) OnHealthCheck(ctx context.Context, handler func(event *HealthCheckEvent) error) error {
	return s.Subscribe(ctx, SubjectAlertHealthCheck, func(ctx context.Context, msg *Message) error {
		var event HealthCheckEvent
		if err := msg.Unmarshal(&event); err != nil {
			return errors.NewSerializationError("unmarshal_health_check", err)
		}
		return handler(&event)
	})
}

// OnMetrics registers a handler for metrics events
func (s *EventSubscriber) OnMetrics(ctx context.Context, handler func(event *MetricsEvent) error) error {
	return s.Subscribe(ctx, SubjectMetricsApplication, func(ctx context.Context, msg *Message) error {
		var event MetricsEvent
		if err := msg.Unmarshal(&event); err != nil {
			return errors.NewSerializationError("unmarshal_metrics", err)
		}
		return handler(&event)
	})
}

// GetSubscriptionInfo returns information about all active subscriptions
func (s *EventSubscriber) GetSubscriptionInfo() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := make(map[string]interface{})

	for subject, subscription := range s.subscriptions {
		pending, _, _ := subscription.PendingMessages()
		info[subject] = map[string]interface{}{
			"valid":            subscription.IsValid(),
			"pending_messages": pending,
			"queue":            subscription.Queue(),
			"handlers":         len(s.handlers[subject]),
		}
	}

	return info
}
