package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scicache-backend/internal/errors"
)

// EventPublisher provides high-level event publishing functionality
type EventPublisher struct {
	client   *Client
	clientFn func() *Client
	logger   *slog.Logger
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(client *Client, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		client: client,
		logger: logger,
	}
}

// NewDeferredEventPublisher creates an event publisher that resolves its
// client through clientFn on every publish. The NATS connection is only
// established after dependency wiring, so components constructed earlier
// hold this deferred form.
func NewDeferredEventPublisher(clientFn func() *Client, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		clientFn: clientFn,
		logger:   logger,
	}
}

func (p *EventPublisher) publishAsync(ctx context.Context, subject string, data interface{}) error {
	client := p.client
	if client == nil && p.clientFn != nil {
		client = p.clientFn()
	}
	if client == nil {
		return fmt.Errorf("messaging client not connected")
	}
	return client.PublishAsync(ctx, subject, data)
}

// Paper Events

// PublishPaperResolved publishes a paper resolved event
func (p *EventPublisher) PublishPaperResolved(ctx context.Context, paperID, source string, citationCount, referenceCount int, stale bool) error {
	event := &PaperResolvedEvent{
		PaperID:        paperID,
		Source:         source,
		CitationCount:  citationCount,
		ReferenceCount: referenceCount,
		ResolvedAt:     currentTimestamp(),
		Stale:          stale,
	}

	if err := p.publishAsync(ctx, SubjectPaperResolved, event); err != nil {
		return fmt.Errorf("failed to publish paper resolved event: %w", err)
	}

	p.logger.Debug("Published paper resolved event",
		slog.String("paper_id", paperID),
		slog.String("source", source),
		slog.Int("citation_count", citationCount))

	return nil
}

// PublishCacheInvalidated publishes a cache invalidated event
func (p *EventPublisher) PublishCacheInvalidated(ctx context.Context, paperID string) error {
	event := &CacheInvalidatedEvent{
		PaperID:       paperID,
		InvalidatedAt: currentTimestamp(),
	}

	if err := p.publishAsync(ctx, SubjectCacheInvalidated, event); err != nil {
		return fmt.Errorf("failed to publish cache invalidated event: %w", err)
	}

	p.logger.Debug("Published cache invalidated event", slog.String("paper_id", paperID))

	return nil
}

// PublishAliasConflict publishes an alias conflict event
func (p *EventPublisher) PublishAliasConflict(ctx context.Context, kind, normalizedValue, existingPaperID, attemptedPaperID string) error {
	event := &AliasConflictEvent{
		Kind:             kind,
		NormalizedValue:  normalizedValue,
		ExistingPaperID:  existingPaperID,
		AttemptedPaperID: attemptedPaperID,
		ObservedAt:       currentTimestamp(),
	}

	if err := p.publishAsync(ctx, SubjectAliasConflict, event); err != nil {
		return fmt.Errorf("failed to publish alias conflict event: %w", err)
	}

	p.logger.Warn("Published alias conflict event",
		slog.String("kind", kind),
		slog.String("normalized_value", normalizedValue),
		slog.String("existing_paper_id", existingPaperID),
		slog.String("attempted_paper_id", attemptedPaperID))

	return nil
}

// Ingest Events

// PublishRelationIngestRequested asks the ingest worker pool to paginate a
// large relation list
func (p *EventPublisher) PublishRelationIngestRequested(ctx context.Context, paperID, kind string, expectedTotal int) error {
	event := &RelationIngestRequestedEvent{
		PaperID:       paperID,
		Kind:          kind,
		ExpectedTotal: expectedTotal,
		RequestedAt:   currentTimestamp(),
	}

	if err := p.publishAsync(ctx, SubjectIngestRequested, event); err != nil {
		return fmt.Errorf("failed to publish relation ingest requested event: %w", err)
	}

	p.logger.Debug("Published relation ingest requested event",
		slog.String("paper_id", paperID),
		slog.String("kind", kind),
		slog.Int("expected_total", expectedTotal))

	return nil
}

// PublishRelationIngestCompleted publishes the terminal state of an ingest run
func (p *EventPublisher) PublishRelationIngestCompleted(ctx context.Context, paperID, kind string, pagesFetched, neighbors int, duration time.Duration, err error) error {
	event := &RelationIngestCompletedEvent{
		PaperID:      paperID,
		Kind:         kind,
		PagesFetched: pagesFetched,
		Neighbors:    neighbors,
		Duration:     duration.Milliseconds(),
		CompletedAt:  currentTimestamp(),
		Success:      err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}

	if pubErr := p.publishAsync(ctx, SubjectIngestCompleted, event); pubErr != nil {
		return fmt.Errorf("failed to publish relation ingest completed event: %w", pubErr)
	}

	p.logger.Debug("Published relation ingest completed event",
		slog.String("paper_id", paperID),
		slog.String("kind", kind),
		slog.Int("pages_fetched", pagesFetched),
		slog.Bool("success", err == nil))

	return nil
}

// Search Events

// PublishSearchCompleted publishes a search completed event
func (p *EventPublisher) PublishSearchCompleted(ctx context.Context, query string, resultCount int, duration time.Duration, cacheHit, local bool, err error) error {
	event := &SearchCompletedEvent{
		Query:       query,
		ResultCount: resultCount,
		Duration:    duration.Milliseconds(),
		CacheHit:    cacheHit,
		Local:       local,
		CompletedAt: currentTimestamp(),
		Success:     err == nil,
	}

	if err != nil {
		event.Error = err.Error()
	}

	if pubErr := p.publishAsync(ctx, SubjectSearchCompleted, event); pubErr != nil {
		return fmt.Errorf("failed to publish search completed event: %w", pubErr)
	}

	p.logger.Debug("Published search completed event",
		slog.String("query", query),
		slog.Int("result_count", resultCount),
		slog.Int64("duration_ms", duration.Milliseconds()),
		slog.Bool("cache_hit", cacheHit),
		slog.Bool("success", err == nil))

	return nil
}

// Notification Events

// PublishSystemNotification publishes a system notification
func (p *EventPublisher) PublishSystemNotification(ctx context.Context, notifType, title, message, component, severity string, metadata map[string]interface{}) error {
	event := NewSystemNotificationEvent(notifType, title, message, component, severity)
	event.Metadata = metadata

	if err := p.publishAsync(ctx, SubjectNotificationSystem, event); err != nil {
		return fmt.Errorf("failed to publish system notification: %w", err)
	}

	p.logger.Info("Published system notification",
		slog.String("type", notifType),
		slog.String("title", title),
		slog.String("component", component),
		slog.String("severity", severity))

	return nil
}

// PublishHealthCheck publishes a health check event
func (p *EventPublisher) PublishHealthCheck(ctx context.Context, component, status string, responseTime time.Duration, err error, metadata map[string]interface{}) error {
	event := &HealthCheckEvent{
		Component:    component,
		Status:       status,
		Timestamp:    currentTimestamp(),
		ResponseTime: responseTime.Milliseconds(),
		Metadata:     metadata,
	}

	if err != nil {
		event.Error = err.Error()
	}

	if err := p.publishAsync(ctx, SubjectAlertHealthCheck, event); err != nil {
		return fmt.Errorf("failed to publish health check event: %w", err)
	}

	p.logger.Debug("Published health check event",
		slog.String("component", component),
		slog.String("status", status),
		slog.Int64("response_time_ms", responseTime.Milliseconds()))

	return nil
}

// PublishMetrics publishes a metrics event
func (p *EventPublisher) PublishMetrics(ctx context.Context, metricName, metricType, component string, value float64, labels map[string]string) error {
	event := &MetricsEvent{
		MetricName: metricName,
		MetricType: metricType,
		Value:      value,
		Labels:     labels,
		Timestamp:  currentTimestamp(),
		Component:  component,
	}

	if err := p.publishAsync(ctx, SubjectMetricsApplication, event); err != nil {
		return fmt.Errorf("failed to publish metrics event: %w", err)
	}

	p.logger.Debug("Published metrics event",
		slog.String("metric_name", metricName),
		slog.String("metric_type", metricType),
		slog.String("component", component),
		slog.Float64("value", value))

	return nil
}

// Convenience methods for common notifications

// PublishInfo publishes an info notification
func (p *EventPublisher) PublishInfo(ctx context.Context, component, title, message string, metadata map[string]interface{}) error {
	return p.PublishSystemNotification(ctx, "info", title, message, component, "low", metadata)
}

// PublishWarning publishes a warning notification
func (p *EventPublisher) PublishWarning(ctx context.Context, component, title, message string, metadata map[string]interface{}) error {
	return p.PublishSystemNotification(ctx, "warning", title, message, component, "medium", metadata)
}

// PublishError publishes an error notification
func (p *EventPublisher) PublishError(ctx context.Context, component, title, message string, err error, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	if err != nil {
		metadata["error"] = err.Error()
		if scErr, ok := err.(*errors.SciCacheError); ok {
			metadata["error_type"] = scErr.Type
			metadata["error_code"] = scErr.Code
		}
	}

	return p.PublishSystemNotification(ctx, "error", title, message, component, "high", metadata)
}

// PublishAlert publishes a critical alert
func (p *EventPublisher) PublishAlert(ctx context.Context, component, title, message string, metadata map[string]interface{}) error {
	return p.PublishSystemNotification(ctx, "alert", title, message, component, "critical", metadata)
}
