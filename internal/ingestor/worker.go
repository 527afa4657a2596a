package ingestor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scicache-backend/internal/messaging"
	"scicache-backend/internal/models"
)

// Worker consumes ingest-requested events off the message bus and drives
// the Ingestor. Subscribing under a queue group makes a multi-instance
// deployment split the work with each request handled once; the ingest
// lock inside Run covers the redelivery and crash-restart cases.
type Worker struct {
	ingestor   Ingestor
	subscriber func() *messaging.EventSubscriber
	timeout    time.Duration
	logger     *slog.Logger
}

// NewWorker creates an ingest worker. subscriber is resolved at Start
// time, since the messaging connection is only established after
// dependency wiring.
func NewWorker(ing Ingestor, subscriber func() *messaging.EventSubscriber, timeout time.Duration, logger *slog.Logger) *Worker {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Worker{ingestor: ing, subscriber: subscriber, timeout: timeout, logger: logger}
}

// Start registers the queue-group subscription. Handlers run on the NATS
// delivery goroutine; each ingest gets its own bounded context so a hung
// upstream cannot pin a worker forever.
func (w *Worker) Start(ctx context.Context) error {
	subscriber := w.subscriber()
	if subscriber == nil {
		return fmt.Errorf("messaging subscriber not available")
	}
	return subscriber.OnRelationIngestRequestedQueue(ctx, messaging.IngestQueueGroup, func(event *messaging.RelationIngestRequestedEvent) error {
		runCtx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		kind := models.RelationKind(event.Kind)
		if kind != models.RelationKindCitations && kind != models.RelationKindReferences {
			w.logger.Warn("ignoring ingest request with unknown kind",
				slog.String("paper_id", event.PaperID), slog.String("kind", event.Kind))
			return nil
		}

		w.logger.Info("starting relation ingest",
			slog.String("paper_id", event.PaperID),
			slog.String("kind", event.Kind),
			slog.Int("expected_total", event.ExpectedTotal))

		if err := w.ingestor.Run(runCtx, event.PaperID, kind); err != nil {
			w.logger.Error("relation ingest failed",
				slog.String("paper_id", event.PaperID),
				slog.String("kind", event.Kind),
				slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}
