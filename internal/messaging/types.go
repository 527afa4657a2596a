package messaging

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// MessageHandler represents a function that handles incoming messages
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents a NATS message
type Message struct {
	Subject      string
	Data         []byte
	Headers      nats.Header
	ReplySubject string
	msg          *nats.Msg     // Core NATS message
	jsMsg        jetstream.Msg // JetStream message
}

// Subscription represents a NATS subscription
type Subscription struct {
	sub    *nats.Subscription
	logger *slog.Logger
}

// Ack acknowledges the message (for JetStream)
func (m *Message) Ack() error {
	if m.jsMsg != nil {
		return m.jsMsg.Ack()
	}
	return nil
}

// Nak negative acknowledges the message (for JetStream)
func (m *Message) Nak() error {
	if m.jsMsg != nil {
		return m.jsMsg.Nak()
	}
	return nil
}

// Reply sends a reply to the message
func (m *Message) Reply(data interface{}) error {
	if m.ReplySubject == "" {
		return fmt.Errorf("no reply subject")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	if m.msg != nil {
		return m.msg.Respond(payload)
	}

	return fmt.Errorf("no underlying message to reply to")
}

// Unmarshal unmarshals the message data into a struct
func (m *Message) Unmarshal(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

// GetHeader returns a header value
func (m *Message) GetHeader(key string) string {
	return m.Headers.Get(key)
}

// Unsubscribe unsubscribes from the subscription
func (s *Subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	s.logger.Info("Unsubscribed from subject",
		slog.String("subject", s.sub.Subject))

	return nil
}

// IsValid returns true if the subscription is still valid
func (s *Subscription) IsValid() bool {
	return s.sub.IsValid()
}

// PendingMessages returns the number of pending messages
func (s *Subscription) PendingMessages() (int, int, error) {
	return s.sub.Pending()
}

// Subject returns the subscription subject
func (s *Subscription) Subject() string {
	return s.sub.Subject
}

// Queue returns the subscription queue group (if any)
func (s *Subscription) Queue() string {
	return s.sub.Queue
}

// Paper Events

// PaperResolvedEvent is published after the Resolver completes an Upstream
// fetch and the Hot Cache holds the result. Subscribers (persistence
// fan-out, monitoring) run strictly after the client-visible write.
type PaperResolvedEvent struct {
	PaperID        string `json:"paper_id"`
	Source         string `json:"source"` // upstream, graph_store, hot_cache
	CitationCount  int    `json:"citation_count"`
	ReferenceCount int    `json:"reference_count"`
	ResolvedAt     int64  `json:"resolved_at"`
	Stale          bool   `json:"stale,omitempty"`
}

// CacheInvalidatedEvent is published when an operator drops a paper's Hot
// Cache entries.
type CacheInvalidatedEvent struct {
	PaperID       string `json:"paper_id"`
	InvalidatedAt int64  `json:"invalidated_at"`
}

// AliasConflictEvent records an alias whose stored mapping disagreed with
// a freshly observed one. The stored mapping wins; this event is the
// operator-visible trail.
type AliasConflictEvent struct {
	Kind             string `json:"kind"`
	NormalizedValue  string `json:"normalized_value"`
	ExistingPaperID  string `json:"existing_paper_id"`
	AttemptedPaperID string `json:"attempted_paper_id"`
	ObservedAt       int64  `json:"observed_at"`
}

// Ingest Events

// RelationIngestRequestedEvent asks the ingest worker pool to paginate a
// large citation or reference list in the background.
type RelationIngestRequestedEvent struct {
	PaperID       string `json:"paper_id"`
	Kind          string `json:"kind"` // citations, references
	ExpectedTotal int    `json:"expected_total"`
	RequestedAt   int64  `json:"requested_at"`
}

// RelationIngestCompletedEvent reports a finished (or failed) ingest run.
type RelationIngestCompletedEvent struct {
	PaperID      string `json:"paper_id"`
	Kind         string `json:"kind"`
	PagesFetched int    `json:"pages_fetched"`
	Neighbors    int    `json:"neighbors"`
	Duration     int64  `json:"duration_ms"`
	CompletedAt  int64  `json:"completed_at"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// Search Events

// SearchCompletedEvent represents a completed search
type SearchCompletedEvent struct {
	Query       string `json:"query"`
	ResultCount int    `json:"result_count"`
	Duration    int64  `json:"duration_ms"`
	CacheHit    bool   `json:"cache_hit"`
	Local       bool   `json:"local,omitempty"`
	CompletedAt int64  `json:"completed_at"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// Notification Events

// SystemNotificationEvent represents a system notification
type SystemNotificationEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // info, warning, error, alert
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Component string                 `json:"component"` // resolver, ingestor, search, etc.
	Severity  string                 `json:"severity"`  // low, medium, high, critical
	Timestamp int64                  `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	ExpiresAt *int64                 `json:"expires_at,omitempty"`
}

// HealthCheckEvent represents a health check event
type HealthCheckEvent struct {
	Component    string                 `json:"component"`
	Status       string                 `json:"status"` // healthy, unhealthy, degraded
	Timestamp    int64                  `json:"timestamp"`
	ResponseTime int64                  `json:"response_time_ms"`
	Error        string                 `json:"error,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// MetricsEvent represents a metrics collection event
type MetricsEvent struct {
	MetricName string            `json:"metric_name"`
	MetricType string            `json:"metric_type"` // counter, gauge, histogram
	Value      float64           `json:"value"`
	Labels     map[string]string `json:"labels,omitempty"`
	Timestamp  int64             `json:"timestamp"`
	Component  string            `json:"component"`
}

// Message Subjects (Constants for consistency)
const (
	// Paper subjects
	SubjectPaperResolved    = "papers.resolved"
	SubjectCacheInvalidated = "papers.cache_invalidated"
	SubjectAliasConflict    = "papers.alias_conflict"

	// Ingest subjects
	SubjectIngestRequested = "ingest.relations.requested"
	SubjectIngestCompleted = "ingest.relations.completed"

	// Search subjects
	SubjectSearchCompleted = "search.completed"

	// Notification subjects
	SubjectNotificationSystem = "notifications.system"

	// Alert subjects
	SubjectAlertHealthCheck = "alerts.health_check"

	// Metrics subjects
	SubjectMetricsApplication = "metrics.application"
)

// IngestQueueGroup is the queue group the ingest worker pool subscribes
// under, so each requested ingest lands on exactly one worker.
const IngestQueueGroup = "ingest-workers"

// buildTLSConfig builds TLS configuration from NATS TLS config
func buildTLSConfig(cfg *struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{}

	// Load client certificate if configured
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// Load CA certificate if configured
	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}

// Publisher interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	PublishAsync(ctx context.Context, subject string, data interface{}) error
}

// Subscriber interface for subscribing to messages
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (*Subscription, error)
	SubscribeQueue(ctx context.Context, subject, queue string, handler MessageHandler) (*Subscription, error)
}

// Requester interface for request-reply messaging
type Requester interface {
	Request(ctx context.Context, subject string, data interface{}, timeout int64) (*Message, error)
}

// EventBus combines all messaging interfaces
type EventBus interface {
	Publisher
	Subscriber
	Requester
}

// Helper functions for creating events

// NewSystemNotificationEvent creates a new system notification event
func NewSystemNotificationEvent(notifType, title, message, component, severity string) *SystemNotificationEvent {
	return &SystemNotificationEvent{
		ID:        generateEventID(),
		Type:      notifType,
		Title:     title,
		Message:   message,
		Component: component,
		Severity:  severity,
		Timestamp: currentTimestamp(),
	}
}

// Helper functions

func currentTimestamp() int64 {
	return time.Now().UnixMilli()
}

func generateEventID() string {
	return fmt.Sprintf("evt_%d_%s", currentTimestamp(), generateRandomString(6))
}

func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	result := make([]byte, length)
	for i := range result {
		result[i] = charset[time.Now().UnixNano()%int64(len(charset))]
	}
	return string(result)
}
