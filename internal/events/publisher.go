package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// DefaultStream holds schedule lifecycle events
	DefaultStream = "SCHEDULES"

	streamMaxAge     = 7 * 24 * time.Hour
	operationTimeout = 30 * time.Second
)

// Type is the subject an event is published on
type Type string

const (
	ScheduleCreated Type = "schedule.created"
	ScheduleRemoved Type = "schedule.removed"
	ScheduleFailed  Type = "schedule.failed"
	SummarySent     Type = "summary.sent"
)

// Event describes a change to a group's scheduled job
type Event struct {
	ID         string     `json:"id"`
	Type       Type       `json:"type"`
	JobName    string     `json:"job_name"`
	GroupID    string     `json:"group_id"`
	Platform   string     `json:"platform,omitempty"`
	Recurrence string     `json:"recurrence,omitempty"`
	TimeOfDay  string     `json:"time_of_day,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	Error      string     `json:"error,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Publisher announces schedule lifecycle events
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }

// JetStreamPublisher publishes events to a JetStream stream
type JetStreamPublisher struct {
	js     nats.JetStreamContext
	stream string
	logger *zap.Logger
}

// NewJetStreamPublisher creates the stream when missing and returns a publisher for it
func NewJetStreamPublisher(js nats.JetStreamContext, stream string, logger *zap.Logger) (*JetStreamPublisher, error) {
	if stream == "" {
		stream = DefaultStream
	}
	p := &JetStreamPublisher{
		js:     js,
		stream: stream,
		logger: logger.Named("events"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := p.setupStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}
	return p, nil
}

func (p *JetStreamPublisher) setupStream(ctx context.Context) error {
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:     p.stream,
		Subjects: []string{"schedule.*", "summary.*"},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			p.logger.Info("Stream already exists", zap.String("stream", p.stream))
			return nil
		}
		return err
	}

	p.logger.Info("Stream created successfully", zap.String("stream", p.stream))
	return nil
}

// Publish implements Publisher
func (p *JetStreamPublisher) Publish(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(string(ev.Type), data, nats.Context(ctx), nats.MsgId(ev.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Event published",
		zap.String("type", string(ev.Type)),
		zap.String("job_name", ev.JobName))
	return nil
}

// Connect dials NATS with reconnect handling and returns a JetStream context
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	logger = logger.Named("nats")
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, js, nil
}
