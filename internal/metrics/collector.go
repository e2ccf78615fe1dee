package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/discovery-proxy/internal/apperror"
)

type EventType string

const (
	EventRegistered EventType = "registered"
	EventForwarded  EventType = "forwarded"
	EventFailed     EventType = "failed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Route     string
	Endpoint  string
	Duration  time.Duration
	// StatusCode is the backend's status, when one was received.
	StatusCode int
	// Code is the failure code for EventFailed.
	Code string
}

type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	exporter *Exporter
	logger   *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		metrics:  NewMetrics(),
		exporter: NewExporter(),
		logger:   logger,
	}
}

// Emit sends event without blocking; it is dropped when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("Metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRegistered:
		c.metrics.RecordRegistration(event.Route)
		c.exporter.observeRegistration(event.Route)

	case EventForwarded:
		c.metrics.RecordResponse(event.Route, event.Endpoint, event.Duration, event.StatusCode)
		c.exporter.observeResponse(event.Route, event.Duration)

	case EventFailed:
		if event.Code == string(apperror.CodeUnknownRoute) {
			c.metrics.RecordUnmatched()
			c.exporter.observeUnmatched(event.Code)
			return
		}
		c.metrics.RecordFailure(event.Route, event.Endpoint, event.Code, event.StatusCode)
		c.exporter.observeFailure(event.Route, event.Code)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}

func (c *Collector) Exporter() *Exporter {
	return c.exporter
}
