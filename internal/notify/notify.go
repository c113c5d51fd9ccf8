package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"motopay/internal/models"
)

type Kind string

const (
	PaymentSucceeded   Kind = "payment.succeeded"
	PaymentFailed      Kind = "payment.failed"
	PaymentRefunded    Kind = "payment.refunded"
	ComplianceExpiring Kind = "compliance.expiring"
)

// Event is what the payment and compliance flows announce after their state
// has been committed.
type Event struct {
	Kind          Kind                   `json:"kind"`
	Reference     string                 `json:"reference,omitempty"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	VehicleID     string                 `json:"vehicle_id,omitempty"`
	PlateNumber   string                 `json:"plate_number,omitempty"`
	UserID        *string                `json:"user_id,omitempty"`
	Contact       string                 `json:"-"`
	Title         string                 `json:"title"`
	Body          string                 `json:"body"`
	Transaction   *models.Transaction    `json:"transaction,omitempty"`
	Expiring      *models.ExpiringRecord `json:"expiring,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

// Sink delivers events to one channel (push, sms, websocket, broker, archive).
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// Notifier is what the services depend on.
type Notifier interface {
	Publish(ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Dispatcher fans events out to sinks on background workers. Publish never
// blocks the caller; when the queue is full the event is dropped and logged.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
	once    sync.Once
}

func NewDispatcher(logger *slog.Logger, queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, queueSize),
		timeout: 10 * time.Second,
		logger:  logger.With("component", "notify"),
	}
}

// Start launches n workers. Call Close to drain and stop them.
func (d *Dispatcher) Start(n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *Dispatcher) Publish(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("notification queue full, event dropped", "kind", ev.Kind, "reference", ev.Reference)
	}
}

func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		for _, s := range d.sinks {
			d.deliver(s, ev)
		}
	}
}

func (d *Dispatcher) deliver(s Sink, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sink panicked", "sink", s.Name(), "kind", ev.Kind, "panic", r)
		}
	}()
	if err := s.Handle(ctx, ev); err != nil {
		d.logger.Warn("notification delivery failed", "sink", s.Name(), "kind", ev.Kind, "reference", ev.Reference, "error", err)
	}
}
