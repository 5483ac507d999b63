package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"clientportal.io/internal/ids"
	"clientportal.io/internal/obs"
)

const (
	defaultBufferSize   = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Recorder accepts audit events. Record never fails and never blocks the caller.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, event Event)

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event Event) { f(ctx, event) }

// Nop discards every event.
var Nop Recorder = RecorderFunc(func(context.Context, Event) {})

// AsyncRecorder hands events to a background writer over a bounded queue.
// Events that cannot be queued or stored are logged locally and dropped.
type AsyncRecorder struct {
	store        Store
	queue        chan Event
	log          *logrus.Logger
	now          func() time.Time
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// RecorderOption configures AsyncRecorder.
type RecorderOption func(*recorderConfig)

type recorderConfig struct {
	bufferSize   int
	writeTimeout time.Duration
	logger       *logrus.Logger
	now          func() time.Time
}

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) RecorderOption {
	return func(c *recorderConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithWriteTimeout bounds a single store write.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(c *recorderConfig) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithLogger overrides the logger used for local fallback lines.
func WithLogger(l *logrus.Logger) RecorderOption {
	return func(c *recorderConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(fn func() time.Time) RecorderOption {
	return func(c *recorderConfig) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewAsyncRecorder starts the background writer.
func NewAsyncRecorder(store Store, opts ...RecorderOption) (*AsyncRecorder, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	cfg := recorderConfig{
		bufferSize:   defaultBufferSize,
		writeTimeout: defaultWriteTimeout,
		logger:       obs.Logger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	r := &AsyncRecorder{
		store:        store,
		queue:        make(chan Event, cfg.bufferSize),
		log:          cfg.logger,
		now:          cfg.now,
		writeTimeout: cfg.writeTimeout,
		done:         make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Record stamps the event with an id, timestamp and request origin, then queues it.
func (r *AsyncRecorder) Record(ctx context.Context, event Event) {
	event = r.prepare(ctx, event)
	if !event.Action.Valid() {
		r.fallback(event, errors.New("unknown action"))
		obs.ObserveAudit("failed")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.fallback(event, errors.New("recorder closed"))
		obs.ObserveAudit("dropped")
		return
	}
	select {
	case r.queue <- event:
	default:
		r.fallback(event, errors.New("queue full"))
		obs.ObserveAudit("dropped")
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for event := range r.queue {
		r.write(event)
	}
}

func (r *AsyncRecorder) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	if err := r.store.Append(ctx, &event); err != nil {
		r.fallback(event, err)
		obs.ObserveAudit("failed")
		return
	}
	obs.ObserveAudit("stored")
}

func (r *AsyncRecorder) prepare(ctx context.Context, event Event) Event {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now().UTC()
	}
	meta := RequestMetaFromContext(ctx)
	if event.IPAddress == "" {
		event.IPAddress = meta.IPAddress
	}
	if event.UserAgent == "" {
		event.UserAgent = meta.UserAgent
	}
	if event.RequestID == "" {
		event.RequestID = meta.RequestID
	}
	if len(event.Details) > 0 {
		details := make(map[string]any, len(event.Details))
		for k, v := range event.Details {
			details[k] = v
		}
		event.Details = details
	}
	return event
}

// fallback writes the event to the process log so it is not lost silently.
func (r *AsyncRecorder) fallback(event Event, cause error) {
	fields := logrus.Fields{
		"type":       "audit",
		"event_id":   event.ID,
		"action":     string(event.Action),
		"actor_type": string(event.ActorType),
		"ip_address": event.IPAddress,
		"created_at": event.CreatedAt.Format(time.RFC3339Nano),
	}
	if event.ActorID != nil {
		fields["actor_id"] = *event.ActorID
	}
	if event.CompanyID != nil {
		fields["company_id"] = *event.CompanyID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if len(event.Details) > 0 {
		fields["details"] = event.Details
	}
	r.log.WithFields(fields).WithError(cause).Warn("audit event not persisted")
}
