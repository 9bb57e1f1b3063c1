package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const deliverTimeout = 5 * time.Second

// Dispatcher delivers records on a background worker so the caller's state
// transition never waits on, or fails because of, the delivery collaborator.
type Dispatcher struct {
	deliverer Deliverer
	queue     chan *Record

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts a dispatcher with a bounded queue
func NewDispatcher(deliverer Deliverer, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		deliverer: deliverer,
		queue:     make(chan *Record, queueSize),
	}

	d.wg.Add(1)
	go d.worker()

	return d
}

// Enqueue schedules r for delivery. A full queue or a closed dispatcher
// drops the delivery with a warning; the record itself is already stored.
func (d *Dispatcher) Enqueue(r *Record) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		log.Warn().Str("event_type", string(r.Type)).Msg("Notification dispatcher closed, delivery dropped")
		return
	}

	select {
	case d.queue <- r:
	default:
		log.Warn().
			Str("event_type", string(r.Type)).
			Str("recipient_id", r.RecipientID.String()).
			Msg("Notification queue full, delivery dropped")
	}
}

// Close stops accepting deliveries and waits for queued ones to finish
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for r := range d.queue {
		d.deliver(r)
	}
}

func (d *Dispatcher) deliver(r *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("event_type", string(r.Type)).Msg("Notification deliverer panicked")
		}
	}()

	if err := d.deliverer.Deliver(ctx, r); err != nil {
		log.Error().Err(err).
			Str("event_type", string(r.Type)).
			Str("event_id", r.EventID).
			Str("recipient_id", r.RecipientID.String()).
			Msg("Failed to deliver notification")
	}
}
