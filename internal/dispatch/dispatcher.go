// Package dispatch turns writes to calendar facts and the keymap into flag
// recomputations. Instead of hidden store-level triggers, writers notify an
// explicit Dispatcher; subscriptions decide per event kind whether handlers
// run synchronously within the caller's unit of work or are deferred through
// the durable work queue.
package dispatch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roldanp/tenderwatch/internal/metrics"
)

// Event identifies an observed write kind.
type Event int

const (
	// KeymapWrite fires on insert/update of a tender-to-external-key mapping.
	KeymapWrite Event = iota
	// CalendarWrite fires on insert/update of a calendar fact where a
	// derivation-relevant timestamp changed.
	CalendarWrite
)

func (e Event) String() string {
	switch e {
	case KeymapWrite:
		return "keymap"
	case CalendarWrite:
		return "calendar"
	default:
		return "unknown"
	}
}

// Handler reacts to one write, identified by the affected tender and its
// external key.
type Handler func(tenderID int64, extKey string) error

// Resolver maps an external key to the tenders currently bound to it.
type Resolver interface {
	ResolveTenderIDs(extKey string) ([]int64, error)
}

// Enqueuer persists a pending recomputation, coalescing duplicates.
type Enqueuer interface {
	Enqueue(tenderID int64, extKey string, at time.Time) error
}

// Dispatcher fans observed writes out to subscribed handlers.
type Dispatcher struct {
	resolver Resolver
	queue    Enqueuer
	sync     map[Event][]Handler
	queued   map[Event]bool
	logger   *slog.Logger
}

// New creates a Dispatcher with no subscriptions.
func New(resolver Resolver, queue Enqueuer) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		queue:    queue,
		sync:     make(map[Event][]Handler),
		queued:   make(map[Event]bool),
		logger:   slog.Default(),
	}
}

// Subscribe registers a handler invoked synchronously, in the same unit of
// work as the triggering write.
func (d *Dispatcher) Subscribe(ev Event, h Handler) {
	d.sync[ev] = append(d.sync[ev], h)
}

// SubscribeQueued routes the event through the durable work queue instead:
// the write path only records a (tender, external key) item, and a consumer
// drains it later against then-current state. Used when the recomputing
// actor runs outside the writer's execution context, or to rate-limit
// recomputation independently of the write path.
func (d *Dispatcher) SubscribeQueued(ev Event) {
	d.queued[ev] = true
}

// NotifyKeymap dispatches a keymap insert/update for one mapping.
func (d *Dispatcher) NotifyKeymap(tenderID int64, extKey string) error {
	return d.fanOut(KeymapWrite, []int64{tenderID}, extKey)
}

// NotifyCalendar dispatches a calendar fact write. All tenders currently
// mapped to the external key are affected; an unmapped key dispatches to
// nobody, which is the expected quiescent state for not-yet-ingested
// documents.
func (d *Dispatcher) NotifyCalendar(extKey string) error {
	ids, err := d.resolver.ResolveTenderIDs(extKey)
	if err != nil {
		return fmt.Errorf("resolving tenders for calendar write %q: %w", extKey, err)
	}
	return d.fanOut(CalendarWrite, ids, extKey)
}

func (d *Dispatcher) fanOut(ev Event, tenderIDs []int64, extKey string) error {
	for _, id := range tenderIDs {
		if d.queued[ev] {
			if err := d.queue.Enqueue(id, extKey, time.Now().UTC()); err != nil {
				return err
			}
			metrics.Enqueued.Inc()
			d.logger.Debug("recomputation enqueued", "event", ev.String(), "tender_id", id, "ext_key", extKey)
			continue
		}
		for _, h := range d.sync[ev] {
			if err := h(id, extKey); err != nil {
				return fmt.Errorf("dispatching %s write for tender %d: %w", ev, id, err)
			}
			metrics.Recomputations.WithLabelValues(ev.String()).Inc()
		}
	}
	return nil
}
