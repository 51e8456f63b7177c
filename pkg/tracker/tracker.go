// Package tracker implements the latency correlation and eviction engine.
// It reconstructs one consolidated InputEventTimeline per input event from
// partial facts that arrive asynchronously and out of order: the read-fact
// that starts tracking, per-connection finish-facts, and per-connection
// graphics-facts.
//
// The engine is single-threaded by contract: all operations must be
// serialized by the caller (typically a single dispatch goroutine). No
// internal locking is performed and no operation blocks. Time advances only
// through the eventTime values carried by read-facts, so eviction is purely
// reactive: a record is flushed to the sink once a later read-fact shows it
// has aged past the timeout window, complete or not.
package tracker

import (
	"sort"
	"time"

	"github.com/pixellineage/inputlat/internal/model"
	"github.com/pixellineage/inputlat/pkg/devices"
)

// DefaultTimeoutWindow is the dispatch-unresponsiveness tolerance: an
// in-flight record older than this (relative to the newest read-fact) is
// flushed regardless of completeness.
const DefaultTimeoutWindow = 5 * time.Second

// maxTerminalIDs bounds the tombstone set that keeps flushed and
// invalidated ids terminal. When the cap is reached the oldest half is
// pruned; a correctly recycled 32-bit id reappears long after that.
const maxTerminalIDs = 8192

// Sink receives completed or expired timelines. Accept is called
// synchronously on the producer's call stack, at most once per event id,
// and never for invalidated ids. Implementations must not call back into
// the Tracker and should not block.
type Sink interface {
	Accept(timeline *model.InputEventTimeline)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(*model.InputEventTimeline)

// Accept implements Sink.
func (f SinkFunc) Accept(timeline *model.InputEventTimeline) { f(timeline) }

// orderEntry indexes one in-flight record for the eviction sweep.
// Entries are kept sorted by (eventTime, seq); seq is the admission
// sequence number, which breaks ties by arrival order.
type orderEntry struct {
	eventTime int64
	seq       uint64
	id        model.EventID
}

// Tracker owns the in-flight timelines keyed by event id.
//
// State machine per id: absent -> in-flight -> {flushed | invalidated},
// both terminal. A duplicate read-fact for a live id forces invalidation
// (discard without emission), never a second in-flight record.
type Tracker struct {
	sink    Sink
	devices *devices.Cache
	timeout int64 // nanoseconds

	inflight map[model.EventID]*model.InputEventTimeline
	order    []orderEntry
	seq      uint64

	// terminal maps flushed/invalidated ids to the sequence number at
	// which they terminated, so late facts for them stay dropped.
	terminal map[model.EventID]uint64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTimeoutWindow overrides the eviction tolerance window.
func WithTimeoutWindow(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d.Nanoseconds() }
}

// WithDeviceCache supplies a shared device identity cache. Without it the
// tracker owns a private empty cache.
func WithDeviceCache(c *devices.Cache) Option {
	return func(t *Tracker) { t.devices = c }
}

// New creates a Tracker that delivers flushed timelines to sink.
func New(sink Sink, opts ...Option) *Tracker {
	t := &Tracker{
		sink:     sink,
		devices:  devices.NewCache(),
		timeout:  DefaultTimeoutWindow.Nanoseconds(),
		inflight: make(map[model.EventID]*model.InputEventTimeline),
		terminal: make(map[model.EventID]uint64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetIdentities replaces the device identity snapshot. Records already
// in flight keep the vendor/product they resolved at read-fact time.
func (t *Tracker) SetIdentities(snapshot []devices.Identity) {
	t.devices.SetIdentities(snapshot)
}

// RecordRead ingests a read-fact and starts tracking eventID. It resolves
// the device identity, classifies the action, and runs the eviction sweep
// against eventTime. The sweep runs before admission, so the new record is
// never eligible for the sweep that admitted it.
//
// A read-fact for an id that is already in flight is a producer policy
// violation: the existing record is discarded without emission and the id
// becomes terminal. Two reads for one id are unresolvable, so deliberate
// information loss beats an arbitrary guess. Invalidation happens before
// the sweep; a duplicate's record must never reach the sink, even when it
// has already aged past the window.
func (t *Tracker) RecordRead(eventID model.EventID, eventTime, readTime int64,
	deviceID model.DeviceID, sources []model.Source, actionCode int32, kind model.EventKind) {
	if _, live := t.inflight[eventID]; live {
		t.remove(eventID)
		t.markTerminal(eventID)
	}

	t.sweep(eventTime)

	if _, dead := t.terminal[eventID]; dead {
		return
	}

	vendorID, productID := t.devices.Resolve(deviceID)
	timeline := model.NewInputEventTimeline(eventTime, readTime, vendorID, productID,
		sources, model.ClassifyAction(actionCode, kind))

	t.inflight[eventID] = timeline
	t.insertOrdered(orderEntry{eventTime: eventTime, seq: t.seq, id: eventID})
	t.seq++
}

// RecordFinish ingests a per-connection finish-fact. Facts for ids with no
// in-flight record are dropped silently.
func (t *Tracker) RecordFinish(eventID model.EventID, token model.ConnectionToken,
	deliveryTime, consumeTime, finishTime int64) {
	timeline, ok := t.inflight[eventID]
	if !ok {
		return
	}

	ct, ok := timeline.ConnectionTimelines[token]
	if !ok {
		ct = model.NewConnectionTimeline(deliveryTime, consumeTime, finishTime)
	} else {
		// Graphics-fact arrived first; keep its sub-timeline.
		ct.DeliveryTime = deliveryTime
		ct.ConsumeTime = consumeTime
		ct.FinishTime = finishTime
	}
	timeline.SetConnectionTimeline(token, ct)
}

// RecordGraphics ingests a per-connection graphics-fact. Facts for ids
// with no in-flight record are dropped silently. If no finish-fact has
// arrived for the token yet, the connection entry is created with unset
// delivery/consume/finish times.
func (t *Tracker) RecordGraphics(eventID model.EventID, token model.ConnectionToken,
	graphics model.GraphicsTimeline) {
	timeline, ok := t.inflight[eventID]
	if !ok {
		return
	}

	ct, ok := timeline.ConnectionTimelines[token]
	if !ok {
		ct = model.ConnectionTimeline{
			DeliveryTime: model.TimeUnset,
			ConsumeTime:  model.TimeUnset,
			FinishTime:   model.TimeUnset,
		}
	}
	ct.Graphics = graphics
	timeline.SetConnectionTimeline(token, ct)
}

// InFlight returns the number of records currently being tracked.
func (t *Tracker) InFlight() int {
	return len(t.inflight)
}

// FlushAll emits every in-flight record in eventTime order, regardless of
// age. The engine never does this on its own; it exists for tooling (end of
// a replayed trace, process shutdown) where leaving records in flight
// forever would lose data.
func (t *Tracker) FlushAll() {
	for len(t.order) > 0 {
		oldest := t.order[0]
		t.order = t.order[1:]

		timeline := t.inflight[oldest.id]
		delete(t.inflight, oldest.id)
		t.markTerminal(oldest.id)
		t.sink.Accept(timeline)
	}
}

// sweep flushes every in-flight record whose eventTime has aged past the
// timeout window relative to now. Emission order within one sweep carries
// no guarantee; the sink must treat the batch as an unordered set.
func (t *Tracker) sweep(now int64) {
	for len(t.order) > 0 {
		oldest := t.order[0]
		if now-oldest.eventTime <= t.timeout {
			break
		}
		t.order = t.order[1:]

		timeline := t.inflight[oldest.id]
		delete(t.inflight, oldest.id)
		t.markTerminal(oldest.id)
		t.sink.Accept(timeline)
	}
}

// insertOrdered inserts an entry keeping order sorted by (eventTime, seq).
// Producers supply near-monotonic eventTimes, so this is usually an append.
func (t *Tracker) insertOrdered(e orderEntry) {
	i := sort.Search(len(t.order), func(i int) bool {
		return t.order[i].eventTime > e.eventTime
	})
	t.order = append(t.order, orderEntry{})
	copy(t.order[i+1:], t.order[i:])
	t.order[i] = e
}

// remove drops an in-flight record without emitting it. Only reached on
// the duplicate-id invalidation path.
func (t *Tracker) remove(eventID model.EventID) {
	delete(t.inflight, eventID)
	for i := range t.order {
		if t.order[i].id == eventID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// markTerminal records that an id has been flushed or invalidated. The
// tombstone set is capped; when full, the oldest half is pruned.
func (t *Tracker) markTerminal(eventID model.EventID) {
	t.terminal[eventID] = t.seq
	t.seq++
	if len(t.terminal) <= maxTerminalIDs {
		return
	}

	seqs := make([]uint64, 0, len(t.terminal))
	for _, s := range t.terminal {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	cutoff := seqs[len(seqs)/2]
	for id, s := range t.terminal {
		if s < cutoff {
			delete(t.terminal, id)
		}
	}
}
