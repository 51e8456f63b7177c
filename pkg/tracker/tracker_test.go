package tracker

import (
	"testing"
	"time"

	"github.com/pixellineage/inputlat/internal/model"
	"github.com/pixellineage/inputlat/pkg/devices"
)

const testDeviceID model.DeviceID = 100

const (
	conn1 model.ConnectionToken = "connection-1"
	conn2 model.ConnectionToken = "connection-2"
)

// recorder collects every timeline delivered to the sink.
type recorder struct {
	received []*model.InputEventTimeline
}

func (r *recorder) Accept(timeline *model.InputEventTimeline) {
	r.received = append(r.received, timeline)
}

func newTestTracker() (*Tracker, *recorder) {
	rec := &recorder{}
	tr := New(rec)
	tr.SetIdentities([]devices.Identity{{DeviceID: testDeviceID, VendorID: 0, ProductID: 0}})
	return tr, rec
}

// triggerReporting sends a read-fact whose eventTime exceeds lastEventTime
// by more than the timeout window, flushing everything at least that old.
// Each call needs a fresh event id because flushed ids are terminal.
func triggerReporting(t *Tracker, lastEventTime int64, triggerID model.EventID) {
	triggerTime := lastEventTime + DefaultTimeoutWindow.Nanoseconds() + 1
	t.RecordRead(triggerID, triggerTime, 3, testDeviceID,
		[]model.Source{model.SourceUnknown}, model.MotionActionCancel, model.KindMotion)
}

func testTimeline() *model.InputEventTimeline {
	tl := model.NewInputEventTimeline(2, 3, 0, 0,
		[]model.Source{model.SourceUnknown}, model.ActionUnknown)
	ct := model.NewConnectionTimeline(6, 7, 8)
	ct.Graphics = model.GraphicsTimeline{GPUCompletedTime: 9, PresentTime: 10}
	tl.SetConnectionTimeline(conn1, ct)
	return tl
}

func assertReceivedTimeline(t *testing.T, rec *recorder, want *model.InputEventTimeline) {
	t.Helper()
	if len(rec.received) == 0 {
		t.Fatal("no timelines received")
	}
	got := rec.received[0]
	if !got.Equal(want) {
		t.Fatalf("received timeline does not match:\ngot  %+v\nwant %+v", got, want)
	}
	rec.received = rec.received[1:]
}

// assertReceivedTimelines compares the received batch to the expected
// timelines as multisets: delivery order within one sweep is a genuine
// don't-care.
func assertReceivedTimelines(t *testing.T, rec *recorder, want []*model.InputEventTimeline) {
	t.Helper()
	if len(rec.received) != len(want) {
		t.Fatalf("received %d timelines, want %d", len(rec.received), len(want))
	}
	used := make([]bool, len(rec.received))
	for _, w := range want {
		found := false
		for i, g := range rec.received {
			if !used[i] && g.Equal(w) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected timeline with eventTime=%d not received", w.EventTime)
		}
	}
	rec.received = nil
}

func TestRecordReadAloneDoesNotTriggerReporting(t *testing.T) {
	tr, rec := newTestTracker()
	tr.RecordRead(1, 2, 3, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)

	if len(rec.received) != 0 {
		t.Fatalf("premature emission: %d timelines before any trigger", len(rec.received))
	}

	triggerReporting(tr, 2, 1000)
	assertReceivedTimeline(t, rec, model.NewInputEventTimeline(2, 3, 0, 0,
		[]model.Source{model.SourceUnknown}, model.ActionUnknown))
}

func TestRecordFinishAloneDoesNotTriggerReporting(t *testing.T) {
	tr, rec := newTestTracker()
	tr.RecordFinish(1, conn1, 2, 3, 4)
	triggerReporting(tr, 4, 1000)
	assertReceivedTimelines(t, rec, nil)
}

func TestRecordGraphicsAloneDoesNotTriggerReporting(t *testing.T) {
	tr, rec := newTestTracker()
	tr.RecordGraphics(1, conn2, model.GraphicsTimeline{GPUCompletedTime: 2, PresentTime: 3})
	triggerReporting(tr, 3, 1000)
	assertReceivedTimelines(t, rec, nil)
}

func TestAllFactsReportFullTimeline(t *testing.T) {
	tr, rec := newTestTracker()
	expected := testTimeline()
	ct := expected.ConnectionTimelines[conn1]

	tr.RecordRead(1, expected.EventTime, expected.ReadTime, testDeviceID,
		[]model.Source{model.SourceUnknown}, model.MotionActionCancel, model.KindMotion)
	tr.RecordFinish(1, conn1, ct.DeliveryTime, ct.ConsumeTime, ct.FinishTime)
	tr.RecordGraphics(1, conn1, ct.Graphics)

	triggerReporting(tr, expected.EventTime, 1000)
	assertReceivedTimeline(t, rec, expected)
}

func TestGraphicsBeforeFinishMergesIntoOneEntry(t *testing.T) {
	tr, rec := newTestTracker()
	expected := testTimeline()
	ct := expected.ConnectionTimelines[conn1]

	tr.RecordRead(1, expected.EventTime, expected.ReadTime, testDeviceID,
		[]model.Source{model.SourceUnknown}, model.MotionActionCancel, model.KindMotion)
	tr.RecordGraphics(1, conn1, ct.Graphics)
	tr.RecordFinish(1, conn1, ct.DeliveryTime, ct.ConsumeTime, ct.FinishTime)

	triggerReporting(tr, expected.EventTime, 1000)
	assertReceivedTimeline(t, rec, expected)
}

// Two read-facts with the same id but different eventTimes must not crash,
// and must yield zero emissions for that id: the tracker cannot
// disambiguate them, so it drops both.
func TestDuplicateReadFactsAreDroppedCompletely(t *testing.T) {
	tr, rec := newTestTracker()

	tr.RecordRead(1, 1, 3, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)
	tr.RecordRead(1, 2, 3, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)

	triggerReporting(tr, 2, 1000)
	assertReceivedTimelines(t, rec, nil)
}

// Facts arriving after invalidation stay dropped: invalidated is terminal.
func TestInvalidatedIDStaysTerminal(t *testing.T) {
	tr, rec := newTestTracker()

	tr.RecordRead(1, 1, 3, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)
	tr.RecordRead(1, 2, 3, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)

	// A third read-fact must not revive the id.
	tr.RecordRead(1, 4, 5, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)
	tr.RecordFinish(1, conn1, 6, 7, 8)

	triggerReporting(tr, 4, 1000)
	assertReceivedTimelines(t, rec, nil)
}

// Facts referencing an id that was already flushed are silently dropped.
func TestFlushedIDStaysTerminal(t *testing.T) {
	tr, rec := newTestTracker()

	tr.RecordRead(1, 2, 3, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)
	triggerReporting(tr, 2, 1000)
	assertReceivedTimeline(t, rec, model.NewInputEventTimeline(2, 3, 0, 0,
		[]model.Source{model.SourceUnknown}, model.ActionUnknown))

	// Same id again, long after its flush. The re-read is dropped; the
	// only record left to age out is the first trigger's own.
	tr.RecordRead(1, 20_000_000_000, 3, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)
	tr.RecordFinish(1, conn1, 6, 7, 8)
	triggerReporting(tr, 20_000_000_000, 1001)
	firstTriggerTime := 2 + DefaultTimeoutWindow.Nanoseconds() + 1
	assertReceivedTimelines(t, rec, []*model.InputEventTimeline{
		model.NewInputEventTimeline(firstTriggerTime, 3, 0, 0,
			[]model.Source{model.SourceUnknown}, model.ActionUnknown),
	})
}

func TestMultipleEventsAreReportedConsistently(t *testing.T) {
	tr, rec := newTestTracker()

	timeline1 := model.NewInputEventTimeline(2, 3, 0, 0,
		[]model.Source{model.SourceUnknown}, model.ActionUnknown)
	ct1 := model.NewConnectionTimeline(6, 7, 8)
	ct1.Graphics = model.GraphicsTimeline{GPUCompletedTime: 9, PresentTime: 10}
	timeline1.SetConnectionTimeline(conn1, ct1)

	timeline2 := model.NewInputEventTimeline(20, 30, 0, 0,
		[]model.Source{model.SourceUnknown}, model.ActionUnknown)
	ct2 := model.NewConnectionTimeline(60, 70, 80)
	ct2.Graphics = model.GraphicsTimeline{GPUCompletedTime: 90, PresentTime: 100}
	timeline2.SetConnectionTimeline(conn2, ct2)

	tr.RecordRead(1, timeline1.EventTime, timeline1.ReadTime, testDeviceID,
		[]model.Source{model.SourceUnknown}, model.MotionActionCancel, model.KindMotion)
	tr.RecordRead(10, timeline2.EventTime, timeline2.ReadTime, testDeviceID,
		[]model.Source{model.SourceUnknown}, model.MotionActionCancel, model.KindMotion)
	tr.RecordFinish(1, conn1, ct1.DeliveryTime, ct1.ConsumeTime, ct1.FinishTime)
	tr.RecordFinish(10, conn2, ct2.DeliveryTime, ct2.ConsumeTime, ct2.FinishTime)
	tr.RecordGraphics(1, conn1, ct1.Graphics)
	tr.RecordGraphics(10, conn2, ct2.Graphics)

	triggerReporting(tr, timeline2.EventTime, 1000)
	assertReceivedTimelines(t, rec, []*model.InputEventTimeline{timeline1, timeline2})
}

// 100 concurrently tracked ids where only one completes: all 100 flush, 99
// with empty connection mappings, one fully populated. Incompleteness never
// blocks emission.
func TestIncompleteEventsAreHandledConsistently(t *testing.T) {
	tr, rec := newTestTracker()
	template := testTimeline()
	ct := template.ConnectionTimelines[conn1]

	var expected []*model.InputEventTimeline
	for i := 1; i <= 100; i++ {
		tr.RecordRead(model.EventID(i), template.EventTime, template.ReadTime, testDeviceID,
			[]model.Source{model.SourceUnknown}, model.MotionActionCancel, model.KindMotion)
		expected = append(expected, model.NewInputEventTimeline(
			template.EventTime, template.ReadTime, template.VendorID, template.ProductID,
			template.Sources, template.ActionType))
	}

	tr.RecordFinish(1, conn1, ct.DeliveryTime, ct.ConsumeTime, ct.FinishTime)
	tr.RecordGraphics(1, conn1, ct.Graphics)
	expected[0].SetConnectionTimeline(conn1, ct)

	triggerReporting(tr, template.EventTime, 1000)
	assertReceivedTimelines(t, rec, expected)
}

// Finish and graphics facts that arrive before any read-fact for the id
// are no-ops; they must not leak into the timeline created by a later
// read-fact.
func TestFactsBeforeReadFactAreIgnored(t *testing.T) {
	tr, rec := newTestTracker()
	expected := testTimeline()
	ct := expected.ConnectionTimelines[conn1]

	tr.RecordFinish(1, conn1, ct.DeliveryTime, ct.ConsumeTime, ct.FinishTime)
	tr.RecordGraphics(1, conn1, ct.Graphics)

	tr.RecordRead(1, expected.EventTime, expected.ReadTime, testDeviceID,
		[]model.Source{model.SourceUnknown}, model.MotionActionCancel, model.KindMotion)
	triggerReporting(tr, expected.EventTime, 1000)

	assertReceivedTimeline(t, rec, model.NewInputEventTimeline(
		expected.EventTime, expected.ReadTime, expected.VendorID, expected.ProductID,
		expected.Sources, expected.ActionType))
}

// Vendor and product ids resolve against the identity snapshot entry for
// the event's device; sources are taken verbatim from the read-fact.
func TestDeviceIdentityResolution(t *testing.T) {
	tr, rec := newTestTracker()
	tr.SetIdentities([]devices.Identity{
		{DeviceID: testDeviceID + 1, VendorID: 5, ProductID: 6},
		{DeviceID: testDeviceID, VendorID: 50, ProductID: 60},
	})

	sources := []model.Source{model.SourceTouchscreen, model.SourceStylusDirect}
	tr.RecordRead(1, 2, 3, testDeviceID, sources, model.MotionActionCancel, model.KindMotion)
	triggerReporting(tr, 2, 1000)

	assertReceivedTimeline(t, rec, model.NewInputEventTimeline(2, 3, 50, 60,
		sources, model.ActionUnknown))
}

// Identity replacement does not retroactively change in-flight records.
func TestIdentityReplacementDoesNotAffectInFlightRecords(t *testing.T) {
	tr, rec := newTestTracker()
	tr.SetIdentities([]devices.Identity{{DeviceID: testDeviceID, VendorID: 50, ProductID: 60}})

	tr.RecordRead(1, 2, 3, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)
	tr.SetIdentities([]devices.Identity{{DeviceID: testDeviceID, VendorID: 7, ProductID: 8}})

	triggerReporting(tr, 2, 1000)
	assertReceivedTimeline(t, rec, model.NewInputEventTimeline(2, 3, 50, 60,
		[]model.Source{model.SourceUnknown}, model.ActionUnknown))
}

func TestActionTypeClassification(t *testing.T) {
	tr, rec := newTestTracker()

	mk := func(eventTime, readTime int64, action model.ActionType) *model.InputEventTimeline {
		return model.NewInputEventTimeline(eventTime, readTime, 0, 0,
			[]model.Source{model.SourceUnknown}, action)
	}
	expected := []*model.InputEventTimeline{
		mk(2, 3, model.ActionMotionDown),
		mk(4, 5, model.ActionMotionMove),
		mk(6, 7, model.ActionMotionUp),
		mk(8, 9, model.ActionKey),
		mk(10, 11, model.ActionKey),
		mk(12, 13, model.ActionUnknown),
	}

	src := []model.Source{model.SourceUnknown}
	tr.RecordRead(1, 2, 3, testDeviceID, src, model.MotionActionDown, model.KindMotion)
	tr.RecordRead(2, 4, 5, testDeviceID, src, model.MotionActionMove, model.KindMotion)
	tr.RecordRead(3, 6, 7, testDeviceID, src, model.MotionActionUp, model.KindMotion)
	tr.RecordRead(4, 8, 9, testDeviceID, src, model.KeyActionDown, model.KindKey)
	tr.RecordRead(5, 10, 11, testDeviceID, src, model.KeyActionUp, model.KindKey)
	tr.RecordRead(6, 12, 13, testDeviceID, src, model.MotionActionPointerDown, model.KindMotion)

	triggerReporting(tr, 12, 1000)
	assertReceivedTimelines(t, rec, expected)
}

// A record exactly at the window boundary is not yet eligible; eviction
// requires strictly exceeding the timeout.
func TestSweepBoundaryIsStrict(t *testing.T) {
	rec := &recorder{}
	tr := New(rec, WithTimeoutWindow(100*time.Millisecond))
	window := (100 * time.Millisecond).Nanoseconds()

	tr.RecordRead(1, 0, 1, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)

	// Exactly window old: kept.
	tr.RecordRead(2, window, window+1, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)
	if len(rec.received) != 0 {
		t.Fatalf("record flushed at exactly the window boundary")
	}

	// One nanosecond past: flushed.
	tr.RecordRead(3, window+1, window+2, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)
	if len(rec.received) != 1 {
		t.Fatalf("expected 1 flushed timeline, got %d", len(rec.received))
	}
	if rec.received[0].EventTime != 0 {
		t.Errorf("flushed wrong record: eventTime=%d", rec.received[0].EventTime)
	}
}

// The read-fact that triggers a sweep is never eligible for that sweep,
// and emissions from an earlier sweep precede a later sweep's.
func TestSweepExcludesTriggeringRecordAndOrdersAcrossSweeps(t *testing.T) {
	rec := &recorder{}
	tr := New(rec, WithTimeoutWindow(time.Millisecond))
	window := time.Millisecond.Nanoseconds()
	src := []model.Source{model.SourceUnknown}

	tr.RecordRead(1, 0, 1, testDeviceID, src, model.MotionActionCancel, model.KindMotion)
	tr.RecordRead(2, 2*window, 1, testDeviceID, src, model.MotionActionCancel, model.KindMotion)
	if len(rec.received) != 1 {
		t.Fatalf("first sweep flushed %d records, want 1", len(rec.received))
	}

	tr.RecordRead(3, 4*window, 1, testDeviceID, src, model.MotionActionCancel, model.KindMotion)
	if len(rec.received) != 2 {
		t.Fatalf("second sweep flushed %d records total, want 2", len(rec.received))
	}
	if rec.received[0].EventTime != 0 || rec.received[1].EventTime != 2*window {
		t.Errorf("cross-sweep emission order violated: got eventTimes %d, %d",
			rec.received[0].EventTime, rec.received[1].EventTime)
	}
	if tr.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1 (the triggering record)", tr.InFlight())
	}
}

// The sweep still runs on a read-fact that is itself a duplicate.
func TestDuplicateReadStillTriggersSweep(t *testing.T) {
	rec := &recorder{}
	tr := New(rec, WithTimeoutWindow(time.Millisecond))
	window := time.Millisecond.Nanoseconds()
	src := []model.Source{model.SourceUnknown}

	tr.RecordRead(1, 0, 1, testDeviceID, src, model.MotionActionCancel, model.KindMotion)
	tr.RecordRead(2, window, 1, testDeviceID, src, model.MotionActionCancel, model.KindMotion)

	// Duplicate of id 2, far in the future: invalidates id 2 but still
	// sweeps out id 1.
	tr.RecordRead(2, 10*window, 1, testDeviceID, src, model.MotionActionCancel, model.KindMotion)

	if len(rec.received) != 1 || rec.received[0].EventTime != 0 {
		t.Fatalf("expected only the aged-out record to flush, got %d timelines", len(rec.received))
	}
	if tr.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0 after invalidation", tr.InFlight())
	}
}

// A duplicate read-fact old enough to age out the record it invalidates
// must still discard it: invalidation wins over eviction, and the record
// never reaches the sink.
func TestDuplicateBeyondWindowInvalidatesInsteadOfFlushing(t *testing.T) {
	rec := &recorder{}
	tr := New(rec, WithTimeoutWindow(time.Millisecond))
	window := time.Millisecond.Nanoseconds()
	src := []model.Source{model.SourceUnknown}

	tr.RecordRead(1, 0, 1, testDeviceID, src, model.MotionActionCancel, model.KindMotion)
	tr.RecordRead(1, 10*window, 1, testDeviceID, src, model.MotionActionCancel, model.KindMotion)

	if len(rec.received) != 0 {
		t.Fatalf("invalidated record reached the sink: %d timelines", len(rec.received))
	}
	if tr.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0 after invalidation", tr.InFlight())
	}
}

func TestZeroConnectionRecordStillEmits(t *testing.T) {
	tr, rec := newTestTracker()
	tr.RecordRead(1, 2, 3, testDeviceID, []model.Source{model.SourceUnknown},
		model.MotionActionCancel, model.KindMotion)
	triggerReporting(tr, 2, 1000)

	if len(rec.received) != 1 {
		t.Fatalf("expected 1 emission, got %d", len(rec.received))
	}
	if n := len(rec.received[0].ConnectionTimelines); n != 0 {
		t.Errorf("expected empty connection mapping, got %d entries", n)
	}
}
