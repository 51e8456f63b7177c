package report

import (
	"context"
	"testing"

	"github.com/pixellineage/inputlat/internal/model"
)

func timelineWithLatencies(action model.ActionType, eventTime, readTime int64,
	present int64) *model.InputEventTimeline {
	tl := model.NewInputEventTimeline(eventTime, readTime, 0, 0,
		[]model.Source{model.SourceTouchscreen}, action)
	ct := model.NewConnectionTimeline(eventTime+2, eventTime+3, eventTime+4)
	ct.Graphics = model.GraphicsTimeline{
		GPUCompletedTime: present - 1,
		PresentTime:      present,
	}
	tl.SetConnectionTimeline("conn-1", ct)
	return tl
}

func TestAggregatorGroupsByActionAndStage(t *testing.T) {
	a := NewAggregator()
	ctx := context.Background()

	a.Write(ctx, timelineWithLatencies(model.ActionMotionDown, 0, 5, 100))
	a.Write(ctx, timelineWithLatencies(model.ActionMotionDown, 10, 25, 210))
	a.Write(ctx, timelineWithLatencies(model.ActionKey, 0, 7, 300))

	s := a.Summarize([]float64{50})
	if s.Timelines != 3 || s.Connections != 3 || s.Incomplete != 0 {
		t.Errorf("counts wrong: %+v", s)
	}
	if len(s.Actions) != 2 {
		t.Fatalf("expected 2 action groups, got %d", len(s.Actions))
	}
	// Alphabetical: key before motion_down.
	if s.Actions[0].Action != "key" || s.Actions[1].Action != "motion_down" {
		t.Errorf("action order: %s, %s", s.Actions[0].Action, s.Actions[1].Action)
	}

	stages := s.Actions[1].Stages
	if stages[0].Stage != StageRead || stages[0].Count != 2 {
		t.Errorf("read stage wrong: %+v", stages[0])
	}
	// Read latencies are 5 and 15; nearest-rank p50 is 5.
	if got := stages[0].Percentiles[50]; got != 5 {
		t.Errorf("p50 read latency = %d, want 5", got)
	}
	if stages[0].Max != 15 {
		t.Errorf("max read latency = %d, want 15", stages[0].Max)
	}
}

func TestAggregatorSkipsUnsetStages(t *testing.T) {
	a := NewAggregator()
	tl := model.NewInputEventTimeline(0, 5, 0, 0, []model.Source{model.SourceUnknown}, model.ActionUnknown)
	// Graphics-only connection: dispatch triple unset.
	tl.SetConnectionTimeline("conn-1", model.ConnectionTimeline{
		DeliveryTime: model.TimeUnset,
		ConsumeTime:  model.TimeUnset,
		FinishTime:   model.TimeUnset,
		Graphics:     model.GraphicsTimeline{GPUCompletedTime: model.TimeUnset, PresentTime: 50},
	})
	a.Write(context.Background(), tl)

	s := a.Summarize([]float64{50})
	stages := s.Actions[0].Stages
	for _, stage := range stages {
		switch stage.Stage {
		case StageRead, StagePresent:
		default:
			t.Errorf("unexpected stage %q from unset fields", stage.Stage)
		}
	}
}

func TestAggregatorCountsIncompleteTimelines(t *testing.T) {
	a := NewAggregator()
	tl := model.NewInputEventTimeline(0, 5, 0, 0, []model.Source{model.SourceUnknown}, model.ActionUnknown)
	a.Write(context.Background(), tl)

	s := a.Summarize(nil)
	if s.Incomplete != 1 {
		t.Errorf("incomplete = %d, want 1", s.Incomplete)
	}
	// The read stage still collects a sample.
	if len(s.Actions) != 1 || s.Actions[0].Stages[0].Count != 1 {
		t.Errorf("read stage missing for incomplete timeline: %+v", s.Actions)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	tests := []struct {
		p    float64
		want int64
	}{
		{50, 50},
		{95, 100},
		{99, 100},
		{10, 10},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%g) = %d, want %d", tt.p, got, tt.want)
		}
	}
}
