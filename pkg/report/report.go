// Package report aggregates completed timelines into latency summaries:
// per-action-type percentiles for each stage of the event's journey.
package report

import (
	"context"
	"sort"

	"github.com/pixellineage/inputlat/internal/model"
)

// Stage names, in journey order.
const (
	StageRead    = "read"
	StageDeliver = "deliver"
	StageConsume = "consume"
	StageFinish  = "finish"
	StageGPU     = "gpu_completed"
	StagePresent = "present"
)

// stageOrder fixes rendering order; maps carry no order of their own.
var stageOrder = []string{StageRead, StageDeliver, StageConsume, StageFinish, StageGPU, StagePresent}

// Aggregator collects per-stage latency samples from completed timelines.
// It implements the sink Writer contract so it can sit in a fan-out next to
// the output sinks.
type Aggregator struct {
	// samples[action][stage] holds latencies in nanoseconds relative to
	// the event time.
	samples map[string]map[string][]int64

	timelines   int64
	connections int64
	incomplete  int64 // timelines with zero connection entries
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{samples: make(map[string]map[string][]int64)}
}

// Name implements the sink Writer contract.
func (a *Aggregator) Name() string { return "report" }

// Close implements the sink Writer contract.
func (a *Aggregator) Close(context.Context) error { return nil }

// Write implements the sink Writer contract.
func (a *Aggregator) Write(_ context.Context, t *model.InputEventTimeline) error {
	a.timelines++
	action := t.ActionType.String()

	a.add(action, StageRead, t.ReadTime-t.EventTime)

	if len(t.ConnectionTimelines) == 0 {
		a.incomplete++
		return nil
	}

	for _, ct := range t.ConnectionTimelines {
		a.connections++
		a.addOpt(action, StageDeliver, ct.DeliveryTime, t.EventTime)
		a.addOpt(action, StageConsume, ct.ConsumeTime, t.EventTime)
		a.addOpt(action, StageFinish, ct.FinishTime, t.EventTime)
		a.addOpt(action, StageGPU, ct.Graphics.GPUCompletedTime, t.EventTime)
		a.addOpt(action, StagePresent, ct.Graphics.PresentTime, t.EventTime)
	}
	return nil
}

func (a *Aggregator) add(action, stage string, latency int64) {
	stages, ok := a.samples[action]
	if !ok {
		stages = make(map[string][]int64)
		a.samples[action] = stages
	}
	stages[stage] = append(stages[stage], latency)
}

func (a *Aggregator) addOpt(action, stage string, ts, eventTime int64) {
	if ts == model.TimeUnset {
		return
	}
	a.add(action, stage, ts-eventTime)
}

// StageSummary holds the computed statistics for one stage of one action.
type StageSummary struct {
	Stage       string
	Count       int
	Min         int64
	Max         int64
	Percentiles map[float64]int64
}

// ActionSummary groups stage summaries for one action type.
type ActionSummary struct {
	Action string
	Stages []StageSummary
}

// Summary is the full aggregation result.
type Summary struct {
	Timelines   int64
	Connections int64
	Incomplete  int64
	Actions     []ActionSummary
}

// Summarize computes percentiles for every (action, stage) with samples.
// Actions sort alphabetically; stages follow journey order.
func (a *Aggregator) Summarize(percentiles []float64) *Summary {
	s := &Summary{
		Timelines:   a.timelines,
		Connections: a.connections,
		Incomplete:  a.incomplete,
	}

	actions := make([]string, 0, len(a.samples))
	for action := range a.samples {
		actions = append(actions, action)
	}
	sort.Strings(actions)

	for _, action := range actions {
		as := ActionSummary{Action: action}
		for _, stage := range stageOrder {
			samples := a.samples[action][stage]
			if len(samples) == 0 {
				continue
			}
			as.Stages = append(as.Stages, summarizeStage(stage, samples, percentiles))
		}
		s.Actions = append(s.Actions, as)
	}
	return s
}

func summarizeStage(stage string, samples []int64, percentiles []float64) StageSummary {
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	ss := StageSummary{
		Stage:       stage,
		Count:       len(sorted),
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Percentiles: make(map[float64]int64, len(percentiles)),
	}
	for _, p := range percentiles {
		ss.Percentiles[p] = percentile(sorted, p)
	}
	return ss
}

// percentile uses nearest-rank on a sorted sample set.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(float64(len(sorted))*p/100.0+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
