package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pixellineage/inputlat/internal/model"
	"github.com/pixellineage/inputlat/pkg/errors"
)

// timelineRecord is the JSON wire form of one timeline. Unset timestamps
// serialize as null rather than the sentinel value.
type timelineRecord struct {
	EventTime   int64              `json:"event_time"`
	ReadTime    int64              `json:"read_time"`
	VendorID    uint16             `json:"vendor_id"`
	ProductID   uint16             `json:"product_id"`
	Sources     []string           `json:"sources"`
	ActionType  string             `json:"action_type"`
	Connections []connectionRecord `json:"connections"`
}

type connectionRecord struct {
	Token            string `json:"token"`
	DeliveryTime     *int64 `json:"delivery_time"`
	ConsumeTime      *int64 `json:"consume_time"`
	FinishTime       *int64 `json:"finish_time"`
	GPUCompletedTime *int64 `json:"gpu_completed_time"`
	PresentTime      *int64 `json:"present_time"`
}

func optTime(v int64) *int64 {
	if v == model.TimeUnset {
		return nil
	}
	return &v
}

// toRecord flattens a timeline into its wire form with connections sorted
// by token for deterministic output.
func toRecord(t *model.InputEventTimeline) timelineRecord {
	rec := timelineRecord{
		EventTime:  t.EventTime,
		ReadTime:   t.ReadTime,
		VendorID:   t.VendorID,
		ProductID:  t.ProductID,
		ActionType: t.ActionType.String(),
	}
	for _, s := range t.Sources {
		rec.Sources = append(rec.Sources, s.String())
	}

	tokens := make([]model.ConnectionToken, 0, len(t.ConnectionTimelines))
	for token := range t.ConnectionTimelines {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	for _, token := range tokens {
		ct := t.ConnectionTimelines[token]
		rec.Connections = append(rec.Connections, connectionRecord{
			Token:            string(token),
			DeliveryTime:     optTime(ct.DeliveryTime),
			ConsumeTime:      optTime(ct.ConsumeTime),
			FinishTime:       optTime(ct.FinishTime),
			GPUCompletedTime: optTime(ct.Graphics.GPUCompletedTime),
			PresentTime:      optTime(ct.Graphics.PresentTime),
		})
	}
	return rec
}

// JSONL writes one JSON object per timeline, newline-delimited.
type JSONL struct {
	w      *bufio.Writer
	file   *os.File // only set if we opened the file
	closed bool
}

// NewJSONL creates a JSONL sink writing to path, or stdout when path is "-".
func NewJSONL(path string) (*JSONL, error) {
	if path == "-" {
		return &JSONL{w: bufio.NewWriter(os.Stdout)}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &JSONL{w: bufio.NewWriter(file), file: file}, nil
}

// NewJSONLWithWriter creates a JSONL sink with a custom writer.
func NewJSONLWithWriter(w io.Writer) *JSONL {
	return &JSONL{w: bufio.NewWriter(w)}
}

// Name implements Writer.
func (s *JSONL) Name() string { return "jsonl" }

// Write implements Writer.
func (s *JSONL) Write(_ context.Context, timeline *model.InputEventTimeline) error {
	data, err := json.Marshal(toRecord(timeline))
	if err != nil {
		return errors.SinkWrite(s.Name(), err)
	}
	if _, err := s.w.Write(data); err != nil {
		return errors.SinkWrite(s.Name(), err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return errors.SinkWrite(s.Name(), err)
	}
	return nil
}

// Close implements Writer.
func (s *JSONL) Close(context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.w.Flush(); err != nil {
		return errors.Wrap(err, errors.CodeSinkClose, "failed to flush jsonl sink")
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return errors.Wrap(err, errors.CodeSinkClose, "failed to close jsonl sink")
		}
	}
	return nil
}
