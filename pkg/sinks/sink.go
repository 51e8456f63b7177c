// Package sinks delivers completed input event timelines to their
// destinations. The correlation engine's sink contract is synchronous and
// must never fail; the Collector bridges it to the fallible, context-aware
// Writer implementations in this package.
package sinks

import (
	"context"

	"github.com/pixellineage/inputlat/internal/model"
)

// Writer receives completed timelines. Implementations may buffer; Close
// flushes and releases resources.
type Writer interface {
	// Name identifies the sink in errors and diagnostics.
	Name() string

	// Write records one timeline.
	Write(ctx context.Context, timeline *model.InputEventTimeline) error

	// Close flushes buffered output and releases resources.
	Close(ctx context.Context) error
}

// Multi fans one timeline out to several writers. A write error in one
// writer does not stop delivery to the others; the first error is returned.
type Multi struct {
	writers []Writer
}

// NewMulti creates a fan-out writer.
func NewMulti(writers ...Writer) *Multi {
	return &Multi{writers: writers}
}

// Name implements Writer.
func (m *Multi) Name() string { return "multi" }

// Write implements Writer.
func (m *Multi) Write(ctx context.Context, timeline *model.InputEventTimeline) error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Write(ctx, timeline); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close implements Writer.
func (m *Multi) Close(ctx context.Context) error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Collector adapts a Writer to the engine's must-not-fail sink contract.
// It runs on the producer's call stack, so it never blocks on the engine's
// behalf: write errors are recorded, not raised, and counting continues so
// the dispatch path stays crash-free.
type Collector struct {
	ctx      context.Context
	writer   Writer
	accepted int64
	failed   int64
	firstErr error
}

// NewCollector creates a Collector forwarding to w under ctx.
func NewCollector(ctx context.Context, w Writer) *Collector {
	return &Collector{ctx: ctx, writer: w}
}

// Accept implements the engine's sink contract.
func (c *Collector) Accept(timeline *model.InputEventTimeline) {
	if err := c.writer.Write(c.ctx, timeline); err != nil {
		c.failed++
		if c.firstErr == nil {
			c.firstErr = err
		}
		return
	}
	c.accepted++
}

// Accepted returns the number of successfully written timelines.
func (c *Collector) Accepted() int64 { return c.accepted }

// Failed returns the number of timelines dropped due to write errors.
func (c *Collector) Failed() int64 { return c.failed }

// Err returns the first write error encountered, if any.
func (c *Collector) Err() error { return c.firstErr }
