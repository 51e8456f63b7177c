package trace

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/pixellineage/inputlat/pkg/errors"
	"github.com/pixellineage/inputlat/pkg/tracker"
)

// Stats summarizes one replay run.
type Stats struct {
	RunID string

	Lines    int64
	Reads    int64
	Finishes int64
	Graphics int64
	Devices  int64

	// Skipped counts malformed or unknown-type lines. Replay keeps going
	// past them; telemetry completeness never takes the pipeline down.
	Skipped int64
}

// Replayer feeds a recorded fact trace through a tracker, serially, in
// trace order.
type Replayer struct {
	tracker *tracker.Tracker

	// ShowProgress renders a byte-based progress bar when the input size
	// is known.
	ShowProgress bool

	// DrainOnEOF flushes all remaining in-flight records once the trace
	// is exhausted, so short traces still produce complete output.
	DrainOnEOF bool
}

// NewReplayer creates a replayer feeding t.
func NewReplayer(t *tracker.Tracker) *Replayer {
	return &Replayer{tracker: t, DrainOnEOF: true}
}

// ReplayFile replays a trace file by path.
func (r *Replayer) ReplayFile(ctx context.Context, path string) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.TraceNotFound(path)
		}
		return nil, errors.Wrap(err, errors.CodeTracePermission, "failed to open trace").
			WithContext("path", path)
	}
	defer f.Close()

	var reader io.Reader = f
	if r.ShowProgress {
		if info, err := f.Stat(); err == nil {
			bar := progressbar.DefaultBytes(info.Size(), "replaying")
			reader = io.TeeReader(f, bar)
		}
	}

	return r.Replay(ctx, reader)
}

// Replay reads fact lines until EOF. Malformed lines are counted and
// skipped. The context is checked between lines; cancellation returns the
// stats accumulated so far alongside the error.
func (r *Replayer) Replay(ctx context.Context, input io.Reader) (*Stats, error) {
	stats := &Stats{RunID: uuid.NewString()}

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return stats, errors.ContextCanceled("replay")
		default:
		}

		stats.Lines++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		fact, err := DecodeFact(line, int(stats.Lines))
		if err != nil {
			stats.Skipped++
			continue
		}

		if err := Apply(fact, r.tracker); err != nil {
			stats.Skipped++
			continue
		}
		stats.count(fact.Type)
	}

	if err := scanner.Err(); err != nil {
		return stats, errors.Wrap(err, errors.CodeReplayFailed, "trace read failed")
	}

	if r.DrainOnEOF {
		r.tracker.FlushAll()
	}
	return stats, nil
}

func (s *Stats) count(factType string) {
	switch factType {
	case TypeRead:
		s.Reads++
	case TypeFinish:
		s.Finishes++
	case TypeGraphics:
		s.Graphics++
	case TypeDevices:
		s.Devices++
	}
}
