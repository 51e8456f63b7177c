package trace

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pixellineage/inputlat/pkg/errors"
	"github.com/pixellineage/inputlat/pkg/tracker"
)

// Follower tails a growing trace file and feeds appended facts through the
// tracker as they arrive. It watches the containing directory (fsnotify is
// more reliable that way) and debounces bursts of write events.
type Follower struct {
	tracker  *tracker.Tracker
	debounce time.Duration

	// OnError is called for per-line decode failures; nil means they are
	// silently counted, matching replay behavior.
	OnError func(err error)

	stats  Stats
	offset int64
}

// NewFollower creates a follower feeding t.
func NewFollower(t *tracker.Tracker) *Follower {
	return &Follower{
		tracker:  t,
		debounce: 250 * time.Millisecond,
	}
}

// Stats returns the counters accumulated so far.
func (f *Follower) Stats() Stats {
	return f.stats
}

// Follow replays the current file contents, then blocks feeding appended
// lines until the context is cancelled. Truncation restarts from the top.
func (f *Follower) Follow(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeFollowFailed, "failed to resolve path").
			WithContext("path", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.CodeFollowFailed, "failed to create watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return errors.Wrap(err, errors.CodeFollowFailed, "failed to watch directory").
			WithContext("path", absPath)
	}

	// Catch up on existing content before waiting for events.
	if err := f.consume(absPath); err != nil {
		return err
	}

	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce: bursts of appends collapse into one read.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(f.debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})

		case <-pending:
			if err := f.consume(absPath); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return errors.Wrap(err, errors.CodeFollowFailed, "watcher failed")
		}
	}
}

// consume reads from the last offset to EOF, applying each complete line.
func (f *Follower) consume(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File may disappear between events; keep following.
			return nil
		}
		return errors.Wrap(err, errors.CodeFollowFailed, "failed to open trace").
			WithContext("path", path)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errors.Wrap(err, errors.CodeFollowFailed, "failed to stat trace")
	}
	if info.Size() < f.offset {
		// Truncated: start over.
		f.offset = 0
	}

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return errors.Wrap(err, errors.CodeFollowFailed, "failed to seek trace")
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// A partial trailing line stays unconsumed until its newline
			// arrives.
			break
		}
		f.offset += int64(len(line))
		f.apply(line[:len(line)-1])
	}
	return nil
}

func (f *Follower) apply(line []byte) {
	f.stats.Lines++
	if len(line) == 0 {
		return
	}

	fact, err := DecodeFact(line, int(f.stats.Lines))
	if err != nil {
		f.stats.Skipped++
		if f.OnError != nil {
			f.OnError(err)
		}
		return
	}
	if err := Apply(fact, f.tracker); err != nil {
		f.stats.Skipped++
		return
	}
	f.stats.count(fact.Type)
}
