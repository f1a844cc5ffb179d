package segmenter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentmemory/memoryd/internal/eventstore"
	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/rollup"
	"github.com/agentmemory/memoryd/internal/types"
)

// scanUpperBound is an EventID sentinel no real ID can exceed: a
// timestamp prefix past any representable time followed by the
// highest character in the entropy alphabet, repeated.
const scanUpperBound = "9999999999999zzzzzzzzzzzzz"

const (
	cursorBucket = "segmenter_cursor"
	cursorKey    = "last_scanned_event_id"
	scanBatch    = 500
)

// Job is the periodic task that turns freshly appended Events into
// segment TocNodes. It owns the one piece of state Segment itself does
// not: where the last scan left off, and which sessions still have
// events buffered because they have not yet hit a segment boundary.
//
// Events from different sessions interleave in the single
// chronological event log, so Job demultiplexes by SessionID before
// handing each session's run to Segment. A session's buffer is only
// flushed through rollup once it looks closed: its newest event is
// older than cfg.TimeGap, or a session_end event was seen.
type Job struct {
	events  *eventstore.Store
	kv      *kv.Store
	builder *rollup.Builder
	cfg     Config
	log     *slog.Logger

	pending map[string][]types.Event // sessionID -> buffered, not-yet-segmented events
	paused  atomic.Bool
}

// JobName identifies this job to the admin job registry.
const JobName = "segmenter"

// Name reports this job's admin-facing name.
func (j *Job) Name() string { return JobName }

// Pause stops Run from dispatching further scans until Resume is called.
func (j *Job) Pause() { j.paused.Store(true) }

// Resume clears a prior Pause.
func (j *Job) Resume() { j.paused.Store(false) }

// Paused reports whether Run is currently skipping ticks.
func (j *Job) Paused() bool { return j.paused.Load() }

// NewJob wires a segmentation Job over the given event log and rollup
// builder.
func NewJob(k *kv.Store, events *eventstore.Store, builder *rollup.Builder, cfg Config, log *slog.Logger) *Job {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Job{
		events:  events,
		kv:      k,
		builder: builder,
		cfg:     cfg.WithDefaults(),
		log:     log.With("component", "segmenter"),
		pending: make(map[string][]types.Event),
	}
}

var tracer = otel.Tracer("github.com/agentmemory/memoryd/segmenter")

var jobMetrics struct {
	segmentsBuilt metric.Int64Counter
	eventsScanned metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/agentmemory/memoryd/segmenter")
	jobMetrics.segmentsBuilt, _ = m.Int64Counter("memoryd.segmenter.segments_built",
		metric.WithDescription("segment TocNodes built from closed sessions"), metric.WithUnit("{segment}"))
	jobMetrics.eventsScanned, _ = m.Int64Counter("memoryd.segmenter.events_scanned",
		metric.WithDescription("events scanned from the event log"), metric.WithUnit("{event}"))
}

// RunOnce scans one batch of newly appended events, buckets them by
// session, and flushes any session whose buffer now looks closed. It
// returns the number of segment TocNodes built.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "segmenter.RunOnce")
	defer span.End()

	cursor, err := j.loadCursor(ctx)
	if err != nil {
		return 0, err
	}

	events, _, err := j.events.Range(ctx, cursor, scanUpperBound, scanBatch)
	if err != nil {
		return 0, fmt.Errorf("segmenter: run-once: range: %w", err)
	}
	// Range's lower bound is inclusive; drop the cursor event itself
	// once we have already consumed it.
	if cursor != "" && len(events) > 0 && events[0].EventID == cursor {
		events = events[1:]
	}
	if len(events) == 0 {
		return 0, nil
	}
	jobMetrics.eventsScanned.Add(ctx, int64(len(events)))

	now := events[len(events)-1].Timestamp
	for _, ev := range events {
		j.pending[ev.SessionID] = append(j.pending[ev.SessionID], ev)
		if ev.EventType == types.EventSessionEnd {
			now = ev.Timestamp
		}
	}

	built := 0
	for sessionID, buf := range j.pending {
		if len(buf) == 0 {
			continue
		}
		closed := buf[len(buf)-1].EventType == types.EventSessionEnd ||
			now.Sub(buf[len(buf)-1].Timestamp) > j.cfg.TimeGap
		if !closed {
			continue
		}
		n, err := j.flushSession(ctx, sessionID, buf)
		if err != nil {
			return built, err
		}
		built += n
		delete(j.pending, sessionID)
	}

	if err := j.saveCursor(ctx, events[len(events)-1].EventID); err != nil {
		return built, err
	}
	return built, nil
}

// flushSession segments one session's buffered events and builds a
// segment TocNode for each resulting Segment.
func (j *Job) flushSession(ctx context.Context, sessionID string, events []types.Event) (int, error) {
	agentID := ""
	for _, ev := range events {
		if ev.AgentID != "" {
			agentID = ev.AgentID
			break
		}
	}

	segs := Segment(events, j.cfg)
	for _, seg := range segs {
		if _, err := j.builder.BuildSegment(ctx, seg, agentID); err != nil {
			return 0, fmt.Errorf("segmenter: flush session %s: %w", sessionID, err)
		}
		jobMetrics.segmentsBuilt.Add(ctx, 1)
	}
	return len(segs), nil
}

// Flush force-closes every still-open session buffer, regardless of
// TimeGap, for use at shutdown so trailing events are never lost.
func (j *Job) Flush(ctx context.Context) (int, error) {
	built := 0
	for sessionID, buf := range j.pending {
		if len(buf) == 0 {
			continue
		}
		n, err := j.flushSession(ctx, sessionID, buf)
		if err != nil {
			return built, err
		}
		built += n
		delete(j.pending, sessionID)
	}
	return built, nil
}

// Run drives RunOnce on a ticker until ctx is canceled.
func (j *Job) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if j.Paused() {
				continue
			}
			if _, err := j.RunOnce(ctx); err != nil {
				j.log.Error("segmenter: run-once failed", "error", err)
			}
		}
	}
}

func (j *Job) loadCursor(ctx context.Context) (string, error) {
	v, found, err := j.kv.Get(ctx, cursorBucket, []byte(cursorKey))
	if err != nil {
		return "", fmt.Errorf("segmenter: load-cursor: %w", err)
	}
	if !found {
		return "", nil
	}
	return string(v), nil
}

func (j *Job) saveCursor(ctx context.Context, eventID string) error {
	if err := j.kv.Put(ctx, cursorBucket, []byte(cursorKey), []byte(eventID)); err != nil {
		return fmt.Errorf("segmenter: save-cursor: %w", err)
	}
	return nil
}
