// Package segmenter groups an ordered stream of Events into candidate
// segments (spec.md §4.5). Segmentation is a pure function over a slice
// of Events; it has no storage dependency of its own and is invoked by
// this package's Job once a session's buffered run of unsegmented
// events looks closed.
package segmenter

import (
	"time"

	"github.com/agentmemory/memoryd/internal/types"
)

// Config tunes segment boundaries. Zero-value fields fall back to
// DefaultConfig's values via WithDefaults.
type Config struct {
	TimeGap        time.Duration // default 30 min
	TokenThreshold int           // default 4000
	OverlapMinutes time.Duration // default 5 min
	OverlapTokens  int           // default 500
}

// DefaultConfig matches spec.md §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{
		TimeGap:        30 * time.Minute,
		TokenThreshold: 4000,
		OverlapMinutes: 5 * time.Minute,
		OverlapTokens:  500,
	}
}

// WithDefaults fills any zero-valued field of c from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.TimeGap <= 0 {
		c.TimeGap = d.TimeGap
	}
	if c.TokenThreshold <= 0 {
		c.TokenThreshold = d.TokenThreshold
	}
	if c.OverlapMinutes <= 0 {
		c.OverlapMinutes = d.OverlapMinutes
	}
	if c.OverlapTokens <= 0 {
		c.OverlapTokens = d.OverlapTokens
	}
	return c
}

// Segment is one candidate summarization unit: a contiguous run of
// OwnedEvents, plus a leading OverlapEvents window carried from the
// tail of the previous segment for context only (not re-owned, per
// spec.md §4.5 rule 3).
type Segment struct {
	OwnedEvents   []types.Event
	OverlapEvents []types.Event
}

// StartEvent returns the first owned event, used to derive the
// segment's TocNode start_time.
func (s Segment) StartEvent() types.Event {
	return s.OwnedEvents[0]
}

// EndEvent returns the last owned event, used to derive the segment's
// TocNode end_time.
func (s Segment) EndEvent() types.Event {
	return s.OwnedEvents[len(s.OwnedEvents)-1]
}

// AllEvents returns the overlap window followed by the owned events, the
// view the summarizer is handed as its transcript.
func (s Segment) AllEvents() []types.Event {
	out := make([]types.Event, 0, len(s.OverlapEvents)+len(s.OwnedEvents))
	out = append(out, s.OverlapEvents...)
	out = append(out, s.OwnedEvents...)
	return out
}

// estimateTokens is a character-count heuristic (chars/4); spec.md §4.5
// explicitly allows any consistent estimator, not a real tokenizer.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Segment splits events (assumed already in timestamp order) into
// candidate Segments per the time-gap, token-threshold, and
// session-boundary rules, attaching an overlap window to every segment
// after the first.
func Segment(events []types.Event, cfg Config) []Segment {
	cfg = cfg.WithDefaults()
	if len(events) == 0 {
		return nil
	}

	var segments []Segment
	var current []types.Event
	var currentTokens int

	flush := func() {
		if len(current) == 0 {
			return
		}
		segments = append(segments, Segment{OwnedEvents: current})
		current = nil
		currentTokens = 0
	}

	for i, ev := range events {
		if i > 0 {
			prev := events[i-1]
			gap := ev.Timestamp.Sub(prev.Timestamp)
			forcedBoundary := prev.EventType == types.EventSessionEnd || ev.EventType == types.EventSessionStart
			if forcedBoundary || gap > cfg.TimeGap {
				flush()
			}
		}

		tokens := estimateTokens(ev.Text)
		if len(current) > 0 && currentTokens+tokens > cfg.TokenThreshold {
			flush()
		}

		current = append(current, ev)
		currentTokens += tokens
	}
	flush()

	attachOverlap(segments, cfg)
	return segments
}

// attachOverlap fills segments[i].OverlapEvents from the tail of
// segments[i-1].OwnedEvents, capped by whichever of OverlapMinutes or
// OverlapTokens yields fewer events.
func attachOverlap(segments []Segment, cfg Config) {
	for i := 1; i < len(segments); i++ {
		prev := segments[i-1].OwnedEvents
		segments[i].OverlapEvents = tailWindow(prev, cfg)
	}
}

func tailWindow(events []types.Event, cfg Config) []types.Event {
	if len(events) == 0 {
		return nil
	}
	last := events[len(events)-1].Timestamp

	byTime := 0
	for i := len(events) - 1; i >= 0; i-- {
		if last.Sub(events[i].Timestamp) > cfg.OverlapMinutes {
			break
		}
		byTime++
	}

	byTokens := 0
	tokenSum := 0
	for i := len(events) - 1; i >= 0; i-- {
		tokenSum += estimateTokens(events[i].Text)
		if tokenSum > cfg.OverlapTokens {
			break
		}
		byTokens++
	}

	n := byTime
	if byTokens < n {
		n = byTokens
	}
	if n == 0 {
		return nil
	}
	return append([]types.Event(nil), events[len(events)-n:]...)
}
