package rollup

import (
	"fmt"
	"time"

	"github.com/agentmemory/memoryd/internal/types"
)

// ParentLevel returns the level that level rolls up into, and false if
// level is already the top (year).
func ParentLevel(level types.Level) (types.Level, bool) {
	switch level {
	case types.LevelSegment:
		return types.LevelDay, true
	case types.LevelDay:
		return types.LevelWeek, true
	case types.LevelWeek:
		return types.LevelMonth, true
	case types.LevelMonth:
		return types.LevelYear, true
	default:
		return "", false
	}
}

// PeriodBounds returns the [start, end) UTC bounds of the period at
// level that contains t.
func PeriodBounds(level types.Level, t time.Time) (start, end time.Time) {
	t = t.UTC()
	switch level {
	case types.LevelDay:
		start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 1)
	case types.LevelWeek:
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7 // ISO week starts Monday
		}
		dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		start = dayStart.AddDate(0, 0, -(weekday - 1))
		end = start.AddDate(0, 0, 7)
	case types.LevelMonth:
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	case types.LevelYear:
		start = time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(1, 0, 0)
	default:
		start, end = t, t
	}
	return start, end
}

// PeriodKey returns the stable, human-legible period-key component of a
// TocNode's node_id (spec.md §3.1: `toc:{level}:{period-key}`,
// e.g. `toc:day:2026-01-30`).
func PeriodKey(level types.Level, t time.Time) string {
	t = t.UTC()
	switch level {
	case types.LevelDay:
		return t.Format("2006-01-02")
	case types.LevelWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-w%02d", year, week)
	case types.LevelMonth:
		return t.Format("2006-01")
	case types.LevelYear:
		return t.Format("2006")
	default:
		return fmt.Sprintf("%d", t.UnixMilli())
	}
}

// NodeID builds the deterministic node_id for a non-segment TocNode.
// Segment nodes are keyed by their minted id instead, since a segment
// has no natural calendar period.
func NodeID(level types.Level, t time.Time) string {
	return fmt.Sprintf("toc:%s:%s", level, PeriodKey(level, t))
}
