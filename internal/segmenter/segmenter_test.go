package segmenter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmemory/memoryd/internal/types"
)

func msgAt(ts time.Time, eventType types.EventType, text string) types.Event {
	return types.Event{
		Timestamp: ts,
		EventType: eventType,
		Role:      types.RoleUser,
		Text:      text,
	}
}

func TestSegmentSplitsOnTimeGap(t *testing.T) {
	base := time.UnixMilli(1706745600000)
	events := []types.Event{
		msgAt(base, types.EventUserMessage, "hi"),
		msgAt(base.Add(time.Minute), types.EventAssistantMessage, "hello"),
		msgAt(base.Add(time.Hour), types.EventUserMessage, "later message"),
	}

	segs := Segment(events, Config{})
	require.Len(t, segs, 2)
	assert.Len(t, segs[0].OwnedEvents, 2)
	assert.Len(t, segs[1].OwnedEvents, 1)
}

func TestSegmentSplitsOnTokenThreshold(t *testing.T) {
	base := time.UnixMilli(1706745600000)
	big := strings.Repeat("a", 4000) // ~1000 estimated tokens
	events := []types.Event{
		msgAt(base, types.EventUserMessage, big),
		msgAt(base.Add(time.Second), types.EventUserMessage, big),
		msgAt(base.Add(2*time.Second), types.EventUserMessage, big),
		msgAt(base.Add(3*time.Second), types.EventUserMessage, big),
		msgAt(base.Add(4*time.Second), types.EventUserMessage, big),
	}

	segs := Segment(events, Config{TokenThreshold: 3000})
	assert.Greater(t, len(segs), 1, "exceeding the token threshold must force a split")
}

func TestSegmentForcesBoundaryOnSessionEvents(t *testing.T) {
	base := time.UnixMilli(1706745600000)
	events := []types.Event{
		msgAt(base, types.EventSessionStart, ""),
		msgAt(base.Add(time.Second), types.EventUserMessage, "hi"),
		msgAt(base.Add(2*time.Second), types.EventSessionEnd, ""),
		msgAt(base.Add(3*time.Second), types.EventSessionStart, ""),
		msgAt(base.Add(4*time.Second), types.EventUserMessage, "new session"),
	}

	segs := Segment(events, Config{})
	require.Len(t, segs, 2)
	assert.Equal(t, types.EventSessionStart, segs[1].OwnedEvents[0].EventType)
}

func TestSegmentAttachesOverlapFromPreviousTail(t *testing.T) {
	base := time.UnixMilli(1706745600000)
	events := []types.Event{
		msgAt(base, types.EventUserMessage, "a"),
		msgAt(base.Add(time.Minute), types.EventUserMessage, "b"),
		msgAt(base.Add(2*time.Minute), types.EventUserMessage, "c"),
		msgAt(base.Add(time.Hour), types.EventUserMessage, "new segment start"),
	}

	segs := Segment(events, Config{})
	require.Len(t, segs, 2)
	assert.Empty(t, segs[0].OverlapEvents, "first segment has no predecessor to overlap from")
	assert.NotEmpty(t, segs[1].OverlapEvents, "second segment must carry overlap context")
	for _, ev := range segs[1].OverlapEvents {
		assert.NotEqual(t, "new segment start", ev.Text)
	}
}

func TestSegmentOwnedEventsAreNotDuplicatedAcrossSegments(t *testing.T) {
	base := time.UnixMilli(1706745600000)
	events := []types.Event{
		msgAt(base, types.EventUserMessage, "a"),
		msgAt(base.Add(time.Minute), types.EventUserMessage, "b"),
		msgAt(base.Add(time.Hour), types.EventUserMessage, "c"),
	}
	segs := Segment(events, Config{})
	total := 0
	for _, s := range segs {
		total += len(s.OwnedEvents)
	}
	assert.Equal(t, len(events), total, "every event is owned by exactly one segment")
}

func TestSegmentEmptyInput(t *testing.T) {
	assert.Nil(t, Segment(nil, Config{}))
}

func TestStartEndEvent(t *testing.T) {
	base := time.UnixMilli(1706745600000)
	seg := Segment([]types.Event{
		msgAt(base, types.EventUserMessage, "a"),
		msgAt(base.Add(time.Second), types.EventUserMessage, "b"),
	}, Config{})[0]
	assert.Equal(t, "a", seg.StartEvent().Text)
	assert.Equal(t, "b", seg.EndEvent().Text)
}
