// Package rollup builds and promotes TocNodes through the summary
// hierarchy: segment-level nodes from raw event segments (spec.md
// §4.6), and day/week/month/year nodes from their children (spec.md
// §4.7). Salience and memory_kind are computed once here, at creation,
// per invariant I9.
package rollup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentmemory/memoryd/internal/gripstore"
	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/outbox"
	"github.com/agentmemory/memoryd/internal/segmenter"
	"github.com/agentmemory/memoryd/internal/summarizer"
	"github.com/agentmemory/memoryd/internal/tocstore"
	"github.com/agentmemory/memoryd/internal/types"
)

// MaxBulletsBeforeSynthesis is the per-parent bullet cap past which
// Rollup calls the summarizer for a higher-level synthesis rather than
// lightweight concatenation (spec.md §4.7 step 3).
const MaxBulletsBeforeSynthesis = 20

// Builder owns segment-level construction and hierarchical promotion.
type Builder struct {
	toc     *tocstore.Store
	grips   *gripstore.Store
	outbox  *outbox.Store
	driver  *summarizer.Driver
}

// NewBuilder wires a Builder over the given stores and summarizer
// driver.
func NewBuilder(toc *tocstore.Store, grips *gripstore.Store, ob *outbox.Store, driver *summarizer.Driver) *Builder {
	return &Builder{toc: toc, grips: grips, outbox: ob, driver: driver}
}

// BuildSegment summarizes seg, mints its Grips, and atomically writes
// the segment TocNode, its Grips, and an OutboxEntry to trigger
// upstream rollup and indexing (spec.md §4.6 step 3).
func (b *Builder) BuildSegment(ctx context.Context, seg segmenter.Segment, agentID string) (types.TocNode, error) {
	result, degraded, err := b.driver.Summarize(ctx, seg.AllEvents())
	if err != nil {
		return types.TocNode{}, fmt.Errorf("rollup: build-segment: %w", err)
	}

	var writes []kv.Write
	bullets := make([]types.Bullet, 0, len(result.Bullets))
	for _, bo := range result.Bullets {
		grip := types.Grip{
			Excerpt:      bo.ExcerptText,
			EventIDStart: bo.ExcerptEventStart,
			EventIDEnd:   bo.ExcerptEventEnd,
			Timestamp:    seg.StartEvent().Timestamp,
			Source:       "segment_summarizer",
		}
		if grip.EventIDStart == "" {
			grip.EventIDStart = seg.StartEvent().EventID
		}
		if grip.EventIDEnd == "" {
			grip.EventIDEnd = seg.EndEvent().EventID
		}
		stored, write, err := b.grips.PrepareWrite(grip)
		if err != nil {
			return types.TocNode{}, fmt.Errorf("rollup: build-segment: prepare grip: %w", err)
		}
		writes = append(writes, write)
		bullets = append(bullets, types.Bullet{Text: bo.Text, GripIDs: []string{stored.GripID}})
	}

	agents := dedupeNonEmpty([]string{agentID})
	text := result.Title + " " + result.Summary
	kind := DetectKind(text)

	node := types.TocNode{
		Level:              types.LevelSegment,
		Title:              result.Title,
		Summary:            result.Summary,
		Bullets:            bullets,
		Keywords:           result.Keywords,
		StartTime:          seg.StartEvent().Timestamp,
		EndTime:            seg.EndEvent().Timestamp,
		ContributingAgents: agents,
		SalienceScore:      Salience(text, kind, false),
		MemoryKind:         kind,
		Unsummarized:       degraded,
	}

	node, tocWrites, err := b.toc.PrepareWrite(ctx, node)
	if err != nil {
		return types.TocNode{}, fmt.Errorf("rollup: build-segment: prepare toc node: %w", err)
	}
	writes = append(writes, tocWrites...)

	if _, err := b.outbox.Enqueue(ctx, types.OutboxPayload{
		Kind:   types.PayloadRollupTrigger,
		NodeID: node.NodeID,
		Level:  types.LevelSegment,
	}, writes...); err != nil {
		return types.TocNode{}, fmt.Errorf("rollup: build-segment: enqueue: %w", err)
	}
	return node, nil
}

// Rollup promotes all child TocNodes at childLevel within the period
// containing at into a single parent TocNode at childLevel's parent
// level (spec.md §4.7). Returns (zero, false, nil) if there are no
// children to roll up yet.
func (b *Builder) Rollup(ctx context.Context, childLevel types.Level, at time.Time) (types.TocNode, bool, error) {
	parentLevel, ok := ParentLevel(childLevel)
	if !ok {
		return types.TocNode{}, false, nil
	}
	periodStart, periodEnd := PeriodBounds(parentLevel, at)

	children, _, err := b.toc.NodesInRange(ctx, childLevel, periodStart.UnixMilli(), periodEnd.UnixMilli()-1, 0)
	if err != nil {
		return types.TocNode{}, false, fmt.Errorf("rollup: collect children: %w", err)
	}
	if len(children) == 0 {
		return types.TocNode{}, false, nil
	}

	aggregated := aggregate(children)

	var summary string
	if len(aggregated.bullets) > MaxBulletsBeforeSynthesis {
		synth, _, err := b.driver.Summarize(ctx, syntheticEvents(aggregated.bullets, periodStart))
		if err == nil {
			summary = synth.Summary
		}
	}
	if summary == "" {
		summary = formatBullets(aggregated.bullets)
	}

	nodeID := NodeID(parentLevel, periodStart)
	childIDs := make([]string, 0, len(children))
	for _, c := range children {
		childIDs = append(childIDs, c.NodeID)
	}

	text := aggregated.title + " " + summary
	kind := DetectKind(text)

	parent := types.TocNode{
		NodeID:             nodeID,
		Level:              parentLevel,
		Title:              aggregated.title,
		Summary:            summary,
		Bullets:            aggregated.bullets,
		Keywords:           aggregated.keywords,
		ChildNodeIDs:       childIDs,
		StartTime:          periodStart,
		EndTime:            periodEnd,
		ContributingAgents: aggregated.agents,
		SalienceScore:      Salience(text, kind, false),
		MemoryKind:         kind,
	}

	parent, writes, err := b.toc.PrepareWrite(ctx, parent)
	if err != nil {
		return types.TocNode{}, false, fmt.Errorf("rollup: prepare parent: %w", err)
	}

	if _, err := b.outbox.Enqueue(ctx, types.OutboxPayload{
		Kind:   types.PayloadRollupTrigger,
		NodeID: parent.NodeID,
		Level:  parentLevel,
	}, writes...); err != nil {
		return types.TocNode{}, false, fmt.Errorf("rollup: enqueue: %w", err)
	}
	return parent, true, nil
}

type aggregation struct {
	title    string
	bullets  []types.Bullet
	keywords []string
	agents   []string
}

// aggregate concatenates every child's bullets (the list is not
// capped), merges keywords by frequency,
// and unions contributing agents across children, per spec.md §4.7
// step 2.
func aggregate(children []types.TocNode) aggregation {
	var bullets []types.Bullet
	keywordCounts := map[string]int{}
	agentSet := map[string]bool{}

	for _, c := range children {
		bullets = append(bullets, c.Bullets...)
		for _, kw := range c.Keywords {
			keywordCounts[kw]++
		}
		for _, a := range c.ContributingAgents {
			agentSet[a] = true
		}
	}

	type kwCount struct {
		word  string
		count int
	}
	ranked := make([]kwCount, 0, len(keywordCounts))
	for w, c := range keywordCounts {
		ranked = append(ranked, kwCount{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	keywords := make([]string, 0, len(ranked))
	for _, kw := range ranked {
		keywords = append(keywords, kw.word)
	}

	agents := make([]string, 0, len(agentSet))
	for a := range agentSet {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	title := children[0].Title
	if len(children) > 1 {
		title = fmt.Sprintf("%s and %d more", title, len(children)-1)
	}

	return aggregation{title: title, bullets: bullets, keywords: keywords, agents: agents}
}

func formatBullets(bullets []types.Bullet) string {
	var b strings.Builder
	for _, bullet := range bullets {
		b.WriteString("- ")
		b.WriteString(bullet.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// syntheticEvents turns a parent's aggregated bullets into a pseudo
// transcript so the summarizer's Capability can synthesize a
// higher-level summary from them, per spec.md §4.7 step 3.
func syntheticEvents(bullets []types.Bullet, at time.Time) []types.Event {
	events := make([]types.Event, 0, len(bullets))
	for _, b := range bullets {
		events = append(events, types.Event{
			Timestamp: at,
			Role:      types.RoleSystem,
			Text:      b.Text,
		})
	}
	return events
}

func dedupeNonEmpty(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
