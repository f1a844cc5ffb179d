// Package agents implements cross-agent discovery over the TOC
// hierarchy (spec.md §4.17): listing every agent that has contributed
// to memory, and bucketed activity counts per agent over time. Both
// operations walk TocNodes, never raw Events, so cost scales with the
// TOC's node count rather than the much larger event log.
package agents

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agentmemory/memoryd/internal/tocstore"
	"github.com/agentmemory/memoryd/internal/types"
)

// Bucket is the granularity GetAgentActivity aggregates by.
type Bucket string

const (
	BucketDay  Bucket = "day"
	BucketWeek Bucket = "week"
)

// ActivityPoint is one bucket's contribution count for a single agent.
type ActivityPoint struct {
	BucketStart time.Time
	NodeCount   int
}

// Discovery wires agent discovery over a TOC store.
type Discovery struct {
	toc *tocstore.Store
}

// New wires a Discovery over the given TOC store.
func New(toc *tocstore.Store) *Discovery {
	return &Discovery{toc: toc}
}

// ListAgents returns every distinct AgentID that appears in any
// TocNode's ContributingAgents, scanning segment-level nodes (the
// finest level every contribution is attributed at before rolling
// upward) rather than the event log.
func (d *Discovery) ListAgents(ctx context.Context) ([]string, error) {
	nodes, err := d.segmentNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("agents: list-agents: %w", err)
	}

	seen := make(map[string]struct{})
	for _, n := range nodes {
		for _, a := range n.ContributingAgents {
			seen[a] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

// GetAgentActivity returns bucketed contribution counts in [from, to].
// When agentID is empty, every agent's contributions are counted
// together (useful for an overall activity timeline). Buckets are
// computed from segment-level TocNodes directly, rather than from
// pre-built day/week rollup nodes, so activity shows up immediately —
// it does not wait on the rollup hierarchy's own promotion schedule.
func (d *Discovery) GetAgentActivity(ctx context.Context, agentID string, from, to time.Time, bucket Bucket) ([]ActivityPoint, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("agents: get-agent-activity: %w", types.ErrInvalidArgument)
	}

	bucketDur := 24 * time.Hour
	switch bucket {
	case BucketWeek:
		bucketDur = 7 * 24 * time.Hour
	case BucketDay, "":
	default:
		return nil, fmt.Errorf("agents: get-agent-activity: bucket %q: %w", bucket, types.ErrInvalidArgument)
	}

	nodes, _, err := d.toc.NodesInRange(ctx, types.LevelSegment, from.UnixMilli(), to.UnixMilli(), 0)
	if err != nil {
		return nil, fmt.Errorf("agents: get-agent-activity: %w", err)
	}

	counts := make(map[int64]int)
	for _, n := range nodes {
		if agentID != "" && !containsAgent(n.ContributingAgents, agentID) {
			continue
		}
		key := bucketKey(n.StartTime, from, bucketDur)
		counts[key]++
	}

	points := make([]ActivityPoint, 0, len(counts))
	for key, count := range counts {
		points = append(points, ActivityPoint{
			BucketStart: from.Add(time.Duration(key) * bucketDur),
			NodeCount:   count,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].BucketStart.Before(points[j].BucketStart) })
	return points, nil
}

// segmentNodes walks the full segment-level index; ListAgents needs
// every segment ever written, not a bounded window.
func (d *Discovery) segmentNodes(ctx context.Context) ([]types.TocNode, error) {
	var out []types.TocNode
	const pageSize = 1000
	from := int64(0)
	for {
		nodes, hasMore, err := d.toc.NodesInRange(ctx, types.LevelSegment, from, maxMillis, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
		if !hasMore || len(nodes) == 0 {
			return out, nil
		}
		from = nodes[len(nodes)-1].StartTime.UnixMilli() + 1
	}
}

const maxMillis = int64(1) << 62

func containsAgent(agents []string, agentID string) bool {
	for _, a := range agents {
		if a == agentID {
			return true
		}
	}
	return false
}

func bucketKey(t, from time.Time, bucketDur time.Duration) int64 {
	return int64(t.Sub(from) / bucketDur)
}
