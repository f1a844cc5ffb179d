// Package admin implements the operator-facing maintenance surface
// (spec.md §4.18): engine-wide stats, index compaction, vector index
// rebuild, retention pruning, and pause/resume control over the
// background jobs wired into cmd/memory-daemon. Every operation here
// is idempotent and non-destructive to the primary stores — it only
// ever touches accelerator indexes and job scheduling state.
package admin

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentmemory/memoryd/internal/bm25index"
	"github.com/agentmemory/memoryd/internal/eventstore"
	"github.com/agentmemory/memoryd/internal/gripstore"
	"github.com/agentmemory/memoryd/internal/pruner"
	"github.com/agentmemory/memoryd/internal/tocstore"
	"github.com/agentmemory/memoryd/internal/types"
	"github.com/agentmemory/memoryd/internal/vectorindex"
)

// Job is the subset of every background job's control surface admin
// needs: a stable name plus pause/resume/query, already implemented by
// internal/pipeline.Pipeline, internal/segmenter.Job,
// internal/topics.Job, internal/usage.Counters, and internal/pruner.Pruner.
type Job interface {
	Name() string
	Pause()
	Resume()
	Paused() bool
}

// JobStatus is the admin-facing view of one registered Job.
type JobStatus struct {
	Name   string
	Paused bool
}

// Stats is the engine-wide snapshot spec.md §4.18's stats() returns.
type Stats struct {
	EventCount  int64
	GripCount   int64
	TocNodeCount int64
	BM25         bm25index.Status
	Vector       vectorindex.Status
}

// Admin wires the storage/accelerator handles and job registry the
// maintenance surface operates over.
type Admin struct {
	events *eventstore.Store
	grips  *gripstore.Store
	toc    *tocstore.Store
	bm25   *bm25index.Index
	vec    *vectorindex.Index
	prune  *pruner.Pruner

	jobs map[string]Job
}

// New wires an Admin surface over the given stores, accelerators, and
// pruner. Register background jobs afterward via RegisterJob.
func New(events *eventstore.Store, grips *gripstore.Store, toc *tocstore.Store, bm25 *bm25index.Index, vec *vectorindex.Index, prune *pruner.Pruner) *Admin {
	return &Admin{events: events, grips: grips, toc: toc, bm25: bm25, vec: vec, prune: prune, jobs: make(map[string]Job)}
}

// RegisterJob adds j to the registry ListJobs/GetJob/PauseJob/ResumeJob
// operate over. The composition root calls this once per background
// job at startup.
func (a *Admin) RegisterJob(j Job) {
	a.jobs[j.Name()] = j
}

var tracer = otel.Tracer("github.com/agentmemory/memoryd/admin")

var adminMetrics struct {
	compactions metric.Int64Counter
	rebuilds    metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/agentmemory/memoryd/admin")
	adminMetrics.compactions, _ = m.Int64Counter("memoryd.admin.compactions",
		metric.WithDescription("manual compact() invocations"), metric.WithUnit("{run}"))
	adminMetrics.rebuilds, _ = m.Int64Counter("memoryd.admin.vector_rebuilds",
		metric.WithDescription("manual rebuild_index() invocations"), metric.WithUnit("{run}"))
}

// Stats returns engine-wide counts and accelerator health, per spec.md
// §4.18's stats() operation.
func (a *Admin) Stats(ctx context.Context) (Stats, error) {
	events, err := a.events.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("admin: stats: %w", err)
	}
	grips, err := a.grips.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("admin: stats: %w", err)
	}
	nodes, err := a.toc.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("admin: stats: %w", err)
	}
	bm25Status, err := a.bm25.Status(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("admin: stats: %w", err)
	}
	vecStatus, err := a.vec.Status(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("admin: stats: %w", err)
	}
	return Stats{
		EventCount:   events,
		GripCount:    grips,
		TocNodeCount: nodes,
		BM25:         bm25Status,
		Vector:       vecStatus,
	}, nil
}

// Compact flushes BM25's pending batch and rebuilds the vector index's
// in-memory graph from the persisted embedding set, the same
// optimize/compact step the pruner runs after a sweep — exposed here so
// an operator can force it outside the retention schedule.
func (a *Admin) Compact(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "admin.Compact")
	defer span.End()

	if err := a.bm25.Commit(ctx); err != nil {
		return fmt.Errorf("admin: compact: bm25 commit: %w", err)
	}
	if _, err := a.vec.Rebuild(ctx, true); err != nil {
		return fmt.Errorf("admin: compact: vector rebuild: %w", err)
	}
	adminMetrics.compactions.Add(ctx, 1)
	return nil
}

// RebuildVectorIndex reloads the ANN graph from the durably persisted
// embedding set, discarding any in-memory-only drift (spec.md §4.9).
func (a *Admin) RebuildVectorIndex(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "admin.RebuildVectorIndex")
	defer span.End()

	n, err := a.vec.Rebuild(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("admin: rebuild-vector-index: %w", err)
	}
	adminMetrics.rebuilds.Add(ctx, 1)
	return n, nil
}

// Prune runs the lifecycle pruner once with cfg and returns its report.
// PruneVectorIndex and PruneBm25Index both delegate here since a single
// retention rule always sweeps both accelerators for a level together
// (spec.md §4.12); callers that only care about one side read the
// matching field off the returned report.
func (a *Admin) Prune(ctx context.Context, cfg pruner.Config) (pruner.Report, error) {
	return a.prune.Run(ctx, cfg)
}

// PruneVectorIndex runs a retention sweep and returns only the vector
// side of the per-level counts.
func (a *Admin) PruneVectorIndex(ctx context.Context, cfg pruner.Config) (map[types.Level]int, error) {
	report, err := a.prune.Run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	out := make(map[types.Level]int, len(report.Levels))
	for _, lr := range report.Levels {
		out[lr.Level] = lr.VectorPruned
	}
	return out, nil
}

// PruneBm25Index runs a retention sweep and returns only the BM25 side
// of the per-level counts.
func (a *Admin) PruneBm25Index(ctx context.Context, cfg pruner.Config) (map[types.Level]int, error) {
	report, err := a.prune.Run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	out := make(map[types.Level]int, len(report.Levels))
	for _, lr := range report.Levels {
		out[lr.Level] = lr.BM25Pruned
	}
	return out, nil
}

// ListJobs returns the registered background jobs' pause state, sorted
// by name for a stable CLI/API listing.
func (a *Admin) ListJobs() []JobStatus {
	out := make([]JobStatus, 0, len(a.jobs))
	for name, j := range a.jobs {
		out = append(out, JobStatus{Name: name, Paused: j.Paused()})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// GetJob returns one registered job's status by name.
func (a *Admin) GetJob(name string) (JobStatus, bool) {
	j, ok := a.jobs[name]
	if !ok {
		return JobStatus{}, false
	}
	return JobStatus{Name: j.Name(), Paused: j.Paused()}, true
}

// PauseJob pauses the named job. Returns types.ErrNotFound if no job
// with that name is registered.
func (a *Admin) PauseJob(name string) error {
	j, ok := a.jobs[name]
	if !ok {
		return fmt.Errorf("admin: pause-job %s: %w", name, types.ErrNotFound)
	}
	j.Pause()
	return nil
}

// ResumeJob resumes the named job. Returns types.ErrNotFound if no job
// with that name is registered.
func (a *Admin) ResumeJob(name string) error {
	j, ok := a.jobs[name]
	if !ok {
		return fmt.Errorf("admin: resume-job %s: %w", name, types.ErrNotFound)
	}
	j.Resume()
	return nil
}
