// Package pipeline is the Outbox consumer that fans each durable write
// out to its accelerators: BM25 upsert, embedding + vector upsert, and
// (for rollup-trigger entries) the next hierarchy promotion (spec.md
// §4.11). It is the one component allowed to call Delete against an
// accelerator index (I1, I2 only bind the primary stores).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentmemory/memoryd/internal/bm25index"
	"github.com/agentmemory/memoryd/internal/gripstore"
	"github.com/agentmemory/memoryd/internal/outbox"
	"github.com/agentmemory/memoryd/internal/rollup"
	"github.com/agentmemory/memoryd/internal/tocstore"
	"github.com/agentmemory/memoryd/internal/types"
	"github.com/agentmemory/memoryd/internal/vectorindex"
)

// JobName identifies this pipeline's checkpoint in the outbox.
const JobName = "indexing_pipeline"

// Config tunes batching and retry behavior.
type Config struct {
	BatchSize  int // entries per micro-batch, default 100 (spec.md §4.11)
	MaxRetries int // retries before an entry is dead-lettered
}

// DefaultConfig matches spec.md §4.11's documented batch size.
func DefaultConfig() Config {
	return Config{BatchSize: 100, MaxRetries: 5}
}

// Pipeline consumes OutboxEntries from the checkpoint onward and
// dispatches each to its accelerators.
type Pipeline struct {
	outbox  *outbox.Store
	toc     *tocstore.Store
	grips   *gripstore.Store
	bm25    *bm25index.Index
	vec     *vectorindex.Index
	rollup  *rollup.Builder
	cfg     Config
	log     *slog.Logger

	attempts map[uint64]int
	paused   atomic.Bool
}

// Name exposes the checkpoint name as this job's admin-facing name.
func (p *Pipeline) Name() string { return JobName }

// Pause stops Run from dispatching further micro-batches until Resume
// is called. In-flight work already picked up by RunOnce completes.
func (p *Pipeline) Pause() { p.paused.Store(true) }

// Resume clears a prior Pause.
func (p *Pipeline) Resume() { p.paused.Store(false) }

// Paused reports whether Run is currently skipping ticks.
func (p *Pipeline) Paused() bool { return p.paused.Load() }

// New wires a Pipeline over the given stores and accelerators.
func New(ob *outbox.Store, toc *tocstore.Store, grips *gripstore.Store, bm25 *bm25index.Index, vec *vectorindex.Index, rb *rollup.Builder, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		outbox:   ob,
		toc:      toc,
		grips:    grips,
		bm25:     bm25,
		vec:      vec,
		rollup:   rb,
		cfg:      cfg,
		log:      log.With("component", "pipeline"),
		attempts: make(map[uint64]int),
	}
}

var tracer = otel.Tracer("github.com/agentmemory/memoryd/pipeline")

var pipelineMetrics struct {
	processed   metric.Int64Counter
	failed      metric.Int64Counter
	deadLettered metric.Int64Counter
	batches     metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/agentmemory/memoryd/pipeline")
	pipelineMetrics.processed, _ = m.Int64Counter("memoryd.pipeline.entries_processed",
		metric.WithDescription("outbox entries successfully dispatched"), metric.WithUnit("{entry}"))
	pipelineMetrics.failed, _ = m.Int64Counter("memoryd.pipeline.entries_failed",
		metric.WithDescription("outbox entries that failed dispatch"), metric.WithUnit("{entry}"))
	pipelineMetrics.deadLettered, _ = m.Int64Counter("memoryd.pipeline.dead_lettered",
		metric.WithDescription("outbox entries marked dead_letter after exhausting retries"), metric.WithUnit("{entry}"))
	pipelineMetrics.batches, _ = m.Int64Counter("memoryd.pipeline.batches",
		metric.WithDescription("micro-batches processed"), metric.WithUnit("{batch}"))
}

// RunOnce processes up to one micro-batch of pending entries and
// advances the checkpoint past the last entry that was fully durable,
// per spec.md §4.11's batching and partial-failure rules. It returns
// the number of entries dispatched successfully.
func (p *Pipeline) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "pipeline.RunOnce")
	defer span.End()
	pipelineMetrics.batches.Add(ctx, 1)

	cp, err := p.outbox.GetCheckpoint(ctx, JobName)
	if err != nil {
		return 0, fmt.Errorf("pipeline: run-once: %w", err)
	}

	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	entries, err := p.outbox.Poll(ctx, cp.LastProcessedSequence, batchSize)
	if err != nil {
		return 0, fmt.Errorf("pipeline: run-once: poll: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	// checkpointCeiling is the highest contiguous sequence durably
	// processed so far in this batch; the checkpoint only ever advances
	// to here, never past an entry still pending/failed, so a crash mid
	// batch re-polls exactly the unfinished suffix.
	checkpointCeiling := cp.LastProcessedSequence
	dispatched := 0

	for _, entry := range entries {
		if err := p.dispatch(ctx, entry); err != nil {
			p.recordFailure(ctx, entry, err)
			if p.attempts[entry.Sequence] < p.maxRetries() {
				break // stop at the first retryable failure; checkpoint holds here
			}
			// Dead-lettered: the checkpoint moves past it so the entries
			// behind it are not blocked.
			checkpointCeiling = entry.Sequence
			delete(p.attempts, entry.Sequence)
			continue
		}
		if err := p.outbox.MarkState(ctx, entry.Sequence, types.StateCompleted); err != nil {
			return dispatched, fmt.Errorf("pipeline: run-once: mark-completed: %w", err)
		}
		checkpointCeiling = entry.Sequence
		delete(p.attempts, entry.Sequence)
		dispatched++
		pipelineMetrics.processed.Add(ctx, 1)
	}

	if checkpointCeiling > cp.LastProcessedSequence {
		if err := p.outbox.AdvanceCheckpoint(ctx, JobName, checkpointCeiling); err != nil {
			return dispatched, fmt.Errorf("pipeline: run-once: advance-checkpoint: %w", err)
		}
	}
	return dispatched, nil
}

// recordFailure marks entry failed, bumps its retry count, and dead-
// letters it once MaxRetries is exhausted (spec.md §4.11 partial
// failure / dead-letter policy).
func (p *Pipeline) recordFailure(ctx context.Context, entry types.OutboxEntry, cause error) {
	p.attempts[entry.Sequence]++
	attempts := p.attempts[entry.Sequence]

	p.log.Warn("pipeline: entry dispatch failed", "sequence", entry.Sequence, "kind", entry.Payload.Kind, "attempts", attempts, "error", cause)
	pipelineMetrics.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(entry.Payload.Kind))))

	if attempts >= p.maxRetries() {
		if err := p.outbox.MarkState(ctx, entry.Sequence, types.StateDeadLetter); err != nil {
			p.log.Error("pipeline: failed to mark entry dead_letter", "sequence", entry.Sequence, "error", err)
			return
		}
		pipelineMetrics.deadLettered.Add(ctx, 1)
		p.log.Error("pipeline: entry exhausted retry budget, dead-lettered", "sequence", entry.Sequence, "kind", entry.Payload.Kind, "cause", cause)
		return
	}
	if err := p.outbox.MarkState(ctx, entry.Sequence, types.StateFailed); err != nil {
		p.log.Error("pipeline: failed to mark entry failed", "sequence", entry.Sequence, "error", err)
	}
}

func (p *Pipeline) maxRetries() int {
	if p.cfg.MaxRetries <= 0 {
		return 5
	}
	return p.cfg.MaxRetries
}

// dispatch routes one OutboxEntry to its accelerators per spec.md
// §4.11. Dispatch is idempotent: every downstream write is a
// doc-id-keyed upsert, so reprocessing an already-processed entry
// (after a crash before the checkpoint advanced) never corrupts state.
func (p *Pipeline) dispatch(ctx context.Context, entry types.OutboxEntry) error {
	switch entry.Payload.Kind {
	case types.PayloadRollupTrigger:
		return p.dispatchRollupTrigger(ctx, entry)
	case types.PayloadIndexTocNode, types.PayloadEmbedTocNode:
		return p.indexAndEmbedNode(ctx, entry.Payload.NodeID)
	case types.PayloadIndexGrip, types.PayloadEmbedGrip:
		return p.indexAndEmbedGrip(ctx, entry.Payload.GripID)
	case types.PayloadLifecycleTick:
		// The Lifecycle Pruner is driven on its own schedule (internal/pruner);
		// this entry kind exists so a future on-demand trigger can enqueue
		// one without the pipeline needing a new payload kind.
		return nil
	default:
		return fmt.Errorf("pipeline: unknown payload kind %q", entry.Payload.Kind)
	}
}

// dispatchRollupTrigger indexes the TocNode rollup.Builder just wrote
// and, if this was a segment-level write, attempts to promote the next
// level up (spec.md §4.7's promotion is driven from here, not from the
// Builder itself, so promotion always happens off the durable Outbox
// rather than inline with the triggering write).
func (p *Pipeline) dispatchRollupTrigger(ctx context.Context, entry types.OutboxEntry) error {
	if err := p.indexAndEmbedNode(ctx, entry.Payload.NodeID); err != nil {
		return err
	}
	node, found, err := p.toc.GetLatest(ctx, entry.Payload.NodeID)
	if err != nil {
		return fmt.Errorf("dispatch rollup trigger: get node %s: %w", entry.Payload.NodeID, err)
	}
	if !found {
		return nil
	}

	// Grips never get their own OutboxEntry (rollup.Builder mints them
	// as part of the same atomic write as the TocNode); index them here,
	// off the node's own bullets, so doc_type=grip documents reach BM25
	// and Vector (spec.md §4.8/§4.11). Upserts are idempotent, so
	// reindexing a grip already indexed by an earlier rollup of the same
	// bullets is a no-op.
	for _, bullet := range node.Bullets {
		for _, gripID := range bullet.GripIDs {
			if err := p.indexAndEmbedGrip(ctx, gripID); err != nil {
				return fmt.Errorf("dispatch rollup trigger: index grip %s: %w", gripID, err)
			}
		}
	}

	if p.rollup == nil {
		return nil
	}
	if _, _, err := p.rollup.Rollup(ctx, node.Level, node.StartTime); err != nil {
		return fmt.Errorf("dispatch rollup trigger: promote %s: %w", node.Level, err)
	}
	return nil
}

// indexAndEmbedNode BM25-indexes and embeds a TocNode (spec.md §4.11:
// "TocNode entries -> BM25 upsert + embedding + vector upsert").
func (p *Pipeline) indexAndEmbedNode(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return nil
	}
	node, found, err := p.toc.GetLatest(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("index-and-embed node %s: %w", nodeID, err)
	}
	if !found {
		return nil
	}

	if err := p.bm25.UpsertDoc(types.BM25Doc{
		DocID:     node.NodeID,
		DocType:   types.LevelDocType(node.Level),
		Level:     node.Level,
		Title:     node.Title,
		Text:      node.Summary,
		Keywords:  node.Keywords,
		CreatedAt: node.StartTime,
	}); err != nil {
		return fmt.Errorf("index-and-embed node %s: bm25 upsert: %w", nodeID, err)
	}
	if err := p.bm25.Commit(ctx); err != nil {
		return fmt.Errorf("index-and-embed node %s: bm25 commit: %w", nodeID, err)
	}

	agentID := ""
	if len(node.ContributingAgents) > 0 {
		agentID = node.ContributingAgents[0]
	}
	text := node.Title + " " + node.Summary
	if err := p.vec.EmbedAndUpsert(ctx, node.NodeID, text, types.LevelDocType(node.Level), agentID); err != nil {
		return fmt.Errorf("index-and-embed node %s: vector upsert: %w", nodeID, err)
	}
	return nil
}

// indexAndEmbedGrip BM25-indexes and embeds a Grip (spec.md §4.11:
// "Grip entries -> BM25 upsert + embedding + vector upsert").
func (p *Pipeline) indexAndEmbedGrip(ctx context.Context, gripID string) error {
	if gripID == "" {
		return nil
	}
	grip, found, err := p.grips.Get(ctx, gripID)
	if err != nil {
		return fmt.Errorf("index-and-embed grip %s: %w", gripID, err)
	}
	if !found {
		return nil
	}

	if err := p.bm25.UpsertDoc(types.BM25Doc{
		DocID:     grip.GripID,
		DocType:   types.DocGrip,
		Text:      grip.Excerpt,
		CreatedAt: grip.Timestamp,
	}); err != nil {
		return fmt.Errorf("index-and-embed grip %s: bm25 upsert: %w", gripID, err)
	}
	if err := p.bm25.Commit(ctx); err != nil {
		return fmt.Errorf("index-and-embed grip %s: bm25 commit: %w", gripID, err)
	}

	if err := p.vec.EmbedAndUpsert(ctx, grip.GripID, grip.Excerpt, types.DocGrip, ""); err != nil {
		return fmt.Errorf("index-and-embed grip %s: vector upsert: %w", gripID, err)
	}
	return nil
}

// Run drives RunOnce on interval until ctx is cancelled, the shape the
// composition root wires into its background task lifecycle.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.Paused() {
				continue
			}
			if _, err := p.RunOnce(ctx); err != nil {
				p.log.Error("pipeline: run-once failed", "error", err)
			}
		}
	}
}
