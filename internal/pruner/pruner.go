// Package pruner is the Lifecycle Pruner: it sweeps the BM25 and Vector
// accelerators on schedule, deleting documents past their level's
// retention window, and leaves the durable TocNode/Grip/Event stores
// untouched (spec.md §4.12). Levels in types.ProtectedLevels are never
// swept, per invariant I8.
package pruner

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
	"github.com/agentmemory/memoryd/internal/types"
	"github.com/agentmemory/memoryd/internal/vectorindex"
)

// Rule is a per-level retention window. A zero Retention means "forever"
// (never pruned), used for levels outside ProtectedLevels that the
// caller still wants to keep indefinitely.
type Rule struct {
	Level     types.Level
	Retention time.Duration
}

// DefaultRules mirrors the coarsen-and-keep-longer shape of spec.md's
// rollup hierarchy: fine-grained detail ages out quickly, coarser
// summaries are kept far longer, and month/year are skipped outright
// by ProtectedLevels regardless of what's configured here.
func DefaultRules() []Rule {
	return []Rule{
		{Level: types.LevelSegment, Retention: 30 * 24 * time.Hour},
		{Level: types.LevelDay, Retention: 365 * 24 * time.Hour},
		{Level: types.LevelWeek, Retention: 5 * 365 * 24 * time.Hour},
	}
}

// Config tunes a single Run.
type Config struct {
	Rules  []Rule
	DryRun bool
	// Now overrides the clock for tests and for the --age-days CLI
	// override's cutoff computation; zero means time.Now().
	Now time.Time
}

// DefaultConfig returns DefaultRules with DryRun off.
func DefaultConfig() Config {
	return Config{Rules: DefaultRules()}
}

// LevelReport is one level's sweep outcome.
type LevelReport struct {
	Level        types.Level
	Cutoff       time.Time
	BM25Pruned   int
	VectorPruned int
	Skipped      bool // true when Level is in types.ProtectedLevels
}

// Report is the outcome of one Run, surfaced via Status for
// observability and the admin CLI.
type Report struct {
	RunAt  time.Time
	DryRun bool
	Levels []LevelReport
}

// Pruner sweeps the BM25 and Vector accelerators against configured
// per-level retention rules.
type Pruner struct {
	bm25 *bm25index.Index
	vec  *vectorindex.Index
	log  *slog.Logger

	lastReport Report
	paused     atomic.Bool
}

// JobName identifies this job to the admin job registry.
const JobName = "lifecycle_pruner"

// Name reports this job's admin-facing name.
func (p *Pruner) Name() string { return JobName }

// Pause stops Run from dispatching further sweeps until Resume is
// called.
func (p *Pruner) Pause() { p.paused.Store(true) }

// Resume clears a prior Pause.
func (p *Pruner) Resume() { p.paused.Store(false) }

// Paused reports whether RunLoop is currently skipping ticks.
func (p *Pruner) Paused() bool { return p.paused.Load() }

// New wires a Pruner over the given accelerators.
func New(bm25 *bm25index.Index, vec *vectorindex.Index, log *slog.Logger) *Pruner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Pruner{bm25: bm25, vec: vec, log: log.With("component", "pruner")}
}

var tracer = otel.Tracer("github.com/agentmemory/memoryd/pruner")

var pruneMetrics struct {
	bm25Pruned metric.Int64Counter
	vecPruned  metric.Int64Counter
	runs       metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/agentmemory/memoryd/pruner")
	pruneMetrics.bm25Pruned, _ = m.Int64Counter("memoryd.pruner.bm25_pruned",
		metric.WithDescription("BM25 documents removed by retention sweep"), metric.WithUnit("{document}"))
	pruneMetrics.vecPruned, _ = m.Int64Counter("memoryd.pruner.vector_pruned",
		metric.WithDescription("vector entries removed by retention sweep"), metric.WithUnit("{entry}"))
	pruneMetrics.runs, _ = m.Int64Counter("memoryd.pruner.runs",
		metric.WithDescription("pruner sweeps executed"), metric.WithUnit("{run}"))
}

// Run sweeps each configured rule in turn, skipping protected levels,
// and returns a report of what was (or, in dry-run mode, would be)
// pruned. Retention deletes are per-level independent; a failure on one
// level does not prevent the rest from running, and is surfaced as an
// error after the remaining levels have been attempted.
func (p *Pruner) Run(ctx context.Context, cfg Config) (Report, error) {
	ctx, span := tracer.Start(ctx, "pruner.Run")
	defer span.End()

	now := cfg.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	report := Report{RunAt: now, DryRun: cfg.DryRun}
	var firstErr error

	for _, rule := range cfg.Rules {
		lr := LevelReport{Level: rule.Level}

		if types.ProtectedLevels[rule.Level] {
			lr.Skipped = true
			report.Levels = append(report.Levels, lr)
			continue
		}
		if rule.Retention <= 0 {
			lr.Skipped = true
			report.Levels = append(report.Levels, lr)
			continue
		}

		cutoff := now.Add(-rule.Retention)
		lr.Cutoff = cutoff
		docType := types.LevelDocType(rule.Level)

		if cfg.DryRun {
			if n, err := p.bm25.CountBefore(ctx, docType, cutoff); err != nil {
				firstErr = err
				p.log.Warn("dry-run bm25 count failed", "level", rule.Level, "error", err)
			} else {
				lr.BM25Pruned = n
			}
			if n, err := p.vec.CountBefore(ctx, docType, cutoff); err != nil {
				firstErr = err
				p.log.Warn("dry-run vector count failed", "level", rule.Level, "error", err)
			} else {
				lr.VectorPruned = n
			}
			report.Levels = append(report.Levels, lr)
			continue
		}

		bm25Pruned, err := p.bm25.DeleteBefore(ctx, docType, cutoff)
		if err != nil {
			firstErr = err
			p.log.Warn("bm25 prune failed", "level", rule.Level, "error", err)
		} else {
			lr.BM25Pruned = bm25Pruned
			pruneMetrics.bm25Pruned.Add(ctx, int64(bm25Pruned), metric.WithAttributes(attribute.String("level", string(rule.Level))))
		}

		vecPruned, err := p.vec.DeleteBefore(ctx, docType, cutoff)
		if err != nil {
			firstErr = err
			p.log.Warn("vector prune failed", "level", rule.Level, "error", err)
		} else {
			lr.VectorPruned = vecPruned
			pruneMetrics.vecPruned.Add(ctx, int64(vecPruned), metric.WithAttributes(attribute.String("level", string(rule.Level))))
		}

		report.Levels = append(report.Levels, lr)
	}

	if !cfg.DryRun {
		if err := p.bm25.Commit(ctx); err != nil {
			p.log.Warn("bm25 compact after prune failed", "error", err)
		}
		if _, err := p.vec.Rebuild(ctx, true); err != nil {
			p.log.Warn("vector compact after prune failed", "error", err)
		}
	}

	pruneMetrics.runs.Add(ctx, 1)
	p.lastReport = report
	if firstErr != nil {
		return report, fmt.Errorf("pruner: run: %w", firstErr)
	}
	return report, nil
}

// LastReport returns the most recent Run's report, for status().
func (p *Pruner) LastReport() Report {
	return p.lastReport
}

// RunLoop drives Run with cfg on a ticker until ctx is canceled, the
// shape every other background job in this module uses.
func (p *Pruner) RunLoop(ctx context.Context, cfg Config, interval time.Duration) {
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
			if _, err := p.Run(ctx, cfg); err != nil {
				p.log.Error("pruner: scheduled run failed", "error", err)
			}
		}
	}
}

// OverrideRules applies the CLI's --level/--age-days flags to the base
// rule set, replacing (or adding) the named level's retention window.
// Unknown levels are appended as new rules.
func OverrideRules(base []Rule, level types.Level, ageDays int) []Rule {
	out := make([]Rule, 0, len(base))
	found := false
	for _, r := range base {
		if r.Level == level {
			r.Retention = time.Duration(ageDays) * 24 * time.Hour
			found = true
		}
		out = append(out, r)
	}
	if !found {
		out = append(out, Rule{Level: level, Retention: time.Duration(ageDays) * 24 * time.Hour})
	}
	return out
}
