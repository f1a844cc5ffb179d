// Package brainstem is the Retrieval Brainstem (spec.md §4.15): the
// decision core that detects which accelerators are currently healthy,
// classifies a query's intent, walks the intent's layer-ordering
// fallback chain, and enforces stop conditions. It holds no persistent
// state of its own — every call composes the other retrieval
// components.
package brainstem

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentmemory/memoryd/internal/bm25index"
	"github.com/agentmemory/memoryd/internal/eventstore"
	"github.com/agentmemory/memoryd/internal/summarizer"
	"github.com/agentmemory/memoryd/internal/tocstore"
	"github.com/agentmemory/memoryd/internal/topics"
	"github.com/agentmemory/memoryd/internal/types"
	"github.com/agentmemory/memoryd/internal/vectorindex"
)

// Tier is a capability tier, 1 (richest) through 5 (leanest), per
// spec.md §4.15's availability table.
type Tier int

const (
	TierFull     Tier = 1 // Topics + (BM25 ∧ Vector) + Agentic
	TierHybrid   Tier = 2 // (BM25 ∧ Vector) + Agentic
	TierSemantic Tier = 3 // Vector + Agentic
	TierKeyword  Tier = 4 // BM25 + Agentic
	TierAgentic  Tier = 5 // Agentic only
)

// Intent is the classified purpose of a query.
type Intent string

const (
	IntentExplore   Intent = "explore"
	IntentAnswer    Intent = "answer"
	IntentLocate    Intent = "locate"
	IntentTimeBoxed Intent = "time_boxed"
)

// Layer is one retrieval mechanism a fallback chain can invoke.
type Layer string

const (
	LayerTopics   Layer = "topics"
	LayerHybrid   Layer = "hybrid"
	LayerBM25     Layer = "bm25"
	LayerVector   Layer = "vector"
	LayerAgentic  Layer = "agentic"
)

// StopConditions bounds a single Retrieve call's exploration.
type StopConditions struct {
	MaxDepth         int           // drill-down hops, default 5
	MaxNodesVisited  int           // default 100
	MaxRPCCalls      int           // default 20
	MaxTokenBudget   int           // default 4000
	Timeout          time.Duration // default 5000ms
	BeamWidth        int           // parallel exploration width, default 1 (2-5 for Explore)
	Strict           bool          // Time-boxed: hard stop instead of soft overshoot+log
}

// DefaultStopConditions matches spec.md §4.15's documented defaults.
func DefaultStopConditions() StopConditions {
	return StopConditions{
		MaxDepth:        5,
		MaxNodesVisited: 100,
		MaxRPCCalls:     20,
		MaxTokenBudget:  4000,
		Timeout:         5000 * time.Millisecond,
		BeamWidth:       1,
	}
}

// forIntent applies spec.md §4.15's per-intent stop-condition overrides.
func forIntent(base StopConditions, intent Intent) StopConditions {
	cfg := base
	switch intent {
	case IntentExplore:
		if cfg.BeamWidth < 2 {
			cfg.BeamWidth = 2
		}
	case IntentTimeBoxed:
		cfg.Strict = true
	}
	return cfg
}

// Request is one Retrieve call's input.
type Request struct {
	Query      string
	Limit      int
	AgentFilter string
	Deadline   *time.Time // caller-provided deadline signals Time-boxed intent
	MinScore   float64
	// TimeRange bounds Agentic TOC Search and Agent-Scan escalation when
	// the caller has one; zero values mean "infer from the query".
	From, To time.Time
	// FusionWeights overrides the Hybrid layer's BM25/vector Reciprocal
	// Rank Fusion weights; nil means vectorindex.DefaultFusionWeights()
	// (L3: bm25_weight=1, vector_weight=0 must reduce Hybrid to the same
	// ordering as a pure BM25 search).
	FusionWeights *vectorindex.FusionWeights
}

// Response is the outcome of one Retrieve call, annotated per spec.md
// §4.15's required metadata.
type Response struct {
	Hits               []types.SearchHit
	TierUsed           Tier
	Intent             Intent
	LayerUsed          Layer
	FallbackChainTried []Layer
	Rationale          string
	AgentScanUsed      bool
	// Partial is true when the caller's deadline elapsed before
	// retrieval finished (Time-boxed intent, §5/§7's Deadline error
	// kind resolved as a partial result rather than DeadlineExceeded).
	Partial bool
}

// Brainstem composes the other retrieval components. Any accelerator
// field may be nil, in which case its tier is simply unavailable.
type Brainstem struct {
	bm25      *bm25index.Index
	vec       *vectorindex.Index
	topics    *topics.Job
	toc       *tocstore.Store
	events    *eventstore.Store
	summarizer *summarizer.Driver
	stops     StopConditions
	log       *slog.Logger
}

// New wires a Brainstem over whichever accelerators are configured.
func New(bm25 *bm25index.Index, vec *vectorindex.Index, top *topics.Job, toc *tocstore.Store, events *eventstore.Store, driver *summarizer.Driver, stops StopConditions, log *slog.Logger) *Brainstem {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Brainstem{
		bm25: bm25, vec: vec, topics: top, toc: toc, events: events, summarizer: driver,
		stops: stops, log: log.With("component", "brainstem"),
	}
}

var tracer = otel.Tracer("github.com/agentmemory/memoryd/brainstem")

var brainstemMetrics struct {
	retrievals     metric.Int64Counter
	tierUsed       metric.Int64Counter
	agentScanUsed  metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/agentmemory/memoryd/brainstem")
	brainstemMetrics.retrievals, _ = m.Int64Counter("memoryd.brainstem.retrievals", metric.WithUnit("{call}"))
	brainstemMetrics.tierUsed, _ = m.Int64Counter("memoryd.brainstem.tier_used", metric.WithUnit("{call}"))
	brainstemMetrics.agentScanUsed, _ = m.Int64Counter("memoryd.brainstem.agent_scan_used", metric.WithUnit("{call}"))
}

// DetectTier reports the richest tier currently available, per each
// accelerator's own status() (enabled ∧ healthy).
func (b *Brainstem) DetectTier(ctx context.Context) Tier {
	bm25OK := b.bm25Healthy(ctx)
	vecOK := b.vecHealthy(ctx)
	topicsOK := b.topicsHealthy(ctx)

	switch {
	case topicsOK && bm25OK && vecOK:
		return TierFull
	case bm25OK && vecOK:
		return TierHybrid
	case vecOK:
		return TierSemantic
	case bm25OK:
		return TierKeyword
	default:
		return TierAgentic
	}
}

func (b *Brainstem) bm25Healthy(ctx context.Context) bool {
	if b.bm25 == nil {
		return false
	}
	st, err := b.bm25.Status(ctx)
	return err == nil && st.Available
}

func (b *Brainstem) vecHealthy(ctx context.Context) bool {
	if b.vec == nil {
		return false
	}
	st, err := b.vec.Status(ctx)
	return err == nil && st.Ready
}

func (b *Brainstem) topicsHealthy(ctx context.Context) bool {
	if b.topics == nil {
		return false
	}
	st, err := b.topics.Status(ctx)
	return err == nil && st.Enabled && st.Healthy
}

// exploreSignals and locateSignals are the keyword
// triggers spec.md §4.15's intent classification table lists.
var exploreSignals = []string{"themes", "topics", "what have i", "recurring"}
var locateSignals = []string{"where", "find exact"}

// ClassifyIntent applies spec.md §4.15's signal table. A caller
// deadline always wins (Time-boxed); Explore and Locate signals are
// checked next; anything else (including "how did", "what was",
// "why") defaults to Answer.
func ClassifyIntent(query string, deadline *time.Time) Intent {
	if deadline != nil {
		return IntentTimeBoxed
	}
	lower := strings.ToLower(query)
	for _, s := range exploreSignals {
		if strings.Contains(lower, s) {
			return IntentExplore
		}
	}
	for _, s := range locateSignals {
		if strings.Contains(lower, s) {
			return IntentLocate
		}
	}
	if looksQuoted(query) || looksLikeIdentifier(query) {
		return IntentLocate
	}
	return IntentAnswer
}

func looksQuoted(s string) bool {
	s = strings.TrimSpace(s)
	return (strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) > 1) ||
		(strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") && len(s) > 1)
}

// looksLikeIdentifier treats a single alphanumeric-plus-punctuation
// token with no spaces (e.g. a function name, a node ID) as a locate
// signal, distinct from the multi-word prose Answer/Explore queries
// tend to be.
func looksLikeIdentifier(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, " ") {
		return false
	}
	return strings.ContainsAny(s, "_.:/-") || hasMixedCase(s)
}

func hasMixedCase(s string) bool {
	hasUpper, hasLower := false, false
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			hasUpper = true
		}
		if r >= 'a' && r <= 'z' {
			hasLower = true
		}
	}
	return hasUpper && hasLower
}

// layerOrder returns spec.md §4.15's layer-ordering fallback chain for
// intent.
func layerOrder(intent Intent) []Layer {
	switch intent {
	case IntentExplore:
		return []Layer{LayerTopics, LayerHybrid, LayerVector, LayerBM25, LayerAgentic}
	case IntentLocate:
		return []Layer{LayerBM25, LayerHybrid, LayerVector, LayerAgentic}
	case IntentTimeBoxed:
		return []Layer{LayerHybrid, LayerVector, LayerBM25, LayerAgentic}
	default: // Answer
		return []Layer{LayerHybrid, LayerBM25, LayerVector, LayerAgentic}
	}
}

// availableInTier reports whether layer can be invoked given tier.
func availableInTier(layer Layer, tier Tier) bool {
	switch layer {
	case LayerTopics:
		return tier == TierFull
	case LayerHybrid:
		return tier == TierFull || tier == TierHybrid
	case LayerVector:
		return tier == TierFull || tier == TierHybrid || tier == TierSemantic
	case LayerBM25:
		return tier == TierFull || tier == TierHybrid || tier == TierKeyword
	case LayerAgentic:
		return true
	default:
		return false
	}
}

// Retrieve is the Brainstem's single entry point: detect tier, classify
// intent, walk the fallback chain, enforce stop conditions, and fall
// back to Agentic TOC Search (and, when applicable, Agent-Scan
// escalation) if every accelerator layer comes up empty.
func (b *Brainstem) Retrieve(ctx context.Context, req Request) (resp Response, err error) {
	ctx, span := tracer.Start(ctx, "brainstem.Retrieve")
	defer span.End()
	brainstemMetrics.retrievals.Add(ctx, 1)

	intent := ClassifyIntent(req.Query, req.Deadline)
	stops := forIntent(b.stops, intent)

	var callCtx context.Context
	var cancel context.CancelFunc
	if req.Deadline != nil {
		// A caller-set deadline is a hard wall clock bound (possibly
		// already past), not a duration to fall back from on a zero/
		// negative value the way stops.Timeout's default does.
		callCtx, cancel = context.WithDeadline(ctx, *req.Deadline)
	} else {
		timeout := stops.Timeout
		if timeout <= 0 {
			timeout = 5000 * time.Millisecond
		}
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	// partial reports a deadline-driven partial result (§5/§7): the
	// caller's context expired before retrieval finished, so whatever
	// resp carries at return time is all that was found in time.
	defer func() {
		if intent == IntentTimeBoxed && callCtx.Err() != nil {
			resp.Partial = true
		}
	}()

	tier := b.DetectTier(callCtx)
	brainstemMetrics.tierUsed.Add(ctx, 1, metric.WithAttributes(attribute.Int("tier", int(tier))))

	resp = Response{TierUsed: tier, Intent: intent}
	order := layerOrder(intent)
	rpcCalls := 0

	for _, layer := range order {
		if !availableInTier(layer, tier) {
			continue
		}
		if layer == LayerAgentic {
			break // Agentic is always the final fallback, handled below
		}
		resp.FallbackChainTried = append(resp.FallbackChainTried, layer)

		if rpcCalls >= stops.MaxRPCCalls {
			if stops.Strict {
				break
			}
			b.log.Info("brainstem: rpc call budget overshoot, continuing", "rpc_calls", rpcCalls, "max_rpc_calls", stops.MaxRPCCalls)
		}
		rpcCalls++

		hits, rationale, err := b.invoke(callCtx, layer, req, stops)
		if err != nil {
			b.log.Warn("brainstem: layer invocation failed", "layer", layer, "error", err)
			continue
		}
		if sufficient(hits, req.MinScore) {
			resp.Hits = hits
			resp.LayerUsed = layer
			resp.Rationale = rationale
			return resp, nil
		}
	}

	// Final fallback: Agentic TOC Search, which requires no index.
	resp.FallbackChainTried = append(resp.FallbackChainTried, LayerAgentic)
	agenticHits, err := b.agenticTOCSearch(callCtx, req)
	if err != nil {
		return resp, fmt.Errorf("brainstem: agentic fallback: %w", err)
	}
	if len(agenticHits) > 0 {
		resp.Hits = agenticHits
		resp.LayerUsed = LayerAgentic
		resp.Rationale = "agentic TOC search matched on summary/title/keywords"
		return resp, nil
	}

	// Agent-Scan escalation: only for non-Time-boxed intents, and only
	// when a summarizer and raw event store are both wired.
	if intent != IntentTimeBoxed && b.events != nil && b.summarizer != nil {
		brainstemMetrics.agentScanUsed.Add(ctx, 1)
		resp.AgentScanUsed = true
		scanHits, err := b.agentScanEscalation(callCtx, req)
		if err != nil {
			return resp, fmt.Errorf("brainstem: agent-scan escalation: %w", err)
		}
		resp.Hits = scanHits
		resp.LayerUsed = LayerAgentic
		resp.Rationale = "agent-scan escalation: bounded raw-event scan summarized on the fly"
	}

	return resp, nil
}

func sufficient(hits []types.SearchHit, minScore float64) bool {
	if len(hits) == 0 {
		return false
	}
	if minScore <= 0 {
		return true
	}
	for _, h := range hits {
		if h.Score >= minScore {
			return true
		}
	}
	return false
}

// invoke dispatches to the named layer, running a beam of concurrent
// accelerators when stops.BeamWidth > 1 and the layer is Hybrid.
func (b *Brainstem) invoke(ctx context.Context, layer Layer, req Request, stops StopConditions) ([]types.SearchHit, string, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	switch layer {
	case LayerTopics:
		return b.invokeTopics(ctx, req, limit)
	case LayerBM25:
		hits, err := b.bm25.Search(ctx, req.Query, limit, bm25index.SearchFilter{AgentID: req.AgentFilter, MinScore: req.MinScore})
		return hits, "bm25 keyword match", err
	case LayerVector:
		hits, err := b.vec.Search(ctx, req.Query, limit, vectorindex.SearchFilter{AgentID: req.AgentFilter})
		return hits, "vector nearest-neighbor match", err
	case LayerHybrid:
		return b.invokeHybrid(ctx, req, limit, stops)
	default:
		return nil, "", fmt.Errorf("brainstem: unknown layer %q", layer)
	}
}

// invokeHybrid runs BM25 and Vector (concurrently, the beam, when
// stops.BeamWidth > 1; one after the other otherwise) and fuses their
// rankings via reciprocal rank fusion, capturing which side(s) agreed
// on each winning result. Hits whose fused score is zero (found only
// by a side weighted 0) are dropped.
func (b *Brainstem) invokeHybrid(ctx context.Context, req Request, limit int, stops StopConditions) ([]types.SearchHit, string, error) {
	var bm25Hits, vecHits []types.SearchHit
	var bm25Err, vecErr error

	if stops.BeamWidth > 1 {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			bm25Hits, bm25Err = b.bm25.Search(ctx, req.Query, limit, bm25index.SearchFilter{AgentID: req.AgentFilter, MinScore: req.MinScore})
		}()
		go func() {
			defer wg.Done()
			vecHits, vecErr = b.vec.Search(ctx, req.Query, limit, vectorindex.SearchFilter{AgentID: req.AgentFilter})
		}()
		wg.Wait()
	} else {
		bm25Hits, bm25Err = b.bm25.Search(ctx, req.Query, limit, bm25index.SearchFilter{AgentID: req.AgentFilter, MinScore: req.MinScore})
		vecHits, vecErr = b.vec.Search(ctx, req.Query, limit, vectorindex.SearchFilter{AgentID: req.AgentFilter})
	}
	if bm25Err != nil && vecErr != nil {
		return nil, "", fmt.Errorf("brainstem: hybrid: bm25: %w, vector: %v", bm25Err, vecErr)
	}

	weights := vectorindex.DefaultFusionWeights()
	if req.FusionWeights != nil {
		weights = *req.FusionWeights
	}
	fused := vectorindex.Fuse(bm25Hits, vecHits, weights)
	kept := fused[:0]
	for _, h := range fused {
		if h.Score > 0 {
			kept = append(kept, h)
		}
	}
	fused = kept
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, rationaleFor(bm25Hits, vecHits, fused), nil
}

// rationaleFor names which side(s) of a hybrid fusion produced the
// winning results, per spec.md §4.15's example phrasing.
func rationaleFor(bm25Hits, vecHits, fused []types.SearchHit) string {
	if len(fused) == 0 {
		return ""
	}
	bm25Set := make(map[string]bool, len(bm25Hits))
	for _, h := range bm25Hits {
		bm25Set[h.DocID] = true
	}
	vecSet := make(map[string]bool, len(vecHits))
	for _, h := range vecHits {
		vecSet[h.DocID] = true
	}
	both, bm25Only, vecOnly := 0, 0, 0
	for _, h := range fused {
		switch {
		case bm25Set[h.DocID] && vecSet[h.DocID]:
			both++
		case bm25Set[h.DocID]:
			bm25Only++
		case vecSet[h.DocID]:
			vecOnly++
		}
	}
	return fmt.Sprintf("BM25 and vector agreed on %d result(s); BM25-only: %d, vector-only: %d", both, bm25Only, vecOnly)
}

// invokeTopics resolves the query's top matching Topics, then the
// TocNodes those Topics evidenced, ranked by importance × link
// relevance.
func (b *Brainstem) invokeTopics(ctx context.Context, req Request, limit int) ([]types.SearchHit, string, error) {
	matched, err := b.topics.GetTopicsByQuery(ctx, req.Query, 5, 0)
	if err != nil {
		return nil, "", err
	}
	var hits []types.SearchHit
	for _, topic := range matched {
		links, err := b.topics.GetTocNodesForTopic(ctx, topic.TopicID, limit, 0)
		if err != nil {
			return nil, "", err
		}
		for _, link := range links {
			node, found, err := b.toc.GetLatest(ctx, link.NodeID)
			if err != nil {
				return nil, "", err
			}
			if !found {
				continue
			}
			if req.AgentFilter != "" && !containsAgent(node.ContributingAgents, req.AgentFilter) {
				continue
			}
			hits = append(hits, types.SearchHit{
				DocID:   node.NodeID,
				Score:   topic.ImportanceScore * link.Relevance,
				DocType: types.LevelDocType(node.Level),
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, "topic graph match", nil
}

func containsAgent(agents []string, agentID string) bool {
	for _, a := range agents {
		if a == agentID {
			return true
		}
	}
	return false
}

// agenticTOCSearch is the index-free fallback: it walks the TOC
// hierarchy top-down (coarsest levels first, matching spec.md's
// "progressive disclosure" navigation) and keyword-matches the query
// against each node's title/summary/keywords. It never touches BM25 or
// Vector and so is available even when every accelerator is down.
func (b *Brainstem) agenticTOCSearch(ctx context.Context, req Request) ([]types.SearchHit, error) {
	if b.toc == nil {
		return nil, nil
	}
	from, to := req.From, req.To
	if from.IsZero() {
		from = time.Now().UTC().Add(-90 * 24 * time.Hour)
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	tokens := queryTokens(req.Query)
	var hits []types.SearchHit
	visited := 0
	for _, level := range []types.Level{types.LevelYear, types.LevelMonth, types.LevelWeek, types.LevelDay, types.LevelSegment} {
		if visited >= b.stops.MaxNodesVisited {
			break
		}
		nodes, _, err := b.toc.NodesInRange(ctx, level, from.UnixMilli(), to.UnixMilli(), b.stops.MaxNodesVisited-visited)
		if err != nil {
			return nil, fmt.Errorf("brainstem: agentic scan %s: %w", level, err)
		}
		for _, node := range nodes {
			visited++
			if req.AgentFilter != "" && !containsAgent(node.ContributingAgents, req.AgentFilter) {
				continue
			}
			score := keywordOverlapScore(tokens, node)
			if score <= 0 {
				continue
			}
			hits = append(hits, types.SearchHit{
				DocID: node.NodeID, Score: score, DocType: types.LevelDocType(node.Level), AgentID: req.AgentFilter,
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func queryTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'.,!?`)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// keywordOverlapScore is a trivial fraction-of-tokens-matched score
// against a node's title, summary, and keywords — the "keyword
// matching on summaries" spec.md names for Agentic Search, with no
// index structure behind it.
func keywordOverlapScore(tokens []string, node types.TocNode) float64 {
	if len(tokens) == 0 {
		return 0
	}
	haystack := strings.ToLower(node.Title + " " + node.Summary + " " + strings.Join(node.Keywords, " "))
	matched := 0
	for _, t := range tokens {
		if strings.Contains(haystack, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

// agentScanEscalation performs a bounded scan of raw Events in the
// inferred time range and summarizes them on the fly via the
// summarizer capability, for when even Agentic TOC Search found
// nothing (e.g. the range has not been segmented/rolled up yet).
func (b *Brainstem) agentScanEscalation(ctx context.Context, req Request) ([]types.SearchHit, error) {
	from, to := req.From, req.To
	if from.IsZero() {
		from = time.Now().UTC().Add(-7 * 24 * time.Hour)
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	fromID := fmt.Sprintf("%013d", from.UnixMilli())
	toID := fmt.Sprintf("%013d%s", to.UnixMilli(), strings.Repeat("z", 13))
	events, _, err := b.events.Range(ctx, fromID, toID, b.stops.MaxNodesVisited)
	if err != nil {
		return nil, fmt.Errorf("agent-scan: range: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	if req.AgentFilter != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.AgentID == req.AgentFilter {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if len(events) == 0 {
		return nil, nil
	}

	result, _, err := b.summarizer.Summarize(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("agent-scan: summarize: %w", err)
	}
	return []types.SearchHit{{
		DocID:      fmt.Sprintf("agent-scan:%d-%d", from.UnixMilli(), to.UnixMilli()),
		Score:      1.0,
		DocType:    types.DocSegment,
		AgentID:    req.AgentFilter,
		Highlights: []string{result.Title, result.Summary},
	}}, nil
}
