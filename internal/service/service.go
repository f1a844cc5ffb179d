// Package service is the Agent Memory engine's facade (spec.md §4.16):
// the one entry point cmd/memory-daemon's transport wiring calls into.
// Every operation here validates its input, derives a per-call timeout,
// and maps the underlying error to one of the seven wire-level
// types.ErrKind values. No business logic lives here beyond validation
// and dispatch — segmentation, rollup, ranking, and fallback routing
// all live in their own packages and are only ever composed here.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentmemory/memoryd/internal/bm25index"
	"github.com/agentmemory/memoryd/internal/brainstem"
	"github.com/agentmemory/memoryd/internal/eventstore"
	"github.com/agentmemory/memoryd/internal/gripstore"
	"github.com/agentmemory/memoryd/internal/tocstore"
	"github.com/agentmemory/memoryd/internal/topics"
	"github.com/agentmemory/memoryd/internal/types"
	"github.com/agentmemory/memoryd/internal/usage"
	"github.com/agentmemory/memoryd/internal/vectorindex"
)

// DefaultTimeout is the per-call deadline applied when a caller does
// not supply one, per spec.md §5's stated default.
const DefaultTimeout = 5 * time.Second

// Config tunes the facade's default per-call deadline.
type Config struct {
	DefaultTimeout time.Duration
}

// DefaultConfig returns DefaultTimeout.
func DefaultConfig() Config {
	return Config{DefaultTimeout: DefaultTimeout}
}

// Service composes every component package behind the single call
// surface cmd/memory-daemon exposes. It holds no state of its own.
type Service struct {
	events     *eventstore.Store
	grips      *gripstore.Store
	toc        *tocstore.Store
	bm25       *bm25index.Index
	vec        *vectorindex.Index
	top        *topics.Job
	counters   *usage.Counters
	brain      *brainstem.Brainstem
	cfg        Config
}

// New wires a Service over every component package.
func New(events *eventstore.Store, grips *gripstore.Store, toc *tocstore.Store, bm25 *bm25index.Index, vec *vectorindex.Index, top *topics.Job, counters *usage.Counters, brain *brainstem.Brainstem, cfg Config) *Service {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	return &Service{events: events, grips: grips, toc: toc, bm25: bm25, vec: vec, top: top, counters: counters, brain: brain, cfg: cfg}
}

var tracer = otel.Tracer("github.com/agentmemory/memoryd/service")

var serviceMetrics struct {
	calls  metric.Int64Counter
	errors metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/agentmemory/memoryd/service")
	serviceMetrics.calls, _ = m.Int64Counter("memoryd.service.calls",
		metric.WithDescription("facade operations invoked"), metric.WithUnit("{call}"))
	serviceMetrics.errors, _ = m.Int64Counter("memoryd.service.errors",
		metric.WithDescription("facade operations that returned an error"), metric.WithUnit("{call}"))
}

// withDeadline applies the facade's default per-call timeout when ctx
// carries none of its own.
func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.DefaultTimeout)
}

// call wraps fn with the facade's deadline, tracing, and error-kind
// mapping. Every invocation is tagged with a fresh request ID so a
// single call's trace span and any log lines it emits can be
// correlated, the way the request/execution IDs in the pack's chat
// session service tag one conversational turn end-to-end.
func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	reqID := uuid.New().String()
	ctx, span := tracer.Start(ctx, "service."+op, trace.WithAttributes(attribute.String("request_id", reqID)))
	defer span.End()

	serviceMetrics.calls.Add(ctx, 1)
	err := fn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("service: %s: %w: %w", op, types.ErrDeadlineExceeded, ctx.Err())
		}
		err = fmt.Errorf("%w (request_id=%s)", err, reqID)
		serviceMetrics.errors.Add(ctx, 1)
	}
	return err
}

// IngestEvent appends ev to the durable event log. Segmentation,
// summarization, and rollup are triggered asynchronously by
// internal/segmenter.Job, not from this call, per this package's
// "no business logic beyond validation and dispatch" contract.
func (s *Service) IngestEvent(ctx context.Context, ev types.Event) (types.Event, error) {
	if ev.Text == "" {
		return types.Event{}, fmt.Errorf("service: ingest-event: text: %w", types.ErrInvalidArgument)
	}
	if ev.SessionID == "" {
		return types.Event{}, fmt.Errorf("service: ingest-event: session_id: %w", types.ErrInvalidArgument)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var stored types.Event
	err := s.call(ctx, "IngestEvent", func(ctx context.Context) error {
		var err error
		stored, err = s.events.Append(ctx, ev)
		return err
	})
	return stored, err
}

// GetEvents returns raw Events in [fromID, toID], capped at limit.
func (s *Service) GetEvents(ctx context.Context, fromID, toID string, limit int) ([]types.Event, bool, error) {
	var events []types.Event
	var hasMore bool
	err := s.call(ctx, "GetEvents", func(ctx context.Context) error {
		var err error
		events, hasMore, err = s.events.Range(ctx, fromID, toID, limit)
		return err
	})
	return events, hasMore, err
}

// GetTocRoot returns the latest year-level TocNodes, the entry points
// for top-down TOC browsing.
func (s *Service) GetTocRoot(ctx context.Context, from, to time.Time, limit int) ([]types.TocNode, error) {
	var nodes []types.TocNode
	err := s.call(ctx, "GetTocRoot", func(ctx context.Context) error {
		var err error
		nodes, _, err = s.toc.NodesInRange(ctx, types.LevelYear, from.UnixMilli(), to.UnixMilli(), limit)
		return err
	})
	return nodes, err
}

// GetNode returns one TocNode by ID. A positive version pins the
// lookup to that specific written version (spec.md §8: a caller
// holding a version one behind the latest can still resolve it);
// version <= 0 resolves the latest version, as before.
func (s *Service) GetNode(ctx context.Context, nodeID string, version int) (types.TocNode, error) {
	if nodeID == "" {
		return types.TocNode{}, fmt.Errorf("service: get-node: node_id: %w", types.ErrInvalidArgument)
	}
	var node types.TocNode
	err := s.call(ctx, "GetNode", func(ctx context.Context) error {
		var n types.TocNode
		var found bool
		var err error
		if version > 0 {
			n, found, err = s.toc.GetVersion(ctx, nodeID, version)
		} else {
			n, found, err = s.toc.GetLatest(ctx, nodeID)
		}
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("service: get-node %s: %w", nodeID, types.ErrNotFound)
		}
		node = n
		return nil
	})
	return node, err
}

// BrowseToc returns the direct children of nodeID, resolved from its
// ChildNodeIDs.
func (s *Service) BrowseToc(ctx context.Context, nodeID string) ([]types.TocNode, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("service: browse-toc: node_id: %w", types.ErrInvalidArgument)
	}
	var children []types.TocNode
	err := s.call(ctx, "BrowseToc", func(ctx context.Context) error {
		parent, found, err := s.toc.GetLatest(ctx, nodeID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("service: browse-toc %s: %w", nodeID, types.ErrNotFound)
		}
		for _, childID := range parent.ChildNodeIDs {
			child, found, err := s.toc.GetLatest(ctx, childID)
			if err != nil {
				return err
			}
			if found {
				children = append(children, child)
			}
		}
		return nil
	})
	return children, err
}

// GripExpansion is ExpandGrip's response shape (spec.md §4.3/§6): the
// Grip itself, its bounded excerpt range (I2), and the neighboring
// windows of raw Events on either side.
type GripExpansion struct {
	Grip          types.Grip
	EventsBefore  []types.Event
	ExcerptEvents []types.Event
	EventsAfter   []types.Event
}

// ExpandGrip loads gripID and the Event range it anchors, plus up to
// before preceding and after following Events, letting a caller drill
// from a bullet's excerpt back into the surrounding raw conversation.
// L1 holds by construction: ExcerptEvents is exactly
// eventstore.Range(grip.EventIDStart, grip.EventIDEnd).
func (s *Service) ExpandGrip(ctx context.Context, gripID string, before, after int) (GripExpansion, error) {
	if gripID == "" {
		return GripExpansion{}, fmt.Errorf("service: expand-grip: grip_id: %w", types.ErrInvalidArgument)
	}
	var result GripExpansion
	err := s.call(ctx, "ExpandGrip", func(ctx context.Context) error {
		grip, found, err := s.grips.Get(ctx, gripID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("service: expand-grip %s: %w", gripID, types.ErrNotFound)
		}
		result.Grip = grip

		excerpt, _, err := s.events.Range(ctx, grip.EventIDStart, grip.EventIDEnd, 0)
		if err != nil {
			return err
		}
		result.ExcerptEvents = excerpt

		if before > 0 {
			result.EventsBefore, err = s.events.Before(ctx, grip.EventIDStart, before)
			if err != nil {
				return err
			}
		}
		if after > 0 {
			result.EventsAfter, err = s.events.After(ctx, grip.EventIDEnd, after)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return result, err
}

// SearchNode and SearchChildren are the BM25 drill-down operations:
// full-text search scoped to a node's subtree is approximated here by
// an AgentID-less, DocType-scoped BM25 query, since the underlying
// index has no subtree containment structure of its own — narrowing by
// node is the caller's job once hits come back (walk ChildNodeIDs).

// SearchNode runs a BM25 query restricted to the given doc types.
func (s *Service) SearchNode(ctx context.Context, query string, docTypes []types.DocType, limit int) ([]types.SearchHit, error) {
	if query == "" {
		return nil, fmt.Errorf("service: search-node: query: %w", types.ErrInvalidArgument)
	}
	var hits []types.SearchHit
	err := s.call(ctx, "SearchNode", func(ctx context.Context) error {
		var err error
		hits, err = s.bm25.Search(ctx, query, limit, bm25index.SearchFilter{DocTypes: docTypes})
		return err
	})
	return hits, err
}

// SearchChildren runs a BM25 query over a parent's direct children only.
func (s *Service) SearchChildren(ctx context.Context, parentNodeID, query string, limit int) ([]types.SearchHit, error) {
	if parentNodeID == "" || query == "" {
		return nil, fmt.Errorf("service: search-children: %w", types.ErrInvalidArgument)
	}
	var hits []types.SearchHit
	err := s.call(ctx, "SearchChildren", func(ctx context.Context) error {
		parent, found, err := s.toc.GetLatest(ctx, parentNodeID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("service: search-children %s: %w", parentNodeID, types.ErrNotFound)
		}
		children := make(map[string]bool, len(parent.ChildNodeIDs))
		for _, id := range parent.ChildNodeIDs {
			children[id] = true
		}
		all, err := s.bm25.Search(ctx, query, 0, bm25index.SearchFilter{})
		if err != nil {
			return err
		}
		for _, h := range all {
			if children[h.DocID] {
				hits = append(hits, h)
				if limit > 0 && len(hits) >= limit {
					break
				}
			}
		}
		return nil
	})
	return hits, err
}

// TeleportSearch is the BM25 accelerator exposed directly, for a caller
// that wants full-text results without going through the Brainstem.
func (s *Service) TeleportSearch(ctx context.Context, query string, limit int, filter bm25index.SearchFilter) ([]types.SearchHit, error) {
	if query == "" {
		return nil, fmt.Errorf("service: teleport-search: query: %w", types.ErrInvalidArgument)
	}
	var hits []types.SearchHit
	err := s.call(ctx, "TeleportSearch", func(ctx context.Context) error {
		var err error
		hits, err = s.bm25.Search(ctx, query, limit, filter)
		return err
	})
	return hits, err
}

// GetTeleportStatus reports BM25 index health.
func (s *Service) GetTeleportStatus(ctx context.Context) (bm25index.Status, error) {
	var status bm25index.Status
	err := s.call(ctx, "GetTeleportStatus", func(ctx context.Context) error {
		var err error
		status, err = s.bm25.Status(ctx)
		return err
	})
	return status, err
}

// VectorTeleport is the Vector accelerator exposed directly.
func (s *Service) VectorTeleport(ctx context.Context, query string, limit int, filter vectorindex.SearchFilter) ([]types.SearchHit, error) {
	if query == "" {
		return nil, fmt.Errorf("service: vector-teleport: query: %w", types.ErrInvalidArgument)
	}
	var hits []types.SearchHit
	err := s.call(ctx, "VectorTeleport", func(ctx context.Context) error {
		var err error
		hits, err = s.vec.Search(ctx, query, limit, filter)
		return err
	})
	return hits, err
}

// GetVectorIndexStatus reports Vector index health.
func (s *Service) GetVectorIndexStatus(ctx context.Context) (vectorindex.Status, error) {
	var status vectorindex.Status
	err := s.call(ctx, "GetVectorIndexStatus", func(ctx context.Context) error {
		var err error
		status, err = s.vec.Status(ctx)
		return err
	})
	return status, err
}

// HybridSearch fuses BM25 and Vector results via the Brainstem's
// concurrent hybrid invocation. bm25Weight/vectorWeight are optional
// (nil keeps the Brainstem's DefaultFusionWeights 0.5/0.5); passing
// bm25Weight=1, vectorWeight=0 (or the reverse) exercises L3: the
// fusion degenerates to the same ordering as a pure BM25 (or vector)
// search.
func (s *Service) HybridSearch(ctx context.Context, query string, limit int, bm25Weight, vectorWeight *float64) (brainstem.Response, error) {
	if query == "" {
		return brainstem.Response{}, fmt.Errorf("service: hybrid-search: query: %w", types.ErrInvalidArgument)
	}
	req := brainstem.Request{Query: query, Limit: limit}
	if bm25Weight != nil || vectorWeight != nil {
		weights := vectorindex.DefaultFusionWeights()
		if bm25Weight != nil {
			weights.BM25Weight = *bm25Weight
		}
		if vectorWeight != nil {
			weights.VectorWeight = *vectorWeight
		}
		req.FusionWeights = &weights
	}
	var resp brainstem.Response
	err := s.call(ctx, "HybridSearch", func(ctx context.Context) error {
		var err error
		resp, err = s.brain.Retrieve(ctx, req)
		return err
	})
	return resp, err
}

// RouteQuery is the full Retrieval Brainstem entry point: tier
// detection, intent classification, fallback routing.
func (s *Service) RouteQuery(ctx context.Context, req brainstem.Request) (brainstem.Response, error) {
	if req.Query == "" {
		return brainstem.Response{}, fmt.Errorf("service: route-query: query: %w", types.ErrInvalidArgument)
	}
	var resp brainstem.Response
	err := s.call(ctx, "RouteQuery", func(ctx context.Context) error {
		var err error
		resp, err = s.brain.Retrieve(ctx, req)
		return err
	})
	return resp, err
}

// GetTopicGraphStatus reports the topic extraction job's health.
func (s *Service) GetTopicGraphStatus(ctx context.Context) (topics.Status, error) {
	var status topics.Status
	err := s.call(ctx, "GetTopicGraphStatus", func(ctx context.Context) error {
		var err error
		status, err = s.top.Status(ctx)
		return err
	})
	return status, err
}

// GetTopicsByQuery finds Topics whose label/keywords match text.
func (s *Service) GetTopicsByQuery(ctx context.Context, text string, limit int, minScore float64) ([]types.Topic, error) {
	if text == "" {
		return nil, fmt.Errorf("service: get-topics-by-query: text: %w", types.ErrInvalidArgument)
	}
	var result []types.Topic
	err := s.call(ctx, "GetTopicsByQuery", func(ctx context.Context) error {
		var err error
		result, err = s.top.GetTopicsByQuery(ctx, text, limit, minScore)
		return err
	})
	return result, err
}

// GetRelatedTopics returns Topics related to topicID by relationship
// kind.
func (s *Service) GetRelatedTopics(ctx context.Context, topicID string, kinds []types.RelationshipKind, limit int) ([]types.TopicRelationship, error) {
	if topicID == "" {
		return nil, fmt.Errorf("service: get-related-topics: topic_id: %w", types.ErrInvalidArgument)
	}
	var result []types.TopicRelationship
	err := s.call(ctx, "GetRelatedTopics", func(ctx context.Context) error {
		var err error
		result, err = s.top.GetRelatedTopics(ctx, topicID, kinds, limit)
		return err
	})
	return result, err
}

// GetTopTopics returns the highest-importance Topics in [from, to],
// optionally scoped to one agent.
func (s *Service) GetTopTopics(ctx context.Context, limit int, from, to time.Time, agentFilter string) ([]types.Topic, error) {
	var result []types.Topic
	err := s.call(ctx, "GetTopTopics", func(ctx context.Context) error {
		var err error
		result, err = s.top.GetTopTopics(ctx, limit, from, to, agentFilter)
		return err
	})
	return result, err
}
