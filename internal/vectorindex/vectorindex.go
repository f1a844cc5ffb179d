// Package vectorindex is the approximate-nearest-neighbor accelerator
// over fixed-dimensional embeddings (spec.md §4.9). It has two parts: a
// durable embedding record keyed in internal/kv (the source of truth,
// used for rebuildability per invariant I7) and an in-memory ANN graph
// that is populated from it and searched by cosine similarity. An
// internal monotonic integer id maps to the external entity_id the way
// sqlite-vec's vec0 rowid maps to a caller's own key.
package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/types"
)

const embBucket = "emb"

// Embedder is the pluggable external embedding capability. Implementations
// wrap whatever concrete embedding model is configured; the engine only
// depends on this interface, mirroring summarizer.Capability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelFingerprint() string
}

// SearchFilter narrows a Search call.
type SearchFilter struct {
	DocTypes []types.DocType
	AgentID  string
}

// Status reports ANN graph health for the Brainstem's tier detection and
// Admin's stats().
type Status struct {
	Ready            bool
	VectorCount      int
	Dimension        int
	ModelFingerprint string
	SizeBytes        int64
	LastRebuildTS    time.Time
}

// node is one entry in the in-memory ANN graph.
type node struct {
	internalID int64
	entityID   string
	vec        []float32
	docType    types.DocType
	agentID    string
	createdAt  time.Time
}

// Index is the durable-record-plus-in-memory-graph vector store. The
// graph itself is a flat cosine scan: spec.md allows (does not require)
// an HNSW-style structure, and a flat scan is the honest baseline a
// from_persisted rebuild can always fall back to.
type Index struct {
	kv       *kv.Store
	embedder Embedder
	log      *slog.Logger

	mu           sync.RWMutex
	nodes        map[int64]*node
	byEntity     map[string]int64
	nextID       int64
	dimension    int
	fprint       string
	lastBuild    time.Time
	vecAvailable bool // sqlite-vec's vec0 module is loaded; see detectVecExtension
}

// Open wires an Index over the given durable store and embedding
// capability, then rebuilds the in-memory graph from persisted records.
// If the sqlite-vec extension is loaded (cgo build with the sqlite_vec
// tag; see vec_ext.go), a vec0 virtual table is also maintained
// alongside the in-memory graph, the way the teacher-adjacent vector
// store keeps a durable JSON table and an accelerated vec0 table in
// lockstep.
func Open(ctx context.Context, k *kv.Store, embedder Embedder, log *slog.Logger) (*Index, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	idx := &Index{
		kv:        k,
		embedder:  embedder,
		log:       log.With("component", "vectorindex"),
		nodes:     make(map[int64]*node),
		byEntity:  make(map[string]int64),
		dimension: embedder.Dimension(),
		fprint:    embedder.ModelFingerprint(),
	}
	idx.detectVecExtension()
	if _, err := idx.Rebuild(ctx, true); err != nil {
		return nil, fmt.Errorf("vectorindex: open: %w", err)
	}
	return idx, nil
}

// detectVecExtension attempts to create a vec0 virtual table sized to
// the configured Embedder's dimension. Failure (extension not loaded,
// non-cgo build) leaves vecAvailable false and the Index falls back to
// a pure in-memory flat scan, matching the conditional-availability
// style of the teacher-adjacent vector store this package is grounded
// on.
func (idx *Index) detectVecExtension() {
	stmt := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(embedding float[%d])", idx.dimension)
	if _, err := idx.kv.DB().Exec(stmt); err != nil {
		idx.log.Debug("sqlite-vec extension not available, using in-memory flat scan", "error", err)
		idx.vecAvailable = false
		return
	}
	idx.vecAvailable = true
	idx.log.Info("sqlite-vec vec0 table available, mirroring embeddings into it")
}

// mirrorToVecTable best-effort-inserts n's vector into the accelerated
// vec0 table. Its failure never fails EmbedAndUpsert: the durable
// kv record and in-memory graph remain the source of truth (I7).
func (idx *Index) mirrorToVecTable(n *node) {
	if !idx.vecAvailable {
		return
	}
	if _, err := idx.kv.DB().Exec(
		"INSERT OR REPLACE INTO vec_index (rowid, embedding) VALUES (?, ?)",
		n.internalID, encodeFloat32Slice(n.vec)); err != nil {
		idx.log.Warn("vectorindex: failed to mirror embedding into vec0 table", "entity_id", n.entityID, "error", err)
	}
}

// encodeFloat32Slice little-endian-encodes vec for sqlite-vec's vec0
// storage format.
func encodeFloat32Slice(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		bits := math.Float32bits(f)
		buf[4*i] = byte(bits)
		buf[4*i+1] = byte(bits >> 8)
		buf[4*i+2] = byte(bits >> 16)
		buf[4*i+3] = byte(bits >> 24)
	}
	return buf
}

var tracer = otel.Tracer("github.com/agentmemory/memoryd/vectorindex")

var vecMetrics struct {
	upserts  metric.Int64Counter
	searches metric.Int64Counter
	rebuilds metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/agentmemory/memoryd/vectorindex")
	vecMetrics.upserts, _ = m.Int64Counter("memoryd.vectorindex.upserts",
		metric.WithDescription("embed_and_upsert calls"), metric.WithUnit("{call}"))
	vecMetrics.searches, _ = m.Int64Counter("memoryd.vectorindex.searches",
		metric.WithDescription("vector search calls"), metric.WithUnit("{call}"))
	vecMetrics.rebuilds, _ = m.Int64Counter("memoryd.vectorindex.rebuilds",
		metric.WithDescription("ANN graph rebuilds from persisted records"), metric.WithUnit("{rebuild}"))
}

// EmbedAndUpsert embeds text via the configured Embedder, persists the
// durable embedding record, and adds/updates the entity in the ANN graph
// (spec.md §4.9 embed_and_upsert).
func (idx *Index) EmbedAndUpsert(ctx context.Context, entityID, text string, docType types.DocType, agentID string) error {
	ctx, span := tracer.Start(ctx, "vectorindex.EmbedAndUpsert")
	defer span.End()
	vecMetrics.upserts.Add(ctx, 1)

	vec, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("vectorindex: embed-and-upsert %s: %w", entityID, err)
	}

	entry := types.VectorEntry{
		ID:               entityID,
		Embedding:        vec,
		DocType:          docType,
		AgentID:          agentID,
		CreatedAt:        time.Now().UTC(),
		ModelFingerprint: idx.embedder.ModelFingerprint(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("vectorindex: embed-and-upsert %s: marshal: %w", entityID, err)
	}
	if err := idx.kv.Put(ctx, embBucket, []byte(entry.ID), raw); err != nil {
		return fmt.Errorf("vectorindex: embed-and-upsert %s: %w", entityID, err)
	}

	idx.upsertGraph(entry)
	return nil
}

// upsertGraph inserts or replaces entry's node in the in-memory graph.
func (idx *Index) upsertGraph(entry types.VectorEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := &node{
		entityID:  entry.ID,
		vec:       entry.Embedding,
		docType:   entry.DocType,
		agentID:   entry.AgentID,
		createdAt: entry.CreatedAt,
	}
	if id, ok := idx.byEntity[entry.ID]; ok {
		n.internalID = id
		idx.nodes[id] = n
		idx.mirrorToVecTable(n)
		return
	}
	idx.nextID++
	n.internalID = idx.nextID
	idx.nodes[n.internalID] = n
	idx.byEntity[entry.ID] = n.internalID
	idx.mirrorToVecTable(n)
}

// Remove deletes entity_id's embedding record and graph entry.
func (idx *Index) Remove(ctx context.Context, entityID string) error {
	if err := idx.kv.Delete(ctx, embBucket, []byte(entityID)); err != nil {
		return fmt.Errorf("vectorindex: remove %s: %w", entityID, err)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if id, ok := idx.byEntity[entityID]; ok {
		delete(idx.nodes, id)
		delete(idx.byEntity, entityID)
		if idx.vecAvailable {
			if _, err := idx.kv.DB().Exec("DELETE FROM vec_index WHERE rowid = ?", id); err != nil {
				idx.log.Warn("vectorindex: failed to remove embedding from vec0 table", "entity_id", entityID, "error", err)
			}
		}
	}
	return nil
}

// CountBefore reports how many entities of docType have created_at
// before cutoff, without removing them. Used by the Lifecycle Pruner's
// --dry-run mode.
func (idx *Index) CountBefore(ctx context.Context, docType types.DocType, cutoff time.Time) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	count := 0
	for _, n := range idx.nodes {
		if n.docType == docType && n.createdAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

// DeleteBefore removes every entity of docType whose created_at
// precedes cutoff, for the Lifecycle Pruner (spec.md §4.9 retention /
// §4.12). Returns the number of entities removed.
func (idx *Index) DeleteBefore(ctx context.Context, docType types.DocType, cutoff time.Time) (int, error) {
	idx.mu.RLock()
	var toRemove []string
	for _, n := range idx.nodes {
		if n.docType == docType && n.createdAt.Before(cutoff) {
			toRemove = append(toRemove, n.entityID)
		}
	}
	idx.mu.RUnlock()

	for _, id := range toRemove {
		if err := idx.Remove(ctx, id); err != nil {
			return 0, fmt.Errorf("vectorindex: delete-before: %w", err)
		}
	}
	return len(toRemove), nil
}

// Search embeds query_text once and returns the limit nearest entities
// by cosine similarity, optionally filtered by doc_type/agent_id
// (spec.md §4.9 search).
func (idx *Index) Search(ctx context.Context, queryText string, limit int, filter SearchFilter) ([]types.SearchHit, error) {
	ctx, span := tracer.Start(ctx, "vectorindex.Search")
	defer span.End()
	vecMetrics.searches.Add(ctx, 1)

	query, err := idx.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	docTypeAllowed := func(dt types.DocType) bool {
		if len(filter.DocTypes) == 0 {
			return true
		}
		for _, d := range filter.DocTypes {
			if d == dt {
				return true
			}
		}
		return false
	}

	type scored struct {
		hit types.SearchHit
		sim float64
	}
	var candidates []scored
	for _, n := range idx.nodes {
		if !docTypeAllowed(n.docType) {
			continue
		}
		if filter.AgentID != "" && n.agentID != filter.AgentID {
			continue
		}
		sim := cosineSimilarity(query, n.vec)
		candidates = append(candidates, scored{
			hit: types.SearchHit{
				DocID:    n.entityID,
				Score:    sim,
				VecScore: sim,
				DocType:  n.docType,
				AgentID:  n.agentID,
			},
			sim: sim,
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })

	if limit <= 0 {
		limit = 20
	}
	if limit > len(candidates) {
		limit = len(candidates)
	}
	hits := make([]types.SearchHit, 0, limit)
	for _, c := range candidates[:limit] {
		hits = append(hits, c.hit)
	}
	return hits, nil
}

// EmbeddingFor returns entityID's current embedding from the in-memory
// graph, or nil if it has none. Used by internal/topics to gather
// clustering candidates without re-embedding.
func (idx *Index) EmbeddingFor(ctx context.Context, entityID string) ([]float32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.byEntity[entityID]
	if !ok {
		return nil, nil
	}
	return idx.nodes[id].vec, nil
}

// EmbedQuery runs the configured Embedder directly, for callers (like
// internal/topics's get_topics_by_query) that need a raw embedding
// without touching the ANN graph.
func (idx *Index) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: embed-query: %w", err)
	}
	return vec, nil
}

// Rebuild reads every persisted embedding record and reconstructs the
// ANN graph (spec.md §4.9 rebuild), returning the number of records
// loaded. A record whose model_fingerprint differs from the configured
// Embedder's, or whose vector length differs from its dimension, is left
// out of the graph rather than mixed with vectors from a different
// embedding space; its persisted record is kept and Rebuild does not
// re-embed it. fromPersisted is not consulted: the graph is always
// rebuilt from the persisted records.
func (idx *Index) Rebuild(ctx context.Context, fromPersisted bool) (int, error) {
	ctx, span := tracer.Start(ctx, "vectorindex.Rebuild")
	defer span.End()
	vecMetrics.rebuilds.Add(ctx, 1)

	entries, _, err := idx.kv.IterRange(ctx, embBucket, nil, maxKey(), 0)
	if err != nil {
		return 0, fmt.Errorf("vectorindex: rebuild: %w", err)
	}

	idx.mu.Lock()
	idx.nodes = make(map[int64]*node)
	idx.byEntity = make(map[string]int64)
	idx.nextID = 0
	if idx.vecAvailable {
		if _, err := idx.kv.DB().Exec("DELETE FROM vec_index"); err != nil {
			idx.log.Warn("vectorindex: rebuild: failed to clear vec0 table", "error", err)
		}
	}
	idx.mu.Unlock()

	loaded := 0
	for _, e := range entries {
		var entry types.VectorEntry
		if err := json.Unmarshal(e.Value, &entry); err != nil {
			idx.log.Warn("vectorindex: rebuild: skipping corrupt embedding record", "key", string(e.Key), "error", err)
			continue
		}
		if entry.ModelFingerprint != "" && entry.ModelFingerprint != idx.embedder.ModelFingerprint() {
			idx.log.Warn("vectorindex: rebuild: dropping record embedded under a stale model", "entity_id", entry.ID,
				"record_fingerprint", entry.ModelFingerprint, "current_fingerprint", idx.embedder.ModelFingerprint())
			continue
		}
		if len(entry.Embedding) != idx.dimension {
			idx.log.Warn("vectorindex: rebuild: dropping record with a different dimension", "entity_id", entry.ID,
				"record_dimension", len(entry.Embedding), "current_dimension", idx.dimension)
			continue
		}
		idx.upsertGraph(entry)
		loaded++
	}

	idx.mu.Lock()
	idx.lastBuild = time.Now().UTC()
	idx.mu.Unlock()
	return loaded, nil
}

// Status reports ANN graph health.
func (idx *Index) Status(ctx context.Context) (Status, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	count, err := idx.kv.CountBucket(ctx, embBucket)
	if err != nil {
		return Status{}, fmt.Errorf("vectorindex: status: %w", err)
	}
	return Status{
		Ready:            true,
		VectorCount:      len(idx.nodes),
		Dimension:        idx.dimension,
		ModelFingerprint: idx.embedder.ModelFingerprint(),
		SizeBytes:        count * int64(idx.dimension) * 4,
		LastRebuildTS:    idx.lastBuild,
	}, nil
}

// cosineSimilarity mirrors the teacher-adjacent pack's own
// similarity-from-distance convention (1 - cosine_distance), clamped
// to spec.md §4.9's documented [0,1] range.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	if cos < 0 {
		return 0
	}
	if cos > 1 {
		return 1
	}
	return cos
}

func maxKey() []byte {
	return []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}
