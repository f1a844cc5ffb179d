// Package bm25index is the full-text accelerator over TocNode and Grip
// text (spec.md §4.8), backed by bleve. Documents are buffered into a
// batch and only become searchable once Commit is called, mirroring the
// Indexing Pipeline's "commit every N documents or T seconds" discipline.
package bm25index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"

	"github.com/agentmemory/memoryd/internal/types"
)

// Field boosts applied at query time, per spec.md §4.8.
const (
	titleBoost    = 2.0
	keywordsBoost = 1.5
	bodyBoost     = 1.0
)

// SearchFilter narrows a Search call.
type SearchFilter struct {
	DocTypes []types.DocType
	Levels   []types.Level
	AgentID  string
	MinScore float64
}

// Status reports index health for the Brainstem's tier detection.
type Status struct {
	Available    bool
	DocCount     uint64
	LastCommitTS time.Time
}

type indexDoc struct {
	DocType         string
	Level           string
	Title           string
	Body            string
	Keywords        string
	AgentID         string
	CreatedAtMillis int64
}

// Index is the bleve-backed full-text store.
type Index struct {
	mu         sync.Mutex
	idx        bleve.Index
	batch      *bleve.Batch
	pending    int
	lastCommit time.Time
	available  bool
}

// Open opens (or creates, if absent) a bleve index at path. Pass
// ":memory:" for an in-memory index used by tests.
func Open(path string) (*Index, error) {
	docMapping := bleve.NewDocumentMapping()

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("Title", titleField)

	bodyField := bleve.NewTextFieldMapping()
	bodyField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("Body", bodyField)

	keywordsField := bleve.NewTextFieldMapping()
	keywordsField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("Keywords", keywordsField)

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("DocType", keywordField)
	docMapping.AddFieldMappingsAt("Level", keywordField)
	docMapping.AddFieldMappingsAt("AgentID", keywordField)

	createdAtField := bleve.NewNumericFieldMapping()
	docMapping.AddFieldMappingsAt("CreatedAtMillis", createdAtField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping

	var idx bleve.Index
	var err error
	if path == ":memory:" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		idx, err = bleve.Open(path)
		if err != nil {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("bm25index: open: %w", err)
	}
	return &Index{idx: idx, batch: idx.NewBatch(), available: true}, nil
}

// Close releases the underlying bleve index.
func (i *Index) Close() error {
	return i.idx.Close()
}

// UpsertDoc queues doc for indexing. It becomes searchable only after
// Commit.
func (i *Index) UpsertDoc(doc types.BM25Doc) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	d := toIndexDoc(doc)
	if err := i.batch.Index(doc.DocID, d); err != nil {
		return fmt.Errorf("bm25index: upsert-doc %s: %w", doc.DocID, err)
	}
	i.pending++
	return nil
}

// PendingCount is the number of documents queued since the last Commit,
// used by the Indexing Pipeline's "every N documents" commit trigger.
func (i *Index) PendingCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pending
}

// Commit flushes the pending batch, making queued documents searchable.
func (i *Index) Commit(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending == 0 {
		return nil
	}
	if err := i.idx.Batch(i.batch); err != nil {
		i.available = false
		return fmt.Errorf("bm25index: commit: %w", types.ErrUnavailable)
	}
	i.batch = i.idx.NewBatch()
	i.pending = 0
	i.lastCommit = time.Now().UTC()
	i.available = true
	return nil
}

func (i *Index) searchBefore(ctx context.Context, docType types.DocType, cutoff time.Time) (*bleve.SearchResult, error) {
	typeQuery := bleve.NewTermQuery(string(docType))
	typeQuery.SetField("DocType")
	ageQuery := bleve.NewNumericRangeQuery(nil, floatPtr(float64(cutoff.UnixMilli())))
	ageQuery.SetField("CreatedAtMillis")

	conjunction := bleve.NewConjunctionQuery(typeQuery, ageQuery)
	req := bleve.NewSearchRequest(conjunction)
	req.Size = 10000

	result, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bm25index: search-before: %w", types.ErrUnavailable)
	}
	return result, nil
}

// CountBefore reports how many doc_type documents have created_at
// before cutoff, without deleting them. Used by the Lifecycle Pruner's
// --dry-run mode.
func (i *Index) CountBefore(ctx context.Context, docType types.DocType, cutoff time.Time) (int, error) {
	result, err := i.searchBefore(ctx, docType, cutoff)
	if err != nil {
		return 0, err
	}
	return len(result.Hits), nil
}

// DeleteBefore removes every doc_type document whose created_at
// precedes cutoff, used by the Lifecycle Pruner. Returns the number of
// documents deleted.
func (i *Index) DeleteBefore(ctx context.Context, docType types.DocType, cutoff time.Time) (int, error) {
	result, err := i.searchBefore(ctx, docType, cutoff)
	if err != nil {
		return 0, fmt.Errorf("bm25index: delete-before: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	for _, hit := range result.Hits {
		if err := i.idx.Delete(hit.ID); err != nil {
			return 0, fmt.Errorf("bm25index: delete-before: delete %s: %w", hit.ID, err)
		}
	}
	return len(result.Hits), nil
}

// Search runs a boosted multi-field query with optional filters, per
// spec.md §4.8's field boosts (title×2, keywords×1.5).
func (i *Index) Search(ctx context.Context, queryText string, limit int, filter SearchFilter) ([]types.SearchHit, error) {
	i.mu.Lock()
	available := i.available
	i.mu.Unlock()
	if !available {
		return nil, types.ErrUnavailable
	}

	title := bleve.NewMatchQuery(queryText)
	title.SetField("Title")
	title.SetBoost(titleBoost)

	keywords := bleve.NewMatchQuery(queryText)
	keywords.SetField("Keywords")
	keywords.SetBoost(keywordsBoost)

	body := bleve.NewMatchQuery(queryText)
	body.SetField("Body")
	body.SetBoost(bodyBoost)

	textQuery := bleve.NewDisjunctionQuery(title, keywords, body)

	var finalQuery = bleve.NewConjunctionQuery(textQuery)
	if len(filter.DocTypes) > 0 {
		finalQuery.AddQuery(docTypesQuery(filter.DocTypes))
	}
	if len(filter.Levels) > 0 {
		finalQuery.AddQuery(levelsQuery(filter.Levels))
	}
	if filter.AgentID != "" {
		agentQuery := bleve.NewTermQuery(filter.AgentID)
		agentQuery.SetField("AgentID")
		finalQuery.AddQuery(agentQuery)
	}

	req := bleve.NewSearchRequest(finalQuery)
	if limit <= 0 {
		limit = 20
	}
	req.Size = limit
	req.Fields = []string{"DocType", "Level", "AgentID"}
	req.Highlight = bleve.NewHighlight()

	result, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		i.mu.Lock()
		i.available = false
		i.mu.Unlock()
		return nil, fmt.Errorf("bm25index: search: %w", types.ErrUnavailable)
	}

	hits := make([]types.SearchHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		if h.Score < filter.MinScore {
			continue
		}
		hits = append(hits, hitFrom(h))
	}
	return hits, nil
}

// Status reports index availability and size for tier detection.
func (i *Index) Status(ctx context.Context) (Status, error) {
	i.mu.Lock()
	available := i.available
	lastCommit := i.lastCommit
	i.mu.Unlock()

	count, err := i.idx.DocCount()
	if err != nil {
		return Status{Available: false}, fmt.Errorf("bm25index: status: %w", types.ErrUnavailable)
	}
	return Status{Available: available, DocCount: count, LastCommitTS: lastCommit}, nil
}

func toIndexDoc(doc types.BM25Doc) indexDoc {
	var keywords string
	for i, k := range doc.Keywords {
		if i > 0 {
			keywords += " "
		}
		keywords += k
	}
	return indexDoc{
		DocType:         string(doc.DocType),
		Level:           string(doc.Level),
		Title:           doc.Title,
		Body:            doc.Text,
		Keywords:        keywords,
		AgentID:         doc.AgentID,
		CreatedAtMillis: doc.CreatedAt.UnixMilli(),
	}
}

func hitFrom(h *search.DocumentMatch) types.SearchHit {
	hit := types.SearchHit{
		DocID:     h.ID,
		Score:     h.Score,
		BM25Score: h.Score,
	}
	if v, ok := h.Fields["DocType"].(string); ok {
		hit.DocType = types.DocType(v)
	}
	if v, ok := h.Fields["AgentID"].(string); ok {
		hit.AgentID = v
	}
	for _, fragments := range h.Fragments {
		hit.Highlights = append(hit.Highlights, fragments...)
	}
	return hit
}

func docTypesQuery(types_ []types.DocType) *bleve.DisjunctionQuery {
	queries := make([]bleve.Query, 0, len(types_))
	for _, t := range types_ {
		q := bleve.NewTermQuery(string(t))
		q.SetField("DocType")
		queries = append(queries, q)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func levelsQuery(levels []types.Level) *bleve.DisjunctionQuery {
	queries := make([]bleve.Query, 0, len(levels))
	for _, l := range levels {
		q := bleve.NewTermQuery(string(l))
		q.SetField("Level")
		queries = append(queries, q)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func floatPtr(f float64) *float64 {
	return &f
}
