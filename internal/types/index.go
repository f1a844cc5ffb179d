package types

import "time"

// DocType identifies what kind of entity an index document or vector
// entry was derived from.
type DocType string

const (
	DocTocNode DocType = "toc_node"
	DocGrip    DocType = "grip"
	DocSegment DocType = "segment"
	DocDay     DocType = "day"
	DocWeek    DocType = "week"
	DocMonth   DocType = "month"
	DocYear    DocType = "year"
)

// LevelDocType maps a TOC level to the BM25/Vector doc_type used for
// retention filtering.
func LevelDocType(l Level) DocType {
	switch l {
	case LevelSegment:
		return DocSegment
	case LevelDay:
		return DocDay
	case LevelWeek:
		return DocWeek
	case LevelMonth:
		return DocMonth
	case LevelYear:
		return DocYear
	default:
		return DocTocNode
	}
}

// BM25Doc is the ephemeral document the full-text index is built from.
type BM25Doc struct {
	DocID     string    `json:"doc_id"`
	DocType   DocType   `json:"doc_type"`
	Level     Level     `json:"level,omitempty"`
	Text      string    `json:"text"`
	Title     string    `json:"title,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// VectorEntry is the durable embedding record backing both the ANN graph
// and rebuildability (I7).
type VectorEntry struct {
	ID              string    `json:"id"`
	Embedding       []float32 `json:"embedding"`
	DocType         DocType   `json:"doc_type"`
	AgentID         string    `json:"agent_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ModelFingerprint string   `json:"model_fingerprint"`
}

// SearchHit is a single ranked result from any accelerator.
type SearchHit struct {
	DocID      string   `json:"doc_id"`
	Score      float64  `json:"score"`
	BM25Score  float64  `json:"bm25_score,omitempty"`
	VecScore   float64  `json:"vector_score,omitempty"`
	DocType    DocType  `json:"doc_type"`
	AgentID    string   `json:"agent_id,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
}
