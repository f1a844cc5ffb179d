package types

import "time"

// Level is a position in the TOC hierarchy, coarsest first.
type Level string

const (
	LevelYear    Level = "year"
	LevelMonth   Level = "month"
	LevelWeek    Level = "week"
	LevelDay     Level = "day"
	LevelSegment Level = "segment"
)

// ProtectedLevels are never removed from any accelerator index (I8).
var ProtectedLevels = map[Level]bool{
	LevelYear:  true,
	LevelMonth: true,
}

// MemoryKind classifies the nature of a TocNode's content, detected once
// at creation time and never mutated thereafter (I9).
type MemoryKind string

const (
	KindObservation MemoryKind = "observation"
	KindPreference  MemoryKind = "preference"
	KindProcedure   MemoryKind = "procedure"
	KindConstraint  MemoryKind = "constraint"
	KindDefinition  MemoryKind = "definition"
)

// Bullet is a single summary line anchored to one or more Grips.
type Bullet struct {
	Text    string   `json:"text"`
	GripIDs []string `json:"grip_ids,omitempty"`
}

// TocNode is a versioned summary of a time range. Each call to
// put_toc_node creates a new version; the "latest" pointer is the only
// mutable record for a given NodeID (I3).
type TocNode struct {
	NodeID             string     `json:"node_id"`
	Level              Level      `json:"level"`
	Title              string     `json:"title"`
	Summary            string     `json:"summary,omitempty"`
	Bullets            []Bullet   `json:"bullets"`
	Keywords           []string   `json:"keywords,omitempty"`
	ChildNodeIDs       []string   `json:"child_node_ids,omitempty"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	Version            int        `json:"version"`
	ContributingAgents []string   `json:"contributing_agents,omitempty"`
	SalienceScore      float64    `json:"salience_score"`
	MemoryKind         MemoryKind `json:"memory_kind"`
	IsPinned           bool       `json:"is_pinned"`
	Unsummarized       bool       `json:"unsummarized,omitempty"`
}

// Grip is an immutable excerpt record anchoring a bullet to a contiguous
// range of Events (I2).
type Grip struct {
	GripID       string    `json:"grip_id"`
	Excerpt      string    `json:"excerpt"`
	EventIDStart string    `json:"event_id_start"`
	EventIDEnd   string    `json:"event_id_end"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
}

// MaxExcerptLen is the hard cap on Grip.Excerpt per spec.md §3.1.
const MaxExcerptLen = 200
