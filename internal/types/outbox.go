package types

import "time"

// OutboxPayloadKind enumerates the kinds of deferred work an OutboxEntry
// can carry.
type OutboxPayloadKind string

const (
	PayloadIndexTocNode    OutboxPayloadKind = "index_toc_node"
	PayloadEmbedTocNode    OutboxPayloadKind = "embed_toc_node"
	PayloadIndexGrip       OutboxPayloadKind = "index_grip"
	PayloadEmbedGrip       OutboxPayloadKind = "embed_grip"
	PayloadRollupTrigger   OutboxPayloadKind = "rollup_trigger"
	PayloadLifecycleTick   OutboxPayloadKind = "lifecycle_tick"
)

// OutboxPayload references the entity a unit of deferred work concerns.
type OutboxPayload struct {
	Kind     OutboxPayloadKind `json:"kind"`
	NodeID   string            `json:"node_id,omitempty"`
	GripID   string            `json:"grip_id,omitempty"`
	Level    Level             `json:"level,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// OutboxEntry is a durable unit of pending index/rollup work, written
// atomically alongside the event or node it tracks (I4).
type OutboxEntry struct {
	Sequence   uint64        `json:"sequence"`
	Payload    OutboxPayload `json:"payload"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// Checkpoint is a per-job progress marker. LastProcessedSequence never
// decreases (I5).
type Checkpoint struct {
	JobName               string    `json:"job_name"`
	LastProcessedSequence uint64    `json:"last_processed_sequence"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// OutboxEntryState models the lifecycle in spec.md §4.19.
type OutboxEntryState string

const (
	StatePending    OutboxEntryState = "pending"
	StateProcessing OutboxEntryState = "processing"
	StateCompleted  OutboxEntryState = "completed"
	StateFailed     OutboxEntryState = "failed"
	StateDeadLetter OutboxEntryState = "dead_letter"
)
