// Package outbox is the crash-safe, at-least-once deferred work queue
// that decouples synchronous ingestion from asynchronous indexing and
// rollup (spec.md §4.4 and §4.19). Entries are enqueued atomically
// alongside the primary record they describe (I4) and are consumed by
// sequence order via a per-job Checkpoint whose LastProcessedSequence
// never decreases (I5).
package outbox

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentmemory/memoryd/internal/idgen"
	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/types"
)

const (
	bucketEntries     = "outbox"
	bucketState       = "outbox_state"
	bucketCheckpoints = "outbox_checkpoints"
	seqCounterBucket  = "outbox_meta"
	seqCounterKey     = "seq_counter"
)

// Store is the durable outbox queue plus its per-job checkpoints.
type Store struct {
	kv *kv.Store
}

// New wraps a KV store as an outbox.
func New(store *kv.Store) *Store {
	return &Store{kv: store}
}

// Enqueue allocates the next sequence number and writes an OutboxEntry
// for payload. Pass extraWrites to enqueue atomically alongside other
// kv.Writes (e.g. the Event or TocNode this entry tracks), satisfying I4.
func (s *Store) Enqueue(ctx context.Context, payload types.OutboxPayload, extraWrites ...kv.Write) (types.OutboxEntry, error) {
	tx, err := s.kv.DB().BeginTx(ctx, nil)
	if err != nil {
		return types.OutboxEntry{}, fmt.Errorf("outbox: enqueue: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := nextSequence(ctx, tx)
	if err != nil {
		return types.OutboxEntry{}, fmt.Errorf("outbox: enqueue: %w", err)
	}

	entry := types.OutboxEntry{
		Sequence:   seq,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return types.OutboxEntry{}, fmt.Errorf("outbox: enqueue: marshal: %w", err)
	}

	key := idgen.SequenceKey(seq)
	if err := execPut(ctx, tx, bucketEntries, []byte(key), body); err != nil {
		return types.OutboxEntry{}, fmt.Errorf("outbox: enqueue: %w", err)
	}
	if err := execPut(ctx, tx, bucketState, []byte(key), []byte(types.StatePending)); err != nil {
		return types.OutboxEntry{}, fmt.Errorf("outbox: enqueue: %w", err)
	}
	for _, w := range extraWrites {
		if w.Value == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE bucket = ? AND key = ?`, w.Bucket, w.Key); err != nil {
				return types.OutboxEntry{}, fmt.Errorf("outbox: enqueue: extra delete: %w", err)
			}
			continue
		}
		if err := execPut(ctx, tx, w.Bucket, w.Key, w.Value); err != nil {
			return types.OutboxEntry{}, fmt.Errorf("outbox: enqueue: extra write: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return types.OutboxEntry{}, fmt.Errorf("outbox: enqueue: commit: %w", err)
	}
	return entry, nil
}

// Poll returns up to limit pending entries with sequence > afterSeq, in
// sequence order. This is what the indexing pipeline micro-batches over.
func (s *Store) Poll(ctx context.Context, afterSeq uint64, limit int) ([]types.OutboxEntry, error) {
	from := idgen.SequenceKey(afterSeq + 1)
	to := idgen.SequenceKey(^uint64(0))
	entries, _, err := s.kv.IterRange(ctx, bucketEntries, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: poll: %w", err)
	}
	out := make([]types.OutboxEntry, 0, len(entries))
	for _, e := range entries {
		var oe types.OutboxEntry
		if err := json.Unmarshal(e.Value, &oe); err != nil {
			return nil, fmt.Errorf("outbox: poll: unmarshal: %w", err)
		}
		out = append(out, oe)
	}
	return out, nil
}

// MarkState transitions an entry's processing state. The pipeline calls
// this as an entry moves pending -> processing -> completed|failed, and
// the dead-letter sweep calls it failed -> dead_letter.
func (s *Store) MarkState(ctx context.Context, seq uint64, state types.OutboxEntryState) error {
	key := []byte(idgen.SequenceKey(seq))
	if err := s.kv.Put(ctx, bucketState, key, []byte(state)); err != nil {
		return fmt.Errorf("outbox: mark-state %d: %w", seq, err)
	}
	return nil
}

// State returns the current processing state of an entry.
func (s *Store) State(ctx context.Context, seq uint64) (types.OutboxEntryState, bool, error) {
	v, found, err := s.kv.Get(ctx, bucketState, []byte(idgen.SequenceKey(seq)))
	if err != nil {
		return "", false, fmt.Errorf("outbox: state %d: %w", seq, err)
	}
	if !found {
		return "", false, nil
	}
	return types.OutboxEntryState(v), true, nil
}

// GetCheckpoint returns the checkpoint for jobName, or a zero-value
// checkpoint (LastProcessedSequence 0) if none has ever been recorded.
func (s *Store) GetCheckpoint(ctx context.Context, jobName string) (types.Checkpoint, error) {
	v, found, err := s.kv.Get(ctx, bucketCheckpoints, []byte(jobName))
	if err != nil {
		return types.Checkpoint{}, fmt.Errorf("outbox: get-checkpoint %s: %w", jobName, err)
	}
	if !found {
		return types.Checkpoint{JobName: jobName}, nil
	}
	var cp types.Checkpoint
	if err := json.Unmarshal(v, &cp); err != nil {
		return types.Checkpoint{}, fmt.Errorf("outbox: get-checkpoint %s: unmarshal: %w", jobName, err)
	}
	return cp, nil
}

// AdvanceCheckpoint moves jobName's checkpoint forward to seq. It is a
// no-op (and returns an error) if seq would move the checkpoint
// backwards, enforcing I5.
func (s *Store) AdvanceCheckpoint(ctx context.Context, jobName string, seq uint64) error {
	current, err := s.GetCheckpoint(ctx, jobName)
	if err != nil {
		return fmt.Errorf("outbox: advance-checkpoint: %w", err)
	}
	if seq < current.LastProcessedSequence {
		return fmt.Errorf("outbox: advance-checkpoint %s: %d < %d: %w", jobName, seq, current.LastProcessedSequence, types.ErrInvalidArgument)
	}
	cp := types.Checkpoint{JobName: jobName, LastProcessedSequence: seq, UpdatedAt: time.Now().UTC()}
	body, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("outbox: advance-checkpoint: marshal: %w", err)
	}
	if err := s.kv.Put(ctx, bucketCheckpoints, []byte(jobName), body); err != nil {
		return fmt.Errorf("outbox: advance-checkpoint: %w", err)
	}
	return nil
}

// PendingCount returns the number of entries enqueued after afterSeq,
// used by admin stats() and backpressure decisions.
func (s *Store) PendingCount(ctx context.Context, afterSeq uint64) (int64, error) {
	entries, err := s.Poll(ctx, afterSeq, 0)
	if err != nil {
		return 0, fmt.Errorf("outbox: pending-count: %w", err)
	}
	return int64(len(entries)), nil
}

func nextSequence(ctx context.Context, tx *sql.Tx) (uint64, error) {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			bucket TEXT NOT NULL,
			key    BLOB NOT NULL,
			value  BLOB NOT NULL,
			PRIMARY KEY (bucket, key)
		) WITHOUT ROWID;
	`); err != nil {
		return 0, fmt.Errorf("ensure schema: %w", err)
	}

	var raw []byte
	row := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE bucket = ? AND key = ?`, seqCounterBucket, seqCounterKey)
	var next uint64 = 1
	if err := row.Scan(&raw); err != nil {
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("read sequence counter: %w", err)
		}
	} else {
		next = binary.BigEndian.Uint64(raw) + 1
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := execPut(ctx, tx, seqCounterBucket, []byte(seqCounterKey), buf); err != nil {
		return 0, fmt.Errorf("write sequence counter: %w", err)
	}
	return next, nil
}

func execPut(ctx context.Context, tx *sql.Tx, bucket string, key, value []byte) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value`,
		bucket, key, value)
	return err
}
