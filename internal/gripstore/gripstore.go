// Package gripstore is the append-only primary store for Grips, the
// immutable excerpt records that anchor TocNode bullets back to the
// Event range they were drawn from (spec.md §4.3, invariant I2).
package gripstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentmemory/memoryd/internal/idgen"
	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/types"
)

const bucket = "grips"

// Store is the durable, append-only Grip log.
type Store struct {
	kv *kv.Store
}

// New wraps a KV store as a Grip store.
func New(store *kv.Store) *Store {
	return &Store{kv: store}
}

// Put assigns grip a fresh time-prefixed GripID if it does not already
// have one, truncates Excerpt to MaxExcerptLen, and writes it once.
// Grips are immutable once written; Put never overwrites an existing
// GripID.
func (s *Store) Put(ctx context.Context, grip types.Grip) (types.Grip, error) {
	grip, write, err := s.PrepareWrite(grip)
	if err != nil {
		return types.Grip{}, fmt.Errorf("gripstore: put: %w", err)
	}

	created, err := s.kv.PutIfAbsent(ctx, write.Bucket, write.Key, write.Value)
	if err != nil {
		return types.Grip{}, fmt.Errorf("gripstore: put: %w", err)
	}
	if !created {
		existing, found, err := s.Get(ctx, grip.GripID)
		if err != nil {
			return types.Grip{}, fmt.Errorf("gripstore: put: reread existing %s: %w", grip.GripID, err)
		}
		if !found {
			return types.Grip{}, fmt.Errorf("gripstore: put: %s: %w", grip.GripID, types.ErrConflict)
		}
		return existing, nil
	}
	return grip, nil
}

// PrepareWrite assigns grip an ID and truncates its excerpt if needed,
// returning the kv.Write that would record it without committing.
// Callers composing a multi-entity atomic batch (TocNode + Grips +
// OutboxEntry) use this to fold Grip writes into that batch.
func (s *Store) PrepareWrite(grip types.Grip) (types.Grip, kv.Write, error) {
	if grip.GripID == "" {
		id, err := idgen.NewGripID(grip.Timestamp)
		if err != nil {
			return types.Grip{}, kv.Write{}, err
		}
		grip.GripID = id
	}
	if len(grip.Excerpt) > types.MaxExcerptLen {
		grip.Excerpt = grip.Excerpt[:types.MaxExcerptLen]
	}

	payload, err := json.Marshal(grip)
	if err != nil {
		return types.Grip{}, kv.Write{}, fmt.Errorf("marshal %s: %w", grip.GripID, err)
	}
	return grip, kv.Write{Bucket: bucket, Key: []byte(grip.GripID), Value: payload}, nil
}

// Get looks up a single Grip by its ID.
func (s *Store) Get(ctx context.Context, gripID string) (types.Grip, bool, error) {
	v, found, err := s.kv.Get(ctx, bucket, []byte(gripID))
	if err != nil {
		return types.Grip{}, false, fmt.Errorf("gripstore: get %s: %w", gripID, err)
	}
	if !found {
		return types.Grip{}, false, nil
	}
	var grip types.Grip
	if err := json.Unmarshal(v, &grip); err != nil {
		return types.Grip{}, false, fmt.Errorf("gripstore: get %s: unmarshal: %w", gripID, err)
	}
	return grip, true, nil
}

// GetMany looks up a batch of Grips, skipping any IDs that are not
// found.
func (s *Store) GetMany(ctx context.Context, gripIDs []string) ([]types.Grip, error) {
	grips := make([]types.Grip, 0, len(gripIDs))
	for _, id := range gripIDs {
		grip, found, err := s.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("gripstore: get-many: %w", err)
		}
		if found {
			grips = append(grips, grip)
		}
	}
	return grips, nil
}

// Range returns Grips in [fromID, toID] ordered chronologically, capped
// at limit (0 = unlimited).
func (s *Store) Range(ctx context.Context, fromID, toID string, limit int) ([]types.Grip, bool, error) {
	entries, hasMore, err := s.kv.IterRange(ctx, bucket, []byte(fromID), []byte(toID), limit)
	if err != nil {
		return nil, false, fmt.Errorf("gripstore: range: %w", err)
	}
	grips := make([]types.Grip, 0, len(entries))
	for _, e := range entries {
		var grip types.Grip
		if err := json.Unmarshal(e.Value, &grip); err != nil {
			return nil, false, fmt.Errorf("gripstore: range: unmarshal: %w", err)
		}
		grips = append(grips, grip)
	}
	return grips, hasMore, nil
}

// Count returns the total number of stored Grips, used by Admin stats().
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.kv.CountBucket(ctx, bucket)
	if err != nil {
		return 0, fmt.Errorf("gripstore: count: %w", err)
	}
	return n, nil
}
