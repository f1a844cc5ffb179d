// Package tocstore is the versioned summary-tree store (spec.md §4.2).
// Every call to Put creates a new, immutable version record; the
// "latest" pointer for a NodeID is the only mutable record the store
// keeps (I3). A secondary by-level/by-time index lets rollup and
// pruning scan nodes of a given Level within a time range without
// touching unrelated levels.
package tocstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentmemory/memoryd/internal/idgen"
	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/types"
)

const (
	bucketLatest  = "toc_latest"   // nodeID -> latest TocNode JSON
	bucketVersion = "toc_versions" // nodeID|version -> immutable TocNode JSON
	bucketByLevel = "toc_by_level" // level|startTime|nodeID -> nodeID
)

// Store is the durable, versioned TocNode tree.
type Store struct {
	kv *kv.Store
}

// New wraps a KV store as a TOC store.
func New(store *kv.Store) *Store {
	return &Store{kv: store}
}

// Put writes a new version of node. If node.NodeID is empty one is
// minted from node.StartTime. The version number is one past whatever
// is currently latest (1 if this is the first version). Returns the
// stored node with NodeID and Version populated.
func (s *Store) Put(ctx context.Context, node types.TocNode) (types.TocNode, error) {
	node, writes, err := s.PrepareWrite(ctx, node)
	if err != nil {
		return types.TocNode{}, fmt.Errorf("tocstore: put: %w", err)
	}
	if err := s.kv.Batch(ctx, writes); err != nil {
		return types.TocNode{}, fmt.Errorf("tocstore: put: %w", err)
	}
	return node, nil
}

// PrepareWrite computes the next version of node and the kv.Writes that
// would durably record it, without committing them. Callers that need to
// land a TocNode write atomically alongside other records (an outbox
// trigger, new Grips) compose these writes into that larger batch, e.g.
// via outbox.Store.Enqueue's extraWrites.
func (s *Store) PrepareWrite(ctx context.Context, node types.TocNode) (types.TocNode, []kv.Write, error) {
	if node.NodeID == "" {
		id, err := idgen.NewGripID(node.StartTime)
		if err != nil {
			return types.TocNode{}, nil, fmt.Errorf("mint node id: %w", err)
		}
		node.NodeID = id
	}

	current, found, err := s.GetLatest(ctx, node.NodeID)
	if err != nil {
		return types.TocNode{}, nil, err
	}
	node.Version = 1
	if found {
		node.Version = current.Version + 1
	}

	payload, err := json.Marshal(node)
	if err != nil {
		return types.TocNode{}, nil, fmt.Errorf("marshal %s: %w", node.NodeID, err)
	}

	writes := []kv.Write{
		{Bucket: bucketVersion, Key: versionKey(node.NodeID, node.Version), Value: append([]byte(nil), payload...)},
		{Bucket: bucketLatest, Key: []byte(node.NodeID), Value: append([]byte(nil), payload...)},
		{Bucket: bucketByLevel, Key: levelKey(node.Level, node.StartTime.UnixMilli(), node.NodeID), Value: []byte(node.NodeID)},
	}
	return node, writes, nil
}

// GetLatest returns the current version of a TocNode.
func (s *Store) GetLatest(ctx context.Context, nodeID string) (types.TocNode, bool, error) {
	v, found, err := s.kv.Get(ctx, bucketLatest, []byte(nodeID))
	if err != nil {
		return types.TocNode{}, false, fmt.Errorf("tocstore: get-latest %s: %w", nodeID, err)
	}
	if !found {
		return types.TocNode{}, false, nil
	}
	var node types.TocNode
	if err := json.Unmarshal(v, &node); err != nil {
		return types.TocNode{}, false, fmt.Errorf("tocstore: get-latest %s: unmarshal: %w", nodeID, err)
	}
	return node, true, nil
}

// GetVersion returns a specific historical version of a TocNode.
func (s *Store) GetVersion(ctx context.Context, nodeID string, version int) (types.TocNode, bool, error) {
	v, found, err := s.kv.Get(ctx, bucketVersion, versionKey(nodeID, version))
	if err != nil {
		return types.TocNode{}, false, fmt.Errorf("tocstore: get-version %s/%d: %w", nodeID, version, err)
	}
	if !found {
		return types.TocNode{}, false, nil
	}
	var node types.TocNode
	if err := json.Unmarshal(v, &node); err != nil {
		return types.TocNode{}, false, fmt.Errorf("tocstore: get-version %s/%d: unmarshal: %w", nodeID, version, err)
	}
	return node, true, nil
}

// ListVersions returns every version of nodeID, oldest first.
func (s *Store) ListVersions(ctx context.Context, nodeID string) ([]types.TocNode, error) {
	from := versionKey(nodeID, 0)
	to := versionKey(nodeID, 999999)
	entries, _, err := s.kv.IterRange(ctx, bucketVersion, from, to, 0)
	if err != nil {
		return nil, fmt.Errorf("tocstore: list-versions %s: %w", nodeID, err)
	}
	nodes := make([]types.TocNode, 0, len(entries))
	for _, e := range entries {
		var node types.TocNode
		if err := json.Unmarshal(e.Value, &node); err != nil {
			return nil, fmt.Errorf("tocstore: list-versions %s: unmarshal: %w", nodeID, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// NodesInRange returns the latest version of every node at level whose
// StartTime falls in [fromMillis, toMillis], ordered chronologically.
// This is the scan rollup and pruning both walk.
func (s *Store) NodesInRange(ctx context.Context, level types.Level, fromMillis, toMillis int64, limit int) ([]types.TocNode, bool, error) {
	from := levelKey(level, fromMillis, "")
	to := levelKey(level, toMillis, "\xff\xff\xff\xff")
	entries, hasMore, err := s.kv.IterRange(ctx, bucketByLevel, from, to, limit)
	if err != nil {
		return nil, false, fmt.Errorf("tocstore: nodes-in-range: %w", err)
	}
	nodes := make([]types.TocNode, 0, len(entries))
	for _, e := range entries {
		node, found, err := s.GetLatest(ctx, string(e.Value))
		if err != nil {
			return nil, false, fmt.Errorf("tocstore: nodes-in-range: %w", err)
		}
		if found {
			nodes = append(nodes, node)
		}
	}
	return nodes, hasMore, nil
}

// Count returns the number of distinct nodes currently tracked.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.kv.CountBucket(ctx, bucketLatest)
	if err != nil {
		return 0, fmt.Errorf("tocstore: count: %w", err)
	}
	return n, nil
}

func versionKey(nodeID string, version int) []byte {
	return []byte(nodeID + "|" + idgen.VersionKey(version))
}

func levelKey(level types.Level, millis int64, suffix string) []byte {
	return []byte(string(level) + "|" + idgen.TimestampKey(millis) + "|" + suffix)
}
