// Package topics runs the periodic background job that clusters
// TocNode embeddings into Topics and discovers relationships between
// them (spec.md §4.10). Clustering is agglomerative with a
// cosine-similarity threshold, the minimum algorithm the spec allows;
// HDBSCAN is explicitly optional and not required for a first pass.
package topics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentmemory/memoryd/internal/idgen"
	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/summarizer"
	"github.com/agentmemory/memoryd/internal/tocstore"
	"github.com/agentmemory/memoryd/internal/types"
	"github.com/agentmemory/memoryd/internal/vectorindex"
)

const (
	bucketTopic    = "topic"         // topicID -> Topic JSON
	bucketLink     = "topic_link"    // topicID|nodeID -> TopicLink JSON
	bucketRelation = "topic_relation" // fromID|toID -> TopicRelationship JSON

	// SimilarityThreshold is the minimum cosine similarity for two
	// embeddings to join the same agglomerative cluster (spec.md §4.10
	// step 2).
	SimilarityThreshold = 0.75

	// MinClusterSize is the minimum number of constituent nodes for a
	// cluster to become a Topic (spec.md §4.10 step 2).
	MinClusterSize = 3

	// RecencyBoostWindow and weights feed the importance formula
	// (spec.md §4.10 step 5).
	RecencyBoostWindow = 7 * 24 * time.Hour
	RecencyBoostWeight = 2.0
	BaseWeight         = 1.0
	HalfLife           = 30 * 24 * time.Hour

	// RelationshipSimilarityThreshold gates "similar" relationship
	// discovery between two topic centroids (spec.md §4.10 step 6).
	RelationshipSimilarityThreshold = 0.75

	topKKeywords = 8
)

// Config tunes a Job's behavior. Thresholds default to the spec's
// documented values but are exposed for operator override.
type Config struct {
	SimilarityThreshold float64
	MinClusterSize      int
	RecencyBoost        float64
	RecencyWindow       time.Duration
	HalfLife            time.Duration
}

// DefaultConfig returns spec.md §4.10's documented defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: SimilarityThreshold,
		MinClusterSize:      MinClusterSize,
		RecencyBoost:        RecencyBoostWeight,
		RecencyWindow:       RecencyBoostWindow,
		HalfLife:            HalfLife,
	}
}

// Status reports the topic graph's health for Admin/Brainstem tier
// detection.
type Status struct {
	Enabled          bool
	Healthy          bool
	TopicCount       int
	LinkCount        int
	LastExtractionTS time.Time
}

// Job is the periodic topic-extraction background worker plus the
// query-side operations spec.md §4.10 lists.
type Job struct {
	kv     *kv.Store
	toc    *tocstore.Store
	vec    *vectorindex.Index
	driver *summarizer.Driver
	cfg    Config
	log    *slog.Logger

	lastExtraction time.Time
	paused         atomic.Bool
}

// JobName identifies this job to the admin job registry.
const JobName = "topic_extraction"

// Name reports this job's admin-facing name.
func (j *Job) Name() string { return JobName }

// Pause stops Run from dispatching further extraction passes until
// Resume is called.
func (j *Job) Pause() { j.paused.Store(true) }

// Resume clears a prior Pause.
func (j *Job) Resume() { j.paused.Store(false) }

// Paused reports whether Run is currently skipping ticks.
func (j *Job) Paused() bool { return j.paused.Load() }

// Run drives Extract over the day, week and month levels on a ticker
// until ctx is canceled, the shape every other background job in this
// module uses.
func (j *Job) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	levels := []types.Level{types.LevelDay, types.LevelWeek, types.LevelMonth}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if j.Paused() {
				continue
			}
			if _, err := j.Extract(ctx, levels, j.lastExtraction); err != nil {
				j.log.Error("topics: extract failed", "error", err)
			}
		}
	}
}

// New wires a Job over the given stores and summarizer driver. driver
// may be nil, in which case labels are always synthesized from
// keywords rather than generated.
func New(k *kv.Store, toc *tocstore.Store, vec *vectorindex.Index, driver *summarizer.Driver, cfg Config, log *slog.Logger) *Job {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Job{kv: k, toc: toc, vec: vec, driver: driver, cfg: cfg, log: log.With("component", "topics")}
}

var tracer = otel.Tracer("github.com/agentmemory/memoryd/topics")

var topicMetrics struct {
	extractions metric.Int64Counter
	topics      metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/agentmemory/memoryd/topics")
	topicMetrics.extractions, _ = m.Int64Counter("memoryd.topics.extractions",
		metric.WithDescription("topic extraction job runs"), metric.WithUnit("{run}"))
	topicMetrics.topics, _ = m.Int64Counter("memoryd.topics.topics_written",
		metric.WithDescription("topics written by an extraction run"), metric.WithUnit("{topic}"))
}

// candidate is one embedded TocNode feeding clustering.
type candidate struct {
	node      types.TocNode
	embedding []float32
}

// Extract runs one full pass of the background job: collect candidate
// nodes, cluster them, write Topics/TopicLinks, recompute importance,
// and discover relationships (spec.md §4.10 steps 1-6).
func (j *Job) Extract(ctx context.Context, levels []types.Level, since time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "topics.Extract")
	defer span.End()
	topicMetrics.extractions.Add(ctx, 1)

	candidates, err := j.collectCandidates(ctx, levels, since)
	if err != nil {
		return 0, fmt.Errorf("topics: extract: %w", err)
	}
	if len(candidates) == 0 {
		j.lastExtraction = time.Now().UTC()
		return 0, nil
	}

	clusters := agglomerate(candidates, j.cfg.SimilarityThreshold, j.cfg.MinClusterSize)

	written := 0
	var topicsThisRun []types.Topic
	for _, cluster := range clusters {
		topic, err := j.buildTopic(ctx, cluster)
		if err != nil {
			j.log.Warn("topics: failed to build topic from cluster", "error", err)
			continue
		}
		if err := j.writeTopic(ctx, topic, cluster); err != nil {
			j.log.Warn("topics: failed to write topic", "topic_id", topic.TopicID, "error", err)
			continue
		}
		topicsThisRun = append(topicsThisRun, topic)
		written++
	}

	if err := j.discoverRelationships(ctx, topicsThisRun); err != nil {
		j.log.Warn("topics: relationship discovery failed", "error", err)
	}

	topicMetrics.topics.Add(ctx, int64(written))
	j.lastExtraction = time.Now().UTC()
	return written, nil
}

// collectCandidates gathers the latest TocNodes at day/week/month
// levels whose embeddings exist in the vector index (spec.md §4.10
// step 1).
func (j *Job) collectCandidates(ctx context.Context, levels []types.Level, since time.Time) ([]candidate, error) {
	if len(levels) == 0 {
		levels = []types.Level{types.LevelDay, types.LevelWeek, types.LevelMonth}
	}
	var out []candidate
	for _, level := range levels {
		nodes, _, err := j.toc.NodesInRange(ctx, level, since.UnixMilli(), time.Now().UnixMilli(), 0)
		if err != nil {
			return nil, fmt.Errorf("collect candidates at level %s: %w", level, err)
		}
		for _, n := range nodes {
			emb, err := j.vec.EmbeddingFor(ctx, n.NodeID)
			if err != nil || emb == nil {
				continue
			}
			out = append(out, candidate{node: n, embedding: emb})
		}
	}
	return out, nil
}

// buildTopic computes a cluster's centroid, label, and keywords
// (spec.md §4.10 step 3).
func (j *Job) buildTopic(ctx context.Context, cluster []candidate) (types.Topic, error) {
	centroid := centroidOf(cluster)
	keywords := topKeywords(cluster, topKKeywords)

	label := labelFromKeywords(keywords)
	if j.driver != nil {
		synthEvents := make([]types.Event, 0, len(cluster))
		for _, c := range cluster {
			synthEvents = append(synthEvents, types.Event{
				Timestamp: c.node.StartTime,
				Role:      types.RoleSystem,
				Text:      c.node.Title + ": " + c.node.Summary,
			})
		}
		result, degraded, err := j.driver.Summarize(ctx, synthEvents)
		if err == nil && !degraded && result.Title != "" {
			label = truncateLabel(result.Title)
		}
	}

	id, err := idgen.NewGripID(time.Now())
	if err != nil {
		return types.Topic{}, fmt.Errorf("mint topic id: %w", err)
	}

	first, last := timeBoundsOf(cluster)
	return types.Topic{
		TopicID:           "topic:" + id,
		Label:             label,
		CentroidEmbedding: centroid,
		Keywords:          keywords,
		NodeCount:         len(cluster),
		FirstSeen:         first,
		LastMentioned:     last,
		Status:            types.TopicActive,
	}, nil
}

// writeTopic persists a Topic and its TopicLinks (spec.md §4.10 step
// 4), then recomputes its importance (step 5).
func (j *Job) writeTopic(ctx context.Context, topic types.Topic, cluster []candidate) error {
	topic.ImportanceScore = importance(cluster, time.Now(), j.cfg)

	raw, err := json.Marshal(topic)
	if err != nil {
		return fmt.Errorf("marshal topic %s: %w", topic.TopicID, err)
	}
	if err := j.kv.Put(ctx, bucketTopic, []byte(topic.TopicID), raw); err != nil {
		return fmt.Errorf("put topic %s: %w", topic.TopicID, err)
	}

	for _, c := range cluster {
		link := types.TopicLink{
			TopicID:   topic.TopicID,
			NodeID:    c.node.NodeID,
			Relevance: cosineSimilarity(topic.CentroidEmbedding, c.embedding),
		}
		raw, err := json.Marshal(link)
		if err != nil {
			return fmt.Errorf("marshal topic link %s/%s: %w", topic.TopicID, c.node.NodeID, err)
		}
		key := []byte(topic.TopicID + "|" + c.node.NodeID)
		if err := j.kv.Put(ctx, bucketLink, key, raw); err != nil {
			return fmt.Errorf("put topic link %s/%s: %w", topic.TopicID, c.node.NodeID, err)
		}
	}
	return nil
}

// discoverRelationships pairs every topic written this run against
// every other known topic: centroid cosine above threshold becomes
// "similar"; containment of constituent nodes' time ranges or
// keyword-set inclusion yields parent/child (spec.md §4.10 step 6).
func (j *Job) discoverRelationships(ctx context.Context, fresh []types.Topic) error {
	all, err := j.allTopics(ctx)
	if err != nil {
		return fmt.Errorf("discover relationships: %w", err)
	}

	for _, a := range fresh {
		for _, b := range all {
			if a.TopicID == b.TopicID {
				continue
			}
			sim := cosineSimilarity(a.CentroidEmbedding, b.CentroidEmbedding)
			var rel types.TopicRelationship
			switch {
			case containsTimeRange(a, b):
				rel = types.TopicRelationship{FromID: a.TopicID, ToID: b.TopicID, Kind: types.RelParent, Strength: sim}
			case containsTimeRange(b, a):
				rel = types.TopicRelationship{FromID: a.TopicID, ToID: b.TopicID, Kind: types.RelChild, Strength: sim}
			case keywordSetIncludes(a.Keywords, b.Keywords):
				rel = types.TopicRelationship{FromID: a.TopicID, ToID: b.TopicID, Kind: types.RelParent, Strength: sim}
			case sim >= RelationshipSimilarityThreshold:
				rel = types.TopicRelationship{FromID: a.TopicID, ToID: b.TopicID, Kind: types.RelSimilar, Strength: sim}
			default:
				continue
			}
			raw, err := json.Marshal(rel)
			if err != nil {
				return fmt.Errorf("marshal relationship %s->%s: %w", rel.FromID, rel.ToID, err)
			}
			key := []byte(rel.FromID + "|" + rel.ToID)
			if err := j.kv.Put(ctx, bucketRelation, key, raw); err != nil {
				return fmt.Errorf("put relationship %s->%s: %w", rel.FromID, rel.ToID, err)
			}
		}
	}
	return nil
}

// allTopics loads every persisted Topic.
func (j *Job) allTopics(ctx context.Context) ([]types.Topic, error) {
	entries, _, err := j.kv.IterRange(ctx, bucketTopic, nil, maxKey(), 0)
	if err != nil {
		return nil, err
	}
	topics := make([]types.Topic, 0, len(entries))
	for _, e := range entries {
		var t types.Topic
		if err := json.Unmarshal(e.Value, &t); err != nil {
			continue
		}
		topics = append(topics, t)
	}
	return topics, nil
}

// GetTopicsByQuery embeds text and ranks topics by cosine similarity to
// their centroid (spec.md §4.10 get_topics_by_query).
func (j *Job) GetTopicsByQuery(ctx context.Context, text string, limit int, minScore float64) ([]types.Topic, error) {
	emb, err := j.vec.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("topics: get-topics-by-query: %w", err)
	}
	all, err := j.allTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("topics: get-topics-by-query: %w", err)
	}
	type scored struct {
		topic types.Topic
		score float64
	}
	scoredTopics := make([]scored, 0, len(all))
	for _, t := range all {
		s := cosineSimilarity(emb, t.CentroidEmbedding)
		if s < minScore {
			continue
		}
		scoredTopics = append(scoredTopics, scored{t, s})
	}
	sort.Slice(scoredTopics, func(i, j int) bool { return scoredTopics[i].score > scoredTopics[j].score })
	if limit <= 0 || limit > len(scoredTopics) {
		limit = len(scoredTopics)
	}
	out := make([]types.Topic, 0, limit)
	for _, s := range scoredTopics[:limit] {
		out = append(out, s.topic)
	}
	return out, nil
}

// GetTocNodesForTopic returns TopicLinks for topicID above minRelevance
// (spec.md §4.10 get_toc_nodes_for_topic).
func (j *Job) GetTocNodesForTopic(ctx context.Context, topicID string, limit int, minRelevance float64) ([]types.TopicLink, error) {
	from := []byte(topicID + "|")
	to := []byte(topicID + "|\xff\xff\xff\xff")
	entries, _, err := j.kv.IterRange(ctx, bucketLink, from, to, 0)
	if err != nil {
		return nil, fmt.Errorf("topics: get-toc-nodes-for-topic: %w", err)
	}
	var links []types.TopicLink
	for _, e := range entries {
		var link types.TopicLink
		if err := json.Unmarshal(e.Value, &link); err != nil {
			continue
		}
		if link.Relevance < minRelevance {
			continue
		}
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Relevance > links[j].Relevance })
	if limit > 0 && limit < len(links) {
		links = links[:limit]
	}
	return links, nil
}

// GetTopTopics ranks topics by importance, optionally filtered to a
// time range and/or agent (spec.md §4.10 get_top_topics, agent-aware
// topics).
func (j *Job) GetTopTopics(ctx context.Context, limit int, from, to time.Time, agentFilter string) ([]types.Topic, error) {
	all, err := j.allTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("topics: get-top-topics: %w", err)
	}
	filtered := make([]types.Topic, 0, len(all))
	for _, t := range all {
		if !from.IsZero() && t.LastMentioned.Before(from) {
			continue
		}
		if !to.IsZero() && t.FirstSeen.After(to) {
			continue
		}
		if agentFilter != "" {
			maxRel, err := j.maxRelevanceForAgent(ctx, t.TopicID, agentFilter)
			if err != nil {
				return nil, fmt.Errorf("topics: get-top-topics: %w", err)
			}
			if maxRel == 0 {
				continue
			}
			t.ImportanceScore *= maxRel
		}
		filtered = append(filtered, t)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ImportanceScore > filtered[j].ImportanceScore })
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// maxRelevanceForAgent walks a topic's links to find the highest
// relevance among nodes contributed to by agentID (spec.md §4.10
// "Agent-aware topics": Topic -> TopicLink -> TocNode.contributing_agents).
func (j *Job) maxRelevanceForAgent(ctx context.Context, topicID, agentID string) (float64, error) {
	links, err := j.GetTocNodesForTopic(ctx, topicID, 0, 0)
	if err != nil {
		return 0, err
	}
	var maxRel float64
	for _, link := range links {
		node, found, err := j.toc.GetLatest(ctx, link.NodeID)
		if err != nil {
			return 0, err
		}
		if !found {
			continue
		}
		for _, a := range node.ContributingAgents {
			if a == agentID && link.Relevance > maxRel {
				maxRel = link.Relevance
			}
		}
	}
	return maxRel, nil
}

// GetRelatedTopics returns relationships from topicID, optionally
// filtered to given kinds (spec.md §4.10 get_related_topics).
func (j *Job) GetRelatedTopics(ctx context.Context, topicID string, kinds []types.RelationshipKind, limit int) ([]types.TopicRelationship, error) {
	from := []byte(topicID + "|")
	to := []byte(topicID + "|\xff\xff\xff\xff")
	entries, _, err := j.kv.IterRange(ctx, bucketRelation, from, to, 0)
	if err != nil {
		return nil, fmt.Errorf("topics: get-related-topics: %w", err)
	}
	allowed := func(k types.RelationshipKind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, want := range kinds {
			if want == k {
				return true
			}
		}
		return false
	}
	var rels []types.TopicRelationship
	for _, e := range entries {
		var rel types.TopicRelationship
		if err := json.Unmarshal(e.Value, &rel); err != nil {
			continue
		}
		if !allowed(rel.Kind) {
			continue
		}
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].Strength > rels[j].Strength })
	if limit > 0 && limit < len(rels) {
		rels = rels[:limit]
	}
	return rels, nil
}

// Status reports topic graph health.
func (j *Job) Status(ctx context.Context) (Status, error) {
	topicCount, err := j.kv.CountBucket(ctx, bucketTopic)
	if err != nil {
		return Status{}, fmt.Errorf("topics: status: %w", err)
	}
	linkCount, err := j.kv.CountBucket(ctx, bucketLink)
	if err != nil {
		return Status{}, fmt.Errorf("topics: status: %w", err)
	}
	return Status{
		Enabled:          true,
		Healthy:          true,
		TopicCount:       int(topicCount),
		LinkCount:        int(linkCount),
		LastExtractionTS: j.lastExtraction,
	}, nil
}

// agglomerate runs single-linkage agglomerative clustering: repeatedly
// merge the closest pair of clusters whose similarity is at or above
// threshold, until no pair qualifies. Clusters smaller than minSize are
// dropped (spec.md §4.10 step 2).
func agglomerate(candidates []candidate, threshold float64, minSize int) [][]candidate {
	clusters := make([][]candidate, len(candidates))
	for i, c := range candidates {
		clusters[i] = []candidate{c}
	}

	for {
		bestI, bestJ, bestSim := -1, -1, -1.0
		for i := 0; i < len(clusters); i++ {
			for k := i + 1; k < len(clusters); k++ {
				sim := clusterSimilarity(clusters[i], clusters[k])
				if sim > bestSim {
					bestI, bestJ, bestSim = i, k, sim
				}
			}
		}
		if bestI == -1 || bestSim < threshold {
			break
		}
		clusters[bestI] = append(clusters[bestI], clusters[bestJ]...)
		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
	}

	out := make([][]candidate, 0, len(clusters))
	for _, c := range clusters {
		if len(c) >= minSize {
			out = append(out, c)
		}
	}
	return out
}

// clusterSimilarity is single-linkage: the maximum pairwise cosine
// similarity between any member of a and any member of b.
func clusterSimilarity(a, b []candidate) float64 {
	best := -1.0
	for _, x := range a {
		for _, y := range b {
			sim := cosineSimilarity(x.embedding, y.embedding)
			if sim > best {
				best = sim
			}
		}
	}
	return best
}

func centroidOf(cluster []candidate) []float32 {
	if len(cluster) == 0 {
		return nil
	}
	dim := len(cluster[0].embedding)
	sum := make([]float64, dim)
	for _, c := range cluster {
		for i, v := range c.embedding {
			sum[i] += float64(v)
		}
	}
	centroid := make([]float32, dim)
	for i, v := range sum {
		centroid[i] = float32(v / float64(len(cluster)))
	}
	return centroid
}

// topKeywords ranks keyword frequency across constituent summaries
// (spec.md §4.10 step 3) and returns the top k.
func topKeywords(cluster []candidate, k int) []string {
	counts := map[string]int{}
	for _, c := range cluster {
		for _, kw := range c.node.Keywords {
			counts[strings.ToLower(kw)]++
		}
	}
	type kwCount struct {
		word  string
		count int
	}
	ranked := make([]kwCount, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, kwCount{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]string, 0, k)
	for _, kw := range ranked[:k] {
		out = append(out, kw.word)
	}
	return out
}

// labelFromKeywords synthesizes a label by joining up to four of the top
// keywords when no summarizer driver is configured or it fails (spec.md
// §4.10 step 3's "synthesize from top keywords" fallback). A cluster
// with a single keyword gets a one-word label; no minimum word count is
// enforced.
func labelFromKeywords(keywords []string) string {
	n := len(keywords)
	if n > 4 {
		n = 4
	}
	if n == 0 {
		return "untitled topic"
	}
	return strings.Join(keywords[:n], " ")
}

func truncateLabel(title string) string {
	words := strings.Fields(title)
	if len(words) > 4 {
		words = words[:4]
	}
	return strings.Join(words, " ")
}

func timeBoundsOf(cluster []candidate) (first, last time.Time) {
	for i, c := range cluster {
		if i == 0 || c.node.StartTime.Before(first) {
			first = c.node.StartTime
		}
		if i == 0 || c.node.EndTime.After(last) {
			last = c.node.EndTime
		}
	}
	return first, last
}

// containsTimeRange reports whether a's period strictly contains b's,
// the time-range containment signal for parent/child inference
// (spec.md §4.10 step 6).
func containsTimeRange(a, b types.Topic) bool {
	return !a.FirstSeen.After(b.FirstSeen) && !a.LastMentioned.Before(b.LastMentioned) && a.FirstSeen.Before(b.FirstSeen)
}

// keywordSetIncludes reports whether every one of inner's keywords
// appears in outer, the keyword-set-inclusion signal for parent/child
// inference (spec.md §4.10 step 6).
func keywordSetIncludes(outer, inner []string) bool {
	if len(inner) == 0 {
		return false
	}
	set := make(map[string]bool, len(outer))
	for _, k := range outer {
		set[k] = true
	}
	for _, k := range inner {
		if !set[k] {
			return false
		}
	}
	return true
}

// importance implements spec.md §4.10 step 5: a time-decayed sum of
// per-mention weights, where a mention within RecencyWindow of now
// counts RecencyBoost, else BaseWeight.
func importance(cluster []candidate, now time.Time, cfg Config) float64 {
	var sum float64
	for _, c := range cluster {
		age := now.Sub(c.node.EndTime)
		weight := BaseWeight
		if age <= cfg.RecencyWindow {
			weight = cfg.RecencyBoost
		}
		decay := math.Pow(0.5, age.Seconds()/cfg.HalfLife.Seconds())
		sum += weight * decay
	}
	return sum
}

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
