package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/agentmemory/memoryd/internal/admin"
	"github.com/agentmemory/memoryd/internal/agents"
	"github.com/agentmemory/memoryd/internal/bm25index"
	"github.com/agentmemory/memoryd/internal/brainstem"
	"github.com/agentmemory/memoryd/internal/config"
	"github.com/agentmemory/memoryd/internal/eventstore"
	"github.com/agentmemory/memoryd/internal/gripstore"
	"github.com/agentmemory/memoryd/internal/kv"
	"github.com/agentmemory/memoryd/internal/logging"
	"github.com/agentmemory/memoryd/internal/outbox"
	"github.com/agentmemory/memoryd/internal/pipeline"
	"github.com/agentmemory/memoryd/internal/pruner"
	"github.com/agentmemory/memoryd/internal/rollup"
	"github.com/agentmemory/memoryd/internal/segmenter"
	"github.com/agentmemory/memoryd/internal/service"
	"github.com/agentmemory/memoryd/internal/summarizer"
	"github.com/agentmemory/memoryd/internal/tocstore"
	"github.com/agentmemory/memoryd/internal/topics"
	"github.com/agentmemory/memoryd/internal/usage"
	"github.com/agentmemory/memoryd/internal/vectorindex"
)

// app holds every wired component plus the handles the daemon's
// background jobs and admin surface need to shut down cleanly. Each
// job's Run/RunLoop method has its own signature, so start.go starts
// them individually rather than through a uniform interface; admin
// only needs the narrower admin.Job (Name/Pause/Resume/Paused) surface
// to list and control them.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	kv     *kv.Store
	bm25   *bm25index.Index
	svc    *service.Service
	admin  *admin.Admin
	agents *agents.Discovery

	pipeline *pipeline.Pipeline
	segment  *segmenter.Job
	topics   *topics.Job
	usage    *usage.Counters
	pruner   *pruner.Pruner

	pipelineInterval time.Duration
	segmentInterval  time.Duration
	topicsInterval   time.Duration
	prunerInterval   time.Duration
}

// buildApp wires every internal package per cfg, the single
// composition point every cobra subcommand shares.
func buildApp(cfg config.Config) (*app, error) {
	root, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("memory-daemon: build logger: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("memory-daemon: create data dir: %w", err)
	}

	store, err := kv.Open(filepath.Join(cfg.DataDir, "memoryd.db"))
	if err != nil {
		return nil, fmt.Errorf("memory-daemon: open kv store: %w", err)
	}

	events := eventstore.New(store)
	grips := gripstore.New(store)
	toc := tocstore.New(store)
	ob := outbox.New(store)

	summarizeDriver := summarizer.NewDriver(
		summarizer.NewDeterministicStub(8),
		summarizer.DefaultConfig(),
		logging.Component(root, "summarizer"),
	)
	rb := rollup.NewBuilder(toc, grips, ob, summarizeDriver)

	bm25, err := bm25index.Open(filepath.Join(cfg.DataDir, "bm25"))
	if err != nil {
		return nil, fmt.Errorf("memory-daemon: open bm25 index: %w", err)
	}

	vec, err := vectorindex.Open(context.Background(), store, vectorindex.NewDeterministicStub(32), logging.Component(root, "vectorindex"))
	if err != nil {
		return nil, fmt.Errorf("memory-daemon: open vector index: %w", err)
	}

	topicsCfg := topics.DefaultConfig()
	top := topics.New(store, toc, vec, summarizeDriver, topicsCfg, logging.Component(root, "topics"))

	usageCfg := usage.DefaultConfig()
	counters, err := usage.New(store, usageCfg, logging.Component(root, "usage"))
	if err != nil {
		return nil, fmt.Errorf("memory-daemon: open usage counters: %w", err)
	}

	brain := brainstem.New(bm25, vec, top, toc, events, summarizeDriver, brainstem.DefaultStopConditions(), logging.Component(root, "brainstem"))

	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.BatchSize = cfg.PipelineBatchSize
	pl := pipeline.New(ob, toc, grips, bm25, vec, rb, pipelineCfg, logging.Component(root, "pipeline"))

	segmenterCfg := segmenter.Config{TimeGap: cfg.SegmentTimeGap, TokenThreshold: cfg.SegmentTokenThreshold}
	seg := segmenter.NewJob(store, events, rb, segmenterCfg, logging.Component(root, "segmenter"))

	prn := pruner.New(bm25, vec, logging.Component(root, "pruner"))

	svcCfg := service.DefaultConfig()
	svcCfg.DefaultTimeout = cfg.ServiceDefaultTimeout
	svc := service.New(events, grips, toc, bm25, vec, top, counters, brain, svcCfg)

	adm := admin.New(events, grips, toc, bm25, vec, prn)
	adm.RegisterJob(pl)
	adm.RegisterJob(seg)
	adm.RegisterJob(top)
	adm.RegisterJob(counters)
	adm.RegisterJob(prn)

	return &app{
		cfg:    cfg,
		log:    root,
		kv:     store,
		bm25:   bm25,
		svc:    svc,
		admin:  adm,
		agents: agents.New(toc),

		pipeline: pl,
		segment:  seg,
		topics:   top,
		usage:    counters,
		pruner:   prn,

		pipelineInterval: cfg.PipelineInterval,
		segmentInterval:  cfg.SegmenterInterval,
		topicsInterval:   cfg.TopicExtractInterval,
		prunerInterval:   cfg.PrunerInterval,
	}, nil
}

// run starts every background job and blocks until ctx is canceled.
func (a *app) run(ctx context.Context) {
	go a.pipeline.Run(ctx, a.pipelineInterval)
	go a.segment.Run(ctx, a.segmentInterval)
	go a.topics.Run(ctx, a.topicsInterval)
	go a.usage.Run(ctx)
	go a.pruner.RunLoop(ctx, pruner.DefaultConfig(), a.prunerInterval)
	<-ctx.Done()
}

func (a *app) close() {
	if err := a.bm25.Close(); err != nil {
		a.log.Error("close bm25 index", "error", err)
	}
	if err := a.kv.Close(); err != nil {
		a.log.Error("close kv store", "error", err)
	}
}
