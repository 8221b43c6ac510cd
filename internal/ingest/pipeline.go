// Package ingest populates a vector index from a document corpus.
package ingest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flightrag/internal/corpus"
	"flightrag/internal/domain"
	"flightrag/internal/vectorstore"
)

const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 4
)

// BatchFailure records an upsert batch that could not be indexed.
type BatchFailure struct {
	Batch   int    `json:"batch"`
	Records int    `json:"records"`
	Error   string `json:"error"`
}

// DocumentFailure records a document whose stale chunks could not be removed.
type DocumentFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Report summarises one ingestion run.
type Report struct {
	TotalDocuments int            `json:"total_documents"`
	TotalChunks    int            `json:"total_chunks"`
	Upserted       int            `json:"upserted"`
	FailedBatches  []BatchFailure `json:"failed_batches"`
	// FailedDeletes lists documents that may still hold chunks of an older,
	// longer version.
	FailedDeletes []DocumentFailure `json:"failed_deletes,omitempty"`
}

// Pipeline chunks documents, embeds the chunks and upserts them in batches.
type Pipeline struct {
	chunker     domain.Chunker
	embedder    domain.Embedder
	batchSize   int
	concurrency int
	logger      *zap.Logger
	progress    func(done, total int)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize sets the number of records per upsert.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of batches in flight.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProgress registers a callback invoked after every finished batch with
// the number of chunks processed so far.
func WithProgress(fn func(done, total int)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

func New(chunker domain.Chunker, embedder domain.Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		chunker:     chunker,
		embedder:    embedder,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest loads the corpus at path and indexes it into index.
func (p *Pipeline) Ingest(ctx context.Context, path string, index domain.VectorIndex) (Report, error) {
	docs, err := corpus.Load(path)
	if err != nil {
		return Report{}, err
	}
	return p.Run(ctx, docs, index)
}

// Run indexes docs. A failed batch is recorded in the report and the run
// continues; only setup failures and cancellation are returned as errors.
func (p *Pipeline) Run(ctx context.Context, docs []domain.Document, index domain.VectorIndex) (Report, error) {
	report := Report{TotalDocuments: len(docs), FailedBatches: []BatchFailure{}}

	var pending []pendingChunk
	chunkCounts := make(map[string]int, len(docs))
	for _, d := range docs {
		chunkCounts[d.ID()] = 0
		for c := range p.chunker.Chunks(d) {
			pending = append(pending, pendingChunk{doc: d, chunk: c})
			chunkCounts[d.ID()]++
		}
	}
	report.TotalChunks = len(pending)
	if len(pending) == 0 {
		return report, p.removeStale(ctx, index, chunkCounts, &report)
	}

	dim := p.embedder.Dimension()
	if dim == 0 {
		// Unknown models report their size after the first call.
		v, err := p.embedder.Embed(ctx, []string{pending[0].chunk.Text})
		if err != nil {
			return report, fmt.Errorf("probe embedding dimension: %w", err)
		}
		dim = len(v[0])
	}
	if err := index.Init(ctx, dim); err != nil {
		return report, fmt.Errorf("init index: %w", err)
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for b, start := 0, 0; start < len(pending); b, start = b+1, start+p.batchSize {
		batch := pending[start:min(start+p.batchSize, len(pending))]
		batchNo := b
		g.Go(func() error {
			err := p.indexBatch(gctx, batch, index)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Warn("ingest batch failed",
					zap.Int("batch", batchNo),
					zap.Int("records", len(batch)),
					zap.Error(err))
				report.FailedBatches = append(report.FailedBatches, BatchFailure{Batch: batchNo, Records: len(batch), Error: err.Error()})
			} else {
				report.Upserted += len(batch)
			}
			done += len(batch)
			if p.progress != nil {
				p.progress(done, report.TotalChunks)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := p.removeStale(ctx, index, chunkCounts, &report); err != nil {
		return report, err
	}
	slices.SortFunc(report.FailedBatches, func(a, b BatchFailure) int { return cmp.Compare(a.Batch, b.Batch) })
	p.logger.Info("ingest finished",
		zap.Int("documents", report.TotalDocuments),
		zap.Int("chunks", report.TotalChunks),
		zap.Int("upserted", report.Upserted),
		zap.Int("failed_batches", len(report.FailedBatches)))
	return report, nil
}

// removeStale deletes, for every document, the chunks beyond its current
// chunk count, so a document that shrank keeps no chunks of its old version.
func (p *Pipeline) removeStale(ctx context.Context, index domain.VectorIndex, chunkCounts map[string]int, report *Report) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for url, n := range chunkCounts {
		g.Go(func() error {
			err := index.DeleteDocument(gctx, url, n)
			if err == nil {
				return nil
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			p.logger.Warn("remove stale chunks failed", zap.String("url", url), zap.Error(err))
			mu.Lock()
			report.FailedDeletes = append(report.FailedDeletes, DocumentFailure{URL: url, Error: err.Error()})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slices.SortFunc(report.FailedDeletes, func(a, b DocumentFailure) int { return cmp.Compare(a.URL, b.URL) })
	return nil
}

type pendingChunk struct {
	doc   domain.Document
	chunk domain.Chunk
}

func (p *Pipeline) indexBatch(ctx context.Context, batch []pendingChunk, index domain.VectorIndex) error {
	texts := make([]string, len(batch))
	for i, pc := range batch {
		texts[i] = pc.chunk.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(batch) {
		return errors.New("embedding count does not match batch size")
	}
	records := make([]domain.IndexRecord, len(batch))
	for i, pc := range batch {
		records[i] = domain.IndexRecord{
			ID:     vectorstore.RecordID(pc.doc.ID(), pc.chunk.Index),
			Vector: vectors[i],
			Metadata: domain.RecordMetadata{
				SourceType: sourceType(pc.doc),
				URL:        pc.doc.URL,
				Title:      pc.doc.Title,
				ChunkIndex: pc.chunk.Index,
				Text:       pc.chunk.Text,
			},
		}
	}
	return index.Upsert(ctx, records)
}

func sourceType(d domain.Document) domain.SourceType {
	if d.SourceType == "" {
		return domain.SourceJSON
	}
	return d.SourceType
}

