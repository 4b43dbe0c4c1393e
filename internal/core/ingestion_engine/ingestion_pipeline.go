package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Classmind/internal/core"
	"github.com/markdave123-py/Classmind/internal/core/quota"
	"github.com/markdave123-py/Classmind/internal/models"
)

// DocumentIngestor orchestrates the ingestion pipeline:
//
// db:        persistence for documents and chunks.
// obj:       object storage holding the uploaded bytes.
// embedder:  embedding provider.
// extractor: per-format text extraction.
// ledger:    token budget enforcement.
// jobs:      in-memory queue of document IDs to process.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	embedder  core.EmbeddingProvider
	extractor TextExtractor
	ledger    *quota.Ledger
	cfg       *IngestConfig
	jobs      chan string

	// OnComplete, when set, is invoked after each processed document.
	// Callers needing completion notification inject it here instead
	// of listening on a shared event bus.
	OnComplete func(docID string, err error)
}

// NewDocumentIngestor constructs the ingestor with a bounded job queue (64).
func NewDocumentIngestor(db core.DbClient, obj core.ObjectClient, emb core.EmbeddingProvider, extractor TextExtractor, ledger *quota.Ledger, cfg *IngestConfig) *DocumentIngestor {
	return &DocumentIngestor{
		db: db, obj: obj, embedder: emb, extractor: extractor, ledger: ledger, cfg: cfg,
		jobs: make(chan string, 64),
	}
}

// Start runs worker goroutines reading from the jobs channel.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					log.Println("DocumentIngestor: worker shutting down.")
					return
				case docID := <-i.jobs:
					log.Printf("DocumentIngestor: processing document %s on worker %d", docID, w)
					err := i.ProcessOne(ctx, docID)
					if err != nil {
						log.Printf("DocumentIngestor: document %s failed: %v", docID, err)
					}
					if i.OnComplete != nil {
						i.OnComplete(docID, err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a document ID for ingestion.
// If the queue is full, this call will block until space frees up.
func (i *DocumentIngestor) Enqueue(docID string) {
	i.jobs <- docID
}

// ProcessOne runs the full pipeline for one document: fetch, extract,
// chunk, dedupe by content hash, reserve quota, embed in batches and
// commit. Re-entrant: identical chunks are recognized by hash and are
// neither re-embedded nor charged again, so re-invoking after a partial
// failure is cheap and idempotent.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, docID string) error {
	procCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	doc, err := i.db.GetDocumentByID(procCtx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("document not found: %s", docID)
	}

	claimed, err := i.db.ClaimDocumentForProcessing(procCtx, docID)
	if err != nil {
		return fmt.Errorf("claim document: %w", err)
	}
	if !claimed {
		// Another worker is already on it.
		return nil
	}

	// fail records a human-readable message for the owner; a prior
	// ready chunk set, if any, stays authoritative.
	fail := func(msg string, err error) error {
		if derr := i.db.SetDocumentError(procCtx, docID, msg); derr != nil {
			log.Printf("DocumentIngestor: could not record error for %s: %v", docID, derr)
		}
		return fmt.Errorf("%s: %w", msg, err)
	}

	data, err := i.obj.GetFile(procCtx, doc.StorageKey)
	if err != nil {
		return fail("could not read the uploaded file from storage", err)
	}

	text, err := i.extractor.Extract(procCtx, data, doc.ContentType)
	if err != nil {
		return fail("could not extract text from the document", err)
	}

	if err := i.ledger.ResetIfDue(procCtx, doc.UserID); err != nil {
		return fail("could not refresh the monthly quota", err)
	}

	pieces := SplitText(text, i.cfg)
	existing, err := i.db.GetChunkHashes(procCtx, docID)
	if err != nil {
		return fail("could not load existing chunks", err)
	}

	var (
		newChunks []models.DocumentChunk
		newTokens int64
	)
	for _, p := range pieces {
		hash := HashContent(p.Content)
		if _, ok := existing[hash]; ok {
			continue
		}
		tokens := ApproxTokens(p.Content)
		newChunks = append(newChunks, models.DocumentChunk{
			ID:          uuid.NewString(),
			DocumentID:  docID,
			Position:    p.Position,
			Content:     p.Content,
			ContentHash: hash,
			TokenCount:  tokens,
		})
		newTokens += int64(tokens)
	}

	// Reserve both budgets before any embedding work; a rejected
	// reservation leaves no chunks behind.
	if newTokens > 0 {
		if err := i.ledger.Reserve(procCtx, doc.UserID, newTokens, quota.KindMonthly); err != nil {
			if errors.Is(err, core.ErrQuotaExceeded) {
				return fail("monthly import budget exceeded", err)
			}
			return fail("could not reserve monthly quota", err)
		}
		if err := i.ledger.Reserve(procCtx, doc.UserID, newTokens, quota.KindStorage); err != nil {
			_ = i.ledger.Release(procCtx, doc.UserID, newTokens, quota.KindMonthly)
			if errors.Is(err, core.ErrQuotaExceeded) {
				return fail("storage budget exceeded", err)
			}
			return fail("could not reserve storage quota", err)
		}
	}
	release := func() {
		_ = i.ledger.Release(procCtx, doc.UserID, newTokens, quota.KindMonthly)
		_ = i.ledger.Release(procCtx, doc.UserID, newTokens, quota.KindStorage)
	}

	// Embed sequentially in fixed-size batches to respect provider
	// rate limits.
	batchSize := i.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	for lo := 0; lo < len(newChunks); lo += batchSize {
		hi := lo + batchSize
		if hi > len(newChunks) {
			hi = len(newChunks)
		}
		texts := make([]string, 0, hi-lo)
		for _, ch := range newChunks[lo:hi] {
			texts = append(texts, ch.Content)
		}
		vecs, err := i.embedder.EmbedTexts(procCtx, texts)
		if err != nil {
			release()
			return fail("embedding provider failed", err)
		}
		if len(vecs) != len(texts) {
			release()
			return fail("embedding provider failed", fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)))
		}
		for k := range vecs {
			newChunks[lo+k].Embedding = vecs[k]
		}
	}

	if err := i.db.CommitDocumentChunks(procCtx, docID, newChunks); err != nil {
		release()
		return fail("could not persist document chunks", err)
	}

	log.Printf("DocumentIngestor: document %s ready (%d new chunks, %d tokens)", docID, len(newChunks), newTokens)
	return nil
}

var _ Ingestor = (*DocumentIngestor)(nil)
