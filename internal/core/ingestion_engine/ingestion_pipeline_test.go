package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Classmind/internal/core"
	"github.com/markdave123-py/Classmind/internal/core/coretest"
	"github.com/markdave123-py/Classmind/internal/core/quota"
	"github.com/markdave123-py/Classmind/internal/models"
)

type pipelineFixture struct {
	db       *coretest.FakeDB
	store    *coretest.FakeObjectStore
	embedder *coretest.FakeEmbedder
	ingestor *DocumentIngestor
}

func newPipelineFixture(t *testing.T, storageCap, monthlyCap int64) *pipelineFixture {
	t.Helper()
	fdb := coretest.NewFakeDB()
	store := coretest.NewFakeObjectStore()
	embedder := coretest.NewFakeEmbedder(8)
	ledger := quota.NewLedger(fdb, storageCap, monthlyCap)
	cfg := &IngestConfig{TargetSize: 300, MinSize: 100, MaxSize: 500, Overlap: 50, BatchSize: 4}
	ing := NewDocumentIngestor(fdb, store, embedder, NewDocconvExtractor(false), ledger, cfg)
	return &pipelineFixture{db: fdb, store: store, embedder: embedder, ingestor: ing}
}

func (fx *pipelineFixture) seedDocument(t *testing.T, text string) *models.Document {
	t.Helper()
	doc := &models.Document{
		ID:          "doc-1",
		Scope:       models.ScopeUser,
		UserID:      "u1",
		Title:       "Water Cycle Notes",
		FileName:    "notes.txt",
		ContentType: "text/plain",
		StorageKey:  "u1/doc-1/notes.txt",
		Status:      models.StatusUploaded,
	}
	require.NoError(t, fx.db.CreateDocument(context.Background(), doc))
	fx.store.Files[doc.StorageKey] = []byte(text)
	return doc
}

func sampleText() string {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "Lesson %d explains how evaporation lifts water into the atmosphere before it condenses. ", i)
	}
	return b.String()
}

func TestProcessOneHappyPath(t *testing.T) {
	fx := newPipelineFixture(t, 100_000, 100_000)
	doc := fx.seedDocument(t, sampleText())

	require.NoError(t, fx.ingestor.ProcessOne(context.Background(), doc.ID))

	got := fx.db.Document(doc.ID)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusReady, got.Status)
	assert.True(t, got.Searchable)
	assert.Empty(t, got.ErrorMessage)
	assert.Greater(t, got.ChunkCount, 1)
	assert.Greater(t, got.TokenCount, 0)

	chunks := fx.db.Chunks(doc.ID)
	require.Len(t, chunks, got.ChunkCount)
	for _, ch := range chunks {
		assert.NotEmpty(t, ch.ContentHash)
		assert.Len(t, ch.Embedding, 8)
		assert.Equal(t, ApproxTokens(ch.Content), ch.TokenCount)
	}

	// Both budgets were charged the same amount.
	q := fx.db.Quota("u1")
	assert.Equal(t, int64(got.TokenCount), q.StorageTokensUsed)
	assert.Equal(t, int64(got.TokenCount), q.MonthlyTokensUsed)

	// Batches respect the configured size.
	for _, n := range fx.embedder.BatchSizes {
		assert.LessOrEqual(t, n, 4)
	}
}

func TestProcessOneIsIdempotent(t *testing.T) {
	fx := newPipelineFixture(t, 100_000, 100_000)
	doc := fx.seedDocument(t, sampleText())

	require.NoError(t, fx.ingestor.ProcessOne(context.Background(), doc.ID))
	first := fx.db.Document(doc.ID)
	firstQuota := fx.db.Quota("u1")
	embedCalls := fx.embedder.Calls

	// Re-ingesting the same bytes recognizes every chunk by hash:
	// nothing is re-embedded, nothing is re-charged.
	require.NoError(t, fx.ingestor.ProcessOne(context.Background(), doc.ID))
	second := fx.db.Document(doc.ID)

	assert.Equal(t, models.StatusReady, second.Status)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)
	assert.Equal(t, first.TokenCount, second.TokenCount)
	assert.Equal(t, firstQuota, fx.db.Quota("u1"))
	assert.Equal(t, embedCalls, fx.embedder.Calls)
}

func TestProcessOneMonthlyQuotaExceeded(t *testing.T) {
	fx := newPipelineFixture(t, 100_000, 10)
	doc := fx.seedDocument(t, sampleText())

	err := fx.ingestor.ProcessOne(context.Background(), doc.ID)
	require.ErrorIs(t, err, core.ErrQuotaExceeded)

	got := fx.db.Document(doc.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "monthly")
	assert.Empty(t, fx.db.Chunks(doc.ID))

	// The failed reservation left both budgets untouched.
	q := fx.db.Quota("u1")
	assert.Equal(t, int64(0), q.MonthlyTokensUsed)
	assert.Equal(t, int64(0), q.StorageTokensUsed)
	assert.Equal(t, 0, fx.embedder.Calls)
}

func TestProcessOneStorageQuotaExceededReleasesMonthly(t *testing.T) {
	fx := newPipelineFixture(t, 10, 100_000)
	doc := fx.seedDocument(t, sampleText())

	err := fx.ingestor.ProcessOne(context.Background(), doc.ID)
	require.ErrorIs(t, err, core.ErrQuotaExceeded)

	got := fx.db.Document(doc.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "storage")

	q := fx.db.Quota("u1")
	assert.Equal(t, int64(0), q.MonthlyTokensUsed)
	assert.Equal(t, int64(0), q.StorageTokensUsed)
}

func TestProcessOneEmbedFailureReleasesReservations(t *testing.T) {
	fx := newPipelineFixture(t, 100_000, 100_000)
	doc := fx.seedDocument(t, sampleText())
	fx.embedder.Err = errors.New("rate limited")

	err := fx.ingestor.ProcessOne(context.Background(), doc.ID)
	require.Error(t, err)

	got := fx.db.Document(doc.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Empty(t, fx.db.Chunks(doc.ID))

	q := fx.db.Quota("u1")
	assert.Equal(t, int64(0), q.MonthlyTokensUsed)
	assert.Equal(t, int64(0), q.StorageTokensUsed)
}

func TestFailedReingestionKeepsPriorChunksSearchable(t *testing.T) {
	fx := newPipelineFixture(t, 100_000, 100_000)
	doc := fx.seedDocument(t, sampleText())

	require.NoError(t, fx.ingestor.ProcessOne(context.Background(), doc.ID))
	committed := fx.db.Chunks(doc.ID)
	require.NotEmpty(t, committed)

	// Re-ingest the ready document with a broken provider.
	fx.embedder.Err = errors.New("rate limited")
	fx.store.Files[doc.StorageKey] = []byte(sampleText() + "A brand new closing paragraph worth embedding.")
	require.Error(t, fx.ingestor.ProcessOne(context.Background(), doc.ID))

	// The document reports the failure, but its last committed chunk set
	// stays authoritative for retrieval.
	got := fx.db.Document(doc.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.True(t, got.Searchable)
	assert.Equal(t, committed, fx.db.Chunks(doc.ID))

	n, err := fx.db.CountSearchableDocuments(context.Background(), doc.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFirstIngestionFailureIsNotSearchable(t *testing.T) {
	fx := newPipelineFixture(t, 100_000, 100_000)
	doc := fx.seedDocument(t, sampleText())
	fx.embedder.Err = errors.New("rate limited")

	require.Error(t, fx.ingestor.ProcessOne(context.Background(), doc.ID))
	got := fx.db.Document(doc.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.False(t, got.Searchable)
}

func TestProcessOneMissingObjectSetsError(t *testing.T) {
	fx := newPipelineFixture(t, 100_000, 100_000)
	doc := fx.seedDocument(t, sampleText())
	delete(fx.store.Files, doc.StorageKey)

	require.Error(t, fx.ingestor.ProcessOne(context.Background(), doc.ID))
	assert.Equal(t, models.StatusError, fx.db.Document(doc.ID).Status)
}

func TestProcessOneSkipsWhenAlreadyClaimed(t *testing.T) {
	fx := newPipelineFixture(t, 100_000, 100_000)
	doc := fx.seedDocument(t, sampleText())

	claimed, err := fx.db.ClaimDocumentForProcessing(context.Background(), doc.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// A second worker finds the claim held and backs off without touching
	// storage or the providers.
	require.NoError(t, fx.ingestor.ProcessOne(context.Background(), doc.ID))
	assert.Equal(t, models.StatusProcessing, fx.db.Document(doc.ID).Status)
	assert.Equal(t, 0, fx.embedder.Calls)
	assert.Empty(t, fx.db.Chunks(doc.ID))
}

func TestProcessOneUnknownDocument(t *testing.T) {
	fx := newPipelineFixture(t, 100_000, 100_000)
	require.Error(t, fx.ingestor.ProcessOne(context.Background(), "missing"))
}
