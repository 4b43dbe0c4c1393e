package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Classmind/internal/core"
	"github.com/markdave123-py/Classmind/internal/core/coretest"
	"github.com/markdave123-py/Classmind/internal/core/ingestion_engine"
	"github.com/markdave123-py/Classmind/internal/core/quota"
	"github.com/markdave123-py/Classmind/internal/models"
)

const testMonthlyCap = 10_000

type engineFixture struct {
	db       *coretest.FakeDB
	embedder *coretest.FakeEmbedder
	llm      *coretest.FakeLLM
	engine   *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	fdb := coretest.NewFakeDB()
	embedder := coretest.NewFakeEmbedder(8)
	llm := &coretest.FakeLLM{}
	ledger := quota.NewLedger(fdb, 100_000, testMonthlyCap)
	engine := NewEngine(fdb, embedder, llm, ledger, Config{
		SimilarityThreshold: 0.5,
		DefaultTopK:         5,
		MaxTopK:             10,
	})
	return &engineFixture{db: fdb, embedder: embedder, llm: llm, engine: engine}
}

func (fx *engineFixture) seedReadyDocument(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.db.CreateDocument(context.Background(), &models.Document{
		ID: "doc-1", Scope: models.ScopeUser, UserID: "u1",
		Title: "Weather Notes", Status: models.StatusReady, Searchable: true,
	}))
}

func hit(id string, score float64) models.ScoredChunk {
	return models.ScoredChunk{
		DocumentChunk: models.DocumentChunk{ID: id, DocumentID: "doc-1", Content: "excerpt " + id},
		DocumentTitle: "Weather Notes",
		Scope:         models.ScopeUser,
		Score:         score,
	}
}

func TestAnswerEmptyCorpus(t *testing.T) {
	fx := newEngineFixture(t)

	_, err := fx.engine.Answer(context.Background(), &Request{UserID: "u1", Message: "hello"})
	require.ErrorIs(t, err, core.ErrEmptyCorpus)
	assert.Equal(t, 0, fx.embedder.Calls)
	assert.Equal(t, 0, fx.llm.Calls)
}

func TestAnswerRejectsExhaustedBudgetBeforeProviders(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedReadyDocument(t)
	fx.db.SetQuota("u1", 0, testMonthlyCap, quota.NextMonthStart(time.Now()))

	_, err := fx.engine.Answer(context.Background(), &Request{UserID: "u1", Message: "hello"})
	require.ErrorIs(t, err, core.ErrQuotaExceeded)
	assert.Equal(t, 0, fx.embedder.Calls)
	assert.Equal(t, 0, fx.llm.Calls)
}

func TestAnswerRejectsUnknownModes(t *testing.T) {
	fx := newEngineFixture(t)

	_, err := fx.engine.Answer(context.Background(), &Request{UserID: "u1", Message: "hi", Mode: "creative"})
	require.Error(t, err)

	_, err = fx.engine.Answer(context.Background(), &Request{UserID: "u1", Message: "hi", SearchMode: "deep"})
	require.Error(t, err)
}

func TestAnswerCorpusOnlyShortCircuitsOnNoMatch(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedReadyDocument(t)
	fx.db.SearchFunc = func(q core.ChunkSearchQuery) []models.ScoredChunk {
		return []models.ScoredChunk{hit("c1", 0.2)}
	}

	question := "something obscure"
	resp, err := fx.engine.Answer(context.Background(), &Request{
		UserID: "u1", Message: question, Mode: ModeCorpusOnly,
	})
	require.NoError(t, err)

	assert.Equal(t, NotFoundAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, 0, fx.llm.Calls, "the model must not be invoked")

	// Only the question embedding is charged.
	wantTokens := int64(ingestion_engine.ApproxTokens(question))
	assert.Equal(t, wantTokens, resp.TokensUsed)
	assert.Equal(t, int64(testMonthlyCap)-wantTokens, resp.TokensRemaining)
	assert.Equal(t, wantTokens, fx.db.Quota("u1").MonthlyTokensUsed)

	// The turn is still recorded.
	msgs := fx.db.Messages(resp.ConversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, NotFoundAnswer, msgs[1].Content)
}

func TestAnswerOrdersAndTruncatesSources(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedReadyDocument(t)
	fx.db.SearchFunc = func(q core.ChunkSearchQuery) []models.ScoredChunk {
		return []models.ScoredChunk{
			hit("c1", 0.9), hit("c2", 0.6), hit("c3", 0.8),
			hit("c4", 0.51), hit("c5", 0.7), hit("c6", 0.3),
		}
	}
	fx.llm.Response = "Clouds form by condensation [1]."

	resp, err := fx.engine.Answer(context.Background(), &Request{
		UserID: "u1", Message: "tell me about clouds forming", TopK: 3,
	})
	require.NoError(t, err)

	require.Len(t, resp.Sources, 3)
	assert.Equal(t, []string{"c1", "c3", "c5"},
		[]string{resp.Sources[0].ChunkID, resp.Sources[1].ChunkID, resp.Sources[2].ChunkID})
	assert.Equal(t, 1, fx.llm.Calls)
	assert.Equal(t, 1, fx.db.SearchCalls, "no subject detected, one unscoped search")

	// Generation cost is charged on top of the embedding cost.
	assert.Greater(t, resp.TokensUsed, int64(ingestion_engine.ApproxTokens("tell me about clouds forming")))
	assert.Equal(t, resp.TokensUsed, fx.db.Quota("u1").MonthlyTokensUsed)

	// The assistant message carries the citations.
	msgs := fx.db.Messages(resp.ConversationID)
	require.Len(t, msgs, 2)
	assert.Len(t, msgs[1].Sources, 3)
}

func TestAnswerSubjectScopedWithFallback(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedReadyDocument(t)

	var subjects []string
	fx.db.SearchFunc = func(q core.ChunkSearchQuery) []models.ScoredChunk {
		subjects = append(subjects, q.Subject)
		if q.Subject != "" {
			// Nothing above the threshold in the subject partition.
			return nil
		}
		return []models.ScoredChunk{hit("c1", 0.8)}
	}
	fx.llm.Response = "Gravity pulls objects together [1]."

	resp, err := fx.engine.Answer(context.Background(), &Request{
		UserID: "u1", Message: "how does gravity work",
	})
	require.NoError(t, err)

	require.Equal(t, []string{"physics", ""}, subjects, "subject partition first, then the whole corpus")
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "c1", resp.Sources[0].ChunkID)
}

func TestAnswerPreciseModeExpandsQueries(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedReadyDocument(t)
	fx.db.SearchFunc = func(q core.ChunkSearchQuery) []models.ScoredChunk {
		return []models.ScoredChunk{hit("c1", 0.8)}
	}
	fx.llm.RespondFunc = func(system, user string) (string, error) {
		switch {
		case strings.Contains(user, "Rewrite the following question"):
			return "expanded search query", nil
		case strings.Contains(user, "plausibly answer"):
			return "A plausible paragraph about the topic.", nil
		default:
			return "Final answer [1].", nil
		}
	}

	resp, err := fx.engine.Answer(context.Background(), &Request{
		UserID: "u1", Message: "tell me more", SearchMode: SearchPrecise,
	})
	require.NoError(t, err)

	// Two expansion generations plus the final answer.
	assert.Equal(t, 3, fx.llm.Calls)
	// One embedding call for the question, one for the two expansions.
	assert.Equal(t, 2, fx.embedder.Calls)
	assert.Equal(t, []int{1, 2}, fx.embedder.BatchSizes)
	// Three query vectors, one search each.
	assert.Equal(t, 3, fx.db.SearchCalls)

	assert.Equal(t, "Final answer [1].", resp.Answer)
	assert.Equal(t, SearchPrecise, resp.SearchMode)
}

func TestAnswerMergesDuplicateChunksByBestScore(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedReadyDocument(t)
	call := 0
	fx.db.SearchFunc = func(q core.ChunkSearchQuery) []models.ScoredChunk {
		call++
		if call == 1 {
			return []models.ScoredChunk{hit("c1", 0.6)}
		}
		return []models.ScoredChunk{hit("c1", 0.9), hit("c2", 0.7)}
	}
	fx.llm.RespondFunc = func(system, user string) (string, error) {
		return "ok [1]", nil
	}

	resp, err := fx.engine.Answer(context.Background(), &Request{
		UserID: "u1", Message: "tell me more", SearchMode: SearchPrecise,
	})
	require.NoError(t, err)

	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "c1", resp.Sources[0].ChunkID)
	assert.InDelta(t, 0.9, resp.Sources[0].Score, 1e-9, "best score per chunk wins")
	assert.Equal(t, "c2", resp.Sources[1].ChunkID)
}

func TestAnswerReusesOwnConversation(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedReadyDocument(t)
	fx.llm.Response = "Answer [1]."
	fx.db.SearchFunc = func(q core.ChunkSearchQuery) []models.ScoredChunk {
		return []models.ScoredChunk{hit("c1", 0.8)}
	}

	first, err := fx.engine.Answer(context.Background(), &Request{UserID: "u1", Message: "first question here"})
	require.NoError(t, err)

	second, err := fx.engine.Answer(context.Background(), &Request{
		UserID: "u1", Message: "and a follow-up", ConversationID: first.ConversationID,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Len(t, fx.db.Messages(first.ConversationID), 4)
}

func TestAnswerServesDocumentBeingReprocessed(t *testing.T) {
	fx := newEngineFixture(t)
	// A failed re-ingestion leaves the status at "error" while the last
	// committed chunk set stays searchable.
	require.NoError(t, fx.db.CreateDocument(context.Background(), &models.Document{
		ID: "doc-1", Scope: models.ScopeUser, UserID: "u1",
		Title: "Weather Notes", Status: models.StatusError, Searchable: true,
	}))
	fx.db.SearchFunc = func(q core.ChunkSearchQuery) []models.ScoredChunk {
		return []models.ScoredChunk{hit("c1", 0.8)}
	}
	fx.llm.Response = "Answer [1]."

	resp, err := fx.engine.Answer(context.Background(), &Request{UserID: "u1", Message: "tell me about clouds"})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
}

func TestAnswerTruncatesMultiByteTextOnRuneBoundaries(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedReadyDocument(t)
	longContent := strings.Repeat("水", 250)
	fx.db.SearchFunc = func(q core.ChunkSearchQuery) []models.ScoredChunk {
		return []models.ScoredChunk{{
			DocumentChunk: models.DocumentChunk{ID: "c1", DocumentID: "doc-1", Content: longContent},
			DocumentTitle: "Weather Notes",
			Scope:         models.ScopeUser,
			Score:         0.8,
		}}
	}
	fx.llm.Response = "答案 [1]。"

	message := strings.Repeat("水", 100)
	resp, err := fx.engine.Answer(context.Background(), &Request{UserID: "u1", Message: message})
	require.NoError(t, err)

	conv, err := fx.db.GetConversationByID(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.True(t, utf8.ValidString(conv.Title))
	assert.Equal(t, 80, utf8.RuneCountInString(conv.Title))

	require.Len(t, resp.Sources, 1)
	assert.True(t, utf8.ValidString(resp.Sources[0].Excerpt))
	assert.Equal(t, excerptLen, utf8.RuneCountInString(resp.Sources[0].Excerpt))
}

func TestAnswerReportsMissingEmbeddingVector(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedReadyDocument(t)
	engine := NewEngine(fx.db, emptyEmbedder{}, fx.llm, quota.NewLedger(fx.db, 100_000, testMonthlyCap), Config{
		SimilarityThreshold: 0.5, DefaultTopK: 5, MaxTopK: 10,
	})

	_, err := engine.Answer(context.Background(), &Request{UserID: "u1", Message: "hello there"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vector returned")
	assert.NotContains(t, err.Error(), "%!w")
}

func TestAnswerPersistFailureLeavesNoDanglingMessage(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedReadyDocument(t)
	fx.db.SearchFunc = func(q core.ChunkSearchQuery) []models.ScoredChunk {
		return []models.ScoredChunk{hit("c1", 0.8)}
	}
	fx.llm.Response = "Answer [1]."
	fx.db.TurnErr = errors.New("connection reset")

	_, err := fx.engine.Answer(context.Background(), &Request{UserID: "u1", Message: "hello there"})
	require.Error(t, err)

	// The turn is all-or-nothing: no lone user message survives.
	convs, lerr := fx.db.ListConversationsByUser(context.Background(), "u1")
	require.NoError(t, lerr)
	for _, conv := range convs {
		assert.Empty(t, fx.db.Messages(conv.ID))
	}
}

// emptyEmbedder reports success but returns no vectors.
type emptyEmbedder struct{}

func (emptyEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func TestAnswerRejectsForeignConversation(t *testing.T) {
	fx := newEngineFixture(t)
	fx.seedReadyDocument(t)
	require.NoError(t, fx.db.CreateConversation(context.Background(), &models.Conversation{
		ID: "conv-other", UserID: "someone-else", Title: "private",
	}))

	_, err := fx.engine.Answer(context.Background(), &Request{
		UserID: "u1", Message: "hello there", ConversationID: "conv-other",
	})
	require.ErrorIs(t, err, core.ErrNotFound)
}
