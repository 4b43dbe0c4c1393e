package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Classmind/internal/core"
	"github.com/markdave123-py/Classmind/internal/core/ingestion_engine"
	"github.com/markdave123-py/Classmind/internal/core/quota"
	"github.com/markdave123-py/Classmind/internal/models"
)

// Mode is the answer policy: strictly grounded in retrieved excerpts,
// or grounded plus clearly marked model knowledge.
type Mode string

const (
	ModeCorpusOnly   Mode = "corpus_only"
	ModeCorpusPlusAI Mode = "corpus_plus_ai"
)

// SearchMode selects the retrieval intensity. Precise adds query
// reformulation and a hypothetical-answer expansion, costing extra
// latency and tokens.
type SearchMode string

const (
	SearchFast    SearchMode = "fast"
	SearchPrecise SearchMode = "precise"
)

const excerptLen = 200

type Config struct {
	SimilarityThreshold float64
	DefaultTopK         int
	MaxTopK             int
	MaxContextChars     int
	HistoryLimit        int
}

type Request struct {
	UserID         string
	Role           string
	Message        string
	Mode           Mode
	SearchMode     SearchMode
	ConversationID string
	DocumentID     string
	TopK           int
}

type Response struct {
	Answer          string              `json:"answer"`
	Sources         []models.ChatSource `json:"sources"`
	ConversationID  string              `json:"conversationId"`
	TokensUsed      int64               `json:"tokensUsed"`
	TokensRemaining int64               `json:"tokensRemaining"`
	Mode            Mode                `json:"mode"`
	SearchMode      SearchMode          `json:"searchMode"`
}

// Engine answers questions against the user's corpus: embed, search,
// assemble context, generate, cite and debit.
type Engine struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
	ledger   *quota.Ledger
	cfg      Config
}

func NewEngine(db core.DbClient, emb core.EmbeddingProvider, llm core.LLMProvider, ledger *quota.Ledger, cfg Config) *Engine {
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 8000
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Engine{db: db, embedder: emb, llm: llm, ledger: ledger, cfg: cfg}
}

func (e *Engine) Answer(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("message is empty")
	}
	switch req.Mode {
	case ModeCorpusOnly, ModeCorpusPlusAI:
	case "":
		req.Mode = ModeCorpusOnly
	default:
		return nil, fmt.Errorf("unknown mode %q", req.Mode)
	}
	switch req.SearchMode {
	case SearchFast, SearchPrecise:
	case "":
		req.SearchMode = SearchFast
	default:
		return nil, fmt.Errorf("unknown search mode %q", req.SearchMode)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	if topK > e.cfg.MaxTopK {
		topK = e.cfg.MaxTopK
	}

	if err := e.ledger.ResetIfDue(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("quota reset: %w", err)
	}
	status, err := e.ledger.Status(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("quota status: %w", err)
	}
	// Reject before any provider call when the balance is gone.
	if status.MonthlyRemaining <= 0 {
		return nil, fmt.Errorf("%w: monthly budget", core.ErrQuotaExceeded)
	}

	searchable, err := e.db.CountSearchableDocuments(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if searchable == 0 {
		return nil, core.ErrEmptyCorpus
	}

	conv, history, err := e.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	var tokensUsed int64
	vecs, err := e.embedder.EmbedTexts(ctx, []string{req.Message})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed question: no vector returned")
	}
	tokensUsed += int64(ingestion_engine.ApproxTokens(req.Message))
	queryVecs := [][]float32{vecs[0]}

	if req.SearchMode == SearchPrecise {
		expVecs, expTokens, err := e.expandQuery(ctx, req.Message)
		if err != nil {
			return nil, err
		}
		queryVecs = append(queryVecs, expVecs...)
		tokensUsed += expTokens
	}

	subject := DetectSubject(req.Message)
	candidates, err := e.collectCandidates(ctx, req, queryVecs, subject, topK)
	if err != nil {
		return nil, err
	}

	// Re-rank merged candidates by best score, then truncate.
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].Score > candidates[b].Score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	// corpus_only with nothing above the threshold short-circuits:
	// deterministic answer, no completion call, only embedding cost.
	if req.Mode == ModeCorpusOnly && len(candidates) == 0 {
		if err := e.persistTurn(ctx, conv, req.Message, NotFoundAnswer, nil); err != nil {
			return nil, err
		}
		e.debit(ctx, req.UserID, tokensUsed)
		return e.respond(ctx, req, conv.ID, NotFoundAnswer, nil, tokensUsed)
	}

	systemPrompt := systemPromptFor(req.Mode)
	userPrompt := buildUserPrompt(req.Message, candidates, history, e.cfg.MaxContextChars)

	answer, err := e.llm.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	tokensUsed += int64(ingestion_engine.ApproxTokens(systemPrompt + userPrompt))
	tokensUsed += int64(ingestion_engine.ApproxTokens(answer))

	sources := toSources(candidates)
	if err := e.persistTurn(ctx, conv, req.Message, answer, sources); err != nil {
		return nil, err
	}
	e.debit(ctx, req.UserID, tokensUsed)

	return e.respond(ctx, req, conv.ID, answer, sources, tokensUsed)
}

// resolveConversation loads the requested conversation (checking
// ownership) or lazily creates one, and returns the recent history.
func (e *Engine) resolveConversation(ctx context.Context, req *Request) (*models.Conversation, []models.ChatMessage, error) {
	if req.ConversationID != "" {
		conv, err := e.db.GetConversationByID(ctx, req.ConversationID)
		if err != nil {
			return nil, nil, fmt.Errorf("load conversation: %w", err)
		}
		if conv == nil || conv.UserID != req.UserID {
			return nil, nil, fmt.Errorf("%w: conversation %s", core.ErrNotFound, req.ConversationID)
		}
		history, err := e.db.GetMessagesByConversation(ctx, conv.ID, e.cfg.HistoryLimit)
		if err != nil {
			return nil, nil, fmt.Errorf("load history: %w", err)
		}
		return conv, history, nil
	}

	title := truncateRunes(req.Message, 80)
	conv := &models.Conversation{ID: uuid.NewString(), UserID: req.UserID, Title: title}
	if err := e.db.CreateConversation(ctx, conv); err != nil {
		return nil, nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil, nil
}

// expandQuery runs the two recall-boosting generations in parallel and
// embeds their outputs, returning extra query vectors and the token
// cost incurred.
func (e *Engine) expandQuery(ctx context.Context, question string) ([][]float32, int64, error) {
	var (
		reformulated string
		hypothetical string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := e.llm.Generate(gctx, "", fmt.Sprintf(reformulatePrompt, question))
		if err != nil {
			return err
		}
		reformulated = strings.TrimSpace(out)
		return nil
	})
	g.Go(func() error {
		out, err := e.llm.Generate(gctx, "", fmt.Sprintf(hypotheticalPrompt, question))
		if err != nil {
			return err
		}
		hypothetical = strings.TrimSpace(out)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("query expansion: %w", err)
	}

	var texts []string
	var tokens int64
	for _, t := range []string{reformulated, hypothetical} {
		if t != "" {
			texts = append(texts, t)
			tokens += int64(ingestion_engine.ApproxTokens(question) + ingestion_engine.ApproxTokens(t))
		}
	}
	if len(texts) == 0 {
		return nil, tokens, nil
	}
	vecs, err := e.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, 0, fmt.Errorf("embed expansions: %w", err)
	}
	return vecs, tokens, nil
}

// collectCandidates searches with every query vector and merges hits by
// chunk ID, keeping the best score per chunk.
func (e *Engine) collectCandidates(ctx context.Context, req *Request, queryVecs [][]float32, subject string, topK int) ([]models.ScoredChunk, error) {
	merged := make(map[string]models.ScoredChunk)
	for _, vec := range queryVecs {
		hits, err := e.searchWithFallback(ctx, req.UserID, vec, subject, req.DocumentID, topK)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if prev, ok := merged[h.ID]; !ok || h.Score > prev.Score {
				merged[h.ID] = h
			}
		}
	}
	out := make([]models.ScoredChunk, 0, len(merged))
	for _, h := range merged {
		out = append(out, h)
	}
	return out, nil
}

// searchWithFallback tries the subject partition first; when no result
// clears the threshold there, it widens to the whole corpus available
// to the account.
func (e *Engine) searchWithFallback(ctx context.Context, userID string, vec []float32, subject, documentID string, limit int) ([]models.ScoredChunk, error) {
	if subject != "" {
		hits, err := e.db.SearchChunks(ctx, core.ChunkSearchQuery{
			UserID: userID, Vector: vec, Subject: subject, DocumentID: documentID, Limit: limit,
		})
		if err != nil {
			return nil, fmt.Errorf("search chunks: %w", err)
		}
		hits = e.aboveThreshold(hits)
		if len(hits) > 0 {
			return hits, nil
		}
	}
	hits, err := e.db.SearchChunks(ctx, core.ChunkSearchQuery{
		UserID: userID, Vector: vec, DocumentID: documentID, Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return e.aboveThreshold(hits), nil
}

func (e *Engine) aboveThreshold(hits []models.ScoredChunk) []models.ScoredChunk {
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= e.cfg.SimilarityThreshold {
			out = append(out, h)
		}
	}
	return out
}

func (e *Engine) persistTurn(ctx context.Context, conv *models.Conversation, question, answer string, sources []models.ChatSource) error {
	userMsg := &models.ChatMessage{
		ID: uuid.NewString(), ConversationID: conv.ID, Role: "user", Content: question,
	}
	asstMsg := &models.ChatMessage{
		ID: uuid.NewString(), ConversationID: conv.ID, Role: "assistant", Content: answer, Sources: sources,
	}
	if err := e.db.AddChatTurn(ctx, userMsg, asstMsg); err != nil {
		return fmt.Errorf("persist chat turn: %w", err)
	}
	return nil
}

// debit charges measured usage against the monthly budget. A mid-call
// cap crossing clamps to whatever remains rather than failing the
// already-answered request.
func (e *Engine) debit(ctx context.Context, userID string, tokens int64) {
	err := e.ledger.Reserve(ctx, userID, tokens, quota.KindMonthly)
	if err == nil {
		return
	}
	if errors.Is(err, core.ErrQuotaExceeded) {
		if st, serr := e.ledger.Status(ctx, userID); serr == nil && st.MonthlyRemaining > 0 {
			_ = e.ledger.Reserve(ctx, userID, st.MonthlyRemaining, quota.KindMonthly)
		}
		return
	}
	log.Printf("retrieval: could not debit %d tokens for user %s: %v", tokens, userID, err)
}

func (e *Engine) respond(ctx context.Context, req *Request, convID, answer string, sources []models.ChatSource, tokensUsed int64) (*Response, error) {
	status, err := e.ledger.Status(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("quota status: %w", err)
	}
	if sources == nil {
		sources = []models.ChatSource{}
	}
	return &Response{
		Answer:          answer,
		Sources:         sources,
		ConversationID:  convID,
		TokensUsed:      tokensUsed,
		TokensRemaining: status.MonthlyRemaining,
		Mode:            req.Mode,
		SearchMode:      req.SearchMode,
	}, nil
}

// truncateRunes shortens s to at most n runes. Cutting on rune
// boundaries keeps multi-byte text valid UTF-8.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func toSources(chunks []models.ScoredChunk) []models.ChatSource {
	out := make([]models.ChatSource, 0, len(chunks))
	for _, ch := range chunks {
		excerpt := truncateRunes(ch.Content, excerptLen)
		out = append(out, models.ChatSource{
			DocumentID:    ch.DocumentID,
			DocumentTitle: ch.DocumentTitle,
			ChunkID:       ch.ID,
			ChunkIndex:    ch.Position,
			Excerpt:       excerpt,
			Score:         ch.Score,
			Scope:         ch.Scope,
		})
	}
	return out
}
