// Package coretest provides in-memory fakes of the core interfaces for
// package-level tests. The fakes mirror the conditional-update semantics
// of the real Postgres client so quota and claim behavior can be tested
// under concurrency.
package coretest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markdave123-py/Classmind/internal/core"
	"github.com/markdave123-py/Classmind/internal/models"
)

// FakeDB is an in-memory core.DbClient. All methods are safe for
// concurrent use.
type FakeDB struct {
	mu sync.Mutex

	users         map[string]models.User // keyed by email
	documents     map[string]models.Document
	chunks        map[string][]models.DocumentChunk // keyed by document ID
	conversations map[string]models.Conversation
	messages      map[string][]models.ChatMessage // keyed by conversation ID
	quotas        map[string]models.QuotaState

	// SearchFunc, when set, answers SearchChunks. Defaults to no hits.
	SearchFunc func(q core.ChunkSearchQuery) []models.ScoredChunk

	// TurnErr, when set, fails AddChatTurn.
	TurnErr error

	SearchCalls int
}

func NewFakeDB() *FakeDB {
	return &FakeDB{
		users:         make(map[string]models.User),
		documents:     make(map[string]models.Document),
		chunks:        make(map[string][]models.DocumentChunk),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.ChatMessage),
		quotas:        make(map[string]models.QuotaState),
	}
}

func (f *FakeDB) CreateUser(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.Email]; ok {
		return fmt.Errorf("user %s already exists", user.Email)
	}
	f.users[user.Email] = *user
	return nil
}

func (f *FakeDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[email]; ok {
		return &u, nil
	}
	return nil, nil
}

func (f *FakeDB) CreateDocument(ctx context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[doc.ID] = *doc
	return nil
}

func (f *FakeDB) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.documents[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (f *FakeDB) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.documents {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *FakeDB) DeleteDocument(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.documents, id)
	delete(f.chunks, id)
	return nil
}

func (f *FakeDB) UpdateDocumentScope(ctx context.Context, id, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	d.Scope = scope
	f.documents[id] = d
	return nil
}

func (f *FakeDB) ClaimDocumentForProcessing(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok || d.Status == models.StatusProcessing {
		return false, nil
	}
	d.Status = models.StatusProcessing
	d.ErrorMessage = ""
	f.documents[id] = d
	return true, nil
}

func (f *FakeDB) SetDocumentError(ctx context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	d.Status = models.StatusError
	d.ErrorMessage = message
	f.documents[id] = d
	return nil
}

func (f *FakeDB) CommitDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return fmt.Errorf("document %s not found", documentID)
	}
	existing := make(map[string]struct{}, len(f.chunks[documentID]))
	for _, ch := range f.chunks[documentID] {
		existing[ch.ContentHash] = struct{}{}
	}
	for _, ch := range chunks {
		if _, dup := existing[ch.ContentHash]; dup {
			continue
		}
		existing[ch.ContentHash] = struct{}{}
		f.chunks[documentID] = append(f.chunks[documentID], ch)
	}
	d.ChunkCount = len(f.chunks[documentID])
	tokens := 0
	for _, ch := range f.chunks[documentID] {
		tokens += ch.TokenCount
	}
	d.TokenCount = tokens
	d.Status = models.StatusReady
	d.Searchable = true
	d.ErrorMessage = ""
	f.documents[documentID] = d
	return nil
}

func (f *FakeDB) GetChunkHashes(ctx context.Context, documentID string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{}, len(f.chunks[documentID]))
	for _, ch := range f.chunks[documentID] {
		out[ch.ContentHash] = struct{}{}
	}
	return out, nil
}

func (f *FakeDB) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DocumentChunk(nil), f.chunks[documentID]...), nil
}

func (f *FakeDB) SearchChunks(ctx context.Context, q core.ChunkSearchQuery) ([]models.ScoredChunk, error) {
	f.mu.Lock()
	f.SearchCalls++
	fn := f.SearchFunc
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(q), nil
}

func (f *FakeDB) CountSearchableDocuments(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.documents {
		if d.Searchable && (d.UserID == userID || d.Scope == models.ScopeGlobal) {
			n++
		}
	}
	return n, nil
}

func (f *FakeDB) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[conv.ID] = *conv
	return nil
}

func (f *FakeDB) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conversations[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *FakeDB) ListConversationsByUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Conversation
	for _, c := range f.conversations {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

// AddChatTurn appends both messages under one lock: like the real
// client's transaction, either the whole turn lands or none of it.
func (f *FakeDB) AddChatTurn(ctx context.Context, userMsg, assistantMsg *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TurnErr != nil {
		return f.TurnErr
	}
	f.messages[userMsg.ConversationID] = append(f.messages[userMsg.ConversationID], *userMsg, *assistantMsg)
	return nil
}

func (f *FakeDB) GetMessagesByConversation(ctx context.Context, conversationID string, limit int) ([]models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.ChatMessage(nil), msgs...), nil
}

func (f *FakeDB) EnsureQuota(ctx context.Context, userID string, resetDate time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.quotas[userID]; !ok {
		f.quotas[userID] = models.QuotaState{UserID: userID, ResetDate: resetDate}
	}
	return nil
}

func (f *FakeDB) GetQuota(ctx context.Context, userID string) (*models.QuotaState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.quotas[userID]; ok {
		return &q, nil
	}
	return nil, nil
}

func (f *FakeDB) ReserveQuotaTokens(ctx context.Context, userID, kind string, tokens, cap int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotas[userID]
	if !ok {
		return false, fmt.Errorf("quota row missing for %s", userID)
	}
	switch kind {
	case "storage":
		if q.StorageTokensUsed+tokens > cap {
			return false, nil
		}
		q.StorageTokensUsed += tokens
	case "monthly":
		if q.MonthlyTokensUsed+tokens > cap {
			return false, nil
		}
		q.MonthlyTokensUsed += tokens
	default:
		return false, fmt.Errorf("unknown quota kind %q", kind)
	}
	f.quotas[userID] = q
	return true, nil
}

func (f *FakeDB) ReleaseQuotaTokens(ctx context.Context, userID, kind string, tokens int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotas[userID]
	if !ok {
		return nil
	}
	switch kind {
	case "storage":
		q.StorageTokensUsed -= tokens
		if q.StorageTokensUsed < 0 {
			q.StorageTokensUsed = 0
		}
	case "monthly":
		q.MonthlyTokensUsed -= tokens
		if q.MonthlyTokensUsed < 0 {
			q.MonthlyTokensUsed = 0
		}
	}
	f.quotas[userID] = q
	return nil
}

func (f *FakeDB) ResetMonthlyQuota(ctx context.Context, userID string, expected, next time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotas[userID]
	if !ok || !q.ResetDate.Equal(expected) {
		return false, nil
	}
	q.MonthlyTokensUsed = 0
	q.ResetDate = next
	f.quotas[userID] = q
	return true, nil
}

func (f *FakeDB) Close() error { return nil }

// SetQuota seeds a quota row directly, for tests exercising balances.
func (f *FakeDB) SetQuota(userID string, storageUsed, monthlyUsed int64, resetDate time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotas[userID] = models.QuotaState{
		UserID:            userID,
		StorageTokensUsed: storageUsed,
		MonthlyTokensUsed: monthlyUsed,
		ResetDate:         resetDate,
	}
}

// Quota returns the current quota row, or a zero value when absent.
func (f *FakeDB) Quota(userID string) models.QuotaState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotas[userID]
}

// Document returns the current document row, or nil when absent.
func (f *FakeDB) Document(id string) *models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.documents[id]; ok {
		return &d
	}
	return nil
}

// Chunks returns the stored chunks of a document.
func (f *FakeDB) Chunks(documentID string) []models.DocumentChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DocumentChunk(nil), f.chunks[documentID]...)
}

// Messages returns the stored messages of a conversation.
func (f *FakeDB) Messages(conversationID string) []models.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ChatMessage(nil), f.messages[conversationID]...)
}

// DocumentCount reports how many document rows exist.
func (f *FakeDB) DocumentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.documents)
}

var _ core.DbClient = (*FakeDB)(nil)

// FakeObjectStore is an in-memory core.ObjectClient.
type FakeObjectStore struct {
	mu sync.Mutex

	Files map[string][]byte

	// PresignErr, when set, fails PresignPutURL.
	PresignErr error

	PresignCalls int
	Deleted      []string
}

func NewFakeObjectStore() *FakeObjectStore {
	return &FakeObjectStore{Files: make(map[string][]byte)}
}

func (f *FakeObjectStore) UploadFile(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files[key] = append([]byte(nil), data...)
	return "https://fake-bucket/" + key, nil
}

func (f *FakeObjectStore) GetFile(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Files[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

func (f *FakeObjectStore) DeleteFile(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Files, key)
	f.Deleted = append(f.Deleted, key)
	return nil
}

func (f *FakeObjectStore) PresignPutURL(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PresignCalls++
	if f.PresignErr != nil {
		return "", f.PresignErr
	}
	return "https://fake-bucket/" + key + "?presigned=1", nil
}

var _ core.ObjectClient = (*FakeObjectStore)(nil)

// FakeEmbedder returns deterministic vectors derived from text length.
type FakeEmbedder struct {
	mu sync.Mutex

	Dim int
	Err error

	Calls      int
	BatchSizes []int
}

func NewFakeEmbedder(dim int) *FakeEmbedder { return &FakeEmbedder{Dim: dim} }

func (f *FakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	f.BatchSizes = append(f.BatchSizes, len(texts))
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, f.Dim)
		for j := range vec {
			vec[j] = float32((len(t)+i+j)%7) / 7
		}
		out[i] = vec
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*FakeEmbedder)(nil)

// FakeLLM answers with Response, or via RespondFunc when set.
type FakeLLM struct {
	mu sync.Mutex

	Response    string
	RespondFunc func(systemPrompt, userPrompt string) (string, error)
	Err         error

	Calls   int
	Prompts []string
}

func (f *FakeLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	f.Prompts = append(f.Prompts, userPrompt)
	if f.Err != nil {
		return "", f.Err
	}
	if f.RespondFunc != nil {
		return f.RespondFunc(systemPrompt, userPrompt)
	}
	if f.Response == "" {
		return "fake answer", nil
	}
	return f.Response, nil
}

var _ core.LLMProvider = (*FakeLLM)(nil)
