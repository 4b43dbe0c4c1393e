package models

import (
	"time"
)

// Document lifecycle statuses.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Document/chunk ownership scopes.
const (
	ScopeUser   = "user"
	ScopeGlobal = "global"
)

// User roles. Admins may publish documents into the global corpus.
const (
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents an uploaded reference document.
type Document struct {
	ID           string    `db:"id" json:"id"`
	Scope        string    `db:"scope" json:"scope"` // "user" or "global"
	UserID       string    `db:"user_id" json:"user_id"`
	Title        string    `db:"title" json:"title"`
	FileName     string    `db:"file_name" json:"file_name"`
	ContentType  string    `db:"content_type" json:"content_type"`
	StorageKey   string    `db:"storage_key" json:"storage_key"`
	DeclaredSize int64     `db:"declared_size" json:"declared_size"`
	Subject      string    `db:"subject" json:"subject,omitempty"`
	Status       string    `db:"status" json:"status"` // uploaded | processing | ready | error
	Searchable   bool      `db:"searchable" json:"searchable"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	ChunkCount   int       `db:"chunk_count" json:"chunk_count"`
	TokenCount   int       `db:"token_count" json:"token_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one text chunk from a document.
type DocumentChunk struct {
	ID          string    `db:"id" json:"id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	Position    int       `db:"position" json:"position"`
	Content     string    `db:"content" json:"content"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	Embedding   []float32 `db:"embedding" json:"-"` // pgvector column
	TokenCount  int       `db:"token_count" json:"token_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ScoredChunk is a retrieval hit: a chunk plus its similarity score and
// the owning document's title/scope for citation.
type ScoredChunk struct {
	DocumentChunk
	DocumentTitle string  `json:"document_title"`
	Scope         string  `json:"scope"`
	Score         float64 `json:"score"`
}

// Conversation groups the chat messages of one user.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ChatSource cites one retrieved chunk in an assistant message.
type ChatSource struct {
	DocumentID    string  `json:"documentId"`
	DocumentTitle string  `json:"documentTitle"`
	ChunkID       string  `json:"chunkId"`
	ChunkIndex    int     `json:"chunkIndex"`
	Excerpt       string  `json:"excerpt"`
	Score         float64 `json:"score"`
	Scope         string  `json:"scope"`
}

// ChatMessage represents an individual chat message (user or assistant).
// Assistant messages carry the sources used for the answer.
type ChatMessage struct {
	ID             string       `db:"id" json:"id"`
	ConversationID string       `db:"conversation_id" json:"conversation_id"`
	Role           string       `db:"role" json:"role"` // "user" or "assistant"
	Content        string       `db:"content" json:"content"`
	Sources        []ChatSource `db:"sources" json:"sources,omitempty"` // jsonb column
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// QuotaState tracks the two token budgets of one account.
// StorageTokensUsed only decreases through document deletion;
// MonthlyTokensUsed is zeroed at the start of each month.
type QuotaState struct {
	UserID            string    `db:"user_id" json:"user_id"`
	StorageTokensUsed int64     `db:"storage_tokens_used" json:"storage_tokens_used"`
	MonthlyTokensUsed int64     `db:"monthly_tokens_used" json:"monthly_tokens_used"`
	ResetDate         time.Time `db:"reset_date" json:"reset_date"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}
