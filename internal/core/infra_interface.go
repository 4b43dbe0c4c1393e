package core

import (
	"context"
	"time"

	"github.com/markdave123-py/Classmind/internal/models"
)

// ChunkSearchQuery scopes a similarity search. Vector is mandatory;
// Subject and DocumentID narrow the partition when non-empty. Results
// always cover the caller's own documents plus the global corpus.
type ChunkSearchQuery struct {
	UserID     string
	Vector     []float32
	Subject    string
	DocumentID string
	Limit      int
}

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	UpdateDocumentScope(ctx context.Context, id, scope string) error

	// ClaimDocumentForProcessing moves a document to "processing" only
	// if it is not already being processed. Returns false when another
	// worker holds the claim.
	ClaimDocumentForProcessing(ctx context.Context, id string) (bool, error)
	SetDocumentError(ctx context.Context, id, message string) error

	// CommitDocumentChunks inserts the new chunks and flips the
	// document to "ready" with refreshed counters, all in one
	// transaction.
	CommitDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	GetChunkHashes(ctx context.Context, documentID string) (map[string]struct{}, error)
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	SearchChunks(ctx context.Context, q ChunkSearchQuery) ([]models.ScoredChunk, error)
	// CountSearchableDocuments counts the documents whose committed
	// chunks the user can search (their own plus the global corpus).
	CountSearchableDocuments(ctx context.Context, userID string) (int, error)

	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	ListConversationsByUser(ctx context.Context, userID string) ([]models.Conversation, error)
	// AddChatTurn persists a question/answer message pair atomically.
	AddChatTurn(ctx context.Context, userMsg, assistantMsg *models.ChatMessage) error
	GetMessagesByConversation(ctx context.Context, conversationID string, limit int) ([]models.ChatMessage, error)

	EnsureQuota(ctx context.Context, userID string, resetDate time.Time) error
	GetQuota(ctx context.Context, userID string) (*models.QuotaState, error)
	// ReserveQuotaTokens atomically adds tokens to the given counter
	// only if the result stays within cap. Returns false when the cap
	// would be exceeded; concurrent reserves never both succeed past it.
	ReserveQuotaTokens(ctx context.Context, userID, kind string, tokens, cap int64) (bool, error)
	ReleaseQuotaTokens(ctx context.Context, userID, kind string, tokens int64) error
	// ResetMonthlyQuota zeroes the monthly counter and advances the
	// reset date, conditional on the stored reset date still matching
	// expected. Returns false if another request reset it first.
	ResetMonthlyQuota(ctx context.Context, userID string, expected, next time.Time) (bool, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// It's abstract so you can replace AWS with MinIO, GCP, etc. easily.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, key string) ([]byte, error)
	DeleteFile(ctx context.Context, key string) error

	// PresignPutURL returns a short-lived URL allowing a single client
	// PUT bound to exactly this key and content type.
	PresignPutURL(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
}
