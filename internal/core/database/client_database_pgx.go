package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/Classmind/internal/config"
	"github.com/markdave123-py/Classmind/internal/core"
	"github.com/markdave123-py/Classmind/internal/core/database/migrations"
	"github.com/markdave123-py/Classmind/internal/models"
)

// Quota counter columns addressed by kind.
const (
	QuotaKindStorage = "storage"
	QuotaKindMonthly = "monthly"
)

var quotaColumns = map[string]string{
	QuotaKindStorage: "storage_tokens_used",
	QuotaKindMonthly: "monthly_tokens_used",
}

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.UpContext(ctx, db, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.Email, user.PasswordHash, user.Role)
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, role, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, scope, user_id, title, file_name, content_type, storage_key, declared_size, subject, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.Scope, doc.UserID, doc.Title, doc.FileName, doc.ContentType,
		doc.StorageKey, doc.DeclaredSize, doc.Subject, doc.Status)
	return err
}

const documentColumns = `
	id, scope, user_id, title, file_name, content_type, storage_key,
	declared_size, subject, status, searchable, error_message, chunk_count, token_count,
	created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }, d *models.Document) error {
	return row.Scan(
		&d.ID, &d.Scope, &d.UserID, &d.Title, &d.FileName, &d.ContentType, &d.StorageKey,
		&d.DeclaredSize, &d.Subject, &d.Status, &d.Searchable, &d.ErrorMessage, &d.ChunkCount, &d.TokenCount,
		&d.CreatedAt, &d.UpdatedAt,
	)
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	var d models.Document
	err := scanDocument(c.db.QueryRowContext(ctx, q, id), &d)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE user_id = $1
		ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := scanDocument(rows, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	// Chunks cascade via the FK.
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) UpdateDocumentScope(ctx context.Context, id, scope string) error {
	const q = `UPDATE documents SET scope = $2, updated_at = now() WHERE id = $1`
	res, err := c.db.ExecContext(ctx, q, id, scope)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) ClaimDocumentForProcessing(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE documents
		SET status = $2, error_message = '', updated_at = now()
		WHERE id = $1 AND status <> $2
	`
	res, err := c.db.ExecContext(ctx, q, id, models.StatusProcessing)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *DatabaseClient) SetDocumentError(ctx context.Context, id, message string) error {
	const q = `
		UPDATE documents
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, models.StatusError, message)
	return err
}

// Chunks

// CommitDocumentChunks inserts chunks and marks the document ready in a
// single transaction, so retrieval never observes a partial chunk set.
func (c *DatabaseClient) CommitDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const ins = `
		INSERT INTO document_chunks
			(id, document_id, position, content, content_hash, embedding, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (document_id, content_hash) DO NOTHING
	`
	stmt, err := tx.PrepareContext(ctx, ins)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		vec := pgvector.NewVector(ch.Embedding)
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Position, ch.Content, ch.ContentHash, vec, ch.TokenCount,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	const upd = `
		UPDATE documents
		SET status = $2,
		    searchable = TRUE,
		    error_message = '',
		    chunk_count = (SELECT COUNT(*) FROM document_chunks WHERE document_id = $1),
		    token_count = (SELECT COALESCE(SUM(token_count), 0) FROM document_chunks WHERE document_id = $1),
		    updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, upd, documentID, models.StatusReady); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunkHashes(ctx context.Context, documentID string) (map[string]struct{}, error) {
	const q = `SELECT content_hash FROM document_chunks WHERE document_id = $1`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out[h] = struct{}{}
	}
	return out, rows.Err()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, position, content, content_hash, embedding, token_count, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Position, &ch.Content, &ch.ContentHash, &emb, &ch.TokenCount, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SearchChunks runs a cosine similarity search over the committed chunks
// visible to the user (own documents plus the global corpus), optionally
// narrowed to one subject partition or one document. The searchable flag
// rather than the transient status gates visibility, so a document being
// re-processed keeps serving its last committed chunk set.
func (c *DatabaseClient) SearchChunks(ctx context.Context, sq core.ChunkSearchQuery) ([]models.ScoredChunk, error) {
	vec := pgvector.NewVector(sq.Vector)

	q := `
		SELECT c.id, c.document_id, c.position, c.content, c.content_hash, c.token_count,
		       d.title, d.scope, 1 - (c.embedding <=> $1) AS score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.searchable
		  AND (d.scope = 'global' OR d.user_id = $2)`
	args := []any{vec, sq.UserID}

	if sq.Subject != "" {
		args = append(args, sq.Subject)
		q += fmt.Sprintf(" AND d.subject = $%d", len(args))
	}
	if sq.DocumentID != "" {
		args = append(args, sq.DocumentID)
		q += fmt.Sprintf(" AND d.id = $%d", len(args))
	}
	args = append(args, sq.Limit)
	q += fmt.Sprintf(" ORDER BY c.embedding <=> $1 LIMIT $%d", len(args))

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		if err := rows.Scan(
			&sc.ID, &sc.DocumentID, &sc.Position, &sc.Content, &sc.ContentHash, &sc.TokenCount,
			&sc.DocumentTitle, &sc.Scope, &sc.Score,
		); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) CountSearchableDocuments(ctx context.Context, userID string) (int, error) {
	const q = `
		SELECT COUNT(*) FROM documents
		WHERE searchable AND (scope = 'global' OR user_id = $1)
	`
	var n int
	if err := c.db.QueryRowContext(ctx, q, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Conversations

func (c *DatabaseClient) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("nil conversation")
	}
	const q = `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q, conv.ID, conv.UserID, conv.Title)
	return err
}

func (c *DatabaseClient) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	const q = `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations WHERE id = $1
	`
	var cv models.Conversation
	err := c.db.QueryRowContext(ctx, q, id).Scan(&cv.ID, &cv.UserID, &cv.Title, &cv.CreatedAt, &cv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cv, nil
}

func (c *DatabaseClient) ListConversationsByUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	const q = `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var cv models.Conversation
		if err := rows.Scan(&cv.ID, &cv.UserID, &cv.Title, &cv.CreatedAt, &cv.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

// AddChatTurn persists the question/answer pair and touches the
// conversation in one transaction, so a mid-turn failure never leaves a
// dangling user message.
func (c *DatabaseClient) AddChatTurn(ctx context.Context, userMsg, assistantMsg *models.ChatMessage) error {
	if userMsg == nil || assistantMsg == nil {
		return errors.New("nil message")
	}

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const ins = `
		INSERT INTO chat_messages (id, conversation_id, role, content, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`
	for _, msg := range []*models.ChatMessage{userMsg, assistantMsg} {
		var sources any
		if len(msg.Sources) > 0 {
			b, err := json.Marshal(msg.Sources)
			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("marshal sources: %w", err)
			}
			sources = b
		}
		if _, err := tx.ExecContext(ctx, ins, msg.ID, msg.ConversationID, msg.Role, msg.Content, sources); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, userMsg.ConversationID,
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetMessagesByConversation returns the most recent messages in
// chronological order.
func (c *DatabaseClient) GetMessagesByConversation(ctx context.Context, conversationID string, limit int) ([]models.ChatMessage, error) {
	const q = `
		SELECT id, conversation_id, role, content, sources, created_at FROM (
			SELECT id, conversation_id, role, content, sources, created_at
			FROM chat_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var (
			m   models.ChatMessage
			raw []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &raw, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &m.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Quotas

func (c *DatabaseClient) EnsureQuota(ctx context.Context, userID string, resetDate time.Time) error {
	const q = `
		INSERT INTO user_quotas (user_id, storage_tokens_used, monthly_tokens_used, reset_date, updated_at)
		VALUES ($1, 0, 0, $2, now())
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := c.db.ExecContext(ctx, q, userID, resetDate)
	return err
}

func (c *DatabaseClient) GetQuota(ctx context.Context, userID string) (*models.QuotaState, error) {
	const q = `
		SELECT user_id, storage_tokens_used, monthly_tokens_used, reset_date, updated_at
		FROM user_quotas WHERE user_id = $1
	`
	var s models.QuotaState
	err := c.db.QueryRowContext(ctx, q, userID).Scan(
		&s.UserID, &s.StorageTokensUsed, &s.MonthlyTokensUsed, &s.ResetDate, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReserveQuotaTokens is the single conditional update the quota
// invariant depends on: the increment and the cap check happen in one
// statement, so concurrent reserves cannot both land past the cap.
func (c *DatabaseClient) ReserveQuotaTokens(ctx context.Context, userID, kind string, tokens, cap int64) (bool, error) {
	col, ok := quotaColumns[kind]
	if !ok {
		return false, fmt.Errorf("unknown quota kind: %s", kind)
	}
	q := fmt.Sprintf(`
		UPDATE user_quotas
		SET %[1]s = %[1]s + $2, updated_at = now()
		WHERE user_id = $1 AND %[1]s + $2 <= $3
	`, col)
	res, err := c.db.ExecContext(ctx, q, userID, tokens, cap)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *DatabaseClient) ReleaseQuotaTokens(ctx context.Context, userID, kind string, tokens int64) error {
	col, ok := quotaColumns[kind]
	if !ok {
		return fmt.Errorf("unknown quota kind: %s", kind)
	}
	q := fmt.Sprintf(`
		UPDATE user_quotas
		SET %[1]s = GREATEST(%[1]s - $2, 0), updated_at = now()
		WHERE user_id = $1
	`, col)
	_, err := c.db.ExecContext(ctx, q, userID, tokens)
	return err
}

func (c *DatabaseClient) ResetMonthlyQuota(ctx context.Context, userID string, expected, next time.Time) (bool, error) {
	const q = `
		UPDATE user_quotas
		SET monthly_tokens_used = 0, reset_date = $3, updated_at = now()
		WHERE user_id = $1 AND reset_date = $2
	`
	res, err := c.db.ExecContext(ctx, q, userID, expected, next)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

var _ core.DbClient = (*DatabaseClient)(nil)
