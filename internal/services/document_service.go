package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Classmind/internal/core"
	"github.com/markdave123-py/Classmind/internal/core/ingestion_engine"
	"github.com/markdave123-py/Classmind/internal/core/quota"
	"github.com/markdave123-py/Classmind/internal/models"
)

const maxFileNameLen = 100

// UploadGrant is what the broker hands back: the created document and a
// single-use destination the client PUTs the file to.
type UploadGrant struct {
	Document  *models.Document `json:"document"`
	UploadURL string           `json:"uploadUrl"`
	ExpiresIn int              `json:"expiresInSeconds"`
}

// DocumentService is the upload broker plus document lifecycle
// operations (listing, deletion with cleanup).
type DocumentService struct {
	db             core.DbClient
	storage        core.ObjectClient
	ledger         *quota.Ledger
	maxUploadBytes int64
	presignTTL     time.Duration
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient, ledger *quota.Ledger, maxUploadBytes int64, presignTTL time.Duration) *DocumentService {
	return &DocumentService{
		db: db, storage: storage, ledger: ledger,
		maxUploadBytes: maxUploadBytes, presignTTL: presignTTL,
	}
}

// CreateUpload validates the proposed file and, on success, creates the
// Document row in "uploaded" state together with a presigned PUT URL
// bound to its storage key. The row and the grant exist together or not
// at all: a presign failure rolls the row back.
func (s *DocumentService) CreateUpload(ctx context.Context, userID, fileName, contentType string, size int64, title, subject string) (*UploadGrant, error) {
	if _, ok := ingestion_engine.AllowedContentTypes[contentType]; !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedType, contentType)
	}
	if size <= 0 || size > s.maxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", core.ErrFileTooLarge, size, s.maxUploadBytes)
	}

	clean := SanitizeFileName(fileName)
	if clean == "" {
		clean = "document"
	}
	if title == "" {
		title = fileName
	}

	docID := uuid.NewString()
	key := fmt.Sprintf("%s/%s/%s", userID, docID, clean)

	doc := &models.Document{
		ID:           docID,
		Scope:        models.ScopeUser,
		UserID:       userID,
		Title:        title,
		FileName:     fileName,
		ContentType:  contentType,
		StorageKey:   key,
		DeclaredSize: size,
		Subject:      subject,
		Status:       models.StatusUploaded,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	url, err := s.storage.PresignPutURL(ctx, key, contentType, s.presignTTL)
	if err != nil {
		if derr := s.db.DeleteDocument(ctx, docID); derr != nil {
			log.Printf("DocumentService: rollback of document %s failed: %v", docID, derr)
		}
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	return &UploadGrant{
		Document:  doc,
		UploadURL: url,
		ExpiresIn: int(s.presignTTL / time.Second),
	}, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.db.GetDocumentByID(ctx, id)
}

func (s *DocumentService) ListByUser(ctx context.Context, userID string) ([]models.Document, error) {
	return s.db.ListDocumentsByUser(ctx, userID)
}

// Delete removes the document, its chunks (FK cascade), the stored
// object, and returns the stored tokens to the owner's storage budget.
// The monthly import budget is untouched.
func (s *DocumentService) Delete(ctx context.Context, userID, docID string) error {
	doc, err := s.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return err
	}
	if doc == nil || doc.UserID != userID {
		return fmt.Errorf("%w: document %s", core.ErrNotFound, docID)
	}

	if err := s.db.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.storage.DeleteFile(ctx, doc.StorageKey); err != nil {
		log.Printf("DocumentService: could not delete object %s: %v", doc.StorageKey, err)
	}
	if doc.TokenCount > 0 {
		if err := s.ledger.Release(ctx, doc.UserID, int64(doc.TokenCount), quota.KindStorage); err != nil {
			log.Printf("DocumentService: could not release %d storage tokens for %s: %v", doc.TokenCount, doc.UserID, err)
		}
	}
	return nil
}

// SanitizeFileName strips every character outside [A-Za-z0-9._-] and
// truncates to 100 characters, keeping storage keys predictable.
func SanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxFileNameLen {
		out = out[:maxFileNameLen]
	}
	return out
}
