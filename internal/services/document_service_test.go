package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Classmind/internal/core"
	"github.com/markdave123-py/Classmind/internal/core/coretest"
	"github.com/markdave123-py/Classmind/internal/core/quota"
	"github.com/markdave123-py/Classmind/internal/models"
)

type serviceFixture struct {
	db      *coretest.FakeDB
	storage *coretest.FakeObjectStore
	svc     *DocumentService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	fdb := coretest.NewFakeDB()
	store := coretest.NewFakeObjectStore()
	ledger := quota.NewLedger(fdb, 100_000, 100_000)
	svc := NewDocumentService(fdb, store, ledger, 10<<20, 15*time.Minute)
	return &serviceFixture{db: fdb, storage: store, svc: svc}
}

func TestCreateUploadHappyPath(t *testing.T) {
	fx := newServiceFixture(t)

	grant, err := fx.svc.CreateUpload(context.Background(), "u1", "My Notes.pdf", "application/pdf", 1024, "Fractions intro", "mathematics")
	require.NoError(t, err)

	require.NotNil(t, grant.Document)
	assert.Equal(t, models.StatusUploaded, grant.Document.Status)
	assert.Equal(t, models.ScopeUser, grant.Document.Scope)
	assert.Equal(t, "Fractions intro", grant.Document.Title)
	assert.Equal(t, "mathematics", grant.Document.Subject)
	assert.True(t, strings.HasPrefix(grant.Document.StorageKey, "u1/"+grant.Document.ID+"/"))
	assert.Contains(t, grant.UploadURL, "presigned")
	assert.Equal(t, 900, grant.ExpiresIn)

	stored := fx.db.Document(grant.Document.ID)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusUploaded, stored.Status)
}

func TestCreateUploadDefaultsTitleToFileName(t *testing.T) {
	fx := newServiceFixture(t)

	grant, err := fx.svc.CreateUpload(context.Background(), "u1", "notes.txt", "text/plain", 10, "", "")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", grant.Document.Title)
}

func TestCreateUploadRejectsUnsupportedType(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.svc.CreateUpload(context.Background(), "u1", "movie.mp4", "video/mp4", 1024, "", "")
	require.ErrorIs(t, err, core.ErrUnsupportedType)
	assert.Equal(t, 0, fx.db.DocumentCount())
	assert.Equal(t, 0, fx.storage.PresignCalls)
}

func TestCreateUploadRejectsBadSizes(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.svc.CreateUpload(context.Background(), "u1", "big.pdf", "application/pdf", 11<<20, "", "")
	require.ErrorIs(t, err, core.ErrFileTooLarge)

	_, err = fx.svc.CreateUpload(context.Background(), "u1", "empty.pdf", "application/pdf", 0, "", "")
	require.ErrorIs(t, err, core.ErrFileTooLarge)

	assert.Equal(t, 0, fx.db.DocumentCount())
}

func TestCreateUploadRollsBackOnPresignFailure(t *testing.T) {
	fx := newServiceFixture(t)
	fx.storage.PresignErr = errors.New("sts token expired")

	_, err := fx.svc.CreateUpload(context.Background(), "u1", "notes.pdf", "application/pdf", 1024, "", "")
	require.Error(t, err)
	assert.Equal(t, 0, fx.db.DocumentCount(), "the document row must not survive a presign failure")
}

func TestDeleteReleasesStorageTokens(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	doc := &models.Document{
		ID: "doc-1", Scope: models.ScopeUser, UserID: "u1",
		StorageKey: "u1/doc-1/notes.pdf", Status: models.StatusReady, TokenCount: 700,
	}
	require.NoError(t, fx.db.CreateDocument(ctx, doc))
	fx.storage.Files[doc.StorageKey] = []byte("pdf bytes")
	fx.db.SetQuota("u1", 700, 700, quota.NextMonthStart(time.Now()))

	require.NoError(t, fx.svc.Delete(ctx, "u1", "doc-1"))

	assert.Nil(t, fx.db.Document("doc-1"))
	assert.Contains(t, fx.storage.Deleted, doc.StorageKey)

	q := fx.db.Quota("u1")
	assert.Equal(t, int64(0), q.StorageTokensUsed, "storage tokens return on delete")
	assert.Equal(t, int64(700), q.MonthlyTokensUsed, "the monthly budget is not refunded")
}

func TestDeleteRejectsForeignDocument(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.db.CreateDocument(ctx, &models.Document{
		ID: "doc-1", UserID: "owner", StorageKey: "owner/doc-1/f.pdf",
	}))

	err := fx.svc.Delete(ctx, "intruder", "doc-1")
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.NotNil(t, fx.db.Document("doc-1"))
}

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"My Notes.pdf", "MyNotes.pdf"},
		{"../../etc/passwd", "....etcpasswd"},
		{"lesson-3_final.docx", "lesson-3_final.docx"},
		{"résumé.pdf", "rsum.pdf"},
		{strings.Repeat("a", 150) + ".txt", strings.Repeat("a", 100)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeFileName(tc.in), "input: %q", tc.in)
	}
}
