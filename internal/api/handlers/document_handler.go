package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Classmind/internal/core"
	"github.com/markdave123-py/Classmind/internal/core/ingestion_engine"
	"github.com/markdave123-py/Classmind/internal/models"
	"github.com/markdave123-py/Classmind/internal/services"
)

type DocumentHandler struct {
	dbclient core.DbClient
	docs     *services.DocumentService
	ingestor ingestion_engine.Ingestor
}

func NewDocumentHandler(dbclient core.DbClient, docs *services.DocumentService, ing ingestion_engine.Ingestor) *DocumentHandler {
	return &DocumentHandler{dbclient: dbclient, docs: docs, ingestor: ing}
}

type uploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Title       string `json:"title"`
	Subject     string `json:"subject"`
}

// CreateUploadURL validates the proposed file and hands back the
// document record plus a presigned destination for the actual bytes.
func (h *DocumentHandler) CreateUploadURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.FileName == "" {
		http.Error(w, "file_name is required", http.StatusBadRequest)
		return
	}

	grant, err := h.docs.CreateUpload(r.Context(), userID, req.FileName, req.ContentType, req.SizeBytes, req.Title, req.Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

type ingestRequest struct {
	Scope string `json:"scope"` // optional; "global" requires admin
}

// IngestDocument schedules processing for an uploaded document. Admins
// may publish into the curated global corpus via the scope override.
func (h *DocumentHandler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}
	docID := chi.URLParam(r, "id")

	doc, err := h.dbclient.GetDocumentByID(r.Context(), docID)
	if err != nil {
		writeError(w, err)
		return
	}
	if doc == nil || doc.UserID != userID {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	var req ingestRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Scope == models.ScopeGlobal {
		if roleFromContext(r) != models.RoleAdmin {
			http.Error(w, "only admins may publish to the global corpus", http.StatusForbidden)
			return
		}
		if err := h.dbclient.UpdateDocumentScope(r.Context(), docID, models.ScopeGlobal); err != nil {
			writeError(w, err)
			return
		}
	}

	h.ingestor.Enqueue(docID)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": docID, "status": models.StatusProcessing})
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	documents, err := h.docs.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if documents == nil {
		documents = []models.Document{}
	}
	writeJSON(w, http.StatusOK, documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if doc == nil || (doc.UserID != userID && doc.Scope != models.ScopeGlobal) {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	if err := h.docs.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
