package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Classmind/internal/core"
	"github.com/markdave123-py/Classmind/internal/core/quota"
	"github.com/markdave123-py/Classmind/internal/core/retrieval"
	"github.com/markdave123-py/Classmind/internal/models"
)

type ChatHandler struct {
	dbclient core.DbClient
	engine   *retrieval.Engine
	ledger   *quota.Ledger
}

func NewChatHandler(db core.DbClient, engine *retrieval.Engine, ledger *quota.Ledger) *ChatHandler {
	return &ChatHandler{dbclient: db, engine: engine, ledger: ledger}
}

type chatRequest struct {
	Message        string `json:"message"`
	Mode           string `json:"mode"`
	SearchMode     string `json:"searchMode"`
	ConversationID string `json:"conversationId"`
	DocumentID     string `json:"documentId"`
	TopK           int    `json:"topK"`
}

// Query answers a question against the user's corpus and returns the
// cited sources alongside the remaining token balance.
func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	resp, err := h.engine.Answer(r.Context(), &retrieval.Request{
		UserID:         userID,
		Role:           roleFromContext(r),
		Message:        req.Message,
		Mode:           retrieval.Mode(req.Mode),
		SearchMode:     retrieval.SearchMode(req.SearchMode),
		ConversationID: req.ConversationID,
		DocumentID:     req.DocumentID,
		TopK:           req.TopK,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	convs, err := h.dbclient.ListConversationsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	convID := chi.URLParam(r, "id")
	conv, err := h.dbclient.GetConversationByID(r.Context(), convID)
	if err != nil {
		writeError(w, err)
		return
	}
	if conv == nil || conv.UserID != userID {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	messages, err := h.dbclient.GetMessagesByConversation(r.Context(), convID, 200)
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     messages,
	})
}

// GetQuota reports both budgets for the caller.
func (h *ChatHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.ledger.ResetIfDue(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	status, err := h.ledger.Status(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
