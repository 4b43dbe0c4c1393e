package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/Classmind/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Classmind/internal/api/middlewares"
	"github.com/markdave123-py/Classmind/internal/config"
	"github.com/markdave123-py/Classmind/internal/core"
	"github.com/markdave123-py/Classmind/internal/core/ingestion_engine"
	"github.com/markdave123-py/Classmind/internal/core/quota"
	"github.com/markdave123-py/Classmind/internal/core/retrieval"
	"github.com/markdave123-py/Classmind/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, db core.DbClient, docs *services.DocumentService, ing ingestion_engine.Ingestor, engine *retrieval.Engine, ledger *quota.Ledger) *Server {
	authHandler := handlers.NewAuthHandler(db)
	docHandler := handlers.NewDocumentHandler(db, docs, ing)
	chatHandler := handlers.NewChatHandler(db, engine, ledger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware)

			protected.Post("/documents/upload-url", docHandler.CreateUploadURL)
			protected.Get("/documents", docHandler.GetDocuments)
			protected.Get("/documents/{id}", docHandler.GetDocument)
			protected.Post("/documents/{id}/ingest", docHandler.IngestDocument)
			protected.Delete("/documents/{id}", docHandler.DeleteDocument)

			protected.Post("/chat/query", chatHandler.Query)
			protected.Get("/chat/conversations", chatHandler.ListConversations)
			protected.Get("/chat/conversations/{id}", chatHandler.GetConversation)

			protected.Get("/quota", chatHandler.GetQuota)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
