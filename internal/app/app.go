package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/markdave123-py/Classmind/internal/config"
	db "github.com/markdave123-py/Classmind/internal/core/database"
	"github.com/markdave123-py/Classmind/internal/core/ingestion_engine"
	"github.com/markdave123-py/Classmind/internal/core/llm"
	objectclient "github.com/markdave123-py/Classmind/internal/core/object-client"
	"github.com/markdave123-py/Classmind/internal/core/quota"
	"github.com/markdave123-py/Classmind/internal/core/retrieval"
	"github.com/markdave123-py/Classmind/internal/services"
)

type App struct {
	DBClient     *db.DatabaseClient
	ObjectClient *objectclient.S3Client
	Ingestor     ingestion_engine.Ingestor
	Server       *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Object client initialized and ready.")

	geminiEmbedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}

	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the llm, %w", err)
	}

	ledger := quota.NewLedger(dbClient, cfg.StorageTokenCap, cfg.MonthlyTokenCap)

	extractor := ingestion_engine.NewDocconvExtractor(false)
	ingCfg := &ingestion_engine.IngestConfig{
		TargetSize: cfg.ChunkTargetSize,
		MinSize:    cfg.ChunkMinSize,
		MaxSize:    cfg.ChunkMaxSize,
		Overlap:    cfg.ChunkOverlap,
		BatchSize:  cfg.EmbedBatchSize,
	}
	ingestor := ingestion_engine.NewDocumentIngestor(dbClient, objClient, geminiEmbedder, extractor, ledger, ingCfg)
	ingestor.Start(ctx, cfg.IngestWorkers)

	engine := retrieval.NewEngine(dbClient, geminiEmbedder, llmProvider, ledger, retrieval.Config{
		SimilarityThreshold: cfg.SimilarityThreshold,
		DefaultTopK:         cfg.DefaultTopK,
		MaxTopK:             cfg.MaxTopK,
	})

	docService := services.NewDocumentService(dbClient, objClient, ledger,
		cfg.MaxUploadBytes, time.Duration(cfg.PresignTTLMinute)*time.Minute)

	server := NewServer(cfg, dbClient, docService, ingestor, engine, ledger)

	return &App{
		DBClient:     dbClient.(*db.DatabaseClient),
		ObjectClient: objClient.(*objectclient.S3Client),
		Ingestor:     ingestor,
		Server:       server,
	}, nil
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
