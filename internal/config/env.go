package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	S3Endpoint   string // optional, for MinIO-style deployments
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	GenModel     string
	JWTSecret    string
	Port         string

	// Quota budgets (tokens).
	StorageTokenCap int64
	MonthlyTokenCap int64

	// Retrieval knobs.
	SimilarityThreshold float64
	DefaultTopK         int
	MaxTopK             int

	// Chunking knobs (characters).
	ChunkTargetSize int
	ChunkMinSize    int
	ChunkMaxSize    int
	ChunkOverlap    int

	EmbedBatchSize   int
	IngestWorkers    int
	MaxUploadBytes   int64
	PresignTTLMinute int
}

// LoadConfig loads the environment variables and returns config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		BucketName:   getEnv("BUCKET_NAME", "classmind-docs"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		Port:         getEnv("PORT", "8080"),

		StorageTokenCap: getEnvInt64("STORAGE_TOKEN_CAP", 2_000_000),
		MonthlyTokenCap: getEnvInt64("MONTHLY_TOKEN_CAP", 500_000),

		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.55),
		DefaultTopK:         getEnvInt("DEFAULT_TOP_K", 5),
		MaxTopK:             getEnvInt("MAX_TOP_K", 10),

		ChunkTargetSize: getEnvInt("CHUNK_TARGET_SIZE", 1000),
		ChunkMinSize:    getEnvInt("CHUNK_MIN_SIZE", 200),
		ChunkMaxSize:    getEnvInt("CHUNK_MAX_SIZE", 1500),
		ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", 150),

		EmbedBatchSize:   getEnvInt("EMBED_BATCH_SIZE", 16),
		IngestWorkers:    getEnvInt("INGEST_WORKERS", 2),
		MaxUploadBytes:   getEnvInt64("MAX_UPLOAD_BYTES", 10<<20),
		PresignTTLMinute: getEnvInt("PRESIGN_TTL_MINUTES", 15),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvInt64(key string, def int64) int64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}
