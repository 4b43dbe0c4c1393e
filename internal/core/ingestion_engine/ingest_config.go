package ingestion_engine

// IngestConfig tunes the ingestion pipeline.
//
// TargetSize/MinSize/MaxSize: chunk bounds in characters.
// Overlap:    characters shared between consecutive chunks.
// BatchSize:  chunks per embedding request; batches run sequentially to
//             keep provider rate limits predictable.
type IngestConfig struct {
	TargetSize int
	MinSize    int
	MaxSize    int
	Overlap    int
	BatchSize  int
}
