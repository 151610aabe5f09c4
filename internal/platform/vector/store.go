package vector

import "context"

// Store is the similarity-search black box the retriever queries. IDs are the
// vector ids carried on knowledge chunks; content is loaded from Postgres.
type Store interface {
	Upsert(ctx context.Context, vectors []Vector) error
	// QueryMatches returns ids with cosine similarity scores, highest first.
	QueryMatches(ctx context.Context, q []float32, topK int, filter map[string]any) ([]Match, error)
	DeleteIDs(ctx context.Context, ids []string) error
}

type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

type Match struct {
	ID    string
	Score float64
}
