package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/envutil"
)

const maxErrorBodyBytes = 1024

// qdrantStore talks to Qdrant's REST API. One collection holds all knowledge
// chunk embeddings; point ids are the chunk vector ids.
type qdrantStore struct {
	log        *logger.Logger
	baseURL    string
	collection string
	vectorDim  int
	http       *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewQdrantStore(log *logger.Logger) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	url := strings.TrimRight(envutil.Str("QDRANT_URL", ""), "/")
	if url == "" {
		return nil, fmt.Errorf("missing QDRANT_URL")
	}
	collection := envutil.Str("QDRANT_COLLECTION", "knowledge")

	s := &qdrantStore{
		log:        log.With("service", "QdrantVectorStore"),
		baseURL:    url,
		collection: collection,
		vectorDim:  envutil.Int("QDRANT_VECTOR_DIM", 0),
		http:       &http.Client{Timeout: 10 * time.Second},
	}
	if err := s.verifyReady(context.Background()); err != nil {
		return nil, err
	}
	log.Info("qdrant vector store ready",
		"url", s.baseURL,
		"collection", s.collection,
		"vector_dim", s.vectorDim,
	)
	return s, nil
}

func (s *qdrantStore) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	points := make([]map[string]any, 0, len(vectors))
	for _, v := range vectors {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return fmt.Errorf("vector id is required")
		}
		if len(v.Values) == 0 {
			return fmt.Errorf("vector %q has empty values", id)
		}
		if s.vectorDim > 0 && len(v.Values) != s.vectorDim {
			return fmt.Errorf("vector %q dimension mismatch: expected=%d got=%d", id, s.vectorDim, len(v.Values))
		}
		points = append(points, map[string]any{
			"id":      id,
			"vector":  v.Values,
			"payload": v.Metadata,
		})
	}
	return s.doJSON(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil)
}

func (s *qdrantStore) QueryMatches(ctx context.Context, q []float32, topK int, filter map[string]any) ([]Match, error) {
	if len(q) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	if s.vectorDim > 0 && len(q) != s.vectorDim {
		return nil, fmt.Errorf("query vector dimension mismatch: expected=%d got=%d", s.vectorDim, len(q))
	}
	if topK <= 0 {
		topK = 10
	}

	req := map[string]any{
		"vector":       q,
		"limit":        topK,
		"with_payload": false,
		"with_vector":  false,
	}
	if qf := translateFilter(filter); qf != nil {
		req["filter"] = qf
	}

	var rawResults []qdrantSearchResultItem
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &rawResults); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(rawResults))
	for _, item := range rawResults {
		id := decodePointID(item.ID)
		if id == "" {
			continue
		}
		out = append(out, Match{ID: id, Score: item.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (s *qdrantStore) DeleteIDs(ctx context.Context, ids []string) error {
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if v := strings.TrimSpace(id); v != "" {
			points = append(points, v)
		}
	}
	if len(points) == 0 {
		return nil
	}
	return s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"points": points}, nil)
}

// translateFilter maps {key: value} equality pairs onto Qdrant's must/match
// filter shape. Slice values become a match-any clause.
func translateFilter(filter map[string]any) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filter))
	for key, value := range filter {
		switch v := value.(type) {
		case []string:
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"any": v},
			})
		case []any:
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"any": v},
			})
		default:
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"value": v},
			})
		}
	}
	return map[string]any{"must": must}
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}

func (s *qdrantStore) verifyReady(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ready check: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant ready check returned status=%d", resp.StatusCode)
	}

	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := s.doJSON(ctx, http.MethodGet, s.collectionPath(""), nil, &result); err != nil {
		return err
	}
	size := result.Config.Params.Vectors.Size
	if size != 0 && s.vectorDim != 0 && size != s.vectorDim {
		return fmt.Errorf("qdrant collection %q vector size mismatch: expected=%d actual=%d", s.collection, s.vectorDim, size)
	}
	if s.vectorDim == 0 {
		s.vectorDim = size
	}
	return nil
}

func (s *qdrantStore) collectionPath(suffix string) string {
	return "/collections/" + s.collection + suffix
}

func (s *qdrantStore) doJSON(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return err
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(raw) > maxErrorBodyBytes {
			raw = raw[:maxErrorBodyBytes]
		}
		return fmt.Errorf("qdrant %s %s: status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("qdrant decode envelope: %w", err)
	}
	if len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}
