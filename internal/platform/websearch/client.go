package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/envutil"
)

// Client is the optional web-search collaborator the retriever fans out to.
type Client interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"content"`
}

// httpClient queries a SearxNG-compatible JSON endpoint.
type httpClient struct {
	log     *logger.Logger
	baseURL string
	http    *http.Client
}

// NewFromEnv returns nil without error when WEBSEARCH_URL is unset; web
// search is an enhancement, not a dependency.
func NewFromEnv(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	base := strings.TrimRight(envutil.Str("WEBSEARCH_URL", ""), "/")
	if base == "" {
		return nil, nil
	}
	return &httpClient{
		log:     log.With("service", "WebSearchClient"),
		baseURL: base,
		http:    &http.Client{Timeout: envutil.Duration("WEBSEARCH_TIMEOUT_SECONDS", 8*time.Second)},
	}, nil
}

func (c *httpClient) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Result{}, nil
	}
	if limit <= 0 || limit > 10 {
		limit = 5
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("web search status=%d", resp.StatusCode)
	}

	var out struct {
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode web search response: %w", err)
	}
	if len(out.Results) > limit {
		out.Results = out.Results[:limit]
	}
	return out.Results, nil
}
