package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"ContentFlow/internal/llm"
)

// Embedder 把文本转换为向量。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QueryOptions 控制一次向量检索。
type QueryOptions struct {
	TopK   int
	Filter map[string]string
}

// Match 是一条检索结果。
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// Index 是向量索引。
type Index interface {
	Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error)
}

// HTTPConfig 描述 Pinecone 兼容的检索服务。
type HTTPConfig struct {
	URL       string
	APIKey    string
	Namespace string
	Timeout   time.Duration
}

// HTTPIndex 调用兼容 Pinecone /query 协议的向量检索服务。
type HTTPIndex struct {
	url        string
	apiKey     string
	namespace  string
	httpClient *http.Client
}

// NewHTTPIndex 创建 HTTP 向量索引客户端。
func NewHTTPIndex(cfg HTTPConfig, client *http.Client) (*HTTPIndex, error) {
	url := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if url == "" {
		return nil, errors.New("vector index url 不能为空")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPIndex{url: url, apiKey: cfg.APIKey, namespace: cfg.Namespace, httpClient: client}, nil
}

// Query 发送检索请求。Filter 中的每个键都按等值匹配。
func (x *HTTPIndex) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	body := map[string]any{
		"vector":          vector,
		"topK":            topK(opts.TopK),
		"includeMetadata": true,
	}
	if x.namespace != "" {
		body["namespace"] = x.namespace
	}
	if len(opts.Filter) > 0 {
		filter := make(map[string]any, len(opts.Filter))
		for k, v := range opts.Filter {
			filter[k] = map[string]string{"$eq": v}
		}
		body["filter"] = filter
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.url+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if x.apiKey != "" {
		req.Header.Set("Api-Key", x.apiKey)
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &llm.UpstreamError{HTTPStatus: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var decoded struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	out := make([]Match, 0, len(decoded.Matches))
	for _, m := range decoded.Matches {
		meta := make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			meta[k] = fmt.Sprint(v)
		}
		out = append(out, Match{ID: m.ID, Score: m.Score, Metadata: meta})
	}
	return out, nil
}

// Document 是内存索引中的一条记录。
type Document struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// MemoryIndex 以余弦相似度做暴力检索，用于单机部署和测试。
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryIndex 创建内存索引。
func NewMemoryIndex(docs ...Document) *MemoryIndex {
	idx := &MemoryIndex{docs: make(map[string]Document)}
	for _, d := range docs {
		idx.Upsert(d)
	}
	return idx
}

// Upsert 写入或覆盖一条记录。
func (m *MemoryIndex) Upsert(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
}

// Query 返回与 vector 最相近的 TopK 条记录。
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Match
	for _, doc := range m.docs {
		if !matchesFilter(doc.Metadata, opts.Filter) {
			continue
		}
		out = append(out, Match{ID: doc.ID, Score: cosine(vector, doc.Vector), Metadata: doc.Metadata})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if k := topK(opts.TopK); len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func topK(k int) int {
	if k <= 0 {
		return 5
	}
	return k
}
