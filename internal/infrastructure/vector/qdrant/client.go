package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/infrastructure/resilience"
)

const service = "qdrant"

const (
	opSearchDense   = "search_dense"
	opSearchLexical = "search_lexical"
	opGetChunks     = "get_chunks"
)

// Operation names as seen by the resilience executor.
const (
	OperationSearchDense   = service + "." + opSearchDense
	OperationSearchLexical = service + "." + opSearchLexical
	OperationGetChunks     = service + "." + opGetChunks
)

// Payload keys written by the ingestion side.
const (
	payloadChunkID     = "chunk_id"
	payloadDocumentID  = "document_id"
	payloadText        = "text"
	payloadPageNumber  = "page_number"
	payloadTitle       = "title"
	payloadAuthors     = "authors"
	payloadYear        = "year"
	payloadTags        = "tags"
	payloadCollections = "collections"
	payloadItemType    = "item_type"
)

type Options struct {
	// DenseVector names the dense vector; empty selects the collection's default vector.
	DenseVector  string
	SparseVector string
	Timeout      time.Duration
}

// Client talks to the Qdrant REST API. It serves dense search, sparse lexical search and
// chunk hydration from point payloads.
type Client struct {
	baseURL    string
	collection string
	opts       Options
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, collection string, opts Options, executor *resilience.Executor) *Client {
	if opts.SparseVector == "" {
		opts.SparseVector = "text-sparse"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		executor:   executor,
	}
}

func (c *Client) SearchDense(
	ctx context.Context,
	queryVector []float32,
	limit int,
	filter domain.NativeFilter,
) ([]domain.ScoredID, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("qdrant dense search: empty query vector")
	}
	var vector any = queryVector
	if c.opts.DenseVector != "" {
		vector = map[string]any{"name": c.opts.DenseVector, "vector": queryVector}
	}
	return c.search(ctx, opSearchDense, vector, limit, filter)
}

func (c *Client) SearchLexical(
	ctx context.Context,
	queryText string,
	limit int,
	filter domain.NativeFilter,
) ([]domain.ScoredID, error) {
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return []domain.ScoredID{}, nil
	}
	vector := map[string]any{"name": c.opts.SparseVector, "vector": sparse}
	return c.search(ctx, opSearchLexical, vector, limit, filter)
}

func (c *Client) search(
	ctx context.Context,
	operation string,
	vector any,
	limit int,
	filter domain.NativeFilter,
) ([]domain.ScoredID, error) {
	if limit <= 0 {
		return []domain.ScoredID{}, nil
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": []string{payloadChunkID},
	}
	if f := buildFilter(filter); f != nil {
		reqBody["filter"] = f
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.postJSON(ctx, path, reqBody, &searchResp, operation); err != nil {
		return nil, err
	}

	out := make([]domain.ScoredID, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		id := getStringPayload(r.Payload, payloadChunkID)
		if id == "" {
			id = fmt.Sprintf("%v", r.ID)
		}
		out = append(out, domain.ScoredID{ChunkID: id, Score: r.Score})
	}
	return out, nil
}

// GetChunks scrolls the points whose chunk_id payload matches ids. Unknown ids are omitted.
func (c *Client) GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error) {
	out := make(map[string]domain.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	reqBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": payloadChunkID, "match": map[string]any{"any": ids}},
			},
		},
		"limit":        len(ids),
		"with_payload": true,
		"with_vector":  false,
	}

	var scrollResp struct {
		Result struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/scroll", c.collection)
	if err := c.postJSON(ctx, path, reqBody, &scrollResp, opGetChunks); err != nil {
		return nil, err
	}
	for _, p := range scrollResp.Result.Points {
		chunk := chunkFromPayload(p.Payload)
		if chunk.ChunkID == "" {
			continue
		}
		out[chunk.ChunkID] = chunk
	}
	return out, nil
}

// Ping checks that the collection exists.
func (c *Client) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ping request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError(service, "ping", resp)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return resilience.NewHTTPStatusError(service, operation, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
		return nil
	}

	op := service + "." + operation
	if c.executor == nil {
		return resilience.WrapTemporary(op, call(ctx), nil)
	}
	err = c.executor.Execute(ctx, op, call, resilience.ClassifyHTTPError)
	return resilience.WrapTemporary(op, err, nil)
}

// buildFilter renders the native predicates. year_max also requires year >= 1 so points
// with an unknown year (0) are excluded.
func buildFilter(f domain.NativeFilter) map[string]any {
	if f.IsEmpty() {
		return nil
	}
	must := make([]map[string]any, 0, 2)
	if f.YearMin > 0 || f.YearMax > 0 {
		r := map[string]any{}
		if f.YearMin > 0 {
			r["gte"] = f.YearMin
		}
		if f.YearMax > 0 {
			r["lte"] = f.YearMax
			if f.YearMin <= 0 {
				r["gte"] = 1
			}
		}
		must = append(must, map[string]any{"key": payloadYear, "range": r})
	}
	if len(f.ItemTypes) > 0 {
		must = append(must, map[string]any{
			"key":   payloadItemType,
			"match": map[string]any{"any": f.ItemTypes},
		})
	}
	return map[string]any{"must": must}
}

func chunkFromPayload(payload map[string]any) domain.Chunk {
	chunk := domain.Chunk{
		ChunkID:    getStringPayload(payload, payloadChunkID),
		DocumentID: getStringPayload(payload, payloadDocumentID),
		Text:       getStringPayload(payload, payloadText),
		Metadata: domain.ChunkMetadata{
			Title:       getStringPayload(payload, payloadTitle),
			Authors:     getStringsPayload(payload, payloadAuthors),
			Year:        getIntPayload(payload, payloadYear),
			Tags:        getStringsPayload(payload, payloadTags),
			Collections: getStringsPayload(payload, payloadCollections),
			ItemType:    getStringPayload(payload, payloadItemType),
		},
	}
	if payload[payloadPageNumber] != nil {
		page := getIntPayload(payload, payloadPageNumber)
		chunk.PageNumber = &page
	}
	return chunk
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

func getStringsPayload(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
