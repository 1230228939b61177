package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/infrastructure/resilience"
)

const service = "ollama"

const (
	opEmbed         = "embed"
	opExtractFilter = "extract_filter"
	opRewrite       = "rewrite"
	opChat          = "chat"
)

// Operation names as seen by the resilience executor.
const (
	OperationEmbed         = service + "." + opEmbed
	OperationExtractFilter = service + "." + opExtractFilter
	OperationRewrite       = service + "." + opRewrite
	OperationChat          = service + "." + opChat
)

// Client is the shared HTTP client for the Ollama API. UtilityModel serves the short
// structured calls (filter extraction, query rewrite); answers use the requested model.
type Client struct {
	baseURL      string
	utilityModel string
	embedModel   string
	httpClient   *http.Client
	executor     *resilience.Executor
}

func New(baseURL, utilityModel, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		utilityModel: utilityModel,
		embedModel:   embedModel,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		executor:     executor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, opEmbed); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Embeddings[0], nil
}

// FilterModel asks the utility model for a metadata filter in JSON mode.
type FilterModel struct {
	client *Client
}

func NewFilterModel(client *Client) *FilterModel {
	return &FilterModel{client: client}
}

type filterPayload struct {
	YearMin         *int     `json:"year_min"`
	YearMax         *int     `json:"year_max"`
	Tags            []string `json:"tags"`
	Collections     []string `json:"collections"`
	ItemTypes       []string `json:"item_types"`
	TitleSubstring  string   `json:"title_substring"`
	AuthorSubstring string   `json:"author_substring"`
}

// ExtractFilter returns NoFilter for output it cannot parse; only transport failures are errors.
func (m *FilterModel) ExtractFilter(ctx context.Context, queryText string) (domain.FilterExtraction, error) {
	respText, err := m.client.generateJSON(ctx, opExtractFilter, buildFilterPrompt(queryText))
	if err != nil {
		return domain.NoFilter(), err
	}

	var payload filterPayload
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &payload); err != nil {
		slog.Debug("filter_extraction_unparsed", "error", err)
		return domain.NoFilter(), nil
	}
	return domain.FoundFilter(payload.toFilter()), nil
}

func (p filterPayload) toFilter() domain.Filter {
	f := domain.Filter{
		Tags:            p.Tags,
		Collections:     p.Collections,
		ItemTypes:       p.ItemTypes,
		TitleSubstring:  p.TitleSubstring,
		AuthorSubstring: p.AuthorSubstring,
	}
	if p.YearMin != nil && plausibleYear(*p.YearMin) {
		f.YearMin = *p.YearMin
	}
	if p.YearMax != nil && plausibleYear(*p.YearMax) {
		f.YearMax = *p.YearMax
	}
	return f
}

func plausibleYear(y int) bool {
	return y >= 1000 && y <= 2999
}

type Rewriter struct {
	client *Client
}

func NewRewriter(client *Client) *Rewriter {
	return &Rewriter{client: client}
}

func (r *Rewriter) RewriteQuery(ctx context.Context, query string, recent []domain.ConversationTurn) (string, error) {
	out, err := r.client.generateText(ctx, opRewrite, r.client.utilityModel, buildRewritePrompt(query, recent))
	if err != nil {
		return "", err
	}
	return cleanRewrite(out), nil
}

// Generator answers from a conversation plan through the chat endpoint.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) GenerateAnswer(ctx context.Context, model string, plan domain.ConversationPlan) (string, error) {
	if strings.TrimSpace(model) == "" {
		model = g.client.utilityModel
	}
	request := map[string]any{
		"model":    model,
		"messages": buildChatMessages(plan),
		"stream":   false,
	}

	var response struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := g.client.postJSON(ctx, "/api/chat", request, &response, opChat); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Message.Content), nil
}

func (c *Client) generateJSON(ctx context.Context, operation, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.utilityModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}
	return c.generate(ctx, operation, reqBody)
}

func (c *Client) generateText(ctx context.Context, operation, model, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	}
	return c.generate(ctx, operation, reqBody)
}

func (c *Client) generate(ctx context.Context, operation string, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, operation); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// cleanRewrite keeps the first non-empty line and strips wrapping quotes.
func cleanRewrite(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "Standalone question:")
		return strings.Trim(strings.TrimSpace(line), "\"'`")
	}
	return ""
}
