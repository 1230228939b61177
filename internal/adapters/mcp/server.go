package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/core/ports"
)

const toolSearchCorpus = "search_corpus"

// Server exposes the retrieval core to MCP clients as a single search tool.
type Server struct {
	retriever ports.PassageRetriever
	models    ports.ModelCatalog
	model     string
}

// New builds the adapter; model names the generative model whose window sizes the result.
func New(retriever ports.PassageRetriever, models ports.ModelCatalog, model string) *Server {
	return &Server{retriever: retriever, models: models, model: model}
}

func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("corpus-qa", version, server.WithToolCapabilities(false))
	srv.AddTool(searchCorpusTool(), s.handleSearchCorpus)
	return srv
}

// ServeStdio blocks until stdin closes.
func (s *Server) ServeStdio(version string) error {
	return server.ServeStdio(s.MCPServer(version))
}

func searchCorpusTool() mcp.Tool {
	return mcp.NewTool(toolSearchCorpus,
		mcp.WithDescription("Search the personal paper library and return ranked passages with their sources. "+
			"Metadata constraints in the query (years, item types) are detected automatically unless explicit filters are given."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language question or search request")),
		mcp.WithNumber("year_min", mcp.Description("Only documents published in or after this year")),
		mcp.WithNumber("year_max", mcp.Description("Only documents published in or before this year")),
		mcp.WithArray("tags", mcp.Description("Required tags (any)"), mcp.WithStringItems()),
		mcp.WithArray("collections", mcp.Description("Required collections (any)"), mcp.WithStringItems()),
		mcp.WithArray("item_types", mcp.Description("Item types such as journalArticle or book"), mcp.WithStringItems()),
		mcp.WithString("author", mcp.Description("Substring of an author name")),
		mcp.WithString("title", mcp.Description("Substring of the document title")),
		mcp.WithBoolean("disable_auto_filter", mcp.Description("Do not infer filters from the query")),
	)
}

func (s *Server) handleSearchCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	ctx = domain.WithRequestID(ctx, uuid.NewString())

	req := domain.RetrievalRequest{
		Query:             query,
		DisableAutoFilter: request.GetBool("disable_auto_filter", false),
		Model:             domain.ModelDescriptor{Name: s.model},
	}
	if s.models != nil {
		req.Model = s.models.Resolve(s.model)
	}
	manual := domain.Filter{
		YearMin:         request.GetInt("year_min", 0),
		YearMax:         request.GetInt("year_max", 0),
		Tags:            request.GetStringSlice("tags", nil),
		Collections:     request.GetStringSlice("collections", nil),
		ItemTypes:       request.GetStringSlice("item_types", nil),
		AuthorSubstring: request.GetString("author", ""),
		TitleSubstring:  request.GetString("title", ""),
	}
	if !manual.IsEmpty() {
		req.ManualFilter = &manual
	}

	result, err := s.retriever.Retrieve(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if domain.IsKind(err, domain.ErrNoPassages) {
			return mcp.NewToolResultText("No passages matched the query."), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	payload, err := json.Marshal(toSearchResponse(result))
	if err != nil {
		return nil, fmt.Errorf("encode search result: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}

type searchPassage struct {
	Rank       int    `json:"rank"`
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	Year       int    `json:"year,omitempty"`
	Page       *int   `json:"page,omitempty"`
	Text       string `json:"text"`
}

type searchResponse struct {
	Query      string          `json:"query"`
	Filter     string          `json:"filter,omitempty"`
	FilterMode string          `json:"filter_mode"`
	Mode       string          `json:"mode"`
	Fallbacks  []string        `json:"fallbacks,omitempty"`
	Passages   []searchPassage `json:"passages"`
}

func toSearchResponse(result *domain.RetrievalResult) searchResponse {
	out := searchResponse{
		Query:      result.Query,
		FilterMode: string(result.FilterMode),
		Mode:       string(result.Budget.Mode),
		Fallbacks:  result.Fallbacks.Names(),
		Passages:   make([]searchPassage, 0, len(result.Passages)),
	}
	if !result.Filter.IsEmpty() {
		out.Filter = result.Filter.String()
	}
	for _, p := range result.Passages {
		out.Passages = append(out.Passages, searchPassage{
			Rank:       p.Rank,
			ChunkID:    p.Chunk.ChunkID,
			DocumentID: p.Chunk.DocumentID,
			Title:      p.Chunk.Metadata.Title,
			Year:       p.Chunk.Metadata.Year,
			Page:       p.Chunk.PageNumber,
			Text:       p.Chunk.Text,
		})
	}
	return out
}
