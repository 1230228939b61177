package domain

// ChunkMetadata is the bibliographic record shared by every chunk of a document.
// Year == 0 means the year is unknown.
type ChunkMetadata struct {
	Title       string   `json:"title"`
	Authors     []string `json:"authors,omitempty"`
	Year        int      `json:"year"`
	Tags        []string `json:"tags,omitempty"`
	Collections []string `json:"collections,omitempty"`
	ItemType    string   `json:"item_type,omitempty"`
}

// Chunk is the atomic retrievable unit. Chunks are created by ingestion and are read-only here.
type Chunk struct {
	ChunkID    string        `json:"chunk_id"`
	DocumentID string        `json:"document_id"`
	Text       string        `json:"text"`
	PageNumber *int          `json:"page_number,omitempty"`
	Metadata   ChunkMetadata `json:"metadata"`
}

type RetrievalSource string

const (
	SourceDense   RetrievalSource = "dense"
	SourceLexical RetrievalSource = "lexical"
)

// ScoredID is a raw hit from an external index before hydration.
type ScoredID struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// Candidate is a hydrated hit from exactly one retrieval path. Rank is 1-based.
type Candidate struct {
	Chunk  Chunk
	Source RetrievalSource
	Rank   int
	Score  float64
}

// FusedCandidate carries a chunk through fusion and reranking.
// A rank of 0 means the chunk was absent from that list.
type FusedCandidate struct {
	Chunk        Chunk   `json:"chunk"`
	FusedScore   float64 `json:"fused_score"`
	DenseRank    int     `json:"dense_rank,omitempty"`
	DenseScore   float64 `json:"dense_score,omitempty"`
	LexicalRank  int     `json:"lexical_rank,omitempty"`
	LexicalScore float64 `json:"lexical_score,omitempty"`
	RerankScore  float64 `json:"rerank_score,omitempty"`
	Reranked     bool    `json:"reranked"`
}

func (c FusedCandidate) InBothLists() bool {
	return c.DenseRank > 0 && c.LexicalRank > 0
}
