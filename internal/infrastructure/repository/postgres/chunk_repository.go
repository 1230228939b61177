package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

// ChunkRepository resolves chunk ids and serves full-text lexical search over the same table.
type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

const chunkColumns = `chunk_id, document_id, text, page_number, title, authors, year, tags, collections, item_type`

func (r *ChunkRepository) GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error) {
	out := make(map[string]domain.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT `+chunkColumns+`
FROM chunks
WHERE chunk_id IN (`+placeholders(1, len(ids))+`)
`, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[chunk.ChunkID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// SearchLexical ranks chunks with ts_rank_cd over plainto_tsquery. Native predicates are
// part of the WHERE clause.
func (r *ChunkRepository) SearchLexical(
	ctx context.Context,
	queryText string,
	limit int,
	filter domain.NativeFilter,
) ([]domain.ScoredID, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" || limit <= 0 {
		return []domain.ScoredID{}, nil
	}

	where, args := nativeWhere(filter, 2)
	args = append([]any{queryText}, args...)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, `
SELECT chunk_id, ts_rank_cd(tsv, query) AS score
FROM chunks, plainto_tsquery('simple', $1) AS query
WHERE tsv @@ query`+where+`
ORDER BY score DESC, chunk_id ASC
LIMIT $`+fmt.Sprint(len(args))+`
`, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ScoredID, 0, limit)
	for rows.Next() {
		var hit domain.ScoredID
		if err := rows.Scan(&hit.ChunkID, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lexical hits: %w", err)
	}
	return out, nil
}

// nativeWhere renders the pushed-down predicates starting at placeholder $from.
func nativeWhere(f domain.NativeFilter, from int) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, 2+len(f.ItemTypes))
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", from+len(args)-1)
	}
	if f.YearMin > 0 {
		b.WriteString(" AND year >= " + next(f.YearMin))
	}
	if f.YearMax > 0 {
		b.WriteString(" AND year > 0 AND year <= " + next(f.YearMax))
	}
	if len(f.ItemTypes) > 0 {
		b.WriteString(" AND item_type IN (" + placeholders(from+len(args), len(f.ItemTypes)) + ")")
		for _, t := range f.ItemTypes {
			args = append(args, t)
		}
	}
	return b.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (domain.Chunk, error) {
	var (
		chunk          domain.Chunk
		page           sql.NullInt64
		authorsRaw     []byte
		tagsRaw        []byte
		collectionsRaw []byte
	)
	err := row.Scan(
		&chunk.ChunkID, &chunk.DocumentID, &chunk.Text, &page, &chunk.Metadata.Title,
		&authorsRaw, &chunk.Metadata.Year, &tagsRaw, &collectionsRaw, &chunk.Metadata.ItemType,
	)
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("scan chunk: %w", err)
	}
	if page.Valid {
		p := int(page.Int64)
		chunk.PageNumber = &p
	}
	for _, field := range []struct {
		name string
		raw  []byte
		dst  *[]string
	}{
		{"authors", authorsRaw, &chunk.Metadata.Authors},
		{"tags", tagsRaw, &chunk.Metadata.Tags},
		{"collections", collectionsRaw, &chunk.Metadata.Collections},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return domain.Chunk{}, fmt.Errorf("unmarshal %s for chunk %s: %w", field.name, chunk.ChunkID, err)
		}
	}
	return chunk, nil
}
