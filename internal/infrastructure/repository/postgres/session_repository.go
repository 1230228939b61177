package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

// SessionRepository stores conversation turns. Rows are only ever inserted.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) ListTurns(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, session_id, role, content, question, evidence_embedded, created_at
FROM conversation_turns
WHERE session_id = $1
ORDER BY seq ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ConversationTurn, 0)
	for rows.Next() {
		var turn domain.ConversationTurn
		var role string
		if err := rows.Scan(
			&turn.ID,
			&turn.SessionID,
			&role,
			&turn.Content,
			&turn.Question,
			&turn.EvidenceEmbedded,
			&turn.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = domain.Role(role)
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

// AppendTurns inserts the turns in order within one transaction.
func (r *SessionRepository) AppendTurns(ctx context.Context, sessionID string, turns ...domain.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	if strings.TrimSpace(sessionID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "append turns", fmt.Errorf("session id is required"))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, turn := range turns {
		if turn.ID == "" {
			turn.ID = uuid.NewString()
		}
		if turn.Timestamp.IsZero() {
			turn.Timestamp = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO conversation_turns (id, session_id, role, content, question, evidence_embedded, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, turn.ID, sessionID, string(turn.Role), turn.Content, turn.Question, turn.EvidenceEmbedded, turn.Timestamp); err != nil {
			return fmt.Errorf("append turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}
