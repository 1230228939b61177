package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/core/ports"
)

const rewriteContextTurns = 2

// referringWords point back to an earlier turn wherever they appear.
var referringWords = map[string]struct{}{
	"it": {}, "its": {}, "they": {}, "them": {}, "their": {}, "theirs": {},
	"he": {}, "him": {}, "his": {}, "she": {}, "her": {}, "hers": {},
	"former": {}, "latter": {}, "aforementioned": {},
}

// demonstratives refer back only when closing the query ("why is that") or
// when followed by a referent noun ("that paper").
var demonstratives = map[string]struct{}{
	"this": {}, "that": {}, "these": {}, "those": {},
}

var referentNouns = map[string]struct{}{
	"paper": {}, "papers": {}, "study": {}, "studies": {}, "article": {}, "articles": {},
	"book": {}, "books": {}, "work": {}, "author": {}, "authors": {}, "approach": {},
	"approaches": {}, "method": {}, "methods": {}, "model": {}, "models": {}, "result": {},
	"results": {}, "finding": {}, "findings": {}, "one": {}, "ones": {}, "idea": {},
	"ideas": {}, "technique": {}, "techniques": {}, "experiment": {}, "experiments": {},
	"dataset": {}, "datasets": {}, "claim": {}, "claims": {}, "section": {}, "chapter": {},
	"figure": {}, "table": {}, "source": {}, "sources": {}, "topic": {}, "point": {},
}

var ellipticalOpeners = []string{
	"what about",
	"how about",
	"and ",
	"also ",
	"tell me more",
	"more on",
	"more about",
	"elaborate",
	"how so",
	"what else",
	"anything else",
	"compared to",
	"in contrast",
	"the paper",
	"the author",
	"the study",
}

type RewriteOutcome struct {
	Query     string
	Rewritten bool
	Failed    bool
}

// QueryRewriter turns a follow-up into a standalone query. Without a model it
// falls back to appending the previous user question.
type QueryRewriter struct {
	model   ports.QueryRewriteModel
	timeout time.Duration
}

func NewQueryRewriter(model ports.QueryRewriteModel, timeout time.Duration) *QueryRewriter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QueryRewriter{model: model, timeout: timeout}
}

func (r *QueryRewriter) Rewrite(ctx context.Context, query string, turns []domain.ConversationTurn) RewriteOutcome {
	query = strings.TrimSpace(query)
	if len(turns) == 0 || !needsRewrite(query) {
		return RewriteOutcome{Query: query}
	}

	recent := recentTurns(turns, rewriteContextTurns)
	if r.model == nil {
		contextual := contextualizeQuery(query, recent)
		return RewriteOutcome{Query: contextual, Rewritten: contextual != query}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rewritten, err := r.model.RewriteQuery(callCtx, query, recent)
	if err == nil {
		rewritten, err = sanitizeRewrite(query, rewritten)
	}
	if err != nil {
		return RewriteOutcome{Query: query, Failed: true}
	}
	return RewriteOutcome{Query: rewritten, Rewritten: rewritten != query}
}

// needsRewrite reports anaphoric or elliptical cues. Anything else is left as typed.
func needsRewrite(query string) bool {
	lower := strings.ToLower(strings.TrimSpace(query))
	if lower == "" {
		return false
	}
	for _, opener := range ellipticalOpeners {
		if strings.HasPrefix(lower, opener) {
			return true
		}
	}
	tokens := splitAlphaNumLower(lower)
	for i, tok := range tokens {
		if _, ok := referringWords[tok]; ok {
			return true
		}
		if _, ok := demonstratives[tok]; !ok {
			continue
		}
		if i == len(tokens)-1 {
			return true
		}
		if _, ok := referentNouns[tokens[i+1]]; ok {
			return true
		}
	}
	return len(tokens) > 0 && len(tokens) <= 2
}

func recentTurns(turns []domain.ConversationTurn, n int) []domain.ConversationTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func contextualizeQuery(query string, recent []domain.ConversationTurn) string {
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Role != domain.RoleUser {
			continue
		}
		prev := strings.TrimSpace(recent[i].Utterance())
		if prev == "" || strings.EqualFold(prev, query) {
			break
		}
		return fmt.Sprintf("%s (follow-up to: %s)", query, prev)
	}
	return query
}

var errUnusableRewrite = errors.New("unusable rewrite")

func sanitizeRewrite(original, rewritten string) (string, error) {
	out := strings.TrimSpace(rewritten)
	if idx := strings.IndexByte(out, '\n'); idx >= 0 {
		out = strings.TrimSpace(out[:idx])
	}
	out = strings.Trim(out, "\"'` ")
	if prefix := "standalone query:"; strings.HasPrefix(strings.ToLower(out), prefix) {
		out = strings.TrimSpace(out[len(prefix):])
	}
	if out == "" {
		return "", errUnusableRewrite
	}
	if len(out) > 4*len(original)+200 {
		return "", errUnusableRewrite
	}
	return out, nil
}
