package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

const answerSystemPrompt = `You answer questions about the user's personal library.
Use only the numbered sources provided in the conversation and cite them as [n].
If the sources are insufficient, say so directly.`

func buildFilterPrompt(query string) string {
	return `You extract metadata filters from a search request over a paper library.
Return a strict JSON object with keys:
year_min (integer or null), year_max (integer or null), tags (array of strings),
collections (array of strings), item_types (array of strings),
title_substring (string), author_substring (string).
Only fill a key when the request states it explicitly. Return {} when nothing applies.
No markdown, no extra keys.

Request:
` + query
}

func buildRewritePrompt(query string, recent []domain.ConversationTurn) string {
	var history strings.Builder
	for _, turn := range recent {
		text := strings.TrimSpace(turn.Utterance())
		if text == "" {
			continue
		}
		fmt.Fprintf(&history, "%s: %s\n", turn.Role, truncate(text, 600))
	}

	return fmt.Sprintf(`Rewrite the follow-up into a standalone search question.
Resolve pronouns and references using the conversation. Keep names, years and terms.
Reply with the question only.

Conversation:
%s
Follow-up: %s
Standalone question:`, history.String(), query)
}

func buildChatMessages(plan domain.ConversationPlan) []map[string]string {
	messages := make([]map[string]string, 0, len(plan.History)+2)
	messages = append(messages, map[string]string{"role": "system", "content": answerSystemPrompt})
	for _, turn := range plan.History {
		if turn.Role == domain.RoleSystem {
			continue
		}
		messages = append(messages, map[string]string{"role": string(turn.Role), "content": turn.Content})
	}
	userMessage := plan.UserMessage
	if userMessage == "" {
		userMessage = plan.Question
	}
	messages = append(messages, map[string]string{"role": "user", "content": userMessage})
	return messages
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
