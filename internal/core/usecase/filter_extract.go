package usecase

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
	"github.com/kirillkom/corpus-qa/internal/core/ports"
)

const (
	minFilterYear = 1000
	maxFilterYear = 2100
)

var (
	yearBetweenPattern = regexp.MustCompile(`(?i)\bbetween\s+(\d{4})\s+(?:and|to|-)\s+(\d{4})\b`)
	yearRangePattern   = regexp.MustCompile(`(?i)\b(?:from\s+)?(\d{4})\s*(?:-|–|to|through)\s*(\d{4})\b`)
	yearMinPattern     = regexp.MustCompile(`(?i)\b(?:after|since|from|post|newer than|later than)\s+(\d{4})\b`)
	yearMaxPattern     = regexp.MustCompile(`(?i)\b(?:before|until|till|prior to|up to|older than|earlier than)\s+(\d{4})\b`)
	yearExactPattern   = regexp.MustCompile(`(?i)\b(?:in|during|published in|from the year)\s+(\d{4})\b`)

	taggedPattern     = regexp.MustCompile(`(?i)\b(?:tagged(?:\s+(?:with|as))?|with\s+(?:the\s+)?tags?)\s+`)
	aboutPattern      = regexp.MustCompile(`(?i)\b(?:papers|articles|documents|notes|items|books|publications|sources)\s+(?:about|on)\s+`)
	collectionBefore  = regexp.MustCompile(`(?i)\b(?:from|in)\s+(?:the\s+|my\s+)?collection\s+`)
	collectionAfter   = regexp.MustCompile(`(?i)\b(?:from|in)\s+(?:the\s+|my\s+)?((?:["']?[\p{L}\d][\p{L}\d\-_']*\s+){1,3})collection\b`)
	authorPattern     = regexp.MustCompile(`\b[Bb]y\s+(\p{Lu}[\p{L}'\-]+(?:\s+\p{Lu}[\p{L}'\-]+)?)`)
	titledPattern     = regexp.MustCompile(`(?i)\b(?:titled|title\s+(?:contains|containing|includes))\s+"([^"]+)"`)
	itemTypePattern   = regexp.MustCompile(`(?i)\b(?:of\s+type|item\s+type)\s+["']?([\p{L}\d_\-]+)["']?`)
	anySeparator      = regexp.MustCompile(`(?i)\s*(?:,|\bor\b)\s*`)
	allSeparator      = regexp.MustCompile(`(?i)\s*(?:,|\band\b)\s*`)
	phraseStopPattern = regexp.MustCompile(`(?i)[,.;:?!()]|\s(?:after|before|since|from|in|between|by|published|during|until|that|which|where|about|tagged|written)\s`)
)

// FilterExtractor implements the auto tier: deterministic cues first, then the model.
type FilterExtractor struct {
	model   ports.FilterExtractionModel
	timeout time.Duration
}

func NewFilterExtractor(model ports.FilterExtractionModel, timeout time.Duration) *FilterExtractor {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &FilterExtractor{model: model, timeout: timeout}
}

// Extract never fails: model errors or timeouts produce NoFilter and a non-nil failure.
func (e *FilterExtractor) Extract(ctx context.Context, query string) (domain.FilterExtraction, error) {
	if extraction := extractDeterministicFilter(query); extraction.Found {
		return extraction, nil
	}
	if e.model == nil {
		return domain.NoFilter(), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	extraction, err := e.model.ExtractFilter(callCtx, query)
	if err != nil {
		return domain.NoFilter(), err
	}
	if !extraction.Found {
		return domain.NoFilter(), nil
	}
	return domain.FoundFilter(extraction.Filter), nil
}

func extractDeterministicFilter(query string) domain.FilterExtraction {
	q := " " + strings.TrimSpace(query) + " "
	var f domain.Filter

	switch {
	case yearBetweenPattern.MatchString(q):
		m := yearBetweenPattern.FindStringSubmatch(q)
		f.YearMin, f.YearMax = parseYear(m[1]), parseYear(m[2])
	case yearRangePattern.MatchString(q):
		m := yearRangePattern.FindStringSubmatch(q)
		f.YearMin, f.YearMax = parseYear(m[1]), parseYear(m[2])
	default:
		if m := yearMinPattern.FindStringSubmatch(q); m != nil {
			f.YearMin = parseYear(m[1])
		}
		if m := yearMaxPattern.FindStringSubmatch(q); m != nil {
			f.YearMax = parseYear(m[1])
		}
		if f.YearMin == 0 && f.YearMax == 0 {
			if m := yearExactPattern.FindStringSubmatch(q); m != nil {
				y := parseYear(m[1])
				f.YearMin, f.YearMax = y, y
			}
		}
	}

	if loc := taggedPattern.FindStringIndex(q); loc != nil {
		f.Tags, f.TagsMatch = splitPhraseValues(phraseAfter(q, loc[1]))
	} else if loc := aboutPattern.FindStringIndex(q); loc != nil {
		if phrase := phraseAfter(q, loc[1]); phrase != "" {
			f.Tags, f.TagsMatch = []string{phrase}, domain.MatchAny
		}
	}

	if loc := collectionBefore.FindStringIndex(q); loc != nil {
		f.Collections, f.CollectionsMatch = splitPhraseValues(phraseAfter(q, loc[1]))
	} else if m := collectionAfter.FindStringSubmatch(q); m != nil {
		if name := collectionName(m[1]); name != "" {
			f.Collections = []string{name}
		}
	}

	if m := authorPattern.FindStringSubmatch(q); m != nil {
		f.AuthorSubstring = m[1]
	}
	if m := titledPattern.FindStringSubmatch(q); m != nil {
		f.TitleSubstring = m[1]
	}
	if m := itemTypePattern.FindStringSubmatch(q); m != nil {
		f.ItemTypes = []string{m[1]}
	}

	return domain.FoundFilter(f)
}

func parseYear(s string) int {
	y, err := strconv.Atoi(s)
	if err != nil || y < minFilterYear || y > maxFilterYear {
		return 0
	}
	return y
}

// phraseAfter returns the words following a cue up to punctuation or the next cue word.
func phraseAfter(q string, start int) string {
	rest := q[start:]
	if loc := phraseStopPattern.FindStringIndex(rest); loc != nil {
		rest = rest[:loc[0]]
	}
	return strings.Trim(strings.TrimSpace(rest), `"'`)
}

// collectionName keeps the words after the last cue word, so "list from the nlp" yields "nlp".
func collectionName(words string) string {
	fields := strings.Fields(words)
	start := 0
	for i, w := range fields {
		switch strings.ToLower(strings.Trim(w, `"'`)) {
		case "in", "from", "the", "my", "of":
			start = i + 1
		}
	}
	fields = fields[start:]
	return strings.Trim(strings.Join(fields, " "), `"'`)
}

// splitPhraseValues splits "a, b or c" (any) and "a and b" (all).
func splitPhraseValues(phrase string) ([]string, domain.MatchMode) {
	if phrase == "" {
		return nil, domain.MatchAny
	}
	mode, sep := domain.MatchAny, anySeparator
	lower := strings.ToLower(phrase)
	if strings.Contains(lower, " and ") && !strings.Contains(lower, " or ") {
		mode, sep = domain.MatchAll, allSeparator
	}
	parts := sep.Split(phrase, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out, mode
}
