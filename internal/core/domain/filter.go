package domain

import (
	"fmt"
	"sort"
	"strings"
)

type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

type FilterMode string

const (
	FilterModeNone   FilterMode = "none"
	FilterModeAuto   FilterMode = "auto"
	FilterModeManual FilterMode = "manual"
)

// Filter is a structured predicate over chunk metadata. Zero values mean "unconstrained".
type Filter struct {
	YearMin          int       `json:"year_min,omitempty" yaml:"year_min"`
	YearMax          int       `json:"year_max,omitempty" yaml:"year_max"`
	Tags             []string  `json:"tags,omitempty" yaml:"tags"`
	TagsMatch        MatchMode `json:"tags_match,omitempty" yaml:"tags_match"`
	Collections      []string  `json:"collections,omitempty" yaml:"collections"`
	CollectionsMatch MatchMode `json:"collections_match,omitempty" yaml:"collections_match"`
	ItemTypes        []string  `json:"item_types,omitempty" yaml:"item_types"`
	TitleSubstring   string    `json:"title_substring,omitempty" yaml:"title_substring"`
	AuthorSubstring  string    `json:"author_substring,omitempty" yaml:"author_substring"`
}

// NativeFilter holds the predicates external indexes can evaluate themselves.
type NativeFilter struct {
	YearMin   int
	YearMax   int
	ItemTypes []string
}

func (n NativeFilter) IsEmpty() bool {
	return n.YearMin == 0 && n.YearMax == 0 && len(n.ItemTypes) == 0
}

func (f Filter) IsEmpty() bool {
	return f.Native().IsEmpty() && !f.HasClientPredicates()
}

func (f Filter) Native() NativeFilter {
	return NativeFilter{
		YearMin:   f.YearMin,
		YearMax:   f.YearMax,
		ItemTypes: f.ItemTypes,
	}
}

func (f Filter) HasClientPredicates() bool {
	return len(f.Tags) > 0 ||
		len(f.Collections) > 0 ||
		strings.TrimSpace(f.TitleSubstring) != "" ||
		strings.TrimSpace(f.AuthorSubstring) != ""
}

// Normalize trims and lowercases set-valued predicates, drops blanks, and
// orders them so equal filters compare and log identically.
func (f Filter) Normalize() Filter {
	out := f
	out.Tags = normalizeSet(f.Tags, true)
	out.Collections = normalizeSet(f.Collections, true)
	// item types are matched exactly by the indexes, so case is preserved
	out.ItemTypes = normalizeSet(f.ItemTypes, false)
	out.TitleSubstring = strings.TrimSpace(f.TitleSubstring)
	out.AuthorSubstring = strings.TrimSpace(f.AuthorSubstring)
	if out.TagsMatch != MatchAll {
		out.TagsMatch = MatchAny
	}
	if out.CollectionsMatch != MatchAll {
		out.CollectionsMatch = MatchAny
	}
	if out.YearMin < 0 {
		out.YearMin = 0
	}
	if out.YearMax < 0 {
		out.YearMax = 0
	}
	if out.YearMin > 0 && out.YearMax > 0 && out.YearMin > out.YearMax {
		out.YearMin, out.YearMax = out.YearMax, out.YearMin
	}
	return out
}

// MatchesNative evaluates the native predicates locally.
func (f Filter) MatchesNative(meta ChunkMetadata) bool {
	if f.YearMin > 0 && meta.Year < f.YearMin {
		return false
	}
	if f.YearMax > 0 && (meta.Year == 0 || meta.Year > f.YearMax) {
		return false
	}
	if len(f.ItemTypes) > 0 && !containsFold(f.ItemTypes, meta.ItemType) {
		return false
	}
	return true
}

// MatchesClient evaluates the predicates that are applied after retrieval.
func (f Filter) MatchesClient(meta ChunkMetadata) bool {
	if len(f.Tags) > 0 && !matchSet(f.Tags, meta.Tags, f.TagsMatch) {
		return false
	}
	if len(f.Collections) > 0 && !matchSet(f.Collections, meta.Collections, f.CollectionsMatch) {
		return false
	}
	if title := strings.TrimSpace(f.TitleSubstring); title != "" {
		if !strings.Contains(strings.ToLower(meta.Title), strings.ToLower(title)) {
			return false
		}
	}
	if author := strings.TrimSpace(f.AuthorSubstring); author != "" {
		needle := strings.ToLower(author)
		found := false
		for _, a := range meta.Authors {
			if strings.Contains(strings.ToLower(a), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f Filter) Matches(meta ChunkMetadata) bool {
	return f.MatchesNative(meta) && f.MatchesClient(meta)
}

func (f Filter) String() string {
	if f.IsEmpty() {
		return "none"
	}
	parts := make([]string, 0, 7)
	if f.YearMin > 0 {
		parts = append(parts, fmt.Sprintf("year>=%d", f.YearMin))
	}
	if f.YearMax > 0 {
		parts = append(parts, fmt.Sprintf("year<=%d", f.YearMax))
	}
	if len(f.Tags) > 0 {
		parts = append(parts, fmt.Sprintf("tags(%s)=%s", matchModeOrAny(f.TagsMatch), strings.Join(f.Tags, "|")))
	}
	if len(f.Collections) > 0 {
		parts = append(parts, fmt.Sprintf("collections(%s)=%s", matchModeOrAny(f.CollectionsMatch), strings.Join(f.Collections, "|")))
	}
	if len(f.ItemTypes) > 0 {
		parts = append(parts, "item_types="+strings.Join(f.ItemTypes, "|"))
	}
	if f.TitleSubstring != "" {
		parts = append(parts, fmt.Sprintf("title~%q", f.TitleSubstring))
	}
	if f.AuthorSubstring != "" {
		parts = append(parts, fmt.Sprintf("author~%q", f.AuthorSubstring))
	}
	return strings.Join(parts, " ")
}

// FilterExtraction is the outcome of auto extraction: either a filter or an explicit "no filter".
type FilterExtraction struct {
	Filter Filter
	Found  bool
}

func NoFilter() FilterExtraction {
	return FilterExtraction{}
}

func FoundFilter(f Filter) FilterExtraction {
	f = f.Normalize()
	if f.IsEmpty() {
		return NoFilter()
	}
	return FilterExtraction{Filter: f, Found: true}
}

func matchSet(want, have []string, mode MatchMode) bool {
	if mode == MatchAll {
		for _, w := range want {
			if !containsFold(have, w) {
				return false
			}
		}
		return true
	}
	for _, w := range want {
		if containsFold(have, w) {
			return true
		}
	}
	return false
}

func containsFold(values []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func normalizeSet(values []string, lower bool) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func matchModeOrAny(m MatchMode) MatchMode {
	if m == "" {
		return MatchAny
	}
	return m
}
