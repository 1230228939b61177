package domain

import "testing"

func TestFilterNormalize(t *testing.T) {
	f := Filter{
		YearMin:         2021,
		YearMax:         2018,
		Tags:            []string{" NLP", "nlp", "", "Vision"},
		Collections:     []string{"Thesis"},
		ItemTypes:       []string{"journalArticle", "journalArticle"},
		TitleSubstring:  "  survey ",
		AuthorSubstring: " ",
	}.Normalize()

	if f.YearMin != 2018 || f.YearMax != 2021 {
		t.Fatalf("expected swapped year bounds, got %d..%d", f.YearMin, f.YearMax)
	}
	if len(f.Tags) != 2 || f.Tags[0] != "nlp" || f.Tags[1] != "vision" {
		t.Fatalf("unexpected tags %v", f.Tags)
	}
	if len(f.ItemTypes) != 1 || f.ItemTypes[0] != "journalArticle" {
		t.Fatalf("item types must keep case, got %v", f.ItemTypes)
	}
	if f.TagsMatch != MatchAny || f.CollectionsMatch != MatchAny {
		t.Fatalf("expected default match mode any")
	}
	if f.TitleSubstring != "survey" || f.AuthorSubstring != "" {
		t.Fatalf("unexpected substrings %q %q", f.TitleSubstring, f.AuthorSubstring)
	}
}

func TestFilterMatches(t *testing.T) {
	meta := ChunkMetadata{
		Title:       "A Survey of Graph Networks",
		Authors:     []string{"Ada Lovelace", "Alan Turing"},
		Year:        2021,
		Tags:        []string{"GNN", "survey"},
		Collections: []string{"reading-list"},
		ItemType:    "journalArticle",
	}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "empty", filter: Filter{}, want: true},
		{name: "year min", filter: Filter{YearMin: 2020}, want: true},
		{name: "year max excludes", filter: Filter{YearMax: 2020}, want: false},
		{name: "tag any", filter: Filter{Tags: []string{"gnn", "cv"}}, want: true},
		{name: "tag all", filter: Filter{Tags: []string{"gnn", "cv"}, TagsMatch: MatchAll}, want: false},
		{name: "collection", filter: Filter{Collections: []string{"Reading-List"}}, want: true},
		{name: "item type", filter: Filter{ItemTypes: []string{"book"}}, want: false},
		{name: "title", filter: Filter{TitleSubstring: "graph"}, want: true},
		{name: "author", filter: Filter{AuthorSubstring: "turing"}, want: true},
		{name: "author miss", filter: Filter{AuthorSubstring: "hopper"}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Normalize().Matches(meta); got != tc.want {
				t.Fatalf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFilterYearMaxExcludesUnknownYear(t *testing.T) {
	if (Filter{YearMax: 2020}).MatchesNative(ChunkMetadata{}) {
		t.Fatalf("unknown year must not satisfy year_max")
	}
	if !(Filter{YearMin: 2020}).MatchesNative(ChunkMetadata{Year: 2020}) {
		t.Fatalf("year_min is inclusive")
	}
}

func TestFoundFilterRejectsEmpty(t *testing.T) {
	if FoundFilter(Filter{Tags: []string{" "}}).Found {
		t.Fatalf("blank filter must be reported as no filter")
	}
	got := FoundFilter(Filter{YearMin: 2020})
	if !got.Found || got.Filter.String() != "year>=2020" {
		t.Fatalf("unexpected extraction %+v", got)
	}
}
