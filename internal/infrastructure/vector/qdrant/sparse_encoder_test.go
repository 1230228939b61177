package qdrant

import (
	"fmt"
	"strings"
	"testing"
)

func TestEncodeSparseQueryDeterministic(t *testing.T) {
	v1 := encodeSparseQuery("Attention weights for DOC_0001")
	v2 := encodeSparseQuery("Attention weights for DOC_0001")
	if len(v1.Indices) != len(v2.Indices) || len(v1.Values) != len(v2.Values) {
		t.Fatalf("vector sizes mismatch: v1=%d/%d v2=%d/%d", len(v1.Indices), len(v1.Values), len(v2.Indices), len(v2.Values))
	}
	for i := range v1.Indices {
		if v1.Indices[i] != v2.Indices[i] {
			t.Fatalf("indices mismatch at %d: %d vs %d", i, v1.Indices[i], v2.Indices[i])
		}
		if v1.Values[i] != v2.Values[i] {
			t.Fatalf("values mismatch at %d: %f vs %f", i, v1.Values[i], v2.Values[i])
		}
	}
}

func TestEncodeSparseQuerySortsIndices(t *testing.T) {
	v := encodeSparseQuery("zulu alpha beta gamma")
	if len(v.Indices) == 0 {
		t.Fatalf("expected non-empty sparse vector")
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i-1] > v.Indices[i] {
			t.Fatalf("indices not sorted at %d: %d > %d", i, v.Indices[i-1], v.Indices[i])
		}
	}
}

func TestEncodeSparseQueryEmptyNoiseInput(t *testing.T) {
	v := encodeSparseQuery("___---!!!")
	if len(v.Indices) != 0 || len(v.Values) != 0 {
		t.Fatalf("expected empty sparse vector, got %+v", v)
	}
}

func TestTokenizeAlphaNumUnicodeAndDigitsStability(t *testing.T) {
	tokens := tokenizeAlphaNum("Привет DOC_0001 версия-2")
	if len(tokens) == 0 {
		t.Fatalf("expected tokens, got empty")
	}
	want := []string{"привет", "doc", "0001", "версия", "2"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %v, got %v", want, tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("token %d: expected %q, got %q", i, want[i], tokens[i])
		}
	}
}

func TestEncodeSparseQueryRepeatedTermsSaturate(t *testing.T) {
	once := encodeSparseQuery("transformer")
	thrice := encodeSparseQuery("transformer transformer transformer")
	if len(once.Values) != 1 || len(thrice.Values) != 1 {
		t.Fatalf("expected single-term vectors")
	}
	if thrice.Values[0] <= once.Values[0] || thrice.Values[0] >= float32(queryBM25K+1) {
		t.Fatalf("expected saturated weight in (%f, %f), got %f", once.Values[0], queryBM25K+1, thrice.Values[0])
	}
}

func TestEncodeSparseQueryCapsTerms(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxSparseTerms+50; i++ {
		fmt.Fprintf(&b, "term%d ", i)
	}
	v := encodeSparseQuery(b.String())
	if len(v.Indices) != maxSparseTerms {
		t.Fatalf("expected %d terms, got %d", maxSparseTerms, len(v.Indices))
	}
}
