package embedding

import (
	"reflect"
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("ForeignKey on_delete", 8)
	if len(ids) != 8 || len(attn) != 8 || len(types) != 8 {
		t.Fatalf("lengths = %d/%d/%d, want 8", len(ids), len(attn), len(types))
	}
	// [CLS] + 4 word pieces + [SEP], then padding.
	if ids[0] != 101 || ids[5] != 102 {
		t.Errorf("ids = %v, want CLS at 0 and SEP at 5", ids)
	}
	for i, want := range []int64{1, 1, 1, 1, 1, 1, 0, 0} {
		if attn[i] != want {
			t.Errorf("attention[%d] = %d, want %d", i, attn[i], want)
		}
	}
	if ids[1] != int64(HashString("foreignkey")%30000) {
		t.Errorf("ids[1] = %d, want the lowercased word's id", ids[1])
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	ids, attn, _ := (&SimpleTokenizer{}).Tokenize("one two three four five six", 4)
	if ids[0] != 101 || ids[3] != 102 || ids[2] != int64(HashString("two")%30000) {
		t.Errorf("ids = %v, want CLS, two words, then SEP", ids)
	}
	for i, a := range attn {
		if a != 1 {
			t.Errorf("attention[%d] = %d on a full window", i, a)
		}
	}

	ids, _, _ = (&SimpleTokenizer{}).Tokenize("x", 0)
	if len(ids) != 256 {
		t.Errorf("default window = %d, want 256", len(ids))
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"  a  b  c  ", []string{"a", "b", "c"}},
		{"ForeignKey on_delete=CASCADE", []string{"foreignkey", "on_delete", "on", "delete", "cascade"}},
		{"__init__ and useState()", []string{"init", "and", "usestate"}},
		{"", nil},
		{" ... ", nil},
	}
	for _, tt := range tests {
		if got := SplitWords(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitWords(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSplitWords_MatchesHashEmbedder(t *testing.T) {
	text := "Django QuerySet.filter(pk__in=ids)"
	if got, want := SplitWords(text), hashTokens(text); !reflect.DeepEqual(got, want) {
		t.Errorf("SplitWords = %v, hash embedder tokens = %v", got, want)
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("abc") == HashString("acb") {
		t.Error("hash should depend on order")
	}
	if HashString("a very long token that overflows the accumulator many times") < 0 {
		t.Error("hash should be non-negative")
	}
}
