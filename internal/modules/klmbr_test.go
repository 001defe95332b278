package modules

import (
	"math/rand"
	"strings"
	"testing"
)

func TestModifyText_Empty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	got, mapping, err := modifyText(rng, "", 50, []string{"all"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "" || len(mapping) != 0 {
		t.Fatalf("empty input produced %q / %v", got, mapping)
	}
}

func TestModifyText_PercentageBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, _, err := modifyText(rng, "hello", -1, []string{"all"}); err == nil {
		t.Fatal("negative percentage accepted")
	}
	if _, _, err := modifyText(rng, "hello", 101, []string{"all"}); err == nil {
		t.Fatal("percentage over 100 accepted")
	}
}

func TestModifyText_UnknownMod(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, _, err := modifyText(rng, "hello", 50, []string{"sparkle"}); err == nil {
		t.Fatal("unknown mod accepted")
	}
}

func TestModifyText_ZeroPercentStillChangesOneChar(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	got, _, err := modifyText(rng, "aaaa", 0, []string{"leetspeak"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(got, "4") != 1 {
		t.Fatalf("expected exactly one rewrite, got %q", got)
	}
}

func TestModifyText_FullLeetspeak(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	got, mapping, err := modifyText(rng, "ale", 100, []string{"leetspeak"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "413" {
		t.Fatalf("leetspeak rewrite = %q", got)
	}
	if mapping["413"] != "ale" {
		t.Fatalf("mapping = %v", mapping)
	}
}

func TestModifyText_MappingTrimsPunctuation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, mapping, err := modifyText(rng, "tea.", 100, []string{"leetspeak"})
	if err != nil {
		t.Fatal(err)
	}
	if original, ok := mapping["734"]; !ok || original != "tea" {
		t.Fatalf("punctuation not trimmed: %v", mapping)
	}
}

func TestModifyText_RemoveVowel(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	got, _, err := modifyText(rng, "aeiou", 100, []string{"remove_vowel"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("vowels survived: %q", got)
	}
}

func TestModifyText_AllExpandsEveryMod(t *testing.T) {
	names := klmbrModNames()
	if len(names) != len(klmbrRewriters) {
		t.Fatalf("mod list incomplete: %v", names)
	}
	rng := rand.New(rand.NewSource(3))
	got, _, err := modifyText(rng, "the quick brown fox jumps over the lazy dog", 60, []string{"all"})
	if err != nil {
		t.Fatal(err)
	}
	if got == "the quick brown fox jumps over the lazy dog" {
		t.Fatalf("60%% rewrite left the text untouched")
	}
}

func TestWordSpans(t *testing.T) {
	cells := []string{"h", "i", " ", " ", "y", "o", "u"}
	spans := wordSpans(cells)
	if len(spans) != 2 {
		t.Fatalf("spans = %v", spans)
	}
	if spans[0].start != 0 || spans[0].end != 2 || spans[1].start != 4 || spans[1].end != 7 {
		t.Fatalf("span bounds = %v", spans)
	}
}
