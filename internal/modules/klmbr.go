package modules

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"github.com/harborai/boost/internal/chat"
	"github.com/harborai/boost/internal/session"
)

const klmbrDoc = `### klmbr

Rewrites a percentage of the characters in the selected input messages to
break tokenizer patterns: random capitalization, combining diacritics,
leetspeak digits, vowel removal, zero-width joiners, homoglyphs, upside-down
glyphs and zalgo stacking. The original words are kept in node metadata so a
downstream consumer can reconstruct the input.

Params: ` + "`klmbr_percentage`, `klmbr_mods`, `klmbr_strat`, `klmbr_strat_params`."

func init() {
	Register(Module{
		Name:  "klmbr",
		Doc:   klmbrDoc,
		Apply: klmbrApply,
	})
}

var leetspeakMap = map[rune]string{
	'a': "4", 'e': "3", 'i': "1", 'o': "0", 's': "5",
	't': "7", 'b': "8", 'g': "9", 'l': "1",
}

// Combining marks used by the diacritic and zalgo rewrites.
var combiningMarks = []string{
	"̀", "́", "̂", "̃", "̈",
	"̄", "̆", "̇", "̊", "̋",
}

var homoglyphMap = map[rune]string{
	'a': "а", 'c': "с", 'e': "е", 'o': "о", 'p': "р",
	'x': "х", 'y': "у", 'A': "А", 'B': "В", 'C': "С",
	'E': "Е", 'H': "Н", 'K': "К", 'M': "М", 'O': "О",
	'P': "Р", 'T': "Т", 'X': "Х",
}

var lookalikeMap = map[rune]string{
	'a': "ɑ", 'b': "Ь", 'd': "ԁ", 'g': "ɡ", 'h': "һ",
	'i': "і", 'j': "ј", 'l': "ⅼ", 'n': "ո", 'q': "ԛ",
	's': "ѕ", 'u': "ս", 'w': "ѡ", 'z': "ᴢ",
}

var invert180Map = map[rune]string{
	'a': "ɐ", 'b': "q", 'c': "ɔ", 'd': "p", 'e': "ǝ",
	'f': "ɟ", 'g': "ƃ", 'h': "ɥ", 'i': "ı", 'j': "ɾ",
	'k': "ʞ", 'l': "ן", 'm': "ɯ", 'n': "u", 'p': "d",
	'q': "b", 'r': "ɹ", 't': "ʇ", 'u': "n", 'v': "ʌ",
	'w': "ʍ", 'y': "ʎ", '!': "¡", '?': "¿",
}

const trailingPunctuation = ".,!?;:"

// rewriteFunc transforms the rune cell at idx. Cells start as single runes;
// a rewrite may grow or empty its cell.
type rewriteFunc func(rng *rand.Rand, cells []string, idx int) string

func firstRune(cell string) rune {
	for _, r := range cell {
		return r
	}
	return 0
}

var klmbrRewriters = map[string]rewriteFunc{
	"capitalize": func(rng *rand.Rand, cells []string, idx int) string {
		r := firstRune(cells[idx])
		if unicode.IsUpper(r) {
			return string(unicode.ToLower(r))
		}
		return string(unicode.ToUpper(r))
	},
	"diacritic": func(rng *rand.Rand, cells []string, idx int) string {
		if !unicode.IsLetter(firstRune(cells[idx])) {
			return cells[idx]
		}
		return cells[idx] + combiningMarks[rng.Intn(len(combiningMarks))]
	},
	"leetspeak": func(rng *rand.Rand, cells []string, idx int) string {
		if sub, ok := leetspeakMap[unicode.ToLower(firstRune(cells[idx]))]; ok {
			return sub
		}
		return cells[idx]
	},
	"remove_vowel": func(rng *rand.Rand, cells []string, idx int) string {
		if strings.ContainsRune("aeiouAEIOU", firstRune(cells[idx])) {
			return ""
		}
		return cells[idx]
	},
	"zero_width": func(rng *rand.Rand, cells []string, idx int) string {
		return cells[idx] + "\u200b"
	},
	"zalgo": func(rng *rand.Rand, cells []string, idx int) string {
		if !unicode.IsLetter(firstRune(cells[idx])) {
			return cells[idx]
		}
		out := cells[idx]
		for i := 0; i < 1+rng.Intn(3); i++ {
			out += combiningMarks[rng.Intn(len(combiningMarks))]
		}
		return out
	},
	"homoglyph": func(rng *rand.Rand, cells []string, idx int) string {
		if sub, ok := homoglyphMap[firstRune(cells[idx])]; ok {
			return sub
		}
		return cells[idx]
	},
	"unicode_lookalike": func(rng *rand.Rand, cells []string, idx int) string {
		if sub, ok := lookalikeMap[unicode.ToLower(firstRune(cells[idx]))]; ok {
			return sub
		}
		return cells[idx]
	},
	"invert_180": func(rng *rand.Rand, cells []string, idx int) string {
		if sub, ok := invert180Map[unicode.ToLower(firstRune(cells[idx]))]; ok {
			return sub
		}
		return cells[idx]
	},
}

// klmbrModNames lists every rewriter, the expansion of mods=["all"].
func klmbrModNames() []string {
	names := make([]string, 0, len(klmbrRewriters))
	for name := range klmbrRewriters {
		names = append(names, name)
	}
	return names
}

// wordSpan is the cell range of one whitespace-delimited word.
type wordSpan struct {
	start, end int
}

func wordSpans(cells []string) []wordSpan {
	var spans []wordSpan
	start := -1
	for i, cell := range cells {
		if unicode.IsSpace(firstRune(cell)) {
			if start >= 0 {
				spans = append(spans, wordSpan{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, wordSpan{start, len(cells)})
	}
	return spans
}

// modifyText rewrites a percentage of the characters of text with randomly
// chosen mods. It returns the rewritten text and a modified-word to
// original-word mapping, trailing punctuation trimmed.
func modifyText(rng *rand.Rand, text string, percentage float64, modNames []string) (string, map[string]string, error) {
	if text == "" {
		return "", map[string]string{}, nil
	}
	if percentage < 0 || percentage > 100 {
		return "", nil, fmt.Errorf("percentage %v out of range", percentage)
	}
	if len(modNames) == 0 || modNames[0] == "all" {
		modNames = klmbrModNames()
	}
	for _, name := range modNames {
		if _, ok := klmbrRewriters[name]; !ok {
			return "", nil, fmt.Errorf("unknown klmbr mod %q", name)
		}
	}

	runes := []rune(text)
	cells := make([]string, len(runes))
	originals := make([]string, len(runes))
	for i, r := range runes {
		cells[i] = string(r)
		originals[i] = string(r)
	}
	spans := wordSpans(cells)

	count := int(float64(len(cells)) * percentage / 100)
	if count < 1 {
		count = 1
	}
	if count > len(cells) {
		count = len(cells)
	}

	touched := map[int]bool{}
	for _, idx := range rng.Perm(len(cells))[:count] {
		name := modNames[rng.Intn(len(modNames))]
		cells[idx] = klmbrRewriters[name](rng, cells, idx)
		touched[idx] = true
	}

	mapping := map[string]string{}
	for _, span := range spans {
		changed := false
		for i := span.start; i < span.end; i++ {
			if touched[i] && cells[i] != originals[i] {
				changed = true
				break
			}
		}
		if !changed {
			continue
		}
		modified := strings.TrimRight(strings.Join(cells[span.start:span.end], ""), trailingPunctuation)
		original := strings.TrimRight(strings.Join(originals[span.start:span.end], ""), trailingPunctuation)
		if modified != original {
			mapping[modified] = original
		}
	}

	return strings.Join(cells, ""), mapping, nil
}

// klmbrApply rewrites the selected input nodes and streams the completion.
func klmbrApply(ctx context.Context, c *chat.Chat, s *session.Session) error {
	cfg := s.Config()
	sel := cfg.Klmbr.Selection()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	nodes := chat.ApplyStrategy(c, sel.Strategy, sel.Params)
	for _, node := range nodes {
		rewritten, mapping, err := modifyText(rng, node.Content, cfg.Klmbr.Percentage, cfg.Klmbr.Mods)
		if err != nil {
			return fmt.Errorf("klmbr rewrite: %w", err)
		}
		node.Content = rewritten
		node.SetMeta("klmbr", mapping)
	}

	_, err := s.StreamFinalCompletion(ctx, session.CompletionOptions{Chat: c})
	return err
}
