package variant

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

type Trigger struct {
	Phrase string `yaml:"phrase"`
	Weight int    `yaml:"weight"`
}

// Term is a canonical value and the spellings that map to it. Aliases match
// case-insensitively, Exact spellings case-sensitively.
type Term struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Exact   []string `yaml:"exact"`
}

type Lexicon struct {
	Triggers        []Trigger `yaml:"triggers"`
	ReplacedMarkers []string  `yaml:"replaced_markers"`
	Markets         []Term    `yaml:"markets"`
	Audiences       []Term    `yaml:"audiences"`
	Industries      []Term    `yaml:"industries"`

	triggers []compiledTrigger
	markets  []compiledTerm
	audience []compiledTerm
	industry []compiledTerm
}

type compiledTrigger struct {
	re     *regexp.Regexp
	weight int
}

type compiledTerm struct {
	name string
	re   *regexp.Regexp
}

// DefaultLexicon parses the embedded lexicon.
func DefaultLexicon() (*Lexicon, error) {
	return ParseLexicon(defaultLexicon)
}

func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	if err := lex.compile(); err != nil {
		return nil, err
	}
	return &lex, nil
}

func (l *Lexicon) compile() error {
	for _, t := range l.Triggers {
		re, err := regexp.Compile(`(?i)\b` + phrasePattern(t.Phrase) + `\b`)
		if err != nil {
			return fmt.Errorf("trigger %q: %w", t.Phrase, err)
		}
		l.triggers = append(l.triggers, compiledTrigger{re: re, weight: t.Weight})
	}

	var err error
	if l.markets, err = compileTerms(l.Markets); err != nil {
		return err
	}
	if l.audience, err = compileTerms(l.Audiences); err != nil {
		return err
	}
	if l.industry, err = compileTerms(l.Industries); err != nil {
		return err
	}

	// Longer markers first so "away from" wins over "from".
	sort.Slice(l.ReplacedMarkers, func(i, j int) bool {
		return len(l.ReplacedMarkers[i]) > len(l.ReplacedMarkers[j])
	})
	return nil
}

func compileTerms(terms []Term) ([]compiledTerm, error) {
	out := make([]compiledTerm, 0, len(terms))
	for _, t := range terms {
		type alt struct {
			pattern string
			size    int
		}
		var spellings []alt
		for _, a := range t.Aliases {
			spellings = append(spellings, alt{`(?i:` + phrasePattern(a) + `)`, len(a)})
		}
		for _, e := range t.Exact {
			spellings = append(spellings, alt{regexp.QuoteMeta(e), len(e)})
		}
		// Longest first: alternation is leftmost-first, so "US" must not
		// shadow "USA".
		sort.SliceStable(spellings, func(i, j int) bool { return spellings[i].size > spellings[j].size })
		alts := make([]string, len(spellings))
		for i, s := range spellings {
			alts[i] = s.pattern
		}
		if len(alts) == 0 {
			continue
		}
		// Word boundaries are checked by hand in find, since exact spellings
		// such as "U.S." end in punctuation.
		re, err := regexp.Compile(strings.Join(alts, "|"))
		if err != nil {
			return nil, fmt.Errorf("term %q: %w", t.Name, err)
		}
		out = append(out, compiledTerm{name: t.Name, re: re})
	}
	return out, nil
}

func phrasePattern(p string) string {
	words := strings.Fields(p)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

type mention struct {
	name  string
	start int
}

// find returns every whole-word mention of terms in text, ordered by
// position.
func find(terms []compiledTerm, text string) []mention {
	var out []mention
	for _, t := range terms {
		for _, loc := range t.re.FindAllStringIndex(text, -1) {
			if isWordChar(text, loc[0]-1) || isWordChar(text, loc[1]) {
				continue
			}
			out = append(out, mention{name: t.name, start: loc[0]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

func isWordChar(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// canonical maps a free-form value onto a term name, or returns it unchanged.
func canonical(terms []compiledTerm, value string) string {
	if m := find(terms, value); len(m) > 0 {
		return m[0].name
	}
	return strings.TrimSpace(value)
}
