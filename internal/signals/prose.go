package signals

import (
	"strings"

	"github.com/tsawler/prose/v3"
)

// ProseExtractor keeps only nouns as keywords, using a part-of-speech
// tagger. Domains and files are found the same way as TokenExtractor.
// Text the tagger cannot handle falls back to TokenExtractor.
type ProseExtractor struct {
	fallback *TokenExtractor
}

// NewProseExtractor creates a ProseExtractor. A nil taxonomy uses
// DefaultDomains.
func NewProseExtractor(tax *Taxonomy) *ProseExtractor {
	return &ProseExtractor{fallback: NewTokenExtractor(tax)}
}

// Extract implements Extractor.
func (e *ProseExtractor) Extract(text string) Signals {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return e.fallback.Extract(text)
	}

	var kw []string
	seen := map[string]bool{}
	for _, tok := range doc.Tokens() {
		if !strings.HasPrefix(tok.Tag, "NN") {
			continue
		}
		for _, w := range Words(tok.Text) {
			if len(w) < MinKeywordLen || isNumber(w) || seen[w] || e.fallback.stop.Contains(w) {
				continue
			}
			seen[w] = true
			kw = append(kw, w)
		}
	}
	return Signals{
		Keywords: kw,
		Domains:  e.fallback.taxonomy.Match(text),
		Files:    Files(text),
	}
}
