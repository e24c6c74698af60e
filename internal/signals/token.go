package signals

import (
	"github.com/orsinium-labs/stopwords"
)

// MinKeywordLen is the shortest word kept as a keyword.
const MinKeywordLen = 3

// TokenExtractor is the default Extractor: lowercase words minus English
// stopwords, plus taxonomy domains and file mentions.
type TokenExtractor struct {
	stop     *stopwords.Stopwords
	taxonomy *Taxonomy
}

// NewTokenExtractor creates a TokenExtractor. A nil taxonomy uses
// DefaultDomains.
func NewTokenExtractor(tax *Taxonomy) *TokenExtractor {
	if tax == nil {
		tax = MustTaxonomy(DefaultDomains)
	}
	return &TokenExtractor{stop: stopwords.MustGet("en"), taxonomy: tax}
}

// Extract implements Extractor.
func (e *TokenExtractor) Extract(text string) Signals {
	var kw []string
	seen := map[string]bool{}
	for _, w := range Words(text) {
		if len(w) < MinKeywordLen || isNumber(w) || seen[w] || e.stop.Contains(w) {
			continue
		}
		seen[w] = true
		kw = append(kw, w)
	}
	return Signals{
		Keywords: kw,
		Domains:  e.taxonomy.Match(text),
		Files:    Files(text),
	}
}
