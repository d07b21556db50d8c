package kb

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "this": {}, "that": {}, "from": {}, "are": {},
	"was": {}, "were": {}, "can": {}, "could": {}, "which": {}, "when": {}, "into": {}, "via": {},
	"allows": {}, "allow": {}, "has": {}, "have": {}, "not": {}, "its": {}, "may": {}, "user": {},
	"an": {}, "in": {}, "of": {}, "to": {}, "is": {}, "on": {}, "or": {}, "by": {}, "as": {}, "be": {},
}

// Tokenize lowercases text and splits it into identifier-like terms, dropping stopwords.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-_")
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func termSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range Tokenize(text) {
		set[t] = struct{}{}
	}
	return set
}

// lexicalIndex is an inverted index from term to record positions. Read-only after build.
type lexicalIndex struct {
	postings map[string][]int
}

func newLexicalIndex(records []Record) *lexicalIndex {
	idx := &lexicalIndex{postings: map[string][]int{}}
	for i, r := range records {
		for term := range termSet(r.lexicalText()) {
			idx.postings[term] = append(idx.postings[term], i)
		}
	}
	return idx
}

func (l *lexicalIndex) empty() bool {
	return l == nil || len(l.postings) == 0
}

// score returns, per matching record, the fraction of query terms the record contains.
func (l *lexicalIndex) score(query map[string]struct{}) map[int]float64 {
	out := map[int]float64{}
	if l.empty() || len(query) == 0 {
		return out
	}
	hits := map[int]int{}
	for term := range query {
		for _, pos := range l.postings[term] {
			hits[pos]++
		}
	}
	n := float64(len(query))
	for pos, h := range hits {
		out[pos] = float64(h) / n
	}
	return out
}
