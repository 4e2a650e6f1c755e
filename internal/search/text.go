// Package search turns free text into FTS5 queries and scores candidate
// documents against a query.
package search

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "i": true, "if": true, "in": true, "into": true, "is": true,
	"it": true, "its": true, "my": true, "not": true, "of": true, "on": true,
	"or": true, "so": true, "that": true, "the": true, "then": true, "there": true,
	"this": true, "to": true, "was": true, "we": true, "were": true, "when": true,
	"which": true, "while": true, "with": true,
}

// Tokenize splits text into lowercase letter/digit runs, matching how the
// FTS5 unicode61 tokenizer segments text.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Terms returns the distinct significant terms of text: tokens of two or more
// characters that are not stopwords.
func Terms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, tok := range Tokenize(text) {
		if len([]rune(tok)) < 2 || stopwords[tok] {
			continue
		}
		terms[tok] = true
	}
	return terms
}

// MatchQuery builds an FTS5 MATCH expression that matches any significant
// term of text. It returns "" when text has no significant terms.
func MatchQuery(text string) string {
	terms := Terms(text)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, tok := range Tokenize(text) {
		if !terms[tok] {
			continue
		}
		delete(terms, tok)
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// Relevance scores doc against query as the Dice coefficient of their
// significant term sets: 1 for identical sets, 0 for disjoint ones.
func Relevance(query, doc string) float64 {
	q := Terms(query)
	d := Terms(doc)
	if len(q) == 0 || len(d) == 0 {
		return 0
	}
	shared := 0
	for t := range q {
		if d[t] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(q)+len(d))
}
