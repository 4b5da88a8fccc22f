package catalog

import (
	"sort"
	"strings"
	"unicode"

	"duck-analyst/internal/domain"
)

// Relevance weights per matching term.
const (
	weightTableName = 4
	weightTablePart = 3
	weightColumn    = 2
	weightSample    = 1
)

// stopWords never count as a match. Covers question filler and SQL keywords
// so prior SQL can be passed as relevance text.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "what": true, "which": true, "how": true,
	"many": true, "much": true, "per": true, "show": true, "with": true, "from": true,
	"total": true, "top": true, "last": true, "each": true, "list": true, "all": true,
	"are": true, "was": true, "were": true, "that": true, "this": true, "there": true,
	"have": true, "has": true, "does": true, "did": true, "give": true, "into": true,
	"select": true, "where": true, "group": true, "order": true, "limit": true,
	"join": true, "sum": true, "count": true, "avg": true, "desc": true, "asc": true,
	"distinct": true, "having": true, "between": true, "not": true, "null": true,
}

// selectTables returns the maxTables tables most relevant to texts, in
// snapshot order. Each distinct term scores a table once per category:
// whole table name, table name part, column name and sample value. Ties and
// unmatched tables keep snapshot order, so without texts the first
// maxTables tables are returned.
func selectTables(tables []domain.TableSchema, maxTables int, texts []string) []domain.TableSchema {
	if len(tables) <= maxTables {
		return tables
	}
	terms := relevanceTerms(texts)

	order := make([]int, len(tables))
	scores := make([]int, len(tables))
	for i := range tables {
		order[i] = i
		if len(terms) > 0 {
			scores[i] = score(tables[i], terms)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	picked := order[:maxTables]
	sort.Ints(picked)
	out := make([]domain.TableSchema, len(picked))
	for i, idx := range picked {
		out[i] = tables[idx]
	}
	return out
}

func score(t domain.TableSchema, terms map[string]bool) int {
	name := singular(strings.ToLower(t.Name))
	parts := nameParts(t.Name)
	total := 0
	for term := range terms {
		switch {
		case term == name:
			total += weightTableName
		case parts[term]:
			total += weightTablePart
		}
		for _, c := range t.Columns {
			if cn := strings.ToLower(c.Name); singular(cn) == term || nameParts(cn)[term] {
				total += weightColumn
				break
			}
		}
		for _, c := range t.Columns {
			if hasSample(c.SampleValues, term) {
				total += weightSample
				break
			}
		}
	}
	return total
}

func hasSample(values []string, term string) bool {
	for _, v := range values {
		if singular(strings.ToLower(v)) == term {
			return true
		}
	}
	return false
}

// relevanceTerms splits texts into stemmed lower-case words. Underscored
// identifiers contribute both the whole word and its parts.
func relevanceTerms(texts []string) map[string]bool {
	terms := make(map[string]bool)
	add := func(w string) {
		if len(w) >= 3 && !stopWords[w] {
			terms[singular(w)] = true
		}
	}
	for _, text := range texts {
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		for _, w := range words {
			add(w)
			if strings.Contains(w, "_") {
				for _, part := range strings.Split(w, "_") {
					add(part)
				}
			}
		}
	}
	return terms
}

func nameParts(name string) map[string]bool {
	parts := make(map[string]bool)
	for _, p := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	}) {
		if len(p) >= 3 {
			parts[singular(p)] = true
		}
	}
	return parts
}

// singular drops a plural suffix so "orders" matches "order".
func singular(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}
