package index

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// textPrefix namespaces full-text word postings.
const textPrefix = "F"

// Query describes one find call.
type Query struct {
	Offset int
	// Limit caps the result count; negative means unlimited.
	Limit int
	// Query is the free-text part; exact and range predicates embedded
	// in it are extracted by Parse.
	Query string
	// Request maps property names to accepted values, OR-ed per
	// property and AND-ed between properties.
	Request map[string][]any
	// Ranges maps slot-backed properties to numeric bounds.
	Ranges  map[string]Range
	OrderBy string
	GroupBy string
	// NoCache skips the reader overlay; used after forced flushes.
	NoCache bool
}

// Range is an inclusive numeric bound on a slot value.
type Range struct {
	Min float64
	Max float64
}

var (
	exactRe = regexp.MustCompile(`([a-zA-Z0-9_]+):=("[^"]*"|\S+)`)
	rangeRe = regexp.MustCompile(`([a-zA-Z0-9_]+):(-?\d+(?:\.\d+)?)\.\.(-?\d+(?:\.\d+)?)`)
)

// Parse strips `prop:=value` and `prop:min..max` predicates out of the
// free-text query into Request and Ranges.
func (q *Query) Parse() {
	q.Query = rangeRe.ReplaceAllStringFunc(q.Query, func(m string) string {
		parts := rangeRe.FindStringSubmatch(m)
		min, err1 := strconv.ParseFloat(parts[2], 64)
		max, err2 := strconv.ParseFloat(parts[3], 64)
		if err1 != nil || err2 != nil {
			return m
		}
		if q.Ranges == nil {
			q.Ranges = make(map[string]Range)
		}
		q.Ranges[parts[1]] = Range{Min: min, Max: max}
		return ""
	})
	q.Query = exactRe.ReplaceAllStringFunc(q.Query, func(m string) string {
		parts := exactRe.FindStringSubmatch(m)
		value := strings.Trim(parts[2], `"`)
		if q.Request == nil {
			q.Request = make(map[string][]any)
		}
		q.Request[parts[1]] = append(q.Request[parts[1]], value)
		return ""
	})
	q.Query = strings.TrimSpace(q.Query)
}

// Filter adds an exact predicate on prop.
func (q *Query) Filter(prop string, values ...any) {
	if q.Request == nil {
		q.Request = make(map[string][]any)
	}
	q.Request[prop] = append(q.Request[prop], values...)
}

// parseText splits a free-text query into required and excluded tokens.
// Quoted phrases contribute their words as required tokens; a leading
// "-" excludes.
func parseText(query string) (include, exclude []string) {
	var phrase bool
	var current strings.Builder
	var negate bool

	flush := func() {
		word := current.String()
		current.Reset()
		tokens := tokenize(word)
		if negate {
			exclude = append(exclude, tokens...)
		} else {
			include = append(include, tokens...)
		}
		negate = false
	}

	for _, r := range query {
		switch {
		case r == '"':
			phrase = !phrase
			if !phrase {
				flush()
			}
		case r == ' ' && !phrase:
			flush()
		case r == '-' && !phrase && current.Len() == 0:
			negate = true
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return include, exclude
}

// tokenize lowercases and splits on everything but letters and digits.
func tokenize(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
