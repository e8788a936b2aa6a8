package query

import "strings"

// Reserved first-navigation keywords.
const (
	KeywordEndpoints   = "endpoints"
	KeywordClasses     = "classes"
	KeywordEntryPoints = "entrypoints"
)

// Sub-navigation words following a resolved vertex.
const (
	NavMethods      = "methods"
	NavDependencies = "dependencies"
	NavDependents   = "dependents"
	NavMethod       = "method"
)

// Include flags.
const (
	IncludeLogic        = "logic"
	IncludeMethods      = "methods"
	IncludeDependencies = "dependencies"
	IncludeDependents   = "dependents"
)

// Query is one parsed query string.
type Query struct {
	// Project is the leading project name.
	Project string

	// Navigations are the bare tokens in order.
	Navigations []string

	// Includes are the +flags, order-independent.
	Includes []string

	// Check is the ?predicate method name; HasCheck distinguishes the
	// empty query from "?".
	Check    string
	HasCheck bool
}

// Include reports whether the flag was requested.
func (q *Query) Include(flag string) bool {
	for _, inc := range q.Includes {
		if inc == flag {
			return true
		}
	}
	return false
}

// Parse tokenizes a colon-delimited query string.
//
// Grammar: project(':'token)+ where a token is a bare NAVIGATE segment,
// a +INCLUDE flag or a ?CHECK predicate. Grammar violations surface as
// invalid-query errors before any graph access.
func Parse(raw string) (*Query, error) {
	segments := strings.Split(strings.TrimSpace(raw), ":")

	q := &Query{Project: strings.TrimSpace(segments[0])}
	if q.Project == "" {
		return nil, invalidf("query %q has no project", raw)
	}
	if len(segments) < 2 {
		return nil, invalidf("query %q has no navigation after the project", raw)
	}

	for i, segment := range segments[1:] {
		token := strings.TrimSpace(segment)
		switch {
		case strings.HasPrefix(token, "+"):
			if i == 0 {
				return nil, invalidf("include %q cannot be the first token", token)
			}
			value := strings.TrimSpace(token[1:])
			if value == "" {
				return nil, invalidf("empty include value in %q", raw)
			}
			q.Includes = append(q.Includes, value)

		case strings.HasPrefix(token, "?"):
			if i == 0 {
				return nil, invalidf("check %q cannot be the first token", token)
			}
			if q.HasCheck {
				return nil, invalidf("query %q has more than one check", raw)
			}
			value := strings.TrimSpace(token[1:])
			if value == "" {
				return nil, invalidf("empty check value in %q", raw)
			}
			q.Check = value
			q.HasCheck = true

		case token == "":
			return nil, invalidf("empty segment in %q", raw)

		default:
			q.Navigations = append(q.Navigations, token)
		}
	}
	return q, nil
}
