package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Query holds a Cypher query as fixed clause slots. Render assembles the
// slots in clause order, so composing a customization can never corrupt an
// unrelated part of the query text.
type Query struct {
	// Match is the initial graph pattern, without the MATCH keyword.
	Match string `json:"match,omitempty"    yaml:"match,omitempty"`
	// Where holds filter predicates joined with AND at render time.
	Where []string `json:"where,omitempty"    yaml:"where,omitempty"`
	// Body holds intermediate clauses rendered verbatim between the WHERE
	// block and the projection: OPTIONAL MATCH expansions, WITH pipelines,
	// CREATE and SET stages. Keywords included.
	Body string `json:"body,omitempty"     yaml:"body,omitempty"`
	// Return is the projection, without the RETURN keyword.
	Return string `json:"return,omitempty"   yaml:"return,omitempty"`
	// OrderBy is the sort expression, without the ORDER BY keyword.
	OrderBy string `json:"order_by,omitempty" yaml:"order_by,omitempty"`
	// Limit is the LIMIT argument: a literal count or a parameter
	// reference such as "$limit".
	Limit string `json:"limit,omitempty"    yaml:"limit,omitempty"`
}

// Render assembles the slots into executable Cypher. Empty slots are
// skipped; the output is deterministic for a given slot state.
func (q Query) Render() string {
	parts := make([]string, 0, 6)
	if q.Match != "" {
		parts = append(parts, "MATCH "+q.Match)
	}
	if len(q.Where) > 0 {
		parts = append(parts, "WHERE "+strings.Join(q.Where, " AND "))
	}
	if q.Body != "" {
		parts = append(parts, q.Body)
	}
	if q.Return != "" {
		parts = append(parts, "RETURN "+q.Return)
	}
	if q.OrderBy != "" {
		parts = append(parts, "ORDER BY "+q.OrderBy)
	}
	if q.Limit != "" {
		parts = append(parts, "LIMIT "+q.Limit)
	}
	return strings.Join(parts, " ")
}

// IsEmpty reports whether no slot carries any content.
func (q Query) IsEmpty() bool {
	return q.Render() == ""
}

// WithWhere returns a copy with an extra predicate appended to the WHERE
// block. Queries without a match stage have nothing to filter, so the
// predicate is refused instead of producing unparseable Cypher.
func (q Query) WithWhere(predicate string) (Query, error) {
	predicate = strings.TrimSpace(predicate)
	if predicate == "" {
		return q, fmt.Errorf("where predicate must not be empty")
	}
	if q.Match == "" {
		return q, fmt.Errorf("query has no match stage to filter")
	}
	out := q
	out.Where = make([]string, 0, len(q.Where)+1)
	out.Where = append(out.Where, q.Where...)
	out.Where = append(out.Where, predicate)
	return out, nil
}

// WithOrderBy returns a copy with the sort expression replaced. The other
// slots, including LIMIT, are untouched.
func (q Query) WithOrderBy(expr string) Query {
	out := q
	out.OrderBy = strings.TrimSpace(expr)
	return out
}

// WithLimit returns a copy with the LIMIT slot replaced by a literal
// count. The count must be strictly positive.
func (q Query) WithLimit(count int) (Query, error) {
	if count <= 0 {
		return q, fmt.Errorf("limit must be a positive integer")
	}
	out := q
	out.Limit = strconv.Itoa(count)
	return out, nil
}

// Parameters returns the names of all $parameter references in the
// rendered query, in first-appearance order.
func (q Query) Parameters() []string {
	rendered := q.Render()
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for i := 0; i < len(rendered); i++ {
		if rendered[i] != '$' {
			continue
		}
		j := i + 1
		for j < len(rendered) && isParamRune(rendered[j]) {
			j++
		}
		if j == i+1 {
			continue
		}
		name := rendered[i+1 : j]
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
		i = j - 1
	}
	return names
}

func isParamRune(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
