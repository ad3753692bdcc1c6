package query

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mnemograph/mnemo/engine/core"
	"gopkg.in/yaml.v3"
)

// Template categories form a closed set; user-supplied templates must
// declare one of them.
const (
	CategorySearch         = "search"
	CategoryAnalytics      = "analytics"
	CategoryCreation       = "creation"
	CategoryRecommendation = "recommendation"
)

// SourceBuiltin marks templates shipped with the binary, as opposed to
// templates loaded from a user directory.
const SourceBuiltin = "builtin"

// Template is a reusable, parameterized Cypher query with a declared
// parameter surface and per-parameter validation rules.
type Template struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Query       Query  `json:"query"`

	// RequiredLabels and RequiredRelationshipTypes must exist in the live
	// schema for the template to load. Empty means no requirement.
	RequiredLabels            []string `json:"required_labels,omitempty"`
	RequiredRelationshipTypes []string `json:"required_relationship_types,omitempty"`

	// Parameters maps every accepted parameter name to its description.
	// Values for names outside this map are refused at execution time.
	Parameters map[string]string `json:"parameters"`

	// Rules holds per-parameter validation. Keys are a subset of
	// Parameters.
	Rules map[string]Rule `json:"-"`

	// Example documents a realistic invocation. It is never executed.
	Example *Example `json:"example,omitempty"`

	// Source is SourceBuiltin or the path of the file that defined the
	// template.
	Source string `json:"source"`
}

// Example shows how a template is meant to be called.
type Example struct {
	Parameters     map[string]any `json:"parameters"`
	Customizations map[string]any `json:"customizations,omitempty"`
}

// RuleTexts returns the human-readable rule descriptions keyed by
// parameter name, for listings and tool schemas.
func (t *Template) RuleTexts() map[string]string {
	if len(t.Rules) == 0 {
		return nil
	}
	texts := make(map[string]string, len(t.Rules))
	for name, rule := range t.Rules {
		texts[name] = rule.String()
	}
	return texts
}

const entitySearchOperatorDispatch = "CASE $operator " +
	"WHEN '=' THEN n[$property] = $value " +
	"WHEN '>' THEN n[$property] > $value " +
	"WHEN '<' THEN n[$property] < $value " +
	"WHEN '>=' THEN n[$property] >= $value " +
	"WHEN '<=' THEN n[$property] <= $value " +
	"WHEN 'CONTAINS' THEN toString(n[$property]) CONTAINS toString($value) " +
	"WHEN 'STARTS WITH' THEN toString(n[$property]) STARTS WITH toString($value) " +
	"WHEN 'ENDS WITH' THEN toString(n[$property]) ENDS WITH toString($value) " +
	"ELSE false END"

// catalogTemplates returns the built-in catalog in declaration order.
func catalogTemplates() []*Template {
	return []*Template{
		{
			Name:        "entity_search",
			Description: "Search for entities based on property values with optional relationship constraints",
			Category:    CategorySearch,
			Query: Query{
				Match: "(n:Entity)",
				Where: []string{entitySearchOperatorDispatch},
				Return: "n AS entity, " +
					"[(n)-[r]-(related) WHERE type(r) IN $relationship_types | " +
					"{relationship: type(r), " +
					"direction: CASE WHEN startNode(r) = n THEN 'outgoing' ELSE 'incoming' END, " +
					"entity: {labels: labels(related), properties: properties(related)}}] AS connections",
			},
			Parameters: map[string]string{
				"property":           "Property to filter on",
				"operator":           "Comparison operator (e.g., =, >, <, CONTAINS)",
				"value":              "Value to compare against",
				"relationship_types": "List of relationship types to include",
			},
			Rules: map[string]Rule{
				"operator": Membership{Allowed: []string{
					"=", ">", "<", ">=", "<=", "CONTAINS", "STARTS WITH", "ENDS WITH",
				}},
				"relationship_types": Advisory{
					Text: "must be a non-empty list of existing relationship types",
				},
			},
			Example: &Example{
				Parameters: map[string]any{
					"property":           "type",
					"operator":           "=",
					"value":              "person",
					"relationship_types": []any{"RELATES"},
				},
				Customizations: map[string]any{
					"order_by": "n.name",
					"limit":    25,
				},
			},
			Source: SourceBuiltin,
		},
		{
			Name:        "graph_analytics",
			Description: "Perform graph analytics on entities and their relationships",
			Category:    CategoryAnalytics,
			Query: Query{
				Match: "(n:Entity)",
				Body: "OPTIONAL MATCH (n)-[r]-() " +
					"WITH n, " +
					"count(DISTINCT type(r)) AS relationship_types_count, " +
					"count(r) AS total_relationships, " +
					"collect(DISTINCT type(r)) AS relationship_types, " +
					"size([x IN collect(r) WHERE startNode(x) = n]) AS outgoing_count, " +
					"size([x IN collect(r) WHERE endNode(x) = n]) AS incoming_count",
				Return: "{entity: {labels: labels(n), properties: properties(n)}, " +
					"metrics: {relationship_types_count: relationship_types_count, " +
					"total_relationships: total_relationships, " +
					"outgoing_count: outgoing_count, " +
					"incoming_count: incoming_count, " +
					"relationship_types: relationship_types}} AS analysis",
				OrderBy: "total_relationships DESC",
				Limit:   "$limit",
			},
			Parameters: map[string]string{
				"limit": "Maximum number of results to return",
			},
			Rules: map[string]Rule{
				"limit": PositiveIntBound{Max: 100},
			},
			Example: &Example{
				Parameters: map[string]any{"limit": 10},
			},
			Source: SourceBuiltin,
		},
		{
			Name:        "temporal_pattern",
			Description: "Analyze temporal patterns in relationship creation",
			Category:    CategoryAnalytics,
			Query: Query{
				Match: "(n:Entity)-[r]->()",
				Where: []string{
					"type(r) = $relationship_type",
					"r[$timestamp_property] IS NOT NULL",
				},
				Body: "WITH datetime(r[$timestamp_property]) AS dt " +
					"WITH dt.year AS year, dt.month AS month, count(*) AS count",
				Return:  "year, month, count",
				OrderBy: "year, month",
			},
			Parameters: map[string]string{
				"relationship_type":  "Type of relationship to analyze",
				"timestamp_property": "Property containing the timestamp",
			},
			Rules: map[string]Rule{
				"timestamp_property": Advisory{
					Text: "must be a property containing a valid timestamp or datetime",
				},
			},
			Example: &Example{
				Parameters: map[string]any{
					"relationship_type":  "RELATES",
					"timestamp_property": "created_at",
				},
			},
			Source: SourceBuiltin,
		},
		{
			Name:        "recommendation",
			Description: "Generate recommendations based on shared patterns",
			Category:    CategoryRecommendation,
			Query: Query{
				Match: "(source:Entity)-[r1]->(shared)<-[r2]-(recommended:Entity)",
				Where: []string{
					"source[$match_prop] = $match_value",
					"type(r1) = $through_relationship",
					"type(r2) = $through_relationship",
					"recommended <> source",
					"NOT EXISTS { MATCH (source)-[excluded]->(recommended) " +
						"WHERE type(excluded) = $existing_relationship }",
				},
				Body: "WITH recommended, count(shared) AS shared_count, " +
					"collect(shared) AS shared_items",
				Return: "recommended {.*, shared_count: shared_count, " +
					"shared_items: [item IN shared_items | item {.*}]} AS recommendation",
				OrderBy: "shared_count DESC",
				Limit:   "$limit",
			},
			Parameters: map[string]string{
				"match_prop":            "Property to match the source entity",
				"match_value":           "Value to match on source entity",
				"through_relationship":  "Relationship type to find commonalities",
				"existing_relationship": "Relationship type to exclude existing connections",
				"limit":                 "Maximum number of recommendations",
			},
			Rules: map[string]Rule{
				"limit": PositiveIntBound{Max: 50},
			},
			Example: &Example{
				Parameters: map[string]any{
					"match_prop":            "name",
					"match_value":           "alice",
					"through_relationship":  "RELATES",
					"existing_relationship": "RELATES",
					"limit":                 5,
				},
			},
			Source: SourceBuiltin,
		},
		{
			Name:        "node_creation",
			Description: "Create a new entity node with the given properties",
			Category:    CategoryCreation,
			Query: Query{
				Body:   "CREATE (n:Entity) SET n = $properties",
				Return: "n",
			},
			Parameters: map[string]string{
				"properties": "Map of properties to set on the node",
			},
			Example: &Example{
				Parameters: map[string]any{
					"properties": map[string]any{
						"name": "alice",
						"type": "person",
					},
				},
			},
			Source: SourceBuiltin,
		},
		{
			Name:        "relationship_creation",
			Description: "Create a relationship between two existing entities",
			Category:    CategoryCreation,
			Query: Query{
				Match: "(a:Entity), (b:Entity)",
				Where: []string{
					"a[$from_property] = $from_value",
					"b[$to_property] = $to_value",
				},
				Body: "CREATE (a)-[r:RELATES {type: $relationship_type}]->(b) " +
					"SET r += $properties",
				Return: "r.type AS relationship_type, r AS relationship",
			},
			Parameters: map[string]string{
				"from_property":     "Property identifying the source entity",
				"from_value":        "Value of the source property",
				"to_property":       "Property identifying the target entity",
				"to_value":          "Value of the target property",
				"relationship_type": "Logical type recorded on the relationship",
				"properties":        "Map of additional properties to set on the relationship",
			},
			Example: &Example{
				Parameters: map[string]any{
					"from_property":     "name",
					"from_value":        "alice",
					"to_property":       "name",
					"to_value":          "acme",
					"relationship_type": "works_at",
					"properties":        map[string]any{"context": "employment"},
				},
			},
			Source: SourceBuiltin,
		},
		{
			Name:        "complex_path_search",
			Description: "Find paths between entities with specific constraints",
			Category:    CategorySearch,
			Query: Query{
				Match: "path = (start:Entity)-[*1..5]-(end:Entity)",
				Where: []string{
					"start[$match_property] = $match_value",
					"length(path) <= $max_depth",
					"ALL(rel IN relationships(path) WHERE type(rel) IN $allowed_relationships)",
				},
				Return: "path, length(path) AS distance, " +
					"[n IN nodes(path) | labels(n)[0]] AS node_types, " +
					"[rel IN relationships(path) | type(rel)] AS relationships",
				OrderBy: "distance",
				Limit:   "$limit",
			},
			Parameters: map[string]string{
				"match_property":        "Property identifying the start entity",
				"match_value":           "Value of the start property",
				"max_depth":             "Maximum path length to traverse",
				"allowed_relationships": "List of relationship types allowed in the path",
				"limit":                 "Maximum number of paths to return",
			},
			Rules: map[string]Rule{
				"max_depth": PositiveIntBound{Max: 5},
				"limit":     PositiveIntBound{Max: 100},
			},
			Example: &Example{
				Parameters: map[string]any{
					"match_property":        "name",
					"match_value":           "alice",
					"max_depth":             3,
					"allowed_relationships": []any{"RELATES"},
					"limit":                 5,
				},
			},
			Source: SourceBuiltin,
		},
		{
			Name:        "graph_metrics",
			Description: "Calculate connectivity metrics for entities",
			Category:    CategoryAnalytics,
			Query: Query{
				Match: "(n:Entity)",
				Body: "OPTIONAL MATCH (n)-[r]-() " +
					"WITH n, count(r) AS degree " +
					"WHERE degree >= $min_connections",
				Return:  "n {.*, degree: degree} AS node",
				OrderBy: "degree DESC",
				Limit:   "$limit",
			},
			Parameters: map[string]string{
				"min_connections": "Minimum number of connections a node must have",
				"limit":           "Maximum number of results",
			},
			Rules: map[string]Rule{
				"min_connections": PositiveIntBound{},
				"limit":           PositiveIntBound{Max: 100},
			},
			Example: &Example{
				Parameters: map[string]any{
					"min_connections": 2,
					"limit":           10,
				},
			},
			Source: SourceBuiltin,
		},
	}
}

// Registry holds the template catalog. It is populated at construction,
// optionally extended once via LoadDirectory, and read-only afterwards;
// concurrent readers need no synchronization.
type Registry struct {
	templates map[string]*Template
	order     []string
}

// NewRegistry builds a registry from the built-in catalog.
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[string]*Template)}
	for _, tmpl := range catalogTemplates() {
		if err := r.add(tmpl); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(tmpl *Template) error {
	if err := validateTemplate(tmpl); err != nil {
		return core.NewError(err, core.ErrorCodeInvalidInput, map[string]any{
			"template": tmpl.Name,
			"source":   tmpl.Source,
		})
	}
	if _, exists := r.templates[tmpl.Name]; exists {
		return core.NewError(
			fmt.Errorf("duplicate template name '%s'", tmpl.Name),
			core.ErrorCodeInvalidInput,
			map[string]any{"template": tmpl.Name, "source": tmpl.Source},
		)
	}
	r.templates[tmpl.Name] = tmpl
	r.order = append(r.order, tmpl.Name)
	return nil
}

func validateTemplate(tmpl *Template) error {
	if strings.TrimSpace(tmpl.Name) == "" {
		return fmt.Errorf("template name must not be empty")
	}
	switch tmpl.Category {
	case CategorySearch, CategoryAnalytics, CategoryCreation, CategoryRecommendation:
	default:
		return fmt.Errorf("unknown template category '%s'", tmpl.Category)
	}
	if tmpl.Query.IsEmpty() {
		return fmt.Errorf("template query must not be empty")
	}
	for param := range tmpl.Rules {
		if _, declared := tmpl.Parameters[param]; !declared {
			return fmt.Errorf("rule references undeclared parameter '%s'", param)
		}
	}
	return nil
}

// Get returns the named template.
func (r *Registry) Get(name string) (*Template, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("template '%s' not found", name)
	}
	return tmpl, nil
}

// List returns all templates in declaration order: the built-in catalog
// first, then loaded files in load order.
func (r *Registry) List() []*Template {
	out := make([]*Template, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.templates[name])
	}
	return out
}

// ListByCategory groups templates by category, preserving declaration
// order within each group.
func (r *Registry) ListByCategory() map[string][]*Template {
	grouped := make(map[string][]*Template)
	for _, tmpl := range r.List() {
		grouped[tmpl.Category] = append(grouped[tmpl.Category], tmpl)
	}
	return grouped
}

// Category returns the templates declared under the given category.
func (r *Registry) Category(category string) []*Template {
	var out []*Template
	for _, tmpl := range r.List() {
		if tmpl.Category == category {
			out = append(out, tmpl)
		}
	}
	return out
}

// Len returns the number of registered templates.
func (r *Registry) Len() int {
	return len(r.order)
}

// templateFile is the on-disk format for user template directories.
type templateFile struct {
	Templates []templateSpec `yaml:"templates"`
}

type templateSpec struct {
	Name                      string              `yaml:"name"`
	Description               string              `yaml:"description"`
	Category                  string              `yaml:"category"`
	Query                     Query               `yaml:"query"`
	RequiredLabels            []string            `yaml:"required_labels"`
	RequiredRelationshipTypes []string            `yaml:"required_relationship_types"`
	Parameters                map[string]string   `yaml:"parameters"`
	Rules                     map[string]ruleSpec `yaml:"rules"`
	Example                   *Example            `yaml:"example"`
}

// ruleSpec declares exactly one rule variant per parameter.
type ruleSpec struct {
	OneOf       []string `yaml:"one_of"`
	PositiveInt bool     `yaml:"positive_int"`
	Max         int      `yaml:"max"`
	Text        string   `yaml:"text"`
}

func (s ruleSpec) toRule(param string) (Rule, error) {
	variants := 0
	if len(s.OneOf) > 0 {
		variants++
	}
	if s.PositiveInt || s.Max > 0 {
		variants++
	}
	if s.Text != "" {
		variants++
	}
	if variants != 1 {
		return nil, fmt.Errorf(
			"rule for parameter '%s' must declare exactly one of one_of, positive_int/max, text",
			param,
		)
	}
	switch {
	case len(s.OneOf) > 0:
		return Membership{Allowed: s.OneOf}, nil
	case s.PositiveInt || s.Max > 0:
		if s.Max < 0 {
			return nil, fmt.Errorf("rule for parameter '%s' has a negative max", param)
		}
		return PositiveIntBound{Max: s.Max}, nil
	default:
		return Advisory{Text: s.Text}, nil
	}
}

func (s templateSpec) toTemplate(source string) (*Template, error) {
	rules := make(map[string]Rule, len(s.Rules))
	for param, spec := range s.Rules {
		rule, err := spec.toRule(param)
		if err != nil {
			return nil, err
		}
		rules[param] = rule
	}
	if len(rules) == 0 {
		rules = nil
	}
	return &Template{
		Name:                      s.Name,
		Description:               s.Description,
		Category:                  s.Category,
		Query:                     s.Query,
		RequiredLabels:            s.RequiredLabels,
		RequiredRelationshipTypes: s.RequiredRelationshipTypes,
		Parameters:                s.Parameters,
		Rules:                     rules,
		Example:                   s.Example,
		Source:                    source,
	}, nil
}

// LoadDirectory merges template files (*.yaml, *.yml) from dir into the
// registry. Files are read in lexical order. A missing directory is not
// an error; duplicate template names are.
func (r *Registry) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read template directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.loadFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template file %s: %w", filepath.Base(path), err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return core.NewError(
			fmt.Errorf("failed to parse template file %s: %w", filepath.Base(path), err),
			core.ErrorCodeInvalidInput,
			map[string]any{"source": path},
		)
	}

	for _, spec := range file.Templates {
		tmpl, err := spec.toTemplate(path)
		if err != nil {
			return core.NewError(err, core.ErrorCodeInvalidInput, map[string]any{
				"template": spec.Name,
				"source":   path,
			})
		}
		if err := r.add(tmpl); err != nil {
			return err
		}
	}
	return nil
}
