package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/pkg/logger"
)

// QueryValidation is the result of validating an ad-hoc query. A non-empty
// Warnings slice is advisory guidance, never a failure.
type QueryValidation struct {
	Warnings []string `json:"warnings"`
}

// CompatibilityResult reports how a template relates to the current schema.
// Missing requirements make the template incompatible; query warnings are
// advisory only.
type CompatibilityResult struct {
	MissingLabels            []string `json:"missing_labels,omitempty"`
	MissingRelationshipTypes []string `json:"missing_relationship_types,omitempty"`
	QueryWarnings            []string `json:"query_warnings,omitempty"`
}

// unexplainedPrefix marks the warning produced when the database refuses
// to plan a query at all.
const unexplainedPrefix = "Could not validate query:"

// Compatible reports whether every declared requirement is satisfied by the
// schema. Query warnings do not affect compatibility.
func (r *CompatibilityResult) Compatible() bool {
	return len(r.MissingLabels) == 0 && len(r.MissingRelationshipTypes) == 0
}

// RequirementIssues renders the missing-requirement issues, without the
// advisory query warnings.
func (r *CompatibilityResult) RequirementIssues() []string {
	issues := make([]string, 0, 2)
	if len(r.MissingLabels) > 0 {
		issues = append(issues, fmt.Sprintf(
			"Template requires labels that don't exist in schema: %s",
			strings.Join(r.MissingLabels, ", ")))
	}
	if len(r.MissingRelationshipTypes) > 0 {
		issues = append(issues, fmt.Sprintf(
			"Template requires relationship types that don't exist in schema: %s",
			strings.Join(r.MissingRelationshipTypes, ", ")))
	}
	return issues
}

// UnexplainedWarnings returns the warnings indicating the query could not
// be planned at all, as opposed to plan-shape advisories.
func (r *CompatibilityResult) UnexplainedWarnings() []string {
	var out []string
	for _, warning := range r.QueryWarnings {
		if strings.HasPrefix(warning, unexplainedPrefix) {
			out = append(out, warning)
		}
	}
	return out
}

// Issues flattens the result into human-readable issue strings, missing
// requirements first, then prefixed query warnings.
func (r *CompatibilityResult) Issues() []string {
	issues := r.RequirementIssues()
	for _, warning := range r.QueryWarnings {
		issues = append(issues, "Template query warning: "+warning)
	}
	return issues
}

// Validator checks queries, templates, and proposed schema changes against
// the live schema. Each validation fetches a fresh snapshot; only snapshot
// fetch failures propagate as errors, everything else degrades to warnings.
type Validator struct {
	accessor *Accessor
	repo     infra.Repository
}

// NewValidator creates a validator using the given accessor for snapshots
// and repository for plan inspection
func NewValidator(accessor *Accessor, repo infra.Repository) *Validator {
	return &Validator{accessor: accessor, repo: repo}
}

// ValidateQuery inspects the query plan for structural problems: label scans,
// cartesian products, and references to labels absent from the schema. A
// query that cannot be explained yields a single warning, not an error.
func (v *Validator) ValidateQuery(
	ctx context.Context,
	query string,
	params map[string]any,
) (*QueryValidation, error) {
	snapshot, err := v.accessor.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return v.validateAgainst(ctx, snapshot, query, params), nil
}

// ValidateTemplateCompatibility checks a template's declared label and
// relationship-type requirements against the schema and inspects its query
// plan. params supplies bindings for the plan inspection; pass synthesized
// placeholders when no real values exist yet.
func (v *Validator) ValidateTemplateCompatibility(
	ctx context.Context,
	name string,
	query string,
	requiredLabels []string,
	requiredRelTypes []string,
	params map[string]any,
) (*CompatibilityResult, error) {
	snapshot, err := v.accessor.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	result := &CompatibilityResult{
		MissingLabels:            missingFrom(requiredLabels, snapshot.Labels()),
		MissingRelationshipTypes: missingFrom(requiredRelTypes, snapshot.RelationshipTypes()),
	}
	result.QueryWarnings = v.validateAgainst(ctx, snapshot, query, params).Warnings

	logger.Debug("validated template compatibility",
		"template", name,
		"compatible", result.Compatible(),
		"warnings", len(result.QueryWarnings))
	return result, nil
}

// ValidateChanges flags conflicts between a proposed definition and the
// current schema: labels and relationship types that already exist, and
// proposed indexes whose (labels, properties) pair matches an existing index.
func (v *Validator) ValidateChanges(ctx context.Context, proposed *Definition) ([]string, error) {
	if err := proposed.Validate(); err != nil {
		return nil, err
	}
	snapshot, err := v.accessor.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	issues := make([]string, 0)
	proposedLabels := make([]string, 0, len(proposed.Labels))
	for i := range proposed.Labels {
		proposedLabels = append(proposedLabels, proposed.Labels[i].Name)
	}
	if conflicts := presentIn(proposedLabels, snapshot.Labels()); len(conflicts) > 0 {
		issues = append(issues, fmt.Sprintf(
			"Labels already exist in schema: %s", strings.Join(conflicts, ", ")))
	}

	proposedRelTypes := make([]string, 0, len(proposed.RelationshipTypes))
	for i := range proposed.RelationshipTypes {
		proposedRelTypes = append(proposedRelTypes, proposed.RelationshipTypes[i].Name)
	}
	if conflicts := presentIn(proposedRelTypes, snapshot.RelationshipTypes()); len(conflicts) > 0 {
		issues = append(issues, fmt.Sprintf(
			"Relationship types already exist in schema: %s", strings.Join(conflicts, ", ")))
	}

	if len(proposed.Indexes) > 0 {
		existing, err := v.repo.ShowIndexes(ctx)
		if err != nil {
			return nil, err
		}
		for i := range proposed.Indexes {
			index := &proposed.Indexes[i]
			for _, row := range existing {
				if stringSlicesEqual(stringValues(row["labelsOrTypes"]), index.Labels) &&
					stringSlicesEqual(stringValues(row["properties"]), index.Properties) {
					issues = append(issues, fmt.Sprintf("Index already exists for %s on %s",
						strings.Join(index.Labels, ", "),
						strings.Join(index.Properties, ", ")))
				}
			}
		}
	}
	return issues, nil
}

// validateAgainst runs the plan inspection for a query against an already
// fetched snapshot. All failures degrade to warnings.
func (v *Validator) validateAgainst(
	ctx context.Context,
	snapshot *Snapshot,
	query string,
	params map[string]any,
) *QueryValidation {
	warnings := make([]string, 0)
	plan, err := v.repo.Explain(ctx, query, params)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("%s %v", unexplainedPrefix, err))
		return &QueryValidation{Warnings: warnings}
	}
	if plan == nil {
		return &QueryValidation{Warnings: warnings}
	}

	operators := make(map[string]struct{})
	identifiers := make(map[string]struct{})
	collectPlan(plan, operators, identifiers)

	if hasOperator(operators, "NodeByLabelScan") {
		warnings = append(warnings, "Query uses label scan. Consider adding indexes for better performance.")
	}
	if hasOperator(operators, "CartesianProduct") {
		warnings = append(warnings, "Query includes cartesian product which may impact performance.")
	}
	if unknown := unknownLabels(identifiers, snapshot.Labels()); len(unknown) > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"Query references unknown labels: %s", strings.Join(unknown, ", ")))
	}
	return &QueryValidation{Warnings: warnings}
}

func collectPlan(plan *infra.PlanDescription, operators, identifiers map[string]struct{}) {
	operators[plan.Operator] = struct{}{}
	for _, ident := range plan.Identifiers {
		identifiers[ident] = struct{}{}
	}
	for i := range plan.Children {
		collectPlan(&plan.Children[i], operators, identifiers)
	}
}

// hasOperator matches by substring since plan operator names may carry
// database suffixes such as "NodeByLabelScan@neo4j".
func hasOperator(operators map[string]struct{}, name string) bool {
	for op := range operators {
		if strings.Contains(op, name) {
			return true
		}
	}
	return false
}

// unknownLabels extracts label-qualified identifiers ("n:Label") from the
// plan and returns the labels absent from the schema, sorted.
func unknownLabels(identifiers map[string]struct{}, known map[string]struct{}) []string {
	unknown := make(map[string]struct{})
	for ident := range identifiers {
		if !strings.Contains(ident, ":") {
			continue
		}
		label := strings.Trim(strings.SplitN(ident, ":", 3)[1], "`")
		if label == "" {
			continue
		}
		if _, ok := known[label]; !ok {
			unknown[label] = struct{}{}
		}
	}
	return sortedKeys(unknown)
}

// missingFrom returns the required names absent from the present set, sorted
func missingFrom(required []string, present map[string]struct{}) []string {
	missing := make(map[string]struct{})
	for _, name := range required {
		if name == "" {
			continue
		}
		if _, ok := present[name]; !ok {
			missing[name] = struct{}{}
		}
	}
	return sortedKeys(missing)
}

// presentIn returns the proposed names that already exist in the set, sorted
func presentIn(proposed []string, existing map[string]struct{}) []string {
	conflicts := make(map[string]struct{})
	for _, name := range proposed {
		if _, ok := existing[name]; ok {
			conflicts[name] = struct{}{}
		}
	}
	return sortedKeys(conflicts)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
