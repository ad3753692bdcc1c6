package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/engine/schema"
	"github.com/mnemograph/mnemo/pkg/logger"
)

// QueryRunner executes finished queries with bound parameters.
type QueryRunner interface {
	ExecuteQueryWithStats(
		ctx context.Context,
		query string,
		params map[string]any,
	) ([]map[string]any, *infra.QueryStats, error)
}

// SchemaValidator checks a template against the live schema.
type SchemaValidator interface {
	ValidateTemplateCompatibility(
		ctx context.Context,
		name string,
		query string,
		requiredLabels []string,
		requiredRelTypes []string,
		params map[string]any,
	) (*schema.CompatibilityResult, error)
}

// TemplateState is the lifecycle state of a registered template. Every
// template starts unvalidated; Initialize moves it to loaded or rejected
// for the lifetime of the process.
type TemplateState string

const (
	StateUnvalidated TemplateState = "unvalidated"
	StateLoaded      TemplateState = "loaded"
	StateRejected    TemplateState = "rejected"
)

// Request asks for one template execution.
type Request struct {
	TemplateName   string          `json:"template_name"`
	Parameters     map[string]any  `json:"parameters"`
	Customizations *Customizations `json:"customizations,omitempty"`
}

// Customizations compose onto a template's query slots in fixed order:
// additional where, then order by, then limit. Zero values mean the
// customization is absent.
type Customizations struct {
	AdditionalWhere string `json:"additional_where,omitempty"`
	OrderBy         string `json:"order_by,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}

// Response carries the rows and execution metadata of one template run.
// Results and Warnings are never nil.
type Response struct {
	Results      []map[string]any `json:"results"`
	TemplateUsed string           `json:"template_used"`
	Stats        *ExecutionStats  `json:"execution_stats,omitempty"`
	Warnings     []string         `json:"warnings"`
}

// ExecutionStats summarizes one execution. Stats collection is
// best-effort; missing database metadata never fails a response.
type ExecutionStats struct {
	ExecutionID          core.ID       `json:"execution_id"`
	NodesCreated         int           `json:"nodes_created"`
	NodesDeleted         int           `json:"nodes_deleted"`
	RelationshipsCreated int           `json:"relationships_created"`
	RelationshipsDeleted int           `json:"relationships_deleted"`
	PropertiesSet        int           `json:"properties_set"`
	RowsReturned         int           `json:"rows_returned"`
	QueryType            string        `json:"query_type,omitempty"`
	Database             string        `json:"database,omitempty"`
	AvailableAfter       time.Duration `json:"available_after"`
	ConsumedAfter        time.Duration `json:"consumed_after"`
}

// Executor validates templates against the live schema once at startup and
// then serves executions. States are written by Initialize and read-only
// afterwards.
type Executor struct {
	registry  *Registry
	validator SchemaValidator
	runner    QueryRunner

	mu         sync.RWMutex
	states     map[string]TemplateState
	rejections map[string]string
}

// NewExecutor creates an executor over the given registry. Initialize must
// run before Execute will accept any template.
func NewExecutor(registry *Registry, validator SchemaValidator, runner QueryRunner) *Executor {
	return &Executor{
		registry:  registry,
		validator: validator,
		runner:    runner,
	}
}

// Registry exposes the underlying template registry for listings.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Initialize validates every registered template against the current
// schema. Missing required labels or relationship types reject a template,
// as does a query the database cannot plan with synthesized placeholder
// parameters. Plan-shape warnings are logged but do not reject. Returns an
// error only when the schema itself cannot be fetched; no states are
// recorded in that case.
func (e *Executor) Initialize(ctx context.Context) error {
	states := make(map[string]TemplateState, e.registry.Len())
	rejections := make(map[string]string)

	for _, tmpl := range e.registry.List() {
		compat, err := e.validator.ValidateTemplateCompatibility(
			ctx,
			tmpl.Name,
			tmpl.Query.Render(),
			tmpl.RequiredLabels,
			tmpl.RequiredRelationshipTypes,
			synthesizeDummyParams(tmpl),
		)
		if err != nil {
			return err
		}

		if reason := rejectionReason(compat); reason != "" {
			states[tmpl.Name] = StateRejected
			rejections[tmpl.Name] = reason
			logger.Warn("template rejected", "template", tmpl.Name, "reason", reason)
			continue
		}

		states[tmpl.Name] = StateLoaded
		for _, warning := range compat.QueryWarnings {
			logger.Debug("template loaded with warning",
				"template", tmpl.Name, "warning", warning)
		}
	}

	e.mu.Lock()
	e.states = states
	e.rejections = rejections
	e.mu.Unlock()

	logger.Info("template registry initialized",
		"loaded", countState(states, StateLoaded),
		"rejected", countState(states, StateRejected))
	return nil
}

// rejectionReason joins the conditions that disqualify a template. Empty
// means the template can load.
func rejectionReason(compat *schema.CompatibilityResult) string {
	reasons := compat.RequirementIssues()
	reasons = append(reasons, compat.UnexplainedWarnings()...)
	return strings.Join(reasons, "; ")
}

// Execute runs a loaded template with the given parameters and optional
// customizations.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Response, error) {
	tmpl, err := e.registry.Get(req.TemplateName)
	if err != nil {
		return nil, core.NewError(err, core.ErrorCodeUnknownTemplate, map[string]any{
			"template": req.TemplateName,
		})
	}

	if err := e.guardLoaded(tmpl.Name); err != nil {
		return nil, err
	}
	if err := validateParameters(tmpl, req.Parameters); err != nil {
		return nil, err
	}

	// Per-call schema re-check on the base query is advisory; only a
	// snapshot fetch failure aborts.
	compat, err := e.validator.ValidateTemplateCompatibility(
		ctx,
		tmpl.Name,
		tmpl.Query.Render(),
		tmpl.RequiredLabels,
		tmpl.RequiredRelationshipTypes,
		req.Parameters,
	)
	if err != nil {
		return nil, err
	}
	warnings := compat.Issues()

	composed, err := customize(tmpl, req.Customizations)
	if err != nil {
		return nil, err
	}

	rendered := composed.Render()
	results, stats, err := e.runner.ExecuteQueryWithStats(ctx, rendered, req.Parameters)
	if err != nil {
		if core.CodeOf(err) == core.ErrorCodeDatabaseUnavailable {
			return nil, err
		}
		return nil, core.NewError(err, core.ErrorCodeExecutionFailed, map[string]any{
			"template": tmpl.Name,
			"query":    rendered,
		})
	}

	if results == nil {
		results = []map[string]any{}
	}
	logger.Debug("template executed",
		"template", tmpl.Name,
		"rows", len(results),
		"warnings", len(warnings))

	return &Response{
		Results:      results,
		TemplateUsed: tmpl.Name,
		Stats:        buildStats(stats, len(results)),
		Warnings:     warnings,
	}, nil
}

// guardLoaded refuses templates that are rejected or not yet validated.
func (e *Executor) guardLoaded(name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch e.states[name] {
	case StateLoaded:
		return nil
	case StateRejected:
		return core.NewError(
			fmt.Errorf("template '%s' was rejected during schema validation", name),
			core.ErrorCodeTemplateRejected,
			map[string]any{"template": name, "reason": e.rejections[name]},
		)
	default:
		return core.NewError(
			fmt.Errorf("template '%s' has not been validated against the schema", name),
			core.ErrorCodeTemplateRejected,
			map[string]any{"template": name, "reason": "registry not initialized"},
		)
	}
}

// validateParameters enforces the declared parameter surface and the
// per-parameter rules. Iteration is sorted so the first reported problem
// is deterministic.
func validateParameters(tmpl *Template, params map[string]any) error {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, declared := tmpl.Parameters[name]; !declared {
			return core.NewError(
				fmt.Errorf("parameter '%s' is not declared by template '%s'", name, tmpl.Name),
				core.ErrorCodeParameterInvalid,
				map[string]any{"template": tmpl.Name, "parameter": name},
			)
		}
	}

	ruleNames := make([]string, 0, len(tmpl.Rules))
	for name := range tmpl.Rules {
		ruleNames = append(ruleNames, name)
	}
	sort.Strings(ruleNames)
	for _, name := range ruleNames {
		value, provided := params[name]
		if !provided {
			continue
		}
		if err := tmpl.Rules[name].Validate(value); err != nil {
			return core.NewError(
				fmt.Errorf("parameter '%s' %s", name, err),
				core.ErrorCodeParameterInvalid,
				map[string]any{
					"template":  tmpl.Name,
					"parameter": name,
					"rule":      err.Error(),
				},
			)
		}
	}
	return nil
}

// customize composes the request's customizations onto the template query.
func customize(tmpl *Template, c *Customizations) (Query, error) {
	composed := tmpl.Query
	if c == nil {
		return composed, nil
	}

	var err error
	if c.AdditionalWhere != "" {
		composed, err = composed.WithWhere(c.AdditionalWhere)
		if err != nil {
			return composed, core.NewError(err, core.ErrorCodeParameterInvalid, map[string]any{
				"template":      tmpl.Name,
				"customization": "additional_where",
			})
		}
	}
	if c.OrderBy != "" {
		composed = composed.WithOrderBy(c.OrderBy)
	}
	if c.Limit != 0 {
		composed, err = composed.WithLimit(c.Limit)
		if err != nil {
			return composed, core.NewError(err, core.ErrorCodeParameterInvalid, map[string]any{
				"template":      tmpl.Name,
				"customization": "limit",
			})
		}
	}
	return composed, nil
}

// States returns the state of every registered template in registry order.
func (e *Executor) States() map[string]TemplateState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]TemplateState, e.registry.Len())
	for _, tmpl := range e.registry.List() {
		state, ok := e.states[tmpl.Name]
		if !ok {
			state = StateUnvalidated
		}
		out[tmpl.Name] = state
	}
	return out
}

// Loaded returns the loaded templates in registry order.
func (e *Executor) Loaded() []*Template {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*Template
	for _, tmpl := range e.registry.List() {
		if e.states[tmpl.Name] == StateLoaded {
			out = append(out, tmpl)
		}
	}
	return out
}

// RejectionReason returns the recorded reason for a rejected template.
func (e *Executor) RejectionReason(name string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reason, ok := e.rejections[name]
	return reason, ok
}

// synthesizeDummyParams builds placeholder bindings so a template query
// can be planned before any real values exist. The values never reach a
// real execution.
func synthesizeDummyParams(tmpl *Template) map[string]any {
	params := make(map[string]any, len(tmpl.Parameters))
	for name, description := range tmpl.Parameters {
		params[name] = dummyValue(name, description, tmpl.Rules[name])
	}
	return params
}

// dummyValue picks a placeholder from the parameter's rule when one
// constrains the value, falling back to name and description heuristics.
func dummyValue(name, description string, rule Rule) any {
	switch r := rule.(type) {
	case Membership:
		if len(r.Allowed) > 0 {
			return r.Allowed[0]
		}
	case PositiveIntBound:
		return 1
	}

	key := strings.ToLower(name + " " + description)
	switch {
	case name == "properties" || strings.Contains(key, "map"):
		return map[string]any{}
	case strings.Contains(key, "list") || strings.Contains(key, "array") ||
		strings.Contains(key, "types"):
		return []any{}
	case strings.Contains(key, "count") || strings.Contains(key, "limit") ||
		strings.Contains(key, "number") || strings.Contains(key, "max") ||
		strings.Contains(key, "depth"):
		return 0
	case strings.Contains(key, "date") || strings.Contains(key, "time"):
		return "2024-01-01"
	default:
		return "__dummy__"
	}
}

// ParameterKind reports the JSON schema type of a template parameter.
// The rule decides when one constrains the value; otherwise the same name
// and description heuristics used for dummy synthesis apply, so the
// advertised type matches what validation binds.
func ParameterKind(name, description string, rule Rule) string {
	switch rule.(type) {
	case PositiveIntBound:
		return "number"
	case Membership:
		return "string"
	}

	key := strings.ToLower(name + " " + description)
	switch {
	case name == "properties" || strings.Contains(key, "map"):
		return "object"
	case strings.Contains(key, "list") || strings.Contains(key, "array") ||
		strings.Contains(key, "types"):
		return "array"
	case strings.Contains(key, "count") || strings.Contains(key, "limit") ||
		strings.Contains(key, "number") || strings.Contains(key, "max") ||
		strings.Contains(key, "depth"):
		return "number"
	default:
		return "string"
	}
}

func buildStats(stats *infra.QueryStats, rows int) *ExecutionStats {
	out := &ExecutionStats{
		ExecutionID:  core.NewID(),
		RowsReturned: rows,
	}
	if stats == nil {
		return out
	}
	out.NodesCreated = stats.Counters.NodesCreated
	out.NodesDeleted = stats.Counters.NodesDeleted
	out.RelationshipsCreated = stats.Counters.RelationshipsCreated
	out.RelationshipsDeleted = stats.Counters.RelationshipsDeleted
	out.PropertiesSet = stats.Counters.PropertiesSet
	out.QueryType = stats.QueryType
	out.Database = stats.Database
	out.AvailableAfter = stats.AvailableAfter
	out.ConsumedAfter = stats.ConsumedAfter
	return out
}

func countState(states map[string]TemplateState, state TemplateState) int {
	n := 0
	for _, s := range states {
		if s == state {
			n++
		}
	}
	return n
}
