package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/pkg/errors"
	"github.com/mnemograph/mnemo/pkg/logger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	URI        string // Neo4j connection URI
	Username   string // Username for authentication
	Password   string // Password for authentication
	Database   string // Database name (optional)
	MaxRetries int    // Maximum connection attempts
}

// Global mutex to prevent concurrent schema statement application across all repository instances
var schemaSetupMutex sync.Mutex

// Repository defines the database operations the engine needs from Neo4j
type Repository interface {
	// Connection management
	Ping(ctx context.Context) error
	Close() error

	// Query execution
	ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	ExecuteQueryWithStats(ctx context.Context, query string, params map[string]any) ([]map[string]any, *QueryStats, error)
	ExecuteWrite(ctx context.Context, query string, params map[string]any) ([]map[string]any, *QueryStats, error)
	ExecuteBatchWrite(ctx context.Context, statements []BatchStatement) (*QueryStats, error)
	Explain(ctx context.Context, query string, params map[string]any) (*PlanDescription, error)

	// Schema introspection and setup
	FetchNodeTypeProperties(ctx context.Context) ([]map[string]any, error)
	FetchRelTypeProperties(ctx context.Context) ([]map[string]any, error)
	ShowIndexes(ctx context.Context) ([]map[string]any, error)
	ApplySchemaStatements(ctx context.Context, statements []string) error

	// Graph statistics
	CountNodesByLabel(ctx context.Context) (map[string]int64, error)
	CountNodesForLabel(ctx context.Context, label string) (int64, error)
	CountRelationshipsForType(ctx context.Context, relType string) (int64, error)
}

// QueryStats captures the execution summary of a single query
type QueryStats struct {
	Counters       Counters      `json:"counters"`
	Database       string        `json:"database"`
	QueryType      string        `json:"query_type"`
	AvailableAfter time.Duration `json:"available_after"`
	ConsumedAfter  time.Duration `json:"consumed_after"`
}

// Counters mirrors the update counters reported by the database
type Counters struct {
	NodesCreated         int  `json:"nodes_created"`
	NodesDeleted         int  `json:"nodes_deleted"`
	RelationshipsCreated int  `json:"relationships_created"`
	RelationshipsDeleted int  `json:"relationships_deleted"`
	PropertiesSet        int  `json:"properties_set"`
	LabelsAdded          int  `json:"labels_added"`
	ContainsUpdates      bool `json:"contains_updates"`
}

// PlanDescription is one operator in an EXPLAIN plan tree
type PlanDescription struct {
	Operator    string            `json:"operator"`
	Identifiers []string          `json:"identifiers,omitempty"`
	Children    []PlanDescription `json:"children,omitempty"`
}

// BatchStatement is a single query inside a multi-statement write transaction
type BatchStatement struct {
	Query      string
	Parameters map[string]any
}

// Neo4jRepository implements the Repository interface
type Neo4jRepository struct {
	driver neo4j.DriverWithContext
	config *Neo4jConfig
}

// NewNeo4jRepository connects to Neo4j with retry and returns a ready repository
func NewNeo4jRepository(ctx context.Context, cfg *Neo4jConfig) (Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("Neo4j config is required")
	}

	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	retryConfig := &errors.RetryConfig{
		MaxAttempts:     uint(maxAttempts),
		InitialDelay:    2 * time.Second,
		MaxDelay:        10 * time.Second,
		Multiplier:      2.0,
		RetryableErrors: []string{string(core.ErrorCodeConnection)},
	}

	repo := &Neo4jRepository{config: cfg}
	err := errors.WithRetry(ctx, "neo4j_connect", retryConfig, func() error {
		driver, err := neo4j.NewDriverWithContext(
			cfg.URI,
			neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
			func(c *config.Config) {
				c.MaxConnectionPoolSize = 50
				c.MaxConnectionLifetime = 5 * time.Minute
				c.ConnectionAcquisitionTimeout = 30 * time.Second
			},
		)
		if err != nil {
			return core.NewError(err, core.ErrorCodeConnection, map[string]any{
				"uri": cfg.URI,
			})
		}

		// Verify connectivity
		if err := driver.VerifyConnectivity(ctx); err != nil {
			driver.Close(ctx)
			return core.NewError(err, core.ErrorCodeConnection, map[string]any{
				"uri":   cfg.URI,
				"error": "connectivity verification failed",
			})
		}

		repo.driver = driver
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Neo4j after retries: %w", err)
	}

	logger.Info("connected to neo4j", "uri", cfg.URI, "database", cfg.Database)
	return repo, nil
}

// Ping verifies the database can currently be reached
func (r *Neo4jRepository) Ping(ctx context.Context) error {
	if r.driver == nil {
		return core.NewError(fmt.Errorf("driver not initialized"), core.ErrorCodeDatabaseUnavailable, nil)
	}
	if err := r.driver.VerifyConnectivity(ctx); err != nil {
		return core.NewError(err, core.ErrorCodeDatabaseUnavailable, map[string]any{
			"uri": r.config.URI,
		})
	}
	return nil
}

// Close closes the Neo4j connection
func (r *Neo4jRepository) Close() error {
	if r.driver != nil {
		return r.driver.Close(context.Background())
	}
	return nil
}

func (r *Neo4jRepository) session(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: r.config.Database,
	})
}

// wrapQueryError classifies driver failures into the engine error taxonomy.
// Bound parameter values never enter the error metadata.
func (r *Neo4jRepository) wrapQueryError(err error, operation string) error {
	code := core.ErrorCodeExecutionFailed
	if neo4j.IsConnectivityError(err) {
		code = core.ErrorCodeDatabaseUnavailable
	}
	return core.NewError(err, code, map[string]any{
		"operation": operation,
	})
}

// ExecuteQuery runs a Cypher query and returns normalized result rows
func (r *Neo4jRepository) ExecuteQuery(
	ctx context.Context,
	query string,
	params map[string]any,
) ([]map[string]any, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, r.serializeParameters(params))
	if err != nil {
		return nil, r.wrapQueryError(err, "execute_query")
	}

	records, err := result.Collect(ctx)
	if err != nil {
		return nil, r.wrapQueryError(err, "collect_results")
	}

	return r.normalizeRecords(records), nil
}

// ExecuteQueryWithStats runs a Cypher query in an auto-commit transaction and
// returns rows together with the execution summary
func (r *Neo4jRepository) ExecuteQueryWithStats(
	ctx context.Context,
	query string,
	params map[string]any,
) ([]map[string]any, *QueryStats, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, r.serializeParameters(params))
	if err != nil {
		return nil, nil, r.wrapQueryError(err, "execute_query")
	}

	records, err := result.Collect(ctx)
	if err != nil {
		return nil, nil, r.wrapQueryError(err, "collect_results")
	}

	rows := r.normalizeRecords(records)

	summary, err := result.Consume(ctx)
	if err != nil {
		// Rows were already collected, stats are best-effort
		logger.Debug("failed to consume result summary", "error", err)
		return rows, nil, nil
	}

	return rows, statsFromSummary(summary), nil
}

// ExecuteWrite runs a Cypher query in a managed write transaction
func (r *Neo4jRepository) ExecuteWrite(
	ctx context.Context,
	query string,
	params map[string]any,
) ([]map[string]any, *QueryStats, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	type writeOutcome struct {
		rows  []map[string]any
		stats *QueryStats
	}

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, r.serializeParameters(params))
		if err != nil {
			return nil, err
		}

		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}

		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}

		return &writeOutcome{
			rows:  r.normalizeRecords(records),
			stats: statsFromSummary(summary),
		}, nil
	})
	if err != nil {
		return nil, nil, r.wrapQueryError(err, "execute_write")
	}

	outcome, ok := result.(*writeOutcome)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected result type")
	}

	if outcome.stats != nil && outcome.stats.Counters.ContainsUpdates {
		logger.Debug("write query applied",
			"nodes_created", outcome.stats.Counters.NodesCreated,
			"relationships_created", outcome.stats.Counters.RelationshipsCreated,
			"properties_set", outcome.stats.Counters.PropertiesSet)
	}

	return outcome.rows, outcome.stats, nil
}

// ExecuteBatchWrite runs every statement inside one managed write transaction.
// Either all statements commit or none of them do.
func (r *Neo4jRepository) ExecuteBatchWrite(
	ctx context.Context,
	statements []BatchStatement,
) (*QueryStats, error) {
	if len(statements) == 0 {
		return &QueryStats{}, nil
	}

	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		total := &QueryStats{Database: r.config.Database, QueryType: "w"}
		for _, statement := range statements {
			res, err := tx.Run(ctx, statement.Query, r.serializeParameters(statement.Parameters))
			if err != nil {
				return nil, err
			}
			summary, err := res.Consume(ctx)
			if err != nil {
				return nil, err
			}
			if stats := statsFromSummary(summary); stats != nil {
				total.Counters = addCounters(total.Counters, stats.Counters)
				total.AvailableAfter += stats.AvailableAfter
				total.ConsumedAfter += stats.ConsumedAfter
				if stats.Database != "" {
					total.Database = stats.Database
				}
			}
		}
		return total, nil
	})
	if err != nil {
		return nil, r.wrapQueryError(err, "execute_batch_write")
	}

	stats, ok := result.(*QueryStats)
	if !ok {
		return nil, fmt.Errorf("unexpected result type")
	}

	logger.Debug("batch write applied",
		"statements", len(statements),
		"nodes_created", stats.Counters.NodesCreated,
		"relationships_created", stats.Counters.RelationshipsCreated)

	return stats, nil
}

// Explain runs the query under EXPLAIN and returns the resulting plan tree.
// The query is planned but never executed.
func (r *Neo4jRepository) Explain(
	ctx context.Context,
	query string,
	params map[string]any,
) (*PlanDescription, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, "EXPLAIN "+query, r.serializeParameters(params))
	if err != nil {
		return nil, r.wrapQueryError(err, "explain_query")
	}

	summary, err := result.Consume(ctx)
	if err != nil {
		return nil, r.wrapQueryError(err, "explain_query")
	}

	plan := summary.Plan()
	if plan == nil {
		return nil, nil
	}
	return convertPlan(plan), nil
}

// FetchNodeTypeProperties returns the raw rows of db.schema.nodeTypeProperties()
func (r *Neo4jRepository) FetchNodeTypeProperties(ctx context.Context) ([]map[string]any, error) {
	return r.ExecuteQuery(ctx, "CALL db.schema.nodeTypeProperties()", nil)
}

// FetchRelTypeProperties returns the raw rows of db.schema.relTypeProperties()
func (r *Neo4jRepository) FetchRelTypeProperties(ctx context.Context) ([]map[string]any, error) {
	return r.ExecuteQuery(ctx, "CALL db.schema.relTypeProperties()", nil)
}

// ShowIndexes returns the raw rows of SHOW INDEXES
func (r *Neo4jRepository) ShowIndexes(ctx context.Context) ([]map[string]any, error) {
	return r.ExecuteQuery(ctx, "SHOW INDEXES", nil)
}

// ApplySchemaStatements runs constraint and index statements one by one.
// Statements are expected to be idempotent (IF NOT EXISTS).
func (r *Neo4jRepository) ApplySchemaStatements(ctx context.Context, statements []string) error {
	schemaSetupMutex.Lock()
	defer schemaSetupMutex.Unlock()

	session := r.session(ctx)
	defer session.Close(ctx)

	for _, statement := range statements {
		result, err := session.Run(ctx, statement, nil)
		if err != nil {
			return core.NewError(err, core.ErrorCodeSchemaSetupFailed, map[string]any{
				"statement": statement,
			})
		}
		if _, err := result.Consume(ctx); err != nil {
			return core.NewError(err, core.ErrorCodeSchemaSetupFailed, map[string]any{
				"statement": statement,
			})
		}
	}

	logger.Info("applied schema statements", "count", len(statements))
	return nil
}

// CountNodesByLabel returns node counts grouped by label
func (r *Neo4jRepository) CountNodesByLabel(ctx context.Context) (map[string]int64, error) {
	rows, err := r.ExecuteQuery(ctx, `
		MATCH (n)
		UNWIND labels(n) AS label
		RETURN label, count(*) AS count
		ORDER BY count DESC
	`, nil)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		label, ok := row["label"].(string)
		if !ok {
			continue
		}
		if count, ok := row["count"].(int64); ok {
			counts[label] = count
		}
	}
	return counts, nil
}

// CountNodesForLabel returns the number of nodes carrying the given label
func (r *Neo4jRepository) CountNodesForLabel(ctx context.Context, label string) (int64, error) {
	if err := validateIdentifier(label); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("MATCH (n:`%s`) RETURN count(n) AS count", label)
	rows, err := r.ExecuteQuery(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	return singleCount(rows)
}

// CountRelationshipsForType returns the number of relationships of the given type
func (r *Neo4jRepository) CountRelationshipsForType(ctx context.Context, relType string) (int64, error) {
	if err := validateIdentifier(relType); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("MATCH ()-[r:`%s`]->() RETURN count(r) AS count", relType)
	rows, err := r.ExecuteQuery(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	return singleCount(rows)
}

// validateIdentifier rejects labels and relationship types that cannot be
// safely backtick-quoted into a query
func validateIdentifier(name string) error {
	if name == "" || strings.ContainsRune(name, '`') {
		return core.NewError(fmt.Errorf("invalid identifier"), core.ErrorCodeInvalidInput, nil)
	}
	return nil
}

func singleCount(rows []map[string]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	count, ok := rows[0]["count"].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count type")
	}
	return count, nil
}

// Helper functions

func statsFromSummary(summary neo4j.ResultSummary) *QueryStats {
	if summary == nil {
		return nil
	}

	stats := &QueryStats{
		QueryType:      statementTypeString(summary.StatementType()),
		AvailableAfter: summary.ResultAvailableAfter(),
		ConsumedAfter:  summary.ResultConsumedAfter(),
	}

	if db := summary.Database(); db != nil {
		stats.Database = db.Name()
	}

	if counters := summary.Counters(); counters != nil {
		stats.Counters = Counters{
			NodesCreated:         counters.NodesCreated(),
			NodesDeleted:         counters.NodesDeleted(),
			RelationshipsCreated: counters.RelationshipsCreated(),
			RelationshipsDeleted: counters.RelationshipsDeleted(),
			PropertiesSet:        counters.PropertiesSet(),
			LabelsAdded:          counters.LabelsAdded(),
			ContainsUpdates:      counters.ContainsUpdates(),
		}
	}

	return stats
}

func addCounters(a, b Counters) Counters {
	return Counters{
		NodesCreated:         a.NodesCreated + b.NodesCreated,
		NodesDeleted:         a.NodesDeleted + b.NodesDeleted,
		RelationshipsCreated: a.RelationshipsCreated + b.RelationshipsCreated,
		RelationshipsDeleted: a.RelationshipsDeleted + b.RelationshipsDeleted,
		PropertiesSet:        a.PropertiesSet + b.PropertiesSet,
		LabelsAdded:          a.LabelsAdded + b.LabelsAdded,
		ContainsUpdates:      a.ContainsUpdates || b.ContainsUpdates,
	}
}

func statementTypeString(t neo4j.StatementType) string {
	switch t {
	case neo4j.StatementTypeReadOnly:
		return "r"
	case neo4j.StatementTypeReadWrite:
		return "rw"
	case neo4j.StatementTypeWriteOnly:
		return "w"
	case neo4j.StatementTypeSchemaWrite:
		return "s"
	default:
		return "unknown"
	}
}

func convertPlan(plan neo4j.Plan) *PlanDescription {
	if plan == nil {
		return nil
	}

	desc := &PlanDescription{
		Operator:    plan.Operator(),
		Identifiers: plan.Identifiers(),
	}
	for _, child := range plan.Children() {
		if converted := convertPlan(child); converted != nil {
			desc.Children = append(desc.Children, *converted)
		}
	}
	return desc
}

// normalizeRecords converts driver records into plain maps safe for JSON output
func (r *Neo4jRepository) normalizeRecords(records []*neo4j.Record) []map[string]any {
	var results []map[string]any
	for _, record := range records {
		recordMap := make(map[string]any)
		for _, key := range record.Keys {
			val, ok := record.Get(key)
			if ok {
				recordMap[key] = normalizeValue(val)
			}
		}
		results = append(results, recordMap)
	}
	return results
}

// normalizeValue flattens graph entities into their property maps, mirroring
// what MCP clients expect from result rows
func normalizeValue(v any) any {
	switch val := v.(type) {
	case dbtype.Node:
		return normalizeProps(val.Props)
	case dbtype.Relationship:
		return normalizeProps(val.Props)
	case dbtype.Path:
		nodes := make([]any, len(val.Nodes))
		for i, node := range val.Nodes {
			nodes[i] = normalizeProps(node.Props)
		}
		relTypes := make([]string, len(val.Relationships))
		for i, rel := range val.Relationships {
			relTypes[i] = rel.Type
		}
		return map[string]any{
			"nodes":         nodes,
			"relationships": relTypes,
		}
	case dbtype.Date:
		return val.Time()
	case dbtype.LocalDateTime:
		return val.Time()
	case dbtype.Duration:
		return val.String()
	case []any:
		normalized := make([]any, len(val))
		for i, item := range val {
			normalized[i] = normalizeValue(item)
		}
		return normalized
	case map[string]any:
		return normalizeProps(val)
	default:
		return v
	}
}

func normalizeProps(props map[string]any) map[string]any {
	normalized := make(map[string]any, len(props))
	for k, v := range props {
		normalized[k] = normalizeValue(v)
	}
	return normalized
}

// serializeParameters converts query parameters to driver-supported types
func (r *Neo4jRepository) serializeParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	serialized := make(map[string]any, len(params))
	for k, v := range params {
		serialized[k] = r.serializeValue(v)
	}
	return serialized
}

// serializeValue recursively serializes a single value
func (r *Neo4jRepository) serializeValue(v any) any {
	if v == nil {
		return nil
	}
	// Convert time values to UTC
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	// Check if it's a supported primitive type
	if primitiveVal := r.handlePrimitiveTypes(v); primitiveVal != nil {
		return primitiveVal
	}
	// Check if it's a supported composite type
	if compositeVal := r.handleCompositeTypes(v); compositeVal != nil {
		return compositeVal
	}
	// Everything else needs to be serialized to JSON
	return r.serializeToJSON(v)
}

// handlePrimitiveTypes handles Neo4j-supported primitive types
func (r *Neo4jRepository) handlePrimitiveTypes(v any) any {
	switch val := v.(type) {
	case bool, int64, float64, string:
		return v
	case int, int8, int16, int32:
		return reflect.ValueOf(v).Int()
	case uint, uint8, uint16, uint32:
		return r.handleUintConversion(reflect.ValueOf(v).Uint(), v)
	case uint64:
		return r.handleUintConversion(val, v)
	case float32:
		return float64(val)
	default:
		return nil
	}
}

// handleCompositeTypes handles Neo4j-supported list and map types
func (r *Neo4jRepository) handleCompositeTypes(v any) any {
	switch val := v.(type) {
	case []bool, []int64, []float64, []string:
		return v
	case []int:
		result := make([]int64, len(val))
		for i, item := range val {
			result[i] = int64(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = r.serializeValue(item)
		}
		return result
	case []map[string]any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = r.serializeParameters(item)
		}
		return result
	case map[string]any:
		return r.serializeParameters(val)
	default:
		return nil
	}
}

// handleUintConversion safely converts uint values to int64, serializing large values
func (r *Neo4jRepository) handleUintConversion(uintVal uint64, originalVal any) any {
	if uintVal > 9223372036854775807 { // max int64
		return r.serializeToJSON(originalVal)
	}
	return int64(uintVal)
}

// serializeToJSON serializes a value to JSON string
func (r *Neo4jRepository) serializeToJSON(v any) string {
	if jsonBytes, err := json.Marshal(v); err == nil {
		return string(jsonBytes)
	}
	return fmt.Sprintf("%v", v)
}
