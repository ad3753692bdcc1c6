package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/infra"
)

func emptySchemaRepo(nodeRows, relRows []map[string]any) *mockRepository {
	repo := &mockRepository{}
	repo.On("FetchNodeTypeProperties", mock.Anything).Return(nodeRows, nil)
	repo.On("FetchRelTypeProperties", mock.Anything).Return(relRows, nil)
	return repo
}

func labelRow(label string) map[string]any {
	return map[string]any{
		"nodeLabels":    []any{label},
		"propertyName":  "name",
		"propertyTypes": []any{"String"},
		"mandatory":     false,
	}
}

func relTypeRow(relType string) map[string]any {
	return map[string]any{
		"relType":      ":`" + relType + "`",
		"propertyName": nil,
	}
}

func newTestValidator(repo *mockRepository) *Validator {
	return NewValidator(NewAccessor(repo), repo)
}

func TestValidator_ValidateQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("Should_warn_about_label_scans", func(t *testing.T) {
		repo := emptySchemaRepo([]map[string]any{labelRow("Entity")}, nil)
		repo.On("Explain", mock.Anything, "MATCH (n:Entity) RETURN n", mock.Anything).
			Return(&infra.PlanDescription{
				Operator: "ProduceResults@neo4j",
				Children: []infra.PlanDescription{
					{Operator: "NodeByLabelScan@neo4j", Identifiers: []string{"n"}},
				},
			}, nil)

		validation, err := newTestValidator(repo).ValidateQuery(ctx, "MATCH (n:Entity) RETURN n", nil)
		require.NoError(t, err)
		require.Len(t, validation.Warnings, 1)
		assert.Contains(t, validation.Warnings[0], "label scan")
	})

	t.Run("Should_warn_about_cartesian_products", func(t *testing.T) {
		repo := emptySchemaRepo([]map[string]any{labelRow("Entity")}, nil)
		repo.On("Explain", mock.Anything, mock.Anything, mock.Anything).
			Return(&infra.PlanDescription{
				Operator: "CartesianProduct",
				Children: []infra.PlanDescription{
					{Operator: "AllNodesScan"},
					{Operator: "AllNodesScan"},
				},
			}, nil)

		validation, err := newTestValidator(repo).
			ValidateQuery(ctx, "MATCH (a), (b) RETURN a, b", nil)
		require.NoError(t, err)
		require.Len(t, validation.Warnings, 1)
		assert.Contains(t, validation.Warnings[0], "cartesian product")
	})

	t.Run("Should_report_unknown_labels_from_plan_identifiers", func(t *testing.T) {
		repo := emptySchemaRepo([]map[string]any{labelRow("Entity")}, nil)
		repo.On("Explain", mock.Anything, mock.Anything, mock.Anything).
			Return(&infra.PlanDescription{
				Operator:    "Filter",
				Identifiers: []string{"p", "p:Person", "e:Entity"},
			}, nil)

		validation, err := newTestValidator(repo).
			ValidateQuery(ctx, "MATCH (p:Person) RETURN p", nil)
		require.NoError(t, err)
		require.Len(t, validation.Warnings, 1)
		assert.Equal(t, "Query references unknown labels: Person", validation.Warnings[0])
	})

	t.Run("Should_turn_explain_failure_into_warning", func(t *testing.T) {
		repo := emptySchemaRepo([]map[string]any{labelRow("Entity")}, nil)
		repo.On("Explain", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("invalid syntax"))

		validation, err := newTestValidator(repo).ValidateQuery(ctx, "NOT CYPHER", nil)
		require.NoError(t, err)
		require.Len(t, validation.Warnings, 1)
		assert.Contains(t, validation.Warnings[0], "Could not validate query")
	})

	t.Run("Should_return_empty_warnings_for_clean_plan", func(t *testing.T) {
		repo := emptySchemaRepo([]map[string]any{labelRow("Entity")}, nil)
		repo.On("Explain", mock.Anything, mock.Anything, mock.Anything).
			Return(&infra.PlanDescription{
				Operator: "ProduceResults",
				Children: []infra.PlanDescription{
					{Operator: "NodeIndexSeek", Identifiers: []string{"n"}},
				},
			}, nil)

		validation, err := newTestValidator(repo).
			ValidateQuery(ctx, "MATCH (n:Entity {name: $name}) RETURN n", map[string]any{"name": "x"})
		require.NoError(t, err)
		assert.NotNil(t, validation.Warnings)
		assert.Empty(t, validation.Warnings)
	})

	t.Run("Should_handle_missing_plan", func(t *testing.T) {
		repo := emptySchemaRepo(nil, nil)
		repo.On("Explain", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

		validation, err := newTestValidator(repo).ValidateQuery(ctx, "RETURN 1", nil)
		require.NoError(t, err)
		assert.Empty(t, validation.Warnings)
	})

	t.Run("Should_propagate_snapshot_fetch_failure", func(t *testing.T) {
		repo := &mockRepository{}
		repo.On("FetchNodeTypeProperties", mock.Anything).
			Return(nil, errors.New("connection refused"))

		validation, err := newTestValidator(repo).ValidateQuery(ctx, "RETURN 1", nil)
		assert.Nil(t, validation)
		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeDatabaseUnavailable, core.CodeOf(err))
	})
}

func TestValidator_ValidateTemplateCompatibility(t *testing.T) {
	ctx := context.Background()

	t.Run("Should_be_compatible_when_nothing_is_required", func(t *testing.T) {
		repo := emptySchemaRepo(nil, nil)
		repo.On("Explain", mock.Anything, mock.Anything, mock.Anything).
			Return(&infra.PlanDescription{Operator: "ProduceResults"}, nil)

		result, err := newTestValidator(repo).ValidateTemplateCompatibility(
			ctx, "open_template", "RETURN 1", nil, nil, nil)
		require.NoError(t, err)
		assert.True(t, result.Compatible())
		assert.Empty(t, result.MissingLabels)
		assert.Empty(t, result.MissingRelationshipTypes)
		assert.Empty(t, result.Issues())
	})

	t.Run("Should_report_only_missing_labels", func(t *testing.T) {
		repo := emptySchemaRepo([]map[string]any{labelRow("A")}, nil)
		repo.On("Explain", mock.Anything, mock.Anything, mock.Anything).
			Return(&infra.PlanDescription{Operator: "ProduceResults"}, nil)

		result, err := newTestValidator(repo).ValidateTemplateCompatibility(
			ctx, "needs_b", "MATCH (n:B) RETURN n", []string{"A", "B"}, nil, nil)
		require.NoError(t, err)
		assert.False(t, result.Compatible())
		assert.Equal(t, []string{"B"}, result.MissingLabels)

		issues := result.Issues()
		require.Len(t, issues, 1)
		assert.Equal(t, "Template requires labels that don't exist in schema: B", issues[0])
	})

	t.Run("Should_report_missing_relationship_types", func(t *testing.T) {
		repo := emptySchemaRepo(
			[]map[string]any{labelRow("Entity")},
			[]map[string]any{relTypeRow("KNOWS")},
		)
		repo.On("Explain", mock.Anything, mock.Anything, mock.Anything).
			Return(&infra.PlanDescription{Operator: "ProduceResults"}, nil)

		result, err := newTestValidator(repo).ValidateTemplateCompatibility(
			ctx, "needs_rels", "RETURN 1", nil, []string{"KNOWS", "MANAGES"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"MANAGES"}, result.MissingRelationshipTypes)
		issues := result.Issues()
		require.Len(t, issues, 1)
		assert.Equal(t,
			"Template requires relationship types that don't exist in schema: MANAGES",
			issues[0])
	})

	t.Run("Should_prefix_query_warnings", func(t *testing.T) {
		repo := emptySchemaRepo([]map[string]any{labelRow("Entity")}, nil)
		repo.On("Explain", mock.Anything, mock.Anything, mock.Anything).
			Return(&infra.PlanDescription{Operator: "NodeByLabelScan"}, nil)

		result, err := newTestValidator(repo).ValidateTemplateCompatibility(
			ctx, "scanner", "MATCH (n:Entity) RETURN n", []string{"Entity"}, nil, nil)
		require.NoError(t, err)
		assert.True(t, result.Compatible())
		issues := result.Issues()
		require.Len(t, issues, 1)
		assert.Equal(t,
			"Template query warning: Query uses label scan. Consider adding indexes for better performance.",
			issues[0])
	})

	t.Run("Should_pass_parameters_to_plan_inspection", func(t *testing.T) {
		repo := emptySchemaRepo([]map[string]any{labelRow("Entity")}, nil)
		params := map[string]any{"limit": 1}
		repo.On("Explain", mock.Anything, "MATCH (n:Entity) RETURN n LIMIT $limit", params).
			Return(&infra.PlanDescription{Operator: "ProduceResults"}, nil)

		result, err := newTestValidator(repo).ValidateTemplateCompatibility(
			ctx, "limited", "MATCH (n:Entity) RETURN n LIMIT $limit", nil, nil, params)
		require.NoError(t, err)
		assert.Empty(t, result.Issues())
		repo.AssertExpectations(t)
	})

	t.Run("Should_propagate_snapshot_fetch_failure", func(t *testing.T) {
		repo := &mockRepository{}
		repo.On("FetchNodeTypeProperties", mock.Anything).
			Return(nil, errors.New("connection refused"))

		result, err := newTestValidator(repo).ValidateTemplateCompatibility(
			ctx, "any", "RETURN 1", nil, nil, nil)
		assert.Nil(t, result)
		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeDatabaseUnavailable, core.CodeOf(err))
	})
}

func TestValidator_ValidateChanges(t *testing.T) {
	ctx := context.Background()

	t.Run("Should_report_existing_labels_and_relationship_types", func(t *testing.T) {
		repo := emptySchemaRepo(
			[]map[string]any{labelRow("Entity"), labelRow("Context")},
			[]map[string]any{relTypeRow("KNOWS")},
		)

		issues, err := newTestValidator(repo).ValidateChanges(ctx, &Definition{
			Labels: []LabelDefinition{
				{Name: "Entity"},
				{Name: "Project"},
			},
			RelationshipTypes: []RelTypeDefinition{
				{Name: "KNOWS"},
				{Name: "MANAGES"},
			},
		})
		require.NoError(t, err)
		require.Len(t, issues, 2)
		assert.Equal(t, "Labels already exist in schema: Entity", issues[0])
		assert.Equal(t, "Relationship types already exist in schema: KNOWS", issues[1])
	})

	t.Run("Should_report_duplicate_index", func(t *testing.T) {
		repo := emptySchemaRepo(nil, nil)
		repo.On("ShowIndexes", mock.Anything).Return([]map[string]any{
			{
				"name":          "entity_type",
				"labelsOrTypes": []any{"Entity"},
				"properties":    []any{"type"},
			},
		}, nil)

		issues, err := newTestValidator(repo).ValidateChanges(ctx, &Definition{
			Indexes: []IndexDefinition{
				{Labels: []string{"Entity"}, Properties: []string{"type"}},
				{Labels: []string{"Entity"}, Properties: []string{"name"}},
			},
		})
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, "Index already exists for Entity on type", issues[0])
	})

	t.Run("Should_return_no_issues_for_novel_changes", func(t *testing.T) {
		repo := emptySchemaRepo([]map[string]any{labelRow("Entity")}, nil)
		repo.On("ShowIndexes", mock.Anything).Return([]map[string]any{}, nil)

		issues, err := newTestValidator(repo).ValidateChanges(ctx, &Definition{
			Labels:  []LabelDefinition{{Name: "Project"}},
			Indexes: []IndexDefinition{{Labels: []string{"Project"}, Properties: []string{"name"}}},
		})
		require.NoError(t, err)
		assert.Empty(t, issues)
	})

	t.Run("Should_skip_index_lookup_when_no_indexes_proposed", func(t *testing.T) {
		repo := emptySchemaRepo(nil, nil)

		issues, err := newTestValidator(repo).ValidateChanges(ctx, &Definition{
			Labels: []LabelDefinition{{Name: "Project"}},
		})
		require.NoError(t, err)
		assert.Empty(t, issues)
		repo.AssertNotCalled(t, "ShowIndexes", mock.Anything)
	})

	t.Run("Should_reject_invalid_definition_before_touching_database", func(t *testing.T) {
		repo := &mockRepository{}

		issues, err := newTestValidator(repo).ValidateChanges(ctx, &Definition{
			Labels: []LabelDefinition{{Name: ""}},
		})
		assert.Nil(t, issues)
		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeInvalidInput, core.CodeOf(err))
		repo.AssertNotCalled(t, "FetchNodeTypeProperties", mock.Anything)
	})
}
