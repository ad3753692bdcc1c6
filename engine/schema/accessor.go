package schema

import (
	"context"
	"strings"
	"time"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/pkg/logger"
)

// Accessor fetches schema snapshots from the database. Every call runs the
// introspection queries against a fresh session; nothing is cached so
// validation always sees the current schema.
type Accessor struct {
	repo infra.Repository
}

// NewAccessor creates a new schema accessor
func NewAccessor(repo infra.Repository) *Accessor {
	return &Accessor{repo: repo}
}

// Fetch assembles a snapshot from db.schema.nodeTypeProperties() and
// db.schema.relTypeProperties(). Failures surface as DATABASE_UNAVAILABLE.
func (a *Accessor) Fetch(ctx context.Context) (*Snapshot, error) {
	nodeRows, err := a.repo.FetchNodeTypeProperties(ctx)
	if err != nil {
		return nil, core.NewError(err, core.ErrorCodeDatabaseUnavailable, map[string]any{
			"operation": "fetch_node_schema",
		})
	}
	relRows, err := a.repo.FetchRelTypeProperties(ctx)
	if err != nil {
		return nil, core.NewError(err, core.ErrorCodeDatabaseUnavailable, map[string]any{
			"operation": "fetch_relationship_schema",
		})
	}

	snapshot := &Snapshot{
		Nodes:         assembleLabels(nodeRows),
		Relationships: assembleRelTypes(relRows),
		FetchedAt:     time.Now().UTC(),
	}
	logger.Debug("fetched schema snapshot",
		"labels", len(snapshot.Nodes),
		"relationship_types", len(snapshot.Relationships))
	return snapshot, nil
}

// assembleLabels groups per-property introspection rows by label, preserving
// first-seen order. A row with a null propertyName still registers its label.
func assembleLabels(rows []map[string]any) []LabelSchema {
	order := make([]string, 0)
	props := make(map[string][]PropertySchema)
	for _, row := range rows {
		prop := propertyFromRow(row)
		for _, label := range stringValues(row["nodeLabels"]) {
			if _, ok := props[label]; !ok {
				order = append(order, label)
				props[label] = nil
			}
			if prop != nil {
				props[label] = append(props[label], *prop)
			}
		}
	}
	nodes := make([]LabelSchema, 0, len(order))
	for _, label := range order {
		nodes = append(nodes, LabelSchema{Label: label, Properties: props[label]})
	}
	return nodes
}

func assembleRelTypes(rows []map[string]any) []RelTypeSchema {
	order := make([]string, 0)
	props := make(map[string][]PropertySchema)
	for _, row := range rows {
		raw, ok := row["relType"].(string)
		if !ok {
			continue
		}
		relType := bareRelType(raw)
		if relType == "" {
			continue
		}
		if _, seen := props[relType]; !seen {
			order = append(order, relType)
			props[relType] = nil
		}
		if prop := propertyFromRow(row); prop != nil {
			props[relType] = append(props[relType], *prop)
		}
	}
	rels := make([]RelTypeSchema, 0, len(order))
	for _, relType := range order {
		rels = append(rels, RelTypeSchema{Type: relType, Properties: props[relType]})
	}
	return rels
}

// propertyFromRow extracts a property schema from an introspection row.
// Returns nil when the row carries no property (propertyName is null for
// labels and types without properties).
func propertyFromRow(row map[string]any) *PropertySchema {
	name, ok := row["propertyName"].(string)
	if !ok || name == "" {
		return nil
	}
	mandatory, _ := row["mandatory"].(bool)
	return &PropertySchema{
		Name:      name,
		Types:     stringValues(row["propertyTypes"]),
		Mandatory: mandatory,
	}
}

// bareRelType strips the introspection decoration from a relationship type.
// db.schema.relTypeProperties() reports types as ":`KNOWS`".
func bareRelType(relType string) string {
	relType = strings.TrimPrefix(relType, ":")
	return strings.Trim(relType, "`")
}

func stringValues(value any) []string {
	switch v := value.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
