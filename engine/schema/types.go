package schema

import (
	"fmt"
	"time"

	"github.com/mnemograph/mnemo/engine/core"
)

// PropertySchema describes a single property observed on a label or
// relationship type
type PropertySchema struct {
	Name      string   `json:"name"`
	Types     []string `json:"types"`
	Mandatory bool     `json:"mandatory"`
}

// LabelSchema describes a node label and the properties observed on it
type LabelSchema struct {
	Label      string           `json:"label"`
	Properties []PropertySchema `json:"properties"`
}

// RelTypeSchema describes a relationship type and the properties observed on it
type RelTypeSchema struct {
	Type       string           `json:"type"`
	Properties []PropertySchema `json:"properties"`
}

// Snapshot is a point-in-time view of the database schema. The accessor
// assembles it from introspection queries on every fetch; any caching is
// up to the caller.
type Snapshot struct {
	Nodes         []LabelSchema   `json:"nodes"`
	Relationships []RelTypeSchema `json:"relationships"`
	FetchedAt     time.Time       `json:"fetched_at"`
}

// Labels returns the set of node labels present in the snapshot
func (s *Snapshot) Labels() map[string]struct{} {
	labels := make(map[string]struct{}, len(s.Nodes))
	for i := range s.Nodes {
		labels[s.Nodes[i].Label] = struct{}{}
	}
	return labels
}

// RelationshipTypes returns the set of relationship types present in the snapshot
func (s *Snapshot) RelationshipTypes() map[string]struct{} {
	types := make(map[string]struct{}, len(s.Relationships))
	for i := range s.Relationships {
		types[s.Relationships[i].Type] = struct{}{}
	}
	return types
}

// SetupStatements returns the constraint and index statements applied at
// server start and by the schema setup command. All statements use
// IF NOT EXISTS so repeated application is safe.
func SetupStatements() []string {
	return []string{
		"CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE",
		"CREATE INDEX entity_type IF NOT EXISTS FOR (e:Entity) ON (e.type)",
	}
}

// PropertyType enumerates the supported property types for schema definitions
type PropertyType string

const (
	PropertyTypeString   PropertyType = "String"
	PropertyTypeInteger  PropertyType = "Integer"
	PropertyTypeFloat    PropertyType = "Float"
	PropertyTypeBoolean  PropertyType = "Boolean"
	PropertyTypeDate     PropertyType = "Date"
	PropertyTypeDateTime PropertyType = "DateTime"
	PropertyTypePoint    PropertyType = "Point"
	PropertyTypeDuration PropertyType = "Duration"
	PropertyTypeList     PropertyType = "List"
)

// Valid reports whether the property type is a known type
func (p PropertyType) Valid() bool {
	switch p {
	case PropertyTypeString, PropertyTypeInteger, PropertyTypeFloat, PropertyTypeBoolean,
		PropertyTypeDate, PropertyTypeDateTime, PropertyTypePoint, PropertyTypeDuration,
		PropertyTypeList:
		return true
	}
	return false
}

// IndexKind enumerates the supported index kinds
type IndexKind string

const (
	IndexKindRange    IndexKind = "RANGE"
	IndexKindText     IndexKind = "TEXT"
	IndexKindPoint    IndexKind = "POINT"
	IndexKindFulltext IndexKind = "FULLTEXT"
)

// Valid reports whether the index kind is a known kind
func (k IndexKind) Valid() bool {
	switch k {
	case IndexKindRange, IndexKindText, IndexKindPoint, IndexKindFulltext:
		return true
	}
	return false
}

// PropertyDefinition describes a property in a proposed schema change
type PropertyDefinition struct {
	Name      string       `json:"name"                yaml:"name"`
	Type      PropertyType `json:"type"                yaml:"type"`
	Mandatory bool         `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
}

// LabelDefinition describes a node label in a proposed schema change
type LabelDefinition struct {
	Name       string               `json:"name"                 yaml:"name"`
	Properties []PropertyDefinition `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// RelTypeDefinition describes a relationship type in a proposed schema change
type RelTypeDefinition struct {
	Name       string               `json:"name"                 yaml:"name"`
	Properties []PropertyDefinition `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// IndexDefinition describes an index in a proposed schema change. Labels and
// Properties identify the index for conflict detection against SHOW INDEXES.
type IndexDefinition struct {
	Name       string    `json:"name,omitempty" yaml:"name,omitempty"`
	Kind       IndexKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Labels     []string  `json:"labels"         yaml:"labels"`
	Properties []string  `json:"properties"     yaml:"properties"`
}

// Definition is a proposed set of schema changes checked by ValidateChanges
// before they are applied
type Definition struct {
	Labels            []LabelDefinition   `json:"labels,omitempty"             yaml:"labels,omitempty"`
	RelationshipTypes []RelTypeDefinition `json:"relationship_types,omitempty" yaml:"relationship_types,omitempty"`
	Indexes           []IndexDefinition   `json:"indexes,omitempty"            yaml:"indexes,omitempty"`
}

// Validate checks the definition for structural problems before it is
// compared against the live schema
func (d *Definition) Validate() error {
	for i := range d.Labels {
		label := &d.Labels[i]
		if label.Name == "" {
			return core.NewError(fmt.Errorf("label name is required"), core.ErrorCodeInvalidInput, nil)
		}
		if err := validateProperties(label.Properties); err != nil {
			return core.NewError(err, core.ErrorCodeInvalidInput, map[string]any{"label": label.Name})
		}
	}
	for i := range d.RelationshipTypes {
		relType := &d.RelationshipTypes[i]
		if relType.Name == "" {
			return core.NewError(
				fmt.Errorf("relationship type name is required"),
				core.ErrorCodeInvalidInput,
				nil,
			)
		}
		if err := validateProperties(relType.Properties); err != nil {
			return core.NewError(err, core.ErrorCodeInvalidInput, map[string]any{"relationship_type": relType.Name})
		}
	}
	for i := range d.Indexes {
		index := &d.Indexes[i]
		if len(index.Labels) == 0 {
			return core.NewError(fmt.Errorf("index requires at least one label"), core.ErrorCodeInvalidInput, nil)
		}
		if len(index.Properties) == 0 {
			return core.NewError(
				fmt.Errorf("index requires at least one property"),
				core.ErrorCodeInvalidInput,
				map[string]any{"labels": index.Labels},
			)
		}
		if index.Kind != "" && !index.Kind.Valid() {
			return core.NewError(
				fmt.Errorf("unknown index kind %q", index.Kind),
				core.ErrorCodeInvalidInput,
				map[string]any{"labels": index.Labels},
			)
		}
	}
	return nil
}

func validateProperties(props []PropertyDefinition) error {
	for i := range props {
		if props[i].Name == "" {
			return fmt.Errorf("property name is required")
		}
		if props[i].Type != "" && !props[i].Type.Valid() {
			return fmt.Errorf("unknown property type %q for property %q", props[i].Type, props[i].Name)
		}
	}
	return nil
}
