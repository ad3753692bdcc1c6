package core

import (
	"time"

	"github.com/google/uuid"
)

// ID represents a unique identifier
type ID string

// NewID generates a new unique ID
func NewID() ID {
	return ID(uuid.New().String())
}

// String returns the string representation of the ID
func (id ID) String() string {
	return string(id)
}

// EntityLabel is the node label used for knowledge-graph entities
const EntityLabel = "Entity"

// Fact represents a subject-predicate-object triple stored in the graph
type Fact struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Entity represents a named node in the knowledge graph
type Entity struct {
	ID           ID             `json:"id,omitempty"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Observations []string       `json:"observations,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
}

// Relation represents a typed relationship between two named entities
type Relation struct {
	FromName   string         `json:"from"`
	ToName     string         `json:"to"`
	Type       string         `json:"relation"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Path represents an ordered walk through the graph
type Path struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Connection represents one path found between two concepts
type Connection struct {
	Nodes         []Entity `json:"nodes"`
	RelationTypes []string `json:"relation_types"`
	Length        int      `json:"length"`
}

// StoreFactsResult is returned after persisting a batch of facts
type StoreFactsResult struct {
	StoredFacts []Fact    `json:"stored_facts"`
	Context     string    `json:"context"`
	TotalStored int       `json:"total_stored"`
	CreatedAt   time.Time `json:"created_at"`
}

// KnowledgeResult is returned by free-form knowledge queries
type KnowledgeResult struct {
	Relations  []Relation `json:"relations"`
	Context    string     `json:"context,omitempty"`
	TotalFound int        `json:"total_found"`
}
