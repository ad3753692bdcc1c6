package commands

import (
	"sync"

	"github.com/spf13/cobra"
)

var initHelpOnce sync.Once

// InitHelpCommands registers the help commands
func InitHelpCommands() {
	initHelpOnce.Do(func() {
		rootCmd.AddCommand(helpGraphSchema)
		rootCmd.AddCommand(helpCypherExamples)
		rootCmd.AddCommand(helpConfig)
	})
}

// helpGraphSchema provides information about the graph schema
var helpGraphSchema = &cobra.Command{
	Use:   "graph-schema",
	Short: "Information about the knowledge graph schema used by mnemo",
	Long: `Mnemo keeps the graph vocabulary deliberately small so any fact fits
without migrations.

NODE TYPES:
-----------
• Entity
  - Properties: name, type, observations, created_at
  - Represents: Any named concept - a person, a place, a project,
    a preference. The name is unique across the graph.

RELATIONSHIP TYPES:
------------------
• RELATES
  - Direction: Subject -> Object
  - Properties: type, context, created_at
  - Represents: One fact. The predicate of the fact is stored in the
    relationship's "type" property ("works_at", "knows", "depends_on"),
    and the optional knowledge context in its "context" property.

Storing the fact "alice works_at acme" produces:

  (alice:Entity {name: "alice"})
      -[:RELATES {type: "works_at"}]->
  (acme:Entity {name: "acme"})

CONSTRAINTS AND INDEXES:
-----------------------
'mnemo schema setup' applies:
  - A uniqueness constraint on Entity.name
  - An index on Entity.type

EXAMPLE QUERIES:
---------------
# Every fact about alice:
MATCH (a:Entity {name: "alice"})-[r:RELATES]-(other:Entity)
RETURN a.name, r.type, other.name

# All facts stored under the "work" context:
MATCH (a:Entity)-[r:RELATES {context: "work"}]->(b:Entity)
RETURN a.name, r.type, b.name`,
}

// helpCypherExamples provides common Cypher query examples
var helpCypherExamples = &cobra.Command{
	Use:   "cypher-examples",
	Short: "Common Cypher queries for exploring the knowledge graph",
	Long: `Here are some useful Cypher queries for exploring stored knowledge:

BASIC QUERIES:
-------------
# Count entities and relations:
MATCH (e:Entity)
RETURN count(e) AS entities

MATCH (:Entity)-[r:RELATES]->(:Entity)
RETURN count(r) AS relations

# List all entities:
MATCH (e:Entity)
RETURN e.name, e.type
ORDER BY e.name

KNOWLEDGE EXPLORATION:
---------------------
# Everything known about one entity:
MATCH (e:Entity {name: "alice"})-[r:RELATES]-(other:Entity)
RETURN e.name, r.type, other.name, r.context

# Facts grouped by predicate:
MATCH (:Entity)-[r:RELATES]->(:Entity)
RETURN r.type AS predicate, count(*) AS facts
ORDER BY facts DESC

# Entities that share a connection:
MATCH (a:Entity)-[:RELATES]->(shared:Entity)<-[:RELATES]-(b:Entity)
WHERE a.name < b.name
RETURN a.name, b.name, shared.name

GRAPH ANALYSIS:
--------------
# Most connected entities (knowledge hubs):
MATCH (e:Entity)
RETURN e.name, count { (e)-[:RELATES]-() } AS degree
ORDER BY degree DESC LIMIT 10

# Isolated entities:
MATCH (e:Entity)
WHERE NOT (e)-[:RELATES]-()
RETURN e.name

# Paths between two entities:
MATCH path = (a:Entity {name: "alice"})-[:RELATES*1..3]-(b:Entity {name: "carol"})
RETURN path LIMIT 5

CONTEXT QUERIES:
---------------
# All knowledge contexts in use:
MATCH (:Entity)-[r:RELATES]->(:Entity)
WHERE r.context IS NOT NULL
RETURN DISTINCT r.context

# Facts in one context:
MATCH (a:Entity)-[r:RELATES {context: "work"}]->(b:Entity)
RETURN a.name, r.type, b.name`,
}

// helpConfig provides information about configuration options
var helpConfig = &cobra.Command{
	Use:   "config",
	Short: "Configuration file format and options",
	Long: `Mnemo uses a YAML configuration file (mnemo.yaml) to customize its behavior.

CONFIGURATION FILE STRUCTURE:
----------------------------
server:
  name: "mnemo"                    # Server name reported over MCP
  log_level: "info"                # Log level (debug, info, warn, error)

neo4j:
  uri: "neo4j://localhost:7687"    # Neo4j connection URI
  username: "neo4j"                # Neo4j username
  password: ""                     # Neo4j password
  database: "neo4j"                # Database name (optional)

templates:
  dir: ""                          # Directory of extra template YAML files
  setup_schema: true               # Apply constraints/indexes at server start

mcp:
  security:
    read_only: false               # Expose only read tools
  performance:
    max_results: 1000              # Row cap for execute-cypher results
    schema_cache_ttl: 60s          # How long get-schema responses are cached
  features:
    enable_templates: true         # Expose loaded templates as tools
    enable_validation: true        # Expose the validate-query tool
    enable_resources: true         # Expose schema/monitoring resources
    enable_prompts: true           # Expose guided prompts

ENVIRONMENT VARIABLES:
---------------------
Standard Neo4j variables always win over file values:
- NEO4J_URI
- NEO4J_USERNAME
- NEO4J_PASSWORD
- NEO4J_DATABASE

A few MNEMO_ prefixed variables are recognized as well:
- MNEMO_SERVER_LOG_LEVEL
- MNEMO_TEMPLATES_DIR

A .env file in the working directory is loaded automatically.

DEFAULT LOCATIONS:
-----------------
Mnemo looks for configuration in these locations (in order):
1. --config flag
2. ./mnemo.yaml
3. ./.mnemo.yaml`,
}
