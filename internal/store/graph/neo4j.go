package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

var tracer = otel.Tracer("keeperd.store.graph")

// Neo4jConfig configures the bolt connection.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string

	// Database selects the neo4j database; empty means the server default.
	Database string
}

// Neo4jStore talks to Neo4j over bolt. One document upsert is one managed
// write transaction.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jStore{driver: driver, database: cfg.Database}, nil
}

// Healthz re-verifies connectivity.
func (s *Neo4jStore) Healthz(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j connectivity: %w", err)
	}
	return nil
}

// Close shuts the driver down.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureSchema installs one uniqueness constraint per node kind. Constraint
// DDL auto-commits, so each statement runs on its own.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Neo4jStore.EnsureSchema")
	defer span.End()

	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for kind := range nodeLabels {
		stmt := fmt.Sprintf(
			"CREATE CONSTRAINT keeperd_%s_id IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			lowerKind(kind), kind,
		)
		result, err := session.Run(ctx, stmt, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "constraint failed")
			return knowledge.NewStoreWriteError("gr", fmt.Errorf("constraint for %s: %w", kind, err))
		}
		if _, err := result.Consume(ctx); err != nil {
			return knowledge.NewStoreWriteError("gr", fmt.Errorf("constraint for %s: %w", kind, err))
		}
	}
	return nil
}

// MergeNode creates the node if absent and merges props.
func (s *Neo4jStore) MergeNode(ctx context.Context, node knowledge.Entity) error {
	ctx, span := tracer.Start(ctx, "Neo4jStore.MergeNode")
	defer span.End()
	span.SetAttributes(attribute.String("node.kind", string(node.Kind)))

	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runMergeNode(ctx, tx, node)
	})
	if err != nil {
		span.RecordError(err)
		return knowledge.NewStoreWriteError("gr", err)
	}
	return nil
}

// MergeEdge creates both endpoints if absent, then the relationship.
func (s *Neo4jStore) MergeEdge(ctx context.Context, edge Edge) error {
	ctx, span := tracer.Start(ctx, "Neo4jStore.MergeEdge")
	defer span.End()
	span.SetAttributes(attribute.String("edge.type", edge.Type))

	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runMergeEdge(ctx, tx, edge)
	})
	if err != nil {
		span.RecordError(err)
		return knowledge.NewStoreWriteError("gr", err)
	}
	return nil
}

// UpsertDocumentGraph writes the document's neighborhood in one write
// transaction so the graph never holds half a document.
func (s *Neo4jStore) UpsertDocumentGraph(ctx context.Context, doc *knowledge.Document) error {
	ctx, span := tracer.Start(ctx, "Neo4jStore.UpsertDocumentGraph")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", doc.ID),
		attribute.String("project", doc.Project),
	)

	nodes, edges := documentGraph(doc)
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, n := range nodes {
			if err := runMergeNode(ctx, tx, n); err != nil {
				return nil, err
			}
		}
		for _, e := range edges {
			if err := runMergeEdge(ctx, tx, e); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "document upsert failed")
		return knowledge.NewStoreWriteError("gr", err)
	}
	return nil
}

// DeleteDocument detaches and removes the document node.
func (s *Neo4jStore) DeleteDocument(ctx context.Context, project, documentID string) error {
	ctx, span := tracer.Start(ctx, "Neo4jStore.DeleteDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			"MATCH (d:Document {id: $id}) WHERE d.project = $project DETACH DELETE d",
			map[string]any{"id": documentID, "project": project})
		if err != nil {
			return nil, err
		}
		_, err = result.Consume(ctx)
		return nil, err
	})
	if err != nil {
		span.RecordError(err)
		return knowledge.NewStoreWriteError("gr", err)
	}
	return nil
}

// NeighborsByRelatesTo walks one undirected RELATES_TO hop from the seeds.
func (s *Neo4jStore) NeighborsByRelatesTo(ctx context.Context, project string, seedIDs []string, limit int) ([]Neighbor, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.NeighborsByRelatesTo")
	defer span.End()
	span.SetAttributes(
		attribute.String("project", project),
		attribute.Int("seeds", len(seedIDs)),
	)

	if len(seedIDs) == 0 || limit <= 0 {
		return nil, nil
	}

	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
MATCH (d:Document)-[r:RELATES_TO]-(o:Document)
WHERE d.id IN $seeds AND o.project = $project AND NOT o.id IN $seeds
RETURN d.id AS seed, o.id AS neighbor, coalesce(r.shared_tags, 0) AS shared
ORDER BY shared DESC, neighbor ASC
LIMIT $limit`,
			map[string]any{"seeds": seedIDs, "project": project, "limit": limit})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		neighbors := make([]Neighbor, 0, len(records))
		for _, rec := range records {
			n := Neighbor{}
			if v, ok := rec.Get("neighbor"); ok {
				n.DocumentID, _ = v.(string)
			}
			if v, ok := rec.Get("seed"); ok {
				n.SeedID, _ = v.(string)
			}
			if v, ok := rec.Get("shared"); ok {
				if shared, ok := v.(int64); ok {
					n.SharedTags = int(shared)
				}
			}
			neighbors = append(neighbors, n)
		}
		return neighbors, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("neighbors query: %w", err)
	}
	return out.([]Neighbor), nil
}

// RecomputeRelations derives RELATES_TO for pairs sharing tags. The edge
// direction is canonicalized by id order so MERGE never doubles up.
func (s *Neo4jStore) RecomputeRelations(ctx context.Context, project string, minSharedTags int) (int, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.RecomputeRelations")
	defer span.End()
	span.SetAttributes(attribute.String("project", project))

	if minSharedTags <= 0 {
		minSharedTags = DefaultMinSharedTags
	}

	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
MATCH (a:Document)-[:MENTIONS]->(t:Tag)<-[:MENTIONS]-(b:Document)
WHERE a.project = $project AND b.project = $project AND a.id < b.id
WITH a, b, count(DISTINCT t) AS shared
WHERE shared >= $min
MERGE (a)-[r:RELATES_TO]->(b)
SET r.shared_tags = shared
RETURN count(r) AS pairs`,
			map[string]any{"project": project, "min": minSharedTags})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		if v, ok := record.Get("pairs"); ok {
			if pairs, ok := v.(int64); ok {
				return int(pairs), nil
			}
		}
		return 0, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recompute failed")
		return 0, knowledge.NewStoreWriteError("gr", err)
	}
	return out.(int), nil
}

// SweepOrphans removes Tag, File, and Session nodes nothing points at.
func (s *Neo4jStore) SweepOrphans(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Neo4jStore.SweepOrphans")
	defer span.End()

	statements := []string{
		"MATCH (t:Tag) WHERE NOT ()-[:MENTIONS]->(t) DETACH DELETE t",
		"MATCH (f:File) WHERE NOT ()-[:MENTIONS]->(f) DETACH DELETE f",
		"MATCH (s:Session) WHERE NOT ()-[:PART_OF_SESSION]->(s) DETACH DELETE s",
	}

	removed := 0
	for _, stmt := range statements {
		out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			summary, err := result.Consume(ctx)
			if err != nil {
				return nil, err
			}
			return summary.Counters().NodesDeleted(), nil
		})
		if err != nil {
			span.RecordError(err)
			return removed, knowledge.NewStoreWriteError("gr", err)
		}
		removed += out.(int)
	}
	span.SetAttributes(attribute.Int("removed", removed))
	return removed, nil
}

func (s *Neo4jStore) newSession(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
}

func (s *Neo4jStore) write(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, work)
}

func (s *Neo4jStore) read(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, work)
}

func runMergeNode(ctx context.Context, tx neo4j.ManagedTransaction, node knowledge.Entity) error {
	label, err := labelFor(node.Kind)
	if err != nil {
		return err
	}
	props := node.Props
	if props == nil {
		props = map[string]any{}
	}
	result, err := tx.Run(ctx,
		fmt.Sprintf("MERGE (n:%s {id: $id}) SET n += $props", label),
		map[string]any{"id": node.ID, "props": props})
	if err != nil {
		return fmt.Errorf("merge %s node: %w", label, err)
	}
	_, err = result.Consume(ctx)
	return err
}

func runMergeEdge(ctx context.Context, tx neo4j.ManagedTransaction, edge Edge) error {
	relType, err := relTypeFor(edge.Type)
	if err != nil {
		return err
	}
	fromLabel, err := labelFor(edge.From.Kind)
	if err != nil {
		return err
	}
	toLabel, err := labelFor(edge.To.Kind)
	if err != nil {
		return err
	}
	props := edge.Props
	if props == nil {
		props = map[string]any{}
	}
	result, err := tx.Run(ctx,
		fmt.Sprintf(
			"MERGE (a:%s {id: $from}) MERGE (b:%s {id: $to}) MERGE (a)-[r:%s]->(b) SET r += $props",
			fromLabel, toLabel, relType),
		map[string]any{"from": edge.From.ID, "to": edge.To.ID, "props": props})
	if err != nil {
		return fmt.Errorf("merge %s edge: %w", relType, err)
	}
	_, err = result.Consume(ctx)
	return err
}

func lowerKind(kind knowledge.EntityKind) string {
	switch kind {
	case knowledge.EntityProject:
		return "project"
	case knowledge.EntityDocument:
		return "document"
	case knowledge.EntitySession:
		return "session"
	case knowledge.EntityFile:
		return "file"
	case knowledge.EntityTag:
		return "tag"
	case knowledge.EntityConcept:
		return "concept"
	default:
		return "node"
	}
}
