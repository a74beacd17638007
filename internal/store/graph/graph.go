package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// DefaultMinSharedTags is the tag overlap below which two documents are not
// considered related.
const DefaultMinSharedTags = 2

// NodeRef addresses a node by its unique (kind, id) pair.
type NodeRef struct {
	Kind knowledge.EntityKind
	ID   string
}

// Edge is a typed, directed relationship between two nodes.
type Edge struct {
	Type  string
	From  NodeRef
	To    NodeRef
	Props map[string]any
}

// Neighbor is a document reachable over one RELATES_TO hop from a seed
// document. SeedID names the seed so callers can propagate scores.
type Neighbor struct {
	DocumentID string
	SeedID     string
	SharedTags int
}

// Store is the knowledge graph port. All write operations use MERGE
// semantics: replaying them is idempotent.
type Store interface {
	// EnsureSchema installs uniqueness constraints (or their in-memory
	// equivalent). Safe to call on every startup.
	EnsureSchema(ctx context.Context) error

	// MergeNode creates the node if absent and merges props into it.
	MergeNode(ctx context.Context, node knowledge.Entity) error

	// MergeEdge creates both endpoints if absent, then the edge.
	MergeEdge(ctx context.Context, edge Edge) error

	// UpsertDocumentGraph writes the document's whole neighborhood in one
	// transaction.
	UpsertDocumentGraph(ctx context.Context, doc *knowledge.Document) error

	// DeleteDocument detaches and removes the document node.
	DeleteDocument(ctx context.Context, project, documentID string) error

	// NeighborsByRelatesTo returns documents one RELATES_TO hop away from
	// any seed, excluding the seeds themselves, best-connected first.
	NeighborsByRelatesTo(ctx context.Context, project string, seedIDs []string, limit int) ([]Neighbor, error)

	// RecomputeRelations derives RELATES_TO edges for document pairs in
	// the project sharing at least minSharedTags tags. Returns the number
	// of pairs related by this pass.
	RecomputeRelations(ctx context.Context, project string, minSharedTags int) (int, error)

	// SweepOrphans removes Tag, File, and Session nodes no edge touches
	// anymore. Returns the number of nodes removed.
	SweepOrphans(ctx context.Context) (int, error)

	// Healthz reports whether the backend is reachable.
	Healthz(ctx context.Context) error

	Close(ctx context.Context) error
}

// TagNodeID scopes a tag node to its project so tag names can repeat across
// projects without colliding.
func TagNodeID(project, tag string) string { return project + ":" + tag }

// FileNodeID scopes a file node to its project.
func FileNodeID(project, path string) string { return project + ":" + path }

// documentGraph maps one document onto the nodes and edges it contributes.
// Both backends build UpsertDocumentGraph from this one mapping so they
// cannot drift apart.
func documentGraph(doc *knowledge.Document) ([]knowledge.Entity, []Edge) {
	projectRef := NodeRef{Kind: knowledge.EntityProject, ID: doc.Project}
	docRef := NodeRef{Kind: knowledge.EntityDocument, ID: doc.ID}

	nodes := []knowledge.Entity{
		{
			Kind:  knowledge.EntityProject,
			ID:    doc.Project,
			Props: map[string]any{"name": doc.Project},
		},
		{
			Kind: knowledge.EntityDocument,
			ID:   doc.ID,
			Props: map[string]any{
				"project":    doc.Project,
				"title":      doc.Title,
				"doc_type":   string(doc.DocType),
				"source_uri": doc.SourceURI,
				"created_at": doc.CreatedAt.UTC().Format(time.RFC3339),
			},
		},
	}
	edges := []Edge{
		{Type: knowledge.EdgeContains, From: projectRef, To: docRef},
	}

	for _, tag := range doc.Tags {
		tagRef := NodeRef{Kind: knowledge.EntityTag, ID: TagNodeID(doc.Project, tag)}
		nodes = append(nodes, knowledge.Entity{
			Kind:  knowledge.EntityTag,
			ID:    tagRef.ID,
			Props: map[string]any{"name": tag, "project": doc.Project},
		})
		edges = append(edges, Edge{Type: knowledge.EdgeMentions, From: docRef, To: tagRef})
	}

	if doc.DocType == knowledge.DocTypeFile && doc.SourceURI != "" {
		fileRef := NodeRef{Kind: knowledge.EntityFile, ID: FileNodeID(doc.Project, doc.SourceURI)}
		nodes = append(nodes, knowledge.Entity{
			Kind:  knowledge.EntityFile,
			ID:    fileRef.ID,
			Props: map[string]any{"path": doc.SourceURI, "project": doc.Project},
		})
		edges = append(edges, Edge{Type: knowledge.EdgeMentions, From: docRef, To: fileRef})
	}

	if doc.SessionID != "" {
		sessionRef := NodeRef{Kind: knowledge.EntitySession, ID: doc.SessionID}
		nodes = append(nodes, knowledge.Entity{
			Kind:  knowledge.EntitySession,
			ID:    doc.SessionID,
			Props: map[string]any{"project": doc.Project},
		})
		edges = append(edges, Edge{Type: knowledge.EdgePartOfSession, From: docRef, To: sessionRef})
	}

	return nodes, edges
}

// nodeLabels is the closed set of node kinds; anything else is a bug in the
// caller, and must never reach query text.
var nodeLabels = map[knowledge.EntityKind]bool{
	knowledge.EntityProject:  true,
	knowledge.EntityDocument: true,
	knowledge.EntitySession:  true,
	knowledge.EntityFile:     true,
	knowledge.EntityTag:      true,
	knowledge.EntityConcept:  true,
}

var edgeTypes = map[string]bool{
	knowledge.EdgeContains:      true,
	knowledge.EdgePartOfSession: true,
	knowledge.EdgeMentions:      true,
	knowledge.EdgeRelatesTo:     true,
}

func labelFor(kind knowledge.EntityKind) (string, error) {
	if !nodeLabels[kind] {
		return "", fmt.Errorf("unknown node kind %q", kind)
	}
	return string(kind), nil
}

func relTypeFor(edgeType string) (string, error) {
	if !edgeTypes[edgeType] {
		return "", fmt.Errorf("unknown edge type %q", edgeType)
	}
	return edgeType, nil
}
