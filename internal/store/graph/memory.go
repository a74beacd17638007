package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

type edgeKey struct {
	Type string
	From NodeRef
	To   NodeRef
}

// MemoryStore keeps the graph in process memory. It backs tests and
// single-binary installs where running Neo4j would be overkill. All methods
// are safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[NodeRef]map[string]any
	edges map[edgeKey]map[string]any
}

// NewMemoryStore returns an empty in-memory graph.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[NodeRef]map[string]any),
		edges: make(map[edgeKey]map[string]any),
	}
}

// EnsureSchema is a no-op; map keys already enforce (kind, id) uniqueness.
func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }

// Healthz always succeeds.
func (s *MemoryStore) Healthz(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// MergeNode creates the node if absent and merges props into it.
func (s *MemoryStore) MergeNode(ctx context.Context, node knowledge.Entity) error {
	if _, err := labelFor(node.Kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeNodeLocked(node.Kind, node.ID, node.Props)
	return nil
}

// MergeEdge creates both endpoints if absent, then the edge.
func (s *MemoryStore) MergeEdge(ctx context.Context, edge Edge) error {
	if _, err := relTypeFor(edge.Type); err != nil {
		return err
	}
	if _, err := labelFor(edge.From.Kind); err != nil {
		return err
	}
	if _, err := labelFor(edge.To.Kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeEdgeLocked(edge)
	return nil
}

// UpsertDocumentGraph writes the document's neighborhood under one lock.
func (s *MemoryStore) UpsertDocumentGraph(ctx context.Context, doc *knowledge.Document) error {
	nodes, edges := documentGraph(doc)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		s.mergeNodeLocked(n.Kind, n.ID, n.Props)
	}
	for _, e := range edges {
		s.mergeEdgeLocked(e)
	}
	return nil
}

// DeleteDocument removes the document node and every edge touching it.
func (s *MemoryStore) DeleteDocument(ctx context.Context, project, documentID string) error {
	ref := NodeRef{Kind: knowledge.EntityDocument, ID: documentID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if props, ok := s.nodes[ref]; ok {
		if p, _ := props["project"].(string); p != "" && p != project {
			return nil
		}
	}
	delete(s.nodes, ref)
	for key := range s.edges {
		if key.From == ref || key.To == ref {
			delete(s.edges, key)
		}
	}
	return nil
}

// NeighborsByRelatesTo walks one undirected RELATES_TO hop from the seeds.
func (s *MemoryStore) NeighborsByRelatesTo(ctx context.Context, project string, seedIDs []string, limit int) ([]Neighbor, error) {
	if len(seedIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	seeds := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		seeds[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var neighbors []Neighbor
	for key, props := range s.edges {
		if key.Type != knowledge.EdgeRelatesTo {
			continue
		}
		var seed, other NodeRef
		switch {
		case seeds[key.From.ID] && !seeds[key.To.ID]:
			seed, other = key.From, key.To
		case seeds[key.To.ID] && !seeds[key.From.ID]:
			seed, other = key.To, key.From
		default:
			continue
		}
		if other.Kind != knowledge.EntityDocument {
			continue
		}
		if p, _ := s.nodes[other]["project"].(string); p != project {
			continue
		}
		shared := 0
		switch v := props["shared_tags"].(type) {
		case int:
			shared = v
		case int64:
			shared = int(v)
		}
		neighbors = append(neighbors, Neighbor{
			DocumentID: other.ID,
			SeedID:     seed.ID,
			SharedTags: shared,
		})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].SharedTags != neighbors[j].SharedTags {
			return neighbors[i].SharedTags > neighbors[j].SharedTags
		}
		return neighbors[i].DocumentID < neighbors[j].DocumentID
	})
	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}

// RecomputeRelations links document pairs in the project sharing at least
// minSharedTags tags.
func (s *MemoryStore) RecomputeRelations(ctx context.Context, project string, minSharedTags int) (int, error) {
	if minSharedTags <= 0 {
		minSharedTags = DefaultMinSharedTags
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Document id → set of tag node ids, project-scoped.
	docTags := make(map[string]map[string]bool)
	for key := range s.edges {
		if key.Type != knowledge.EdgeMentions ||
			key.From.Kind != knowledge.EntityDocument ||
			key.To.Kind != knowledge.EntityTag {
			continue
		}
		if p, _ := s.nodes[key.From]["project"].(string); p != project {
			continue
		}
		if docTags[key.From.ID] == nil {
			docTags[key.From.ID] = make(map[string]bool)
		}
		docTags[key.From.ID][key.To.ID] = true
	}

	ids := make([]string, 0, len(docTags))
	for id := range docTags {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pairs := 0
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			shared := 0
			for tag := range docTags[ids[i]] {
				if docTags[ids[j]][tag] {
					shared++
				}
			}
			if shared < minSharedTags {
				continue
			}
			pairs++
			s.mergeEdgeLocked(Edge{
				Type: knowledge.EdgeRelatesTo,
				From: NodeRef{Kind: knowledge.EntityDocument, ID: ids[i]},
				To:   NodeRef{Kind: knowledge.EntityDocument, ID: ids[j]},
				Props: map[string]any{
					"shared_tags": shared,
				},
			})
		}
	}
	return pairs, nil
}

// SweepOrphans removes Tag, File, and Session nodes no edge touches.
func (s *MemoryStore) SweepOrphans(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[NodeRef]bool, len(s.edges)*2)
	for key := range s.edges {
		touched[key.From] = true
		touched[key.To] = true
	}

	removed := 0
	for ref := range s.nodes {
		switch ref.Kind {
		case knowledge.EntityTag, knowledge.EntityFile, knowledge.EntitySession:
			if !touched[ref] {
				delete(s.nodes, ref)
				removed++
			}
		}
	}
	return removed, nil
}

// NodeCount reports how many nodes the store holds. Test helper.
func (s *MemoryStore) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// HasEdge reports whether the exact directed edge exists. Test helper.
func (s *MemoryStore) HasEdge(edgeType string, from, to NodeRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[edgeKey{Type: edgeType, From: from, To: to}]
	return ok
}

func (s *MemoryStore) mergeNodeLocked(kind knowledge.EntityKind, id string, props map[string]any) {
	ref := NodeRef{Kind: kind, ID: id}
	existing, ok := s.nodes[ref]
	if !ok {
		existing = make(map[string]any, len(props))
		s.nodes[ref] = existing
	}
	for k, v := range props {
		existing[k] = v
	}
}

func (s *MemoryStore) mergeEdgeLocked(edge Edge) {
	s.mergeNodeLocked(edge.From.Kind, edge.From.ID, nil)
	s.mergeNodeLocked(edge.To.Kind, edge.To.ID, nil)
	key := edgeKey{Type: edge.Type, From: edge.From, To: edge.To}
	existing, ok := s.edges[key]
	if !ok {
		existing = make(map[string]any, len(edge.Props))
		s.edges[key] = existing
	}
	for k, v := range edge.Props {
		existing[k] = v
	}
}
