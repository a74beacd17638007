package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/logging"
	"github.com/finderskeepers/keeperd/internal/store/graph"
	"github.com/finderskeepers/keeperd/internal/store/relational"
	"github.com/finderskeepers/keeperd/internal/store/vector"
)

var tracer = otel.Tracer("keeperd.query")

// rrfK is the default reciprocal-rank-fusion constant:
// score += 1/(rrfK + rank).
const rrfK = 60

// collapseBonus rewards documents matched by several chunks, saturating at
// collapseCap extra chunks.
const (
	collapseBonus = 0.01
	collapseCap   = 3
)

// Relational is the slice of the relational store the engine needs.
type Relational interface {
	KeywordSearch(ctx context.Context, project, query string, k int, filters relational.Filters) ([]relational.SearchHit, error)
	VectorSearch(ctx context.Context, project string, vector []float32, k int, filters relational.Filters) ([]relational.SearchHit, error)
	GetDocument(ctx context.Context, documentID string) (*knowledge.Document, error)
	ListChunks(ctx context.Context, documentID string) ([]knowledge.Chunk, error)
}

// VectorIndex is the slice of the vector index the engine needs.
type VectorIndex interface {
	Search(ctx context.Context, project string, vector []float32, k int, filter vector.Filter) ([]vector.Hit, error)
}

// Graph is the slice of the graph store the engine needs.
type Graph interface {
	NeighborsByRelatesTo(ctx context.Context, project string, seedIDs []string, limit int) ([]graph.Neighbor, error)
}

// Embedder embeds the query text once per call.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DefaultGraphWeight scales scores contributed to one-hop graph neighbors.
const DefaultGraphWeight = 0.2

// Options configures the engine.
type Options struct {
	Relational Relational
	Vector     VectorIndex
	Graph      Graph
	Embedder   Embedder
	Logger     *logging.Logger

	// GraphWeight overrides DefaultGraphWeight when positive.
	GraphWeight float64

	// RRFK overrides the fusion constant when positive. Larger values
	// flatten the rank curve.
	RRFK int

	// DefaultTopK overrides DefaultTopK for requests that leave top_k
	// unset, when positive.
	DefaultTopK int
}

// Engine answers knowledge queries over the three stores.
type Engine struct {
	rv          Relational
	vi          VectorIndex
	gr          Graph
	embedder    Embedder
	log         *logging.Logger
	metrics     *queryMetrics
	graphWeight float64
	rrfK        int
	defaultTopK int
}

// New validates dependencies and builds the engine.
func New(opts Options) (*Engine, error) {
	if opts.Relational == nil {
		return nil, fmt.Errorf("query: relational store is required")
	}
	if opts.Vector == nil {
		return nil, fmt.Errorf("query: vector index is required")
	}
	if opts.Graph == nil {
		return nil, fmt.Errorf("query: graph store is required")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("query: embedder is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	weight := opts.GraphWeight
	if weight <= 0 {
		weight = DefaultGraphWeight
	}
	k := opts.RRFK
	if k <= 0 {
		k = rrfK
	}
	topK := opts.DefaultTopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{
		rv:          opts.Relational,
		vi:          opts.Vector,
		gr:          opts.Graph,
		embedder:    opts.Embedder,
		log:         log.Named("query"),
		metrics:     newQueryMetrics(log),
		graphWeight: weight,
		rrfK:        k,
		defaultTopK: topK,
	}, nil
}

// retrievedHit is the store-neutral shape of one chunk hit.
type retrievedHit struct {
	chunkID    string
	documentID string
	ordinal    int
	title      string
	sourceURI  string
	docType    knowledge.DocType
	tags       []string
	text       string
}

// candidate accumulates fusion state for one chunk.
type candidate struct {
	retrievedHit
	score       float64
	fromVector  bool
	fromKeyword bool
}

// docCandidate is the per-document collapse of chunk candidates. Provenance
// flags are the union across the document's chunks, not just the best one.
type docCandidate struct {
	best        *candidate
	extra       int
	score       float64
	fromVector  bool
	fromKeyword bool
	fromGraph   bool
}

// Query runs one retrieval call: embed once, fan out per mode, fuse with
// RRF, collapse per document, optionally extend one hop over RELATES_TO,
// and return the top_k with provenance.
func (e *Engine) Query(ctx context.Context, req *Request) (*Response, error) {
	if req.TopK == 0 {
		req.TopK = e.defaultTopK
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	started := time.Now()

	ctx, span := tracer.Start(ctx, "Query.Query", trace.WithAttributes(
		attribute.String("query.project", req.Project),
		attribute.String("query.mode", string(req.Mode)),
		attribute.Int("query.top_k", req.TopK),
	))
	defer span.End()
	ctx = logging.WithProject(ctx, req.Project)

	k := 4 * req.TopK

	var vecHits, kwHits []retrievedHit
	if req.Mode.usesVector() {
		qvec, err := e.embedder.EmbedQuery(ctx, req.Q)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
		vecHits, err = e.vectorLeg(ctx, req, qvec, k)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
	}
	if req.Mode.usesKeyword() {
		hits, err := e.rv.KeywordSearch(ctx, req.Project, req.Q, k, relationalFilters(req.Filters))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
		kwHits = fromSearchHits(hits)
	}

	docs := e.fuse(vecHits, kwHits)
	if err := e.enforceDocumentFilters(ctx, req, docs); err != nil {
		return nil, err
	}

	ranked := rankDocs(docs)
	if req.Mode == ModeGraphAugmented {
		var err error
		ranked, err = e.extendWithNeighbors(ctx, req, docs, ranked)
		if err != nil {
			// Graph trouble degrades to plain hybrid rather than failing
			// the query.
			e.log.Warn(ctx, "graph extension failed", zap.Error(err))
		}
	}

	if len(ranked) > req.TopK {
		ranked = ranked[:req.TopK]
	}
	results, err := e.materialize(ctx, req.Project, ranked)
	if err != nil {
		return nil, err
	}

	took := time.Since(started)
	e.metrics.query(ctx, req.Mode, took, len(results))
	e.log.Debug(ctx, "query answered",
		zap.String("mode", string(req.Mode)),
		zap.Int("results", len(results)),
		zap.Duration("took", took))

	return &Response{Results: results, TookMS: took.Milliseconds()}, nil
}

// vectorLeg searches the vector index, falling back to the relational ANN
// index when the VI is unavailable (documents in rv_only state are only
// findable there anyway).
func (e *Engine) vectorLeg(ctx context.Context, req *Request, qvec []float32, k int) ([]retrievedHit, error) {
	hits, err := e.vi.Search(ctx, req.Project, qvec, k, vector.Filter{
		DocTypes: req.Filters.DocTypes,
		Tags:     req.Filters.Tags,
	})
	if err == nil {
		return fromVectorHits(hits), nil
	}
	e.log.Warn(ctx, "vector index search failed, using relational fallback", zap.Error(err))
	rvHits, rvErr := e.rv.VectorSearch(ctx, req.Project, qvec, k, relationalFilters(req.Filters))
	if rvErr != nil {
		return nil, fmt.Errorf("vector search: %w (fallback: %v)", err, rvErr)
	}
	return fromSearchHits(rvHits), nil
}

// fuse merges the two ranked lists with reciprocal rank fusion and
// collapses chunks into documents.
func (e *Engine) fuse(vecHits, kwHits []retrievedHit) map[string]*docCandidate {
	chunks := make(map[string]*candidate)
	merge := func(hits []retrievedHit, markVector bool) {
		for rank, hit := range hits {
			c, ok := chunks[hit.chunkID]
			if !ok {
				c = &candidate{retrievedHit: hit}
				chunks[hit.chunkID] = c
			}
			if c.text == "" && hit.text != "" {
				c.text = hit.text
			}
			if c.sourceURI == "" && hit.sourceURI != "" {
				c.sourceURI = hit.sourceURI
			}
			c.score += 1.0 / float64(e.rrfK+rank+1)
			if markVector {
				c.fromVector = true
			} else {
				c.fromKeyword = true
			}
		}
	}
	merge(vecHits, true)
	merge(kwHits, false)

	docs := make(map[string]*docCandidate)
	for _, c := range chunks {
		dc, ok := docs[c.documentID]
		if !ok {
			dc = &docCandidate{best: c}
			docs[c.documentID] = dc
		} else {
			dc.extra++
			if c.score > dc.best.score || (c.score == dc.best.score && c.chunkID < dc.best.chunkID) {
				dc.best = c
			}
		}
		dc.fromVector = dc.fromVector || c.fromVector
		dc.fromKeyword = dc.fromKeyword || c.fromKeyword
	}
	// Collapsed score: the best chunk's fused score plus a saturating bonus
	// for every additional chunk of the same document that also matched.
	for _, dc := range docs {
		bonus := dc.extra
		if bonus > collapseCap {
			bonus = collapseCap
		}
		dc.score = dc.best.score + collapseBonus*float64(bonus)
	}
	return docs
}

// enforceDocumentFilters drops fused candidates that violate filters the
// vector index cannot evaluate (session, date range). Keyword hits already
// passed them in SQL, but a vector-only hit has not been checked.
func (e *Engine) enforceDocumentFilters(ctx context.Context, req *Request, docs map[string]*docCandidate) error {
	if !req.Filters.needsDocumentCheck() {
		return nil
	}
	for id, dc := range docs {
		if dc.fromKeyword {
			continue
		}
		doc, err := e.rv.GetDocument(ctx, id)
		if err != nil {
			if errors.Is(err, knowledge.ErrNotFound) {
				delete(docs, id)
				continue
			}
			return fmt.Errorf("filter check: %w", err)
		}
		if !req.Filters.matchesDocument(doc) {
			delete(docs, id)
		}
	}
	return nil
}

// rankedDoc pairs a document id with its collapse state for sorting.
type rankedDoc struct {
	documentID string
	dc         *docCandidate
}

// rankDocs orders candidates by (score desc, document_id asc).
func rankDocs(docs map[string]*docCandidate) []rankedDoc {
	ranked := make([]rankedDoc, 0, len(docs))
	for id, dc := range docs {
		ranked = append(ranked, rankedDoc{documentID: id, dc: dc})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].dc.score != ranked[j].dc.score {
			return ranked[i].dc.score > ranked[j].dc.score
		}
		return ranked[i].documentID < ranked[j].documentID
	})
	return ranked
}

// extendWithNeighbors adds one-hop RELATES_TO neighbors of the top fused
// documents as graph-provenance candidates, weighted against their seed's
// score. Neighbors already in the candidate set are left untouched: they
// were retrieved directly and need no graph assist.
func (e *Engine) extendWithNeighbors(ctx context.Context, req *Request, docs map[string]*docCandidate, ranked []rankedDoc) ([]rankedDoc, error) {
	seedCount := req.TopK
	if seedCount > len(ranked) {
		seedCount = len(ranked)
	}
	if seedCount == 0 {
		return ranked, nil
	}
	seedIDs := make([]string, seedCount)
	seedScore := make(map[string]float64, seedCount)
	for i := 0; i < seedCount; i++ {
		seedIDs[i] = ranked[i].documentID
		seedScore[ranked[i].documentID] = ranked[i].dc.score
	}

	neighbors, err := e.gr.NeighborsByRelatesTo(ctx, req.Project, seedIDs, 4*req.TopK)
	if err != nil {
		return ranked, err
	}

	added := false
	for _, n := range neighbors {
		if _, ok := docs[n.DocumentID]; ok {
			continue
		}
		doc, err := e.rv.GetDocument(ctx, n.DocumentID)
		if err != nil {
			if errors.Is(err, knowledge.ErrNotFound) {
				continue
			}
			return ranked, err
		}
		if !neighborMatchesFilters(req.Filters, doc) {
			continue
		}
		docs[n.DocumentID] = &docCandidate{
			best: &candidate{retrievedHit: retrievedHit{
				documentID: doc.ID,
				title:      doc.Title,
				sourceURI:  doc.SourceURI,
				docType:    doc.DocType,
				tags:       doc.Tags,
			}},
			score:     e.graphWeight * seedScore[n.SeedID],
			fromGraph: true,
		}
		added = true
	}
	if !added {
		return ranked, nil
	}
	return rankDocs(docs), nil
}

// neighborMatchesFilters applies the full filter set to a graph neighbor;
// unlike direct hits it has bypassed both stores' filtering.
func neighborMatchesFilters(f Filters, doc *knowledge.Document) bool {
	if len(f.DocTypes) > 0 {
		ok := false
		for _, t := range f.DocTypes {
			if doc.DocType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Tags) > 0 {
		tagSet := make(map[string]struct{}, len(doc.Tags))
		for _, t := range doc.Tags {
			tagSet[t] = struct{}{}
		}
		ok := false
		for _, t := range f.Tags {
			if _, hit := tagSet[t]; hit {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return f.matchesDocument(doc)
}

// materialize renders ranked documents into results, fetching chunk text
// for hits that arrived without it (vector index payloads carry no text;
// graph neighbors carry nothing at all) and the source URI for hits whose
// store did not supply one.
func (e *Engine) materialize(ctx context.Context, project string, ranked []rankedDoc) ([]Result, error) {
	results := make([]Result, 0, len(ranked))
	for _, rd := range ranked {
		best := rd.dc.best
		text := best.text
		chunkID := best.chunkID
		if text == "" {
			chunks, err := e.rv.ListChunks(ctx, rd.documentID)
			if err != nil {
				return nil, fmt.Errorf("load snippet: %w", err)
			}
			if len(chunks) > 0 {
				pick := chunks[0]
				for _, c := range chunks {
					if c.ID == chunkID {
						pick = c
						break
					}
				}
				text = pick.Text
				if chunkID == "" {
					chunkID = pick.ID
				}
			}
		}
		sourceURI := best.sourceURI
		if sourceURI == "" {
			doc, err := e.rv.GetDocument(ctx, rd.documentID)
			if err == nil {
				sourceURI = doc.SourceURI
			} else if !errors.Is(err, knowledge.ErrNotFound) {
				return nil, fmt.Errorf("load source: %w", err)
			}
		}

		var provenance []string
		if rd.dc.fromVector {
			provenance = append(provenance, "vector")
		}
		if rd.dc.fromKeyword {
			provenance = append(provenance, "keyword")
		}
		if rd.dc.fromGraph {
			provenance = append(provenance, "graph")
		}

		results = append(results, Result{
			DocumentID: rd.documentID,
			ChunkID:    chunkID,
			Title:      best.title,
			Snippet:    snippet(text),
			Score:      rd.dc.score,
			Provenance: provenance,
			Source: Source{
				DocType:   best.docType,
				SourceURI: sourceURI,
				Project:   project,
			},
		})
	}
	return results, nil
}

func relationalFilters(f Filters) relational.Filters {
	return relational.Filters{
		DocTypes:  f.DocTypes,
		Tags:      f.Tags,
		SessionID: f.SessionID,
		Since:     f.DateFrom,
		Until:     f.DateTo,
	}
}

func fromSearchHits(hits []relational.SearchHit) []retrievedHit {
	out := make([]retrievedHit, len(hits))
	for i, h := range hits {
		out[i] = retrievedHit{
			chunkID:    h.ChunkID,
			documentID: h.DocumentID,
			ordinal:    h.Ordinal,
			title:      h.Title,
			sourceURI:  h.SourceURI,
			docType:    h.DocType,
			tags:       h.Tags,
			text:       h.Text,
		}
	}
	return out
}

func fromVectorHits(hits []vector.Hit) []retrievedHit {
	out := make([]retrievedHit, len(hits))
	for i, h := range hits {
		out[i] = retrievedHit{
			chunkID:    h.ChunkID,
			documentID: h.DocumentID,
			ordinal:    h.Ordinal,
			title:      h.Title,
			docType:    h.DocType,
			tags:       h.Tags,
		}
	}
	return out
}
