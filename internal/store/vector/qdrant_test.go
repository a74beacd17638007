package vector

import (
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", status.Error(codes.Unavailable, "connection refused"), true},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "rate limited"), true},
		{"aborted", status.Error(codes.Aborted, "conflict"), true},
		{"deadline exceeded", status.Error(codes.DeadlineExceeded, "timeout"), true},
		{"not found", status.Error(codes.NotFound, "no collection"), false},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad vector"), false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestQdrantConfigDefaults(t *testing.T) {
	cfg := QdrantConfig{Dim: 384}
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.NotZero(t, cfg.Timeout)
	assert.NotZero(t, cfg.RetryBackoff)
	assert.NoError(t, cfg.Validate())

	bad := QdrantConfig{}
	bad.ApplyDefaults()
	assert.Error(t, bad.Validate())
}

func TestScoredPointToHit(t *testing.T) {
	point := &qdrant.ScoredPoint{
		Id:    qdrant.NewIDUUID("11111111-1111-4111-8111-111111111111"),
		Score: 0.87,
		Payload: map[string]*qdrant.Value{
			"document_id": {Kind: &qdrant.Value_StringValue{StringValue: "doc-a"}},
			"ordinal":     {Kind: &qdrant.Value_IntegerValue{IntegerValue: 2}},
			"title":       {Kind: &qdrant.Value_StringValue{StringValue: "Notes"}},
			"doc_type":    {Kind: &qdrant.Value_StringValue{StringValue: "file"}},
			"tags": {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{
				Values: []*qdrant.Value{
					{Kind: &qdrant.Value_StringValue{StringValue: "go"}},
					{Kind: &qdrant.Value_StringValue{StringValue: "notes"}},
				},
			}}},
		},
	}

	h := scoredPointToHit(point)
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", h.ChunkID)
	assert.Equal(t, "doc-a", h.DocumentID)
	assert.Equal(t, 2, h.Ordinal)
	assert.Equal(t, "Notes", h.Title)
	assert.Equal(t, knowledge.DocTypeFile, h.DocType)
	assert.Equal(t, []string{"go", "notes"}, h.Tags)
	assert.InDelta(t, 0.87, h.Score, 1e-6)
}

func TestKeywordsCondition(t *testing.T) {
	single := keywordsCondition("doc_type", []string{"file"})
	field := single.GetField()
	assert.Equal(t, "doc_type", field.GetKey())
	assert.Equal(t, "file", field.GetMatch().GetKeyword())

	multi := keywordsCondition("tags", []string{"go", "notes"})
	field = multi.GetField()
	assert.Equal(t, "tags", field.GetKey())
	assert.Equal(t, []string{"go", "notes"}, field.GetMatch().GetKeywords().GetStrings())
}
