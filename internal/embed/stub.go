package embed

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
)

// Stub is a deterministic in-process Provider for tests and offline
// development. Vectors are unit-norm and derived from a hash of the text,
// so equal texts embed equally; geometric similarity is meaningless.
type Stub struct {
	dim int
}

var _ Provider = (*Stub)(nil)

// NewStub returns a Stub producing vectors of the given width.
func NewStub(dim int) *Stub {
	return &Stub{dim: dim}
}

func (s *Stub) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vector(t)
	}
	return out, nil
}

func (s *Stub) Dimension() int { return s.dim }

func (s *Stub) Close() error { return nil }

func (s *Stub) vector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed))

	vec := make([]float32, s.dim)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
