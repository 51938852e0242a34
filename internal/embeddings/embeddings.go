// Package embeddings wraps a pretrained embedding model behind a narrow
// batch-encode contract so the backend can be swapped without touching
// the transports that serve it.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Vector is a simple float32 slice wrapper.
type Vector []float32

var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider defines the embedding interface.
//
// Encode returns one vector per input text in input order. Every vector has
// the model's fixed dimension. An empty input yields an empty result without
// touching the model.
type Provider interface {
	Model() string
	Encode(ctx context.Context, texts []string, normalize bool) ([]Vector, error)
	Close() error
}

// Norm returns the Euclidean length of v.
func Norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales v in place to unit L2 norm and returns it.
// Zero vectors are returned unchanged.
func Normalize(v Vector) Vector {
	n := Norm(v)
	if n == 0 {
		return v
	}
	for i, x := range v {
		v[i] = float32(float64(x) / n)
	}
	return v
}

// CosineSimilarity returns the cosine of the angle between a and b,
// or 0 when the lengths differ or either vector is empty or zero.
func CosineSimilarity(a, b Vector) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (na * nb))
}

// finalize checks raw backend output against the batch contract and
// applies normalization.
func finalize(raw [][]float32, want int, normalize bool) ([]Vector, error) {
	if len(raw) != want {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(raw), want)
	}
	out := make([]Vector, len(raw))
	dim := -1
	for i, r := range raw {
		if len(r) == 0 {
			return nil, fmt.Errorf("%w: empty vector at index %d", ErrEmbeddingFailed, i)
		}
		if dim == -1 {
			dim = len(r)
		} else if len(r) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbeddingFailed, i, len(r), dim)
		}
		for _, x := range r {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return nil, fmt.Errorf("%w: non-finite component in vector %d", ErrEmbeddingFailed, i)
			}
		}
		v := Vector(r)
		if normalize {
			v = Normalize(v)
		}
		out[i] = v
	}
	return out, nil
}

const probeText = "hello"

// Probe encodes a single text to verify the provider works and returns
// the model dimension.
func Probe(ctx context.Context, p Provider) (int, error) {
	vecs, err := p.Encode(ctx, []string{probeText}, true)
	if err != nil {
		return 0, fmt.Errorf("probe encode: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("%w: probe returned no vector", ErrEmbeddingFailed)
	}
	dim := len(vecs[0])
	if want, ok := KnownDimension(p.Model()); ok && want != dim {
		return 0, fmt.Errorf("%w: model %s produced dimension %d, expected %d", ErrEmbeddingFailed, p.Model(), dim, want)
	}
	return dim, nil
}
