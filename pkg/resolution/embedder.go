package resolution

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Embedder turns texts into vectors for semantic similarity.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HashingEmbedder is a deterministic local embedder built from hashed word
// and character-trigram features. It needs no network and gives stable
// scores, which keeps resolution reproducible when no embedding model is configured.
type HashingEmbedder struct {
	dims int
}

var _ Embedder = (*HashingEmbedder)(nil)

// NewHashingEmbedder creates an embedder with the given dimensionality (default 256).
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims < 16 {
		dims = 256
	}
	return &HashingEmbedder{dims: dims}
}

// Embed implements Embedder.
func (h *HashingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.embedOne(text)
	}
	return out, nil
}

func (h *HashingEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, h.dims)
	add := func(feature string, weight float32) {
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(feature))
		sum := hasher.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%h.dims] += sign * weight
	}

	for _, word := range strings.Fields(NormalizeText(text)) {
		add("w:"+word, 2)
		padded := "^" + word + "$"
		for i := 0; i+3 <= len(padded); i++ {
			add("t:"+padded[i:i+3], 1)
		}
	}
	normalize(vec)
	return vec
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// cosine returns the cosine similarity of a and b clamped to [0, 1].
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, sim))
}

// CachingEmbedder memoizes vectors by text and falls back to a local embedder
// when the primary one fails.
type CachingEmbedder struct {
	primary  Embedder
	fallback Embedder
	vectors  *expirable.LRU[string, []float32]
	logger   *zap.Logger
}

var _ Embedder = (*CachingEmbedder)(nil)

// NewCachingEmbedder wraps primary. When fallback is nil, primary errors are returned.
func NewCachingEmbedder(primary, fallback Embedder, size int, ttl time.Duration, logger *zap.Logger) *CachingEmbedder {
	if size < 1 {
		size = 4096
	}
	return &CachingEmbedder{
		primary:  primary,
		fallback: fallback,
		vectors:  expirable.NewLRU[string, []float32](size, nil, ttl),
		logger:   logger.Named("embedder"),
	}
}

// Embed implements Embedder.
func (c *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := c.vectors.Get(text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.primary.Embed(ctx, missing)
	if err != nil {
		if c.fallback == nil {
			return nil, err
		}
		c.logger.Warn("Primary embedder failed, using local fallback",
			zap.Int("texts", len(missing)),
			zap.Error(err))
		// Fallback vectors live in a different space, so they are not cached
		// and every text in this call is re-embedded with the fallback.
		return c.fallback.Embed(ctx, texts)
	}

	for j, vec := range vectors {
		out[missingIdx[j]] = vec
		c.vectors.Add(missing[j], vec)
	}
	return out, nil
}
