package kb

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/sashabaranov/go-openai"

	"github.com/scan-io-git/triageio/internal/config"
	"github.com/scan-io-git/triageio/pkg/shared/httpclient"
)

// Embedder turns texts into fixed-size vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

const defaultDimensions = 256

// HashingEmbedder is a deterministic, offline embedder based on signed feature hashing of
// unigrams and bigrams. It needs no model and is the default for builds and tests.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder returns a HashingEmbedder with dims dimensions (256 when dims <= 0).
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = defaultDimensions
	}
	return &HashingEmbedder{dims: dims}
}

func (h *HashingEmbedder) Dimensions() int { return h.dims }

func (h *HashingEmbedder) Name() string { return fmt.Sprintf("hashing-%d", h.dims) }

// Embed never fails.
func (h *HashingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embedOne(t)
	}
	return out, nil
}

func (h *HashingEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, h.dims)
	tokens := Tokenize(text)
	add := func(feature string, weight float32) {
		hs := fnv.New32a()
		_, _ = hs.Write([]byte(feature))
		sum := hs.Sum32()
		idx := int(sum % uint32(h.dims))
		if sum&(1<<31) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}
	for i, tok := range tokens {
		add(tok, 1)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}
	normalize(vec)
	return vec
}

// HTTPEmbedder calls an embedding service exposing POST /batch_embed.
type HTTPEmbedder struct {
	baseURL string
	dims    int
	client  *resty.Client
}

type batchEmbedRequest struct {
	Texts []string `json:"texts"`
}

type batchEmbedResponse struct {
	Model   string      `json:"model"`
	Vectors [][]float32 `json:"vectors"`
	Dim     int         `json:"dim"`
}

// NewHTTPEmbedder builds a resty-backed embedder using the shared HTTP client settings.
func NewHTTPEmbedder(logger hclog.Logger, cfg *config.Config) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: strings.TrimRight(cfg.KnowledgeBase.Embedding.URL, "/"),
		dims:    cfg.KnowledgeBase.Embedding.Dimensions,
		client:  httpclient.InitializeRestyClient(logger, cfg),
	}
}

// Dimensions is the configured size, 0 when the service decides.
func (e *HTTPEmbedder) Dimensions() int { return e.dims }

func (e *HTTPEmbedder) Name() string { return "http:" + e.baseURL }

func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp batchEmbedResponse
	r, err := e.client.R().
		SetContext(ctx).
		SetBody(batchEmbedRequest{Texts: texts}).
		SetResult(&resp).
		Post(e.baseURL + "/batch_embed")
	if err != nil {
		return nil, fmt.Errorf("embedding service call failed: %w", err)
	}
	if r.IsError() {
		return nil, fmt.Errorf("embedding service returned status %d", r.StatusCode())
	}
	if len(resp.Vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(resp.Vectors), len(texts))
	}
	want := e.dims
	if want == 0 {
		want = len(resp.Vectors[0])
	}
	for _, v := range resp.Vectors {
		if len(v) != want {
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(v), want)
		}
		normalize(v)
	}
	return resp.Vectors, nil
}

// OpenAIEmbedder uses the embeddings endpoint of an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dims   int
}

// NewOpenAIEmbedder creates an embedder for model against baseURL (empty for the public API).
func NewOpenAIEmbedder(apiKey, baseURL, model string, dims int) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  openai.EmbeddingModel(model),
		dims:   dims,
	}
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

func (e *OpenAIEmbedder) Name() string { return "openai:" + string(e.model) }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{Input: texts, Model: e.model}
	if e.dims > 0 {
		req.Dimensions = e.dims
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings call failed: %w", err)
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings returned out-of-range index %d", d.Index)
		}
		normalize(d.Embedding)
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai embeddings missing vector %d", i)
		}
	}
	return out, nil
}

// NewEmbedder selects the embedder configured under knowledge_base.embedding.
func NewEmbedder(logger hclog.Logger, cfg *config.Config) (Embedder, error) {
	emb := cfg.KnowledgeBase.Embedding
	switch strings.ToLower(emb.Provider) {
	case "", "hashing":
		return NewHashingEmbedder(emb.Dimensions), nil
	case "http":
		return NewHTTPEmbedder(logger, cfg), nil
	case "openai":
		return NewOpenAIEmbedder(cfg.Oracle.APIKey(), cfg.Oracle.BaseURL, emb.Model, emb.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", emb.Provider)
	}
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

// cosine of two vectors; both are expected to be unit length already.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
