// Package toolindex backs Smart Mode's search_tools with an
// embeddings-based similarity index (spec section 4.6). New component: the
// teacher has no search/index concept; grounded on the pack's
// sashabaranov/go-openai dependency (seen in Jint8888-Pocket-Omega) for the
// embeddings backend, corroborated by the pack's mcpproxy-go
// SemanticSearchConfig (Enabled/HybridMode/MinSimilarity) as prior art for
// a threshold-driven semantic tool search in this same problem space.
package toolindex

import (
	"context"
	"math"
	"sort"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kagenti/mcp-hub/internal/catalog"
	"github.com/kagenti/mcp-hub/internal/settings"
)

// Entry is one search hit (spec section 4.6).
type Entry struct {
	ServerName  string
	ToolName    string
	LocalName   string
	Description string
	InputSchema map[string]any
	Score       float64
}

// Index is the black-box contract spec section 4.6 describes: re-index on
// any effective-description change, search with a caller-supplied
// threshold (Smart Mode owns threshold selection, not the index).
type Index interface {
	// IndexServer replaces the indexed entries for one server.
	IndexServer(ctx context.Context, serverName string, tools []catalog.ToolInfo)
	// Search returns entries scoring at or above threshold, best first,
	// capped at limit. scope, when non-nil, restricts results to tools
	// from the named servers.
	Search(ctx context.Context, query string, limit int, threshold float64, scope map[string]bool) ([]Entry, error)
}

// NewIndex builds the configured Index backend: an embeddings-backed
// index when smart routing is enabled, a no-op otherwise (spec section 6,
// smartRouting.enabled gate).
func NewIndex(cfg settings.SmartRoutingConfig) Index {
	if !cfg.Enabled {
		return noop{}
	}
	return newEmbeddingIndex(cfg)
}

type noop struct{}

func (noop) IndexServer(context.Context, string, []catalog.ToolInfo) {}
func (noop) Search(context.Context, string, int, float64, map[string]bool) ([]Entry, error) {
	return nil, nil
}

// embeddingIndex embeds each tool's effective description with OpenAI's
// embeddings endpoint and ranks queries by cosine similarity in memory.
type embeddingIndex struct {
	client *openai.Client
	model  openai.EmbeddingModel

	mu      sync.RWMutex
	vectors map[string]indexedTool // fully-qualified tool name -> vector + metadata
}

type indexedTool struct {
	entry  Entry
	vector []float32
}

func newEmbeddingIndex(cfg settings.SmartRoutingConfig) *embeddingIndex {
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIAPIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIAPIBaseURL
	}
	model := openai.EmbeddingModel(cfg.OpenAIAPIEmbeddingModel)
	if model == "" {
		model = openai.SmallEmbedding3
	}
	return &embeddingIndex{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		vectors: map[string]indexedTool{},
	}
}

func (idx *embeddingIndex) IndexServer(ctx context.Context, serverName string, tools []catalog.ToolInfo) {
	idx.mu.Lock()
	for name := range idx.vectors {
		if idx.vectors[name].entry.ServerName == serverName {
			delete(idx.vectors, name)
		}
	}
	idx.mu.Unlock()

	if len(tools) == 0 {
		return
	}

	inputs := make([]string, len(tools))
	for i, t := range tools {
		inputs[i] = t.Description
	}

	res, err := idx.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: inputs,
		Model: idx.model,
	})
	if err != nil {
		// Indexing is best-effort: a transient embeddings-API failure
		// leaves the server's tools briefly unsearchable rather than
		// blocking the catalog update that triggered it.
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, t := range tools {
		if i >= len(res.Data) {
			break
		}
		idx.vectors[t.Name] = indexedTool{
			entry: Entry{
				ServerName:  serverName,
				ToolName:    t.Name,
				LocalName:   t.LocalName,
				Description: t.Description,
				InputSchema: t.InputSchema,
			},
			vector: res.Data[i].Embedding,
		}
	}
}

func (idx *embeddingIndex) Search(ctx context.Context, query string, limit int, threshold float64, scope map[string]bool) ([]Entry, error) {
	res, err := idx.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{query},
		Model: idx.model,
	})
	if err != nil || len(res.Data) == 0 {
		return nil, err
	}
	queryVec := res.Data[0].Embedding

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scored := make([]Entry, 0, len(idx.vectors))
	for _, it := range idx.vectors {
		if scope != nil && !scope[it.entry.ServerName] {
			continue
		}
		score := cosineSimilarity(queryVec, it.vector)
		if score < threshold {
			continue
		}
		e := it.entry
		e.Score = score
		scored = append(scored, e)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
