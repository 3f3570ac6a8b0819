// Package retrieval composes web search, content extraction and semantic
// reranking into a citation-addressable context.
package retrieval

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hrygo/calliope/internal/profile"
	"github.com/hrygo/calliope/plugin/ai"
	"github.com/hrygo/calliope/plugin/ai/cache"
	"github.com/hrygo/calliope/plugin/ai/rag"
	"github.com/hrygo/calliope/plugin/scrape"
	"github.com/hrygo/calliope/plugin/search"
	"github.com/hrygo/calliope/server/internal/observability"
)

// Searcher fans a query out to search providers.
type Searcher interface {
	Search(ctx context.Context, query string, k int) []search.Result
}

// ContentExtractor resolves results to page text.
type ContentExtractor interface {
	Extract(ctx context.Context, results []search.Result) []search.Result
}

// Ranker orders documents by relevance to the query.
type Ranker interface {
	Rerank(ctx context.Context, query string, docs []search.Result, k int) ([]rag.RankedDocument, error)
}

// WebRetriever 网络检索器
// 搜索 → 内容提取 → 语义重排序 → 上下文组装
type WebRetriever struct {
	searcher    Searcher
	extractor   ContentExtractor
	ranker      Ranker
	resultCount int
}

// NewWebRetriever 创建网络检索器
// ranker 为 nil 时保留聚合顺序
func NewWebRetriever(searcher Searcher, extractor ContentExtractor, ranker Ranker, resultCount int) *WebRetriever {
	if resultCount <= 0 {
		resultCount = search.DefaultResultCount
	}
	return &WebRetriever{
		searcher:    searcher,
		extractor:   extractor,
		ranker:      ranker,
		resultCount: resultCount,
	}
}

// NewWebRetrieverFromProfile 根据配置组装完整的检索流水线
func NewWebRetrieverFromProfile(p *profile.Profile, embedder ai.EmbeddingService, c cache.CacheService) *WebRetriever {
	providers := search.NewProvidersFromProfile(p, c)
	aggregator := search.NewAggregator(providers, search.WithTimeout(p.SearchTimeout))
	extractor := scrape.NewExtractor(scrape.NewConfigFromProfile(p), &http.Client{})

	var ranker Ranker
	if embedder != nil {
		ranker = rag.NewReranker(embedder)
	}
	return NewWebRetriever(aggregator, extractor, ranker, p.SearchResultCount)
}

// GetContext 检索主入口
// 任何阶段失败都降级为空上下文，从不返回错误
func (r *WebRetriever) GetContext(ctx context.Context, query string, k int) *rag.RetrievalContext {
	start := time.Now()
	logger := observability.LoggerFrom(ctx, observability.StageRetrieval)
	defer func() {
		observability.GlobalMetrics().Record(observability.StageRetrieval, time.Since(start), nil)
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return rag.EmptyContext()
	}
	if k <= 0 {
		k = rag.DefaultTopK
	}

	results := r.searcher.Search(ctx, query, r.resultCount)
	if len(results) == 0 {
		logger.Info("no search results, continuing without external context")
		return rag.EmptyContext()
	}
	if ctx.Err() != nil {
		return rag.EmptyContext()
	}

	docs := r.extractor.Extract(ctx, results)
	if len(docs) == 0 {
		logger.Info("no documents survived extraction",
			observability.LogFieldResultCount, len(results))
		return rag.EmptyContext()
	}

	ranked := r.rank(ctx, logger, query, docs, k)
	rc := rag.Assemble(ranked)

	logger.Info("retrieval complete",
		"search_results", len(results),
		"documents", len(docs),
		"sources", len(rc.Sources),
		observability.LogFieldDuration, time.Since(start).Milliseconds())
	return rc
}

func (r *WebRetriever) rank(ctx context.Context, logger *slog.Logger, query string, docs []search.Result, k int) []rag.RankedDocument {
	if r.ranker == nil {
		return rag.RankInOrder(docs, k)
	}
	ranked, err := r.ranker.Rerank(ctx, query, docs, k)
	if err != nil {
		logger.Warn("rerank failed, keeping aggregation order", "error", err)
		return rag.RankInOrder(docs, k)
	}
	return ranked
}
