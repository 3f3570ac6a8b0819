// Package timeout defines centralized timeout constants for the retrieval and consolidation pipeline.
// Package timeout 定义检索与记忆整合流水线的集中式超时常量。
package timeout

import "time"

// Pipeline timeout constants.
// 流水线超时常量。
const (
	// SearchTimeout bounds a single provider search call.
	// SearchTimeout 是单个搜索提供方调用的超时时间。
	SearchTimeout = 10 * time.Second

	// FetchTimeout bounds fetching and extracting one URL.
	// FetchTimeout 是抓取并提取单个 URL 的超时时间。
	FetchTimeout = 10 * time.Second

	// EmbeddingTimeout is the timeout for embedding generation during reranking.
	// EmbeddingTimeout 是重排序时向量生成的超时时间。
	EmbeddingTimeout = 30 * time.Second

	// SummaryTimeout bounds one summary consolidation call, retries included.
	// SummaryTimeout 是一次摘要整合调用（含重试）的超时时间。
	SummaryTimeout = 60 * time.Second

	// CategorizeTimeout bounds one fact categorization call, retries included.
	// CategorizeTimeout 是一次事实分类调用（含重试）的超时时间。
	CategorizeTimeout = 30 * time.Second

	// ResponseTimeout is the timeout for generating an assistant reply.
	// ResponseTimeout 是生成助手回复的超时时间。
	ResponseTimeout = 2 * time.Minute

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	// MaxTruncateLength 是日志中字符串截断的最大长度。
	MaxTruncateLength = 200
)

// Truncate shortens s to MaxTruncateLength runes for logging.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxTruncateLength {
		return s
	}
	return string(runes[:MaxTruncateLength]) + "..."
}
