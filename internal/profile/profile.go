package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where calliope stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// AI Configuration
	AIEmbeddingProvider  string // CALLIOPE_AI_EMBEDDING_PROVIDER (default: siliconflow)
	AILLMProvider        string // CALLIOPE_AI_LLM_PROVIDER (default: deepseek)
	AISiliconFlowAPIKey  string // CALLIOPE_AI_SILICONFLOW_API_KEY
	AISiliconFlowBaseURL string // CALLIOPE_AI_SILICONFLOW_BASE_URL (default: https://api.siliconflow.cn/v1)
	AIDeepSeekAPIKey     string // CALLIOPE_AI_DEEPSEEK_API_KEY
	AIDeepSeekBaseURL    string // CALLIOPE_AI_DEEPSEEK_BASE_URL (default: https://api.deepseek.com)
	AIOpenAIAPIKey       string // CALLIOPE_AI_OPENAI_API_KEY
	AIOpenAIBaseURL      string // CALLIOPE_AI_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	AIAnthropicAPIKey    string // CALLIOPE_AI_ANTHROPIC_API_KEY
	AIGeminiAPIKey       string // CALLIOPE_AI_GEMINI_API_KEY
	AIOllamaBaseURL      string // CALLIOPE_AI_OLLAMA_BASE_URL (default: http://localhost:11434/api)
	AIEmbeddingModel     string // CALLIOPE_AI_EMBEDDING_MODEL (default: BAAI/bge-m3)
	AILLMModel           string // CALLIOPE_AI_LLM_MODEL (default: deepseek-chat)

	// Search Configuration
	SearchProviders   []string      // CALLIOPE_SEARCH_PROVIDERS (default: tavily,bing,google,duckduckgo)
	TavilyAPIKey      string        // CALLIOPE_SEARCH_TAVILY_API_KEY
	BingAPIKey        string        // CALLIOPE_SEARCH_BING_API_KEY
	GoogleAPIKey      string        // CALLIOPE_SEARCH_GOOGLE_API_KEY
	GoogleCSEID       string        // CALLIOPE_SEARCH_GOOGLE_CSE_ID
	SearchResultCount int           // CALLIOPE_SEARCH_RESULT_COUNT (default: 5)
	SearchTimeout     time.Duration // CALLIOPE_SEARCH_TIMEOUT (default: 10s)
	SearchCacheTTL    time.Duration // CALLIOPE_SEARCH_CACHE_TTL (default: 1h, 0 disables)

	// Scraping Configuration
	FetchTimeout     time.Duration // CALLIOPE_SCRAPE_FETCH_TIMEOUT (default: 10s)
	PoliteDelayMin   time.Duration // CALLIOPE_SCRAPE_DELAY_MIN (default: 500ms)
	PoliteDelayMax   time.Duration // CALLIOPE_SCRAPE_DELAY_MAX (default: 1500ms)
	ScrapeWorkers    int           // CALLIOPE_SCRAPE_WORKERS (default: 4)
	MinContentLength int           // CALLIOPE_SCRAPE_MIN_CONTENT_LENGTH (default: 300)

	RerankTopK int // CALLIOPE_RERANK_TOP_K (default: 3)

	ConsolidationWorkers int // CALLIOPE_CONSOLIDATION_WORKERS (default: 2)

	// Retry policy for LLM calls
	RetryMaxAttempts    int           // CALLIOPE_RETRY_MAX_ATTEMPTS (default: 3)
	RetryInitialBackoff time.Duration // CALLIOPE_RETRY_INITIAL_BACKOFF (default: 1s)
	RetryMaxBackoff     time.Duration // CALLIOPE_RETRY_MAX_BACKOFF (default: 8s)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if the configured LLM provider has credentials.
func (p *Profile) IsAIEnabled() bool {
	switch p.AILLMProvider {
	case "openai":
		return p.AIOpenAIAPIKey != ""
	case "deepseek":
		return p.AIDeepSeekAPIKey != ""
	case "siliconflow":
		return p.AISiliconFlowAPIKey != ""
	case "anthropic":
		return p.AIAnthropicAPIKey != ""
	case "gemini":
		return p.AIGeminiAPIKey != ""
	}
	return false
}

// FromEnv loads configuration from CALLIOPE_* environment variables.
// Empty values are skipped so defaults take effect.
func (p *Profile) FromEnv() {
	getEnvWithDefault := func(key, defaultValue string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return defaultValue
	}
	getIntEnv := func(key string, defaultValue int) int {
		if val, err := strconv.Atoi(os.Getenv(key)); err == nil && val > 0 {
			return val
		}
		return defaultValue
	}
	getDurationEnv := func(key string, defaultValue time.Duration) time.Duration {
		val := os.Getenv(key)
		if val == "" {
			return defaultValue
		}
		d, err := time.ParseDuration(val)
		if err != nil || d < 0 {
			slog.Warn("invalid duration, using default", slog.String("key", key), slog.String("value", val))
			return defaultValue
		}
		return d
	}

	p.AIEmbeddingProvider = getEnvWithDefault("CALLIOPE_AI_EMBEDDING_PROVIDER", "siliconflow")
	p.AILLMProvider = getEnvWithDefault("CALLIOPE_AI_LLM_PROVIDER", "deepseek")
	p.AISiliconFlowAPIKey = os.Getenv("CALLIOPE_AI_SILICONFLOW_API_KEY")
	p.AISiliconFlowBaseURL = getEnvWithDefault("CALLIOPE_AI_SILICONFLOW_BASE_URL", "https://api.siliconflow.cn/v1")
	p.AIDeepSeekAPIKey = os.Getenv("CALLIOPE_AI_DEEPSEEK_API_KEY")
	p.AIDeepSeekBaseURL = getEnvWithDefault("CALLIOPE_AI_DEEPSEEK_BASE_URL", "https://api.deepseek.com")
	p.AIOpenAIAPIKey = os.Getenv("CALLIOPE_AI_OPENAI_API_KEY")
	p.AIOpenAIBaseURL = getEnvWithDefault("CALLIOPE_AI_OPENAI_BASE_URL", "https://api.openai.com/v1")
	p.AIAnthropicAPIKey = os.Getenv("CALLIOPE_AI_ANTHROPIC_API_KEY")
	p.AIGeminiAPIKey = os.Getenv("CALLIOPE_AI_GEMINI_API_KEY")
	p.AIOllamaBaseURL = getEnvWithDefault("CALLIOPE_AI_OLLAMA_BASE_URL", "http://localhost:11434/api")
	p.AIEmbeddingModel = getEnvWithDefault("CALLIOPE_AI_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.AILLMModel = getEnvWithDefault("CALLIOPE_AI_LLM_MODEL", "deepseek-chat")

	p.SearchProviders = splitList(getEnvWithDefault("CALLIOPE_SEARCH_PROVIDERS", "tavily,bing,google,duckduckgo"))
	p.TavilyAPIKey = os.Getenv("CALLIOPE_SEARCH_TAVILY_API_KEY")
	p.BingAPIKey = os.Getenv("CALLIOPE_SEARCH_BING_API_KEY")
	p.GoogleAPIKey = os.Getenv("CALLIOPE_SEARCH_GOOGLE_API_KEY")
	p.GoogleCSEID = os.Getenv("CALLIOPE_SEARCH_GOOGLE_CSE_ID")
	p.SearchResultCount = getIntEnv("CALLIOPE_SEARCH_RESULT_COUNT", 5)
	p.SearchTimeout = getDurationEnv("CALLIOPE_SEARCH_TIMEOUT", 10*time.Second)
	p.SearchCacheTTL = getDurationEnv("CALLIOPE_SEARCH_CACHE_TTL", time.Hour)

	p.FetchTimeout = getDurationEnv("CALLIOPE_SCRAPE_FETCH_TIMEOUT", 10*time.Second)
	p.PoliteDelayMin = getDurationEnv("CALLIOPE_SCRAPE_DELAY_MIN", 500*time.Millisecond)
	p.PoliteDelayMax = getDurationEnv("CALLIOPE_SCRAPE_DELAY_MAX", 1500*time.Millisecond)
	p.ScrapeWorkers = getIntEnv("CALLIOPE_SCRAPE_WORKERS", 4)
	p.MinContentLength = getIntEnv("CALLIOPE_SCRAPE_MIN_CONTENT_LENGTH", 300)

	p.RerankTopK = getIntEnv("CALLIOPE_RERANK_TOP_K", 3)
	p.ConsolidationWorkers = getIntEnv("CALLIOPE_CONSOLIDATION_WORKERS", 2)

	p.RetryMaxAttempts = getIntEnv("CALLIOPE_RETRY_MAX_ATTEMPTS", 3)
	p.RetryInitialBackoff = getDurationEnv("CALLIOPE_RETRY_INITIAL_BACKOFF", time.Second)
	p.RetryMaxBackoff = getDurationEnv("CALLIOPE_RETRY_MAX_BACKOFF", 8*time.Second)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	if p.PoliteDelayMax < p.PoliteDelayMin {
		return errors.Errorf("scrape delay max %s is below min %s", p.PoliteDelayMax, p.PoliteDelayMin)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "calliope")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/calliope"
		}
	}

	if p.Driver == "postgres" {
		if p.DSN == "" {
			return errors.New("dsn is required for postgres")
		}
		return nil
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.DSN == "" {
		dbFile := fmt.Sprintf("calliope_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}
