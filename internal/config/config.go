// Package config loads and validates scour configuration from YAML,
// .env files, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every knob the pipeline recognizes. Keys are flat so a
// config file reads the same as the documented option table.
type Config struct {
	// LLM gateway
	LLMAPIKey   string `yaml:"llm_api_key" validate:"required"`
	LLMEndpoint string `yaml:"llm_endpoint"`

	// Model selection. Stage overrides fall back to DefaultModel when empty.
	DefaultModel    string `yaml:"default_model"`
	IntentModel     string `yaml:"intent_model"`
	PlannerModel    string `yaml:"planner_model"`
	ContextModel    string `yaml:"context_model"`
	ReflectionModel string `yaml:"reflection_model"`
	ReportModel     string `yaml:"report_model"`
	VerifyModel     string `yaml:"verify_model"`

	// Summarizer model routing. Content-specific entries fall back to
	// MRSGeneral, then MRSDefault.
	MRSDefault       string `yaml:"mrs_default"`
	MRSCode          string `yaml:"mrs_code"`
	MRSResearch      string `yaml:"mrs_research"`
	MRSNews          string `yaml:"mrs_news"`
	MRSDocumentation string `yaml:"mrs_documentation"`
	MRSGeneral       string `yaml:"mrs_general"`

	// Search
	SearchProvider        string `yaml:"search_provider" validate:"oneof=serp tavily perplexity"`
	SerpAPIKey            string `yaml:"serp_api_key"`
	TavilyAPIKey          string `yaml:"tavily_api_key"`
	PerplexityAPIKey      string `yaml:"perplexity_api_key"`
	ExcludeDomains        string `yaml:"exclude_domains"`
	SearchResultsPerQuery int    `yaml:"search_results_per_query" validate:"min=1"`

	// Ranking ratios, both in (0, 1]
	TopKURL float64 `yaml:"top_k_url" validate:"gt=0,lte=1"`
	TopKSum float64 `yaml:"top_k_sum" validate:"gt=0,lte=1"`

	// Vector store and embeddings
	VectorDBPath      string `yaml:"vector_db_path"`
	EmbeddingModel    string `yaml:"embedding_model"`
	EmbeddingEndpoint string `yaml:"embedding_endpoint"`

	// External reranker
	UseReranker    bool   `yaml:"use_reranker"`
	RerankerURL    string `yaml:"reranker_url"`
	RerankerModel  string `yaml:"reranker_model"`
	RerankerAPIKey string `yaml:"reranker_api_key"`

	// Claim verification
	VerifyClaims    bool    `yaml:"verify_claims"`
	VerifyThreshold float64 `yaml:"verify_threshold" validate:"gte=0,lte=1"`

	// Loop and report bounds
	MaxIterations   int `yaml:"max_iterations" validate:"min=1"`
	ReportMaxTokens int `yaml:"report_max_tokens" validate:"min=1"`

	// Per-stage concurrency
	SearchParallel  int `yaml:"search_parallel" validate:"min=1"`
	ScrapeParallel  int `yaml:"scrape_parallel" validate:"min=1"`
	SummaryParallel int `yaml:"summary_parallel" validate:"min=1"`

	// Scraper behavior
	OutputFormat         string `yaml:"output_format" validate:"oneof=markdown text"`
	PreserveTables       bool   `yaml:"preserve_tables"`
	ScrapeTimeoutSeconds int    `yaml:"scrape_timeout_seconds" validate:"min=1"`
	ScrapeRenderJS       bool   `yaml:"scrape_render_js"`
	JinaReaderURL        string `yaml:"jina_reader_url"`
	JinaAPIKey           string `yaml:"jina_api_key"`

	// Summarizer table handling
	EnableTableAware     bool `yaml:"enable_table_aware"`
	TableTopKRows        int  `yaml:"table_topk_rows" validate:"min=1"`
	TableMaxRowsVerbatim int  `yaml:"table_max_rows_verbatim" validate:"min=1"`
	TableMaxColsVerbatim int  `yaml:"table_max_cols_verbatim" validate:"min=1"`

	// LLM gateway policy
	LLMMaxRetries       int  `yaml:"llm_max_retries" validate:"min=1"`
	PromptPolicyInclude bool `yaml:"prompt_policy_include"`

	// Output
	OutputDir string `yaml:"output_dir"`

	// Content classifier extensions, comma-separated hosts
	ExtraCodeHosts     string `yaml:"extra_code_hosts"`
	ExtraResearchHosts string `yaml:"extra_research_hosts"`
	ExtraNewsHosts     string `yaml:"extra_news_hosts"`
	ExtraDocsHosts     string `yaml:"extra_docs_hosts"`
}

// ValidProviders lists the supported search providers.
var ValidProviders = []string{"serp", "tavily", "perplexity"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLMEndpoint:  "https://api.openai.com/v1",
		DefaultModel: "gpt-4o-mini",

		SearchProvider:        "serp",
		SearchResultsPerQuery: 10,

		TopKURL: 0.3,
		TopKSum: 0.5,

		VectorDBPath:   "research.db",
		EmbeddingModel: "text-embedding-3-small",

		VerifyThreshold: 0.7,

		MaxIterations:   2,
		ReportMaxTokens: 4000,

		SearchParallel:  1,
		ScrapeParallel:  5,
		SummaryParallel: 1,

		OutputFormat:         "markdown",
		PreserveTables:       true,
		ScrapeTimeoutSeconds: 15,
		JinaReaderURL:        "https://r.jina.ai",

		EnableTableAware:     true,
		TableTopKRows:        10,
		TableMaxRowsVerbatim: 15,
		TableMaxColsVerbatim: 8,

		LLMMaxRetries:       3,
		PromptPolicyInclude: true,

		OutputDir: "reports",
	}
}

// Load loads configuration from a YAML file, then applies .env and
// environment overrides. A missing file yields defaults.
func Load(path string) (*Config, error) {
	// Best-effort .env; absence is normal
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.normalize()

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. SCOUR_-prefixed
// names win; conventional provider names are honored as fallbacks.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLMAPIKey = key
	}
	if key := os.Getenv("SCOUR_LLM_API_KEY"); key != "" {
		c.LLMAPIKey = key
	}
	if url := os.Getenv("SCOUR_LLM_ENDPOINT"); url != "" {
		c.LLMEndpoint = url
	}
	if model := os.Getenv("SCOUR_DEFAULT_MODEL"); model != "" {
		c.DefaultModel = model
	}

	if provider := os.Getenv("SCOUR_SEARCH_PROVIDER"); provider != "" {
		c.SearchProvider = provider
	}
	if key := os.Getenv("SERPER_API_KEY"); key != "" {
		c.SerpAPIKey = key
	}
	if key := os.Getenv("SCOUR_SERP_API_KEY"); key != "" {
		c.SerpAPIKey = key
	}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.TavilyAPIKey = key
	}
	if key := os.Getenv("SCOUR_TAVILY_API_KEY"); key != "" {
		c.TavilyAPIKey = key
	}
	if key := os.Getenv("PERPLEXITY_API_KEY"); key != "" {
		c.PerplexityAPIKey = key
	}
	if key := os.Getenv("SCOUR_PERPLEXITY_API_KEY"); key != "" {
		c.PerplexityAPIKey = key
	}
	if key := os.Getenv("JINA_API_KEY"); key != "" {
		c.JinaAPIKey = key
	}
	if key := os.Getenv("SCOUR_JINA_API_KEY"); key != "" {
		c.JinaAPIKey = key
	}
	if key := os.Getenv("SCOUR_RERANKER_API_KEY"); key != "" {
		c.RerankerAPIKey = key
	}

	if path := os.Getenv("SCOUR_VECTOR_DB_PATH"); path != "" {
		c.VectorDBPath = path
	}
	if dir := os.Getenv("SCOUR_OUTPUT_DIR"); dir != "" {
		c.OutputDir = dir
	}
}

// normalize fills derived defaults after file and env resolution.
func (c *Config) normalize() {
	if c.MRSDefault == "" {
		c.MRSDefault = c.DefaultModel
	}
	if c.EmbeddingEndpoint == "" {
		c.EmbeddingEndpoint = c.LLMEndpoint
	}
	for _, m := range []*string{
		&c.IntentModel, &c.PlannerModel, &c.ContextModel,
		&c.ReflectionModel, &c.ReportModel, &c.VerifyModel,
	} {
		if *m == "" {
			*m = c.DefaultModel
		}
	}
}

// Validate checks the configuration, returning the first violation.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", f.StructField(), f.Tag(), f.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.SearchProvider {
	case "serp":
		if c.SerpAPIKey == "" {
			return fmt.Errorf("search_provider=serp requires serp_api_key (or SERPER_API_KEY)")
		}
	case "tavily":
		if c.TavilyAPIKey == "" {
			return fmt.Errorf("search_provider=tavily requires tavily_api_key (or TAVILY_API_KEY)")
		}
	case "perplexity":
		if c.PerplexityAPIKey == "" {
			return fmt.Errorf("search_provider=perplexity requires perplexity_api_key (or PERPLEXITY_API_KEY)")
		}
	}

	if c.UseReranker && c.RerankerURL == "" {
		return fmt.Errorf("use_reranker=true requires reranker_url")
	}

	return nil
}

// Warnings reports accepted-but-suspect settings for the caller to log.
func (c *Config) Warnings() []string {
	var warns []string
	if c.SummaryParallel > 4 {
		warns = append(warns, fmt.Sprintf("summary_parallel=%d multiplies LLM cost linearly; consider <=4", c.SummaryParallel))
	}
	for name, v := range map[string]int{
		"search_parallel":  c.SearchParallel,
		"scrape_parallel":  c.ScrapeParallel,
		"summary_parallel": c.SummaryParallel,
	} {
		if v > 32 {
			warns = append(warns, fmt.Sprintf("%s=%d exceeds the supported range [1,32]", name, v))
		}
	}
	return warns
}

// ScrapeTimeout returns the per-tier scrape timeout as a duration.
func (c *Config) ScrapeTimeout() time.Duration {
	if c.ScrapeTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ScrapeTimeoutSeconds) * time.Second
}

// ExcludedDomains returns the parsed exclude_domains list, lowercased.
func (c *Config) ExcludedDomains() []string {
	return splitHosts(c.ExcludeDomains)
}

// ExtraHosts returns the classifier extension lists keyed by content type.
func (c *Config) ExtraHosts() map[string][]string {
	return map[string][]string{
		"code":          splitHosts(c.ExtraCodeHosts),
		"research":      splitHosts(c.ExtraResearchHosts),
		"news":          splitHosts(c.ExtraNewsHosts),
		"documentation": splitHosts(c.ExtraDocsHosts),
	}
}

// Redacted returns a copy with key material masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	for _, s := range []*string{
		&out.LLMAPIKey, &out.SerpAPIKey, &out.TavilyAPIKey,
		&out.PerplexityAPIKey, &out.RerankerAPIKey, &out.JinaAPIKey,
	} {
		if *s != "" {
			*s = "[redacted]"
		}
	}
	return out
}

func splitHosts(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if host := strings.ToLower(strings.TrimSpace(part)); host != "" {
			out = append(out, host)
		}
	}
	return out
}
