// Command scour researches a query on the live web and writes a cited
// Markdown report.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"scour/cmd/scour/ui"
	"scour/internal/assemble"
	"scour/internal/classify"
	"scour/internal/config"
	"scour/internal/embedding"
	"scour/internal/llm"
	"scour/internal/logging"
	"scour/internal/pipeline"
	"scour/internal/plan"
	"scour/internal/rerank"
	"scour/internal/scrape"
	"scour/internal/search"
	"scour/internal/store"
	"scour/internal/summarize"
	"scour/internal/verify"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

var (
	configPath string
	outputDir  string
	logLevel   string
	showPlan   bool
	noUI       bool
	configInit bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "scour [query]",
	Short: "Research a query on the live web and write a cited report",
	Long: `scour runs a multi-stage research pipeline: it classifies the query,
plans web searches, scrapes and summarizes the best sources, loops until
coverage looks complete, and writes a Markdown report in which every
factual claim cites the source it came from.

Exit codes: 0 success, 2 invalid configuration, 3 no search results,
4 LLM or embedding service unavailable, 5 unexpected failure.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logLevel)
		if err != nil {
			return &exitError{code: pipeline.ExitConfigInvalid, err: err}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runResearch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scour %s (%s)\n", version, commit)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with key material redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configInit {
			return writeStarterConfig()
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		redacted := cfg.Redacted()
		data, err := yaml.Marshal(&redacted)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

// writeStarterConfig writes the default configuration to the config path
// so a new user has a file to fill in. It refuses to overwrite.
func writeStarterConfig() error {
	if _, err := os.Stat(configPath); err == nil {
		return &exitError{code: pipeline.ExitConfigInvalid, err: fmt.Errorf("config file %s already exists", configPath)}
	}
	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		return &exitError{code: pipeline.ExitConfigInvalid, err: err}
	}
	fmt.Printf("Wrote starter config to %s\n", configPath)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARNING, ERROR)")
	rootCmd.Flags().StringVar(&outputDir, "output", "", "Directory for report files (overrides output_dir)")
	rootCmd.Flags().BoolVar(&showPlan, "show-plan", false, "Render the research plan before the loop starts (disables the progress UI)")
	rootCmd.Flags().BoolVar(&noUI, "no-ui", false, "Disable the progress UI and rely on logs")
	configCmd.Flags().BoolVar(&configInit, "init", false, "Write a starter config file and exit")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitError pins a specific process exit code to an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return pipeline.ExitCode(err)
}

func runResearch(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return &exitError{code: pipeline.ExitConfigInvalid, err: errors.New("query must not be empty")}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: pipeline.ExitConfigInvalid, err: err}
	}

	// Every log line of this run carries the same short id.
	runLogger := logger.With(zap.String("run_id", uuid.New().String()[:8]))
	for _, w := range cfg.Warnings() {
		runLogger.Warn(w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		runLogger.Info("shutdown signal received")
		cancel()
	}()

	components, cleanup, err := buildComponents(ctx, cfg, runLogger)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := pipeline.Options{
		MaxIterations:   cfg.MaxIterations,
		ResultsPerQuery: cfg.SearchResultsPerQuery,
		TopKURL:         cfg.TopKURL,
		SearchParallel:  cfg.SearchParallel,
		ReportModel:     cfg.ReportModel,
		ReportMaxTokens: cfg.ReportMaxTokens,
		OutputDir:       cfg.OutputDir,
		VerifyClaims:    cfg.VerifyClaims,
	}
	if showPlan {
		opts.PlanPreview = func(rp *plan.ResearchPlan) {
			fmt.Println(renderPlan(rp))
		}
	}

	useUI := !noUI && !showPlan && isatty.IsTerminal(os.Stdout.Fd())

	var events chan pipeline.Event
	if useUI {
		events = make(chan pipeline.Event, 64)
		// Never block the pipeline on a slow terminal.
		opts.Progress = func(ev pipeline.Event) {
			select {
			case events <- ev:
			default:
			}
		}
	}

	orch := pipeline.New(components, opts, runLogger)

	type runResult struct {
		outcome *pipeline.Outcome
		err     error
	}
	resultCh := make(chan runResult, 1)
	go func() {
		outcome, err := orch.Run(ctx, query)
		if events != nil {
			close(events)
		}
		resultCh <- runResult{outcome, err}
	}()

	if useUI {
		if _, err := tea.NewProgram(ui.New(events, cancel)).Run(); err != nil {
			runLogger.Warn("progress ui failed, falling back to logs", zap.Error(err))
			for range events {
			}
		}
	}

	res := <-resultCh
	if res.err != nil {
		return res.err
	}

	fmt.Printf("\nReport saved to %s\n", res.outcome.ReportPath)
	if v := res.outcome.Report.Verification; v != nil {
		fmt.Printf("Verified %d claims, %d flagged\n", v.TotalClaims, len(v.Flagged))
	}
	return nil
}

// buildComponents wires every pipeline stage from configuration. The
// returned cleanup closes the scraper and the vector store.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (pipeline.Components, func(), error) {
	var c pipeline.Components

	client := llm.NewClient(cfg.LLMAPIKey, cfg.LLMEndpoint)
	gateway := llm.NewGateway(client, cfg.LLMMaxRetries, cfg.PromptPolicyInclude, logger)
	if anyGeminiModel(cfg) {
		gem, err := llm.NewGeminiCompleter(ctx, cfg.LLMAPIKey)
		if err != nil {
			return c, nil, &exitError{code: pipeline.ExitConfigInvalid, err: err}
		}
		gateway.WithGemini(gem)
	}

	provider, err := search.NewProvider(cfg.SearchProvider, searchKey(cfg))
	if err != nil {
		return c, nil, &exitError{code: pipeline.ExitConfigInvalid, err: err}
	}

	engine, err := embedding.NewEngine(ctx, cfg.LLMAPIKey, cfg.EmbeddingEndpoint, cfg.EmbeddingModel)
	if err != nil {
		return c, nil, &exitError{code: pipeline.ExitConfigInvalid, err: err}
	}
	logger.Debug("embedding engine ready", zap.String("engine", engine.Name()))

	scraper := scrape.NewScraper(scrape.Options{
		JinaURL:        cfg.JinaReaderURL,
		JinaAPIKey:     cfg.JinaAPIKey,
		SerperAPIKey:   cfg.SerpAPIKey,
		Timeout:        cfg.ScrapeTimeout(),
		Parallel:       cfg.ScrapeParallel,
		PreserveTables: cfg.PreserveTables,
		PlainText:      cfg.OutputFormat == "text",
		RenderJS:       cfg.ScrapeRenderJS,
	}, logger)

	st := store.Open(cfg.VectorDBPath, logger)
	if st.InMemory() {
		logger.Info("vector store running in memory, summaries will not persist")
	}

	ranker := rerank.New(cfg.UseReranker, cfg.RerankerURL, cfg.RerankerAPIKey, cfg.RerankerModel)

	c = pipeline.Components{
		Classifier:  plan.NewIntentClassifier(gateway, cfg.IntentModel, logger),
		Planner:     plan.NewPlanner(gateway, cfg.PlannerModel, logger),
		Reflector:   plan.NewReflector(gateway, cfg.ReflectionModel, logger),
		Searcher:    search.NewSearcher(provider, cfg.ExcludedDomains(), logger),
		URLReranker: ranker,
		Scraper:     scraper,
		Summarizer: summarize.New(gateway, classify.New(cfg.ExtraHosts()), summarize.Options{
			Models: summarize.Models{
				Default:       cfg.MRSDefault,
				General:       cfg.MRSGeneral,
				Code:          cfg.MRSCode,
				Research:      cfg.MRSResearch,
				News:          cfg.MRSNews,
				Documentation: cfg.MRSDocumentation,
			},
			Tables: summarize.TableOptions{
				Enabled:         cfg.EnableTableAware,
				MaxRowsVerbatim: cfg.TableMaxRowsVerbatim,
				MaxColsVerbatim: cfg.TableMaxColsVerbatim,
				TopKRows:        cfg.TableTopKRows,
			},
			Parallel: cfg.SummaryParallel,
		}, logger),
		Assembler: assemble.New(engine, st, ranker, cfg.TopKSum, logger),
		Gateway:   gateway,
	}
	if cfg.VerifyClaims {
		c.Extractor = verify.NewExtractor(gateway, cfg.VerifyModel, logger)
		c.Verifier = verify.NewVerifier(gateway, scraper, cfg.VerifyModel, cfg.VerifyThreshold, logger)
	}

	cleanup := func() {
		scraper.Close()
		if err := st.Close(); err != nil {
			logger.Warn("failed to close vector store", zap.Error(err))
		}
	}
	return c, cleanup, nil
}

// loadConfig loads the effective configuration. The default config path
// may be absent, but a path named explicitly via --config must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cmd.Flags().Changed("config") {
		if _, err := os.Stat(configPath); err != nil {
			return nil, &exitError{code: pipeline.ExitConfigInvalid, err: fmt.Errorf("config file %s: %w", configPath, err)}
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &exitError{code: pipeline.ExitConfigInvalid, err: err}
	}
	return cfg, nil
}

func searchKey(cfg *config.Config) string {
	switch cfg.SearchProvider {
	case "tavily":
		return cfg.TavilyAPIKey
	case "perplexity":
		return cfg.PerplexityAPIKey
	default:
		return cfg.SerpAPIKey
	}
}

// anyGeminiModel reports whether any configured stage model routes
// through the Gemini transport.
func anyGeminiModel(cfg *config.Config) bool {
	for _, m := range []string{
		cfg.DefaultModel, cfg.IntentModel, cfg.PlannerModel,
		cfg.ContextModel, cfg.ReflectionModel, cfg.ReportModel,
		cfg.VerifyModel, cfg.MRSDefault, cfg.MRSCode, cfg.MRSResearch,
		cfg.MRSNews, cfg.MRSDocumentation, cfg.MRSGeneral,
	} {
		if strings.HasPrefix(strings.ToLower(m), "gemini") {
			return true
		}
	}
	return false
}

// renderPlan lays the plan out as Markdown and renders it through
// glamour, falling back to the raw Markdown when rendering fails.
func renderPlan(rp *plan.ResearchPlan) string {
	var b strings.Builder
	b.WriteString("# Research Plan\n\n")
	fmt.Fprintf(&b, "**Intent:** %s\n\n", rp.Query.Intent)
	b.WriteString("## Report Sections\n\n")
	for _, s := range rp.Sections {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	b.WriteString("\n## Search Queries\n\n")
	for i, q := range rp.SearchQueries {
		fmt.Fprintf(&b, "%d. %s (priority %d)\n", i+1, q.Text, q.Priority)
		if q.Purpose != "" {
			fmt.Fprintf(&b, "   %s\n", q.Purpose)
		}
	}
	if rp.Rationale != "" {
		fmt.Fprintf(&b, "\n**Rationale:** %s\n", rp.Rationale)
	}

	out, err := glamour.Render(b.String(), "auto")
	if err != nil {
		return b.String()
	}
	return out
}
