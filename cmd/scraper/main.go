package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-policies/config"
	"github.com/aluiziolira/go-scrape-policies/parser"
	"github.com/aluiziolira/go-scrape-policies/pipeline"
	"github.com/aluiziolira/go-scrape-policies/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	modePolicies = "policies"
	modeLogos    = "logos"
	modeURLs     = "urls"
)

var (
	configFile  string
	verbose     bool
	outputDir   string
	metricsAddr string
	workers     int
)

var rootCmd = &cobra.Command{
	Use:           "scraper",
	Short:         "Collect airline pet policies and logos from a paginated listing",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var policiesCmd = &cobra.Command{
	Use:   modePolicies,
	Short: "Extract the pet policy of every airline through the extraction service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, modePolicies)
	},
}

var logosCmd = &cobra.Command{
	Use:   modeLogos,
	Short: "Download the logo of every airline on the listing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, modeLogos)
	},
}

var urlsCmd = &cobra.Command{
	Use:   modeURLs,
	Short: "Discover every airline detail URL and save the list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, modeURLs)
	},
}

func init() {
	bindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(policiesCmd, logosCmd, urlsCmd)
}

func bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&configFile, "config", "", "Path to a YAML config file")
	fs.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	fs.StringVar(&outputDir, "output-dir", "", "Directory for records, run log and assets")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	fs.IntVar(&workers, "workers", 0, "Concurrent extractions per batch (1-3)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, mode string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if mode == modeLogos {
		cfg.RecordsFile = "logos.json"
		cfg.RunLogFile = "scrape_log.json"
		cfg.ItemDelayMin = 0
		cfg.ItemDelayMax = time.Second
		cfg.BatchCooldown = 0
	}
	if mode == modeURLs {
		cfg.RunLogFile = "url_scrape_log.json"
	}

	if configFile != "" {
		if err := cfg.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = outputDir
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if mode == modePolicies {
		if err := cfg.ValidateProvider(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func run(cmd *cobra.Command, mode string) error {
	cfg, err := loadConfig(cmd, mode)
	if err != nil {
		return err
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing current item")
	}()

	metrics := scraper.NewMetrics()
	metricsServer := startMetricsServer(cfg.MetricsAddr, metrics)

	state := scraper.NewRunState()
	backoff := scraper.NewBackoff(cfg, state, metrics)
	store := pipeline.NewJSONStore(cfg.OutputDir, cfg.RecordsFile, cfg.RunLogFile, cfg.AssetsDir)

	r, err := buildRun(cfg, mode, store, state, backoff, metrics)
	if err != nil {
		return err
	}
	summary, err := r.Execute(ctx)
	shutdownMetricsServer(metricsServer)
	if err != nil {
		return err
	}

	if cfg.CSVFile != "" && mode != modeURLs {
		if err := store.ExportCSV(cfg.CSVFile, summary.Records); err != nil {
			return err
		}
	}

	printSummary(summary, store, cfg)
	return nil
}

// buildRun wires the fetcher, parser and, outside url mode, the extractor
// and scheduler for mode.
func buildRun(cfg *config.Config, mode string, store *pipeline.JSONStore, state *scraper.RunState, backoff *scraper.Backoff, metrics *scraper.Metrics) (*pipeline.Run, error) {
	fetcher, err := scraper.NewCollyFetcher(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("initialising fetcher: %w", err)
	}

	kind := parser.TileLinks
	r := &pipeline.Run{
		Mode:       mode,
		ListingURL: cfg.ListingURL,
		Log:        store,
		State:      state,
	}
	switch mode {
	case modeURLs:
		r.URLs = store
		r.URLsFile = cfg.URLsFile
	case modeLogos:
		kind = parser.TileImages
		r.Scheduler = pipeline.NewScheduler(cfg, scraper.NewAssetClient(cfg, backoff, store, metrics), store, backoff)
	default:
		r.Scheduler = pipeline.NewScheduler(cfg, scraper.NewExtractionClient(cfg, backoff, metrics), store, backoff)
	}

	discoverer, err := scraper.NewDiscoverer(cfg, fetcher, parser.NewTileParser(kind), state, metrics)
	if err != nil {
		return nil, fmt.Errorf("initialising discoverer: %w", err)
	}
	r.Discoverer = discoverer
	return r, nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func shutdownMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(summary *pipeline.Summary, store *pipeline.JSONStore, cfg *config.Config) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if summary.Entry.Cancelled {
		fmt.Println("Scrape interrupted")
	} else {
		fmt.Println("Scrape complete")
	}

	total := len(summary.Records)
	fmt.Printf("  Mode:          %s\n", summary.Entry.Mode)
	fmt.Printf("  URLs found:    %d\n", summary.URLs)
	fmt.Printf("  Records:       %d\n", total)
	fmt.Printf("  Failed:        %d\n", summary.Entry.Failed)
	successRate := 0.0
	if total > 0 {
		successRate = float64(total-summary.Entry.Failed) / float64(total) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	if count, ok := summary.Entry.Debug["rate_limit_count"]; ok {
		fmt.Printf("  429s:          %v\n", count)
	}
	fmt.Printf("  Duration:      %.2fs\n", summary.Entry.RuntimeSeconds)
	if summary.Entry.Mode == modeURLs {
		fmt.Printf("  URLs file:     %s\n", store.URLsPath(cfg.URLsFile))
	} else {
		fmt.Printf("  Records file:  %s\n", store.RecordsPath())
	}
	fmt.Printf("  Run log:       %s\n", store.RunLogPath())
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
