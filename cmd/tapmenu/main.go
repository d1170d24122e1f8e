package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-tap-menu/api"
	"github.com/aluiziolira/go-tap-menu/config"
	"github.com/aluiziolira/go-tap-menu/httpclient"
	"github.com/aluiziolira/go-tap-menu/menu"
	"github.com/aluiziolira/go-tap-menu/metrics"
	"github.com/aluiziolira/go-tap-menu/models"
	"github.com/aluiziolira/go-tap-menu/pipeline"
	"github.com/aluiziolira/go-tap-menu/proxy"
	"github.com/aluiziolira/go-tap-menu/scraper"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}

	defaultCfg := config.DefaultConfig()
	lists := config.ListFlags{}

	flag.Var(lists, "list", "Menu list as name=url (repeatable)")
	listFile := flag.String("lists", envString("TAPMENU_LISTS", ""), "YAML file with menu lists")
	defaultList := flag.String("default-list", envString("TAPMENU_DEFAULT_LIST", ""), "List served when no name is given")
	interval := flag.Duration("interval", envDuration("TAPMENU_INTERVAL", defaultCfg.PollInterval), "Delay between poll cycles")
	workers := flag.Int("workers", envInt("TAPMENU_WORKERS", defaultCfg.Workers), "Concurrent item fetches")
	maxAttempts := flag.Int("max-attempts", envInt("TAPMENU_MAX_ATTEMPTS", defaultCfg.MaxAttempts), "Attempts per URL")
	timeout := flag.Duration("timeout", envDuration("TAPMENU_TIMEOUT", defaultCfg.Timeout), "Per-request timeout")
	probeTimeout := flag.Duration("probe-timeout", envDuration("TAPMENU_PROBE_TIMEOUT", defaultCfg.ProbeTimeout), "Per-candidate proxy probe timeout")
	proxyList := flag.String("proxy-list", envString("TAPMENU_PROXY_LIST_URL", defaultCfg.ProxyListURL), "Proxy list source URL")
	proxyTest := flag.String("proxy-test", envString("TAPMENU_PROXY_TEST_URL", defaultCfg.ProxyTestURL), "URL used to probe proxy candidates")
	noProxy := flag.Bool("no-proxy", envBool("TAPMENU_NO_PROXY", false), "Connect directly without proxies")
	cacheTTL := flag.Duration("item-cache-ttl", envDuration("TAPMENU_ITEM_CACHE_TTL", defaultCfg.ItemCacheTTL), "Reuse parsed items for this long (0 disables)")
	metricsAddr := flag.String("metrics-addr", envString("TAPMENU_METRICS_ADDR", defaultCfg.MetricsAddr), "Read API and metrics listen address (empty disables)")
	once := flag.Bool("once", false, "Run a single cycle, export it and exit")
	outputFile := flag.String("output", envString("TAPMENU_OUTPUT", defaultCfg.OutputFile), "Export file for -once")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Export format: csv or json")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.PollInterval = *interval
	cfg.Workers = *workers
	cfg.MaxAttempts = *maxAttempts
	cfg.Timeout = *timeout
	cfg.ProbeTimeout = *probeTimeout
	cfg.ProxyListURL = *proxyList
	cfg.ProxyTestURL = *proxyTest
	cfg.DisableProxy = *noProxy
	cfg.ItemCacheTTL = *cacheTTL
	cfg.MetricsAddr = *metricsAddr
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.Verbose = *verbose

	if err := loadLists(cfg, *listFile, lists, *defaultList); err != nil {
		slog.Error("loading lists", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once); err != nil {
		slog.Error("tapmenu failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// loadLists merges the list file and -list flags into cfg. Flags win on
// name clashes.
func loadLists(cfg *config.Config, path string, flags config.ListFlags, defaultList string) error {
	if path != "" {
		lf, err := config.LoadListFile(path)
		if err != nil {
			return err
		}
		for name, raw := range lf.Lists {
			cfg.Lists[name] = raw
		}
		cfg.DefaultList = lf.Default
	}
	for name, raw := range flags {
		cfg.Lists[name] = raw
	}
	if defaultList != "" {
		cfg.DefaultList = defaultList
	}
	if len(cfg.Lists) == 0 {
		return errors.New("no menu lists configured; use -list name=url or -lists file.yaml")
	}
	if cfg.DefaultList == "" && len(cfg.Lists) == 1 {
		for name := range cfg.Lists {
			cfg.DefaultList = name
		}
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, once bool) error {
	m := metrics.New()

	var (
		route   httpclient.ProxyFunc
		rotator scraper.Rotator
	)
	if !cfg.DisableProxy {
		proxies := proxy.NewPool(cfg, proxy.WithMetrics(m))
		if err := proxies.Rotate(ctx); err != nil {
			slog.Warn("no working proxy yet, requests go direct until a rotation succeeds", slog.Any("error", err))
		}
		route = proxies.ProxyFunc
		rotator = proxies
	}

	client, err := httpclient.New(cfg, route, httpclient.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("initialising http client: %w", err)
	}

	workers := pipeline.NewPool(cfg.Workers)
	workers.Start()
	defer func() {
		if err := workers.Close(); err != nil {
			slog.Error("worker pool shutdown failed", slog.Any("error", err))
		}
		completed, panicked := workers.Stats()
		slog.Debug("worker pool closed", slog.Int64("jobs", completed), slog.Int64("panics", panicked))
	}()

	s, err := scraper.NewScraper(cfg, client, rotator, workers, scraper.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	poller := menu.NewPoller(s, cfg.PollInterval, m)
	if err := poller.SetLists(cfg.Lists); err != nil {
		return err
	}
	if cfg.DefaultList != "" {
		poller.SetDefaultList(cfg.DefaultList)
	}

	slog.Info("starting tapmenu",
		slog.Int("lists", len(cfg.Lists)),
		slog.Int("workers", cfg.Workers),
		slog.Bool("proxy", !cfg.DisableProxy),
	)

	if once {
		result := poller.RunCycle(ctx)
		printSummary(result)
		if err := exportSnapshots(cfg, poller); err != nil {
			return err
		}
		if result.Failed() == len(result.Lists) {
			return errors.New("every list failed to scrape")
		}
		return nil
	}

	var server *http.Server
	if cfg.MetricsAddr != "" {
		server = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           api.NewHandler(poller, m.Registry).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("api server failed", slog.Any("error", err))
			}
		}()
		slog.Info("api server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	poller.Start(ctx)
	<-ctx.Done()
	slog.Info("shutdown signal received, waiting for the current cycle to finish")
	poller.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("api server shutdown failed", slog.Any("error", err))
		}
	}
	return nil
}

func exportSnapshots(cfg *config.Config, poller *menu.Poller) error {
	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	for _, name := range poller.Lists() {
		if err := writer.Write(name, poller.BeersOnList(name)); err != nil {
			writer.Close()
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing writer: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}
	slog.Info("snapshot exported", slog.String("file", cfg.OutputFile))
	return nil
}

func printSummary(result *models.CycleResult) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Menu update complete")
	for _, l := range result.Lists {
		status := "ok"
		if l.Err != nil {
			status = "failed: " + l.Err.Error()
		}
		fmt.Printf("  %-16s beers=%-4d dropped=%-4d took=%-10v %s\n", l.Name, l.Items, l.Dropped, l.Duration.Round(time.Millisecond), status)
	}
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	fmt.Println(separator)
}

func envString(key, fallback string) string {
	if value, ok := config.EnvString(key); ok {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value, ok, err := config.EnvInt(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
		os.Exit(1)
	}
	if !ok {
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value, ok, err := config.EnvDuration(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
		os.Exit(1)
	}
	if !ok {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	value, ok, err := config.EnvBool(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
		os.Exit(1)
	}
	if !ok {
		return fallback
	}
	return value
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
