// Package main is the promptforge CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/internal/cli"
	"github.com/hyperjump/promptforge/internal/config"
	"github.com/hyperjump/promptforge/internal/cursor"
	"github.com/hyperjump/promptforge/internal/export"
	"github.com/hyperjump/promptforge/internal/fetcher"
	"github.com/hyperjump/promptforge/internal/job"
	"github.com/hyperjump/promptforge/internal/rag"
	"github.com/hyperjump/promptforge/internal/refine"
	"github.com/hyperjump/promptforge/internal/server"
	"github.com/hyperjump/promptforge/internal/storage"
	"github.com/hyperjump/promptforge/internal/watcher"
	"github.com/hyperjump/promptforge/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "~/.promptforge/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if present, and a missing default file yields the
// built-in defaults. Returns the config and the path that was loaded ("" when
// defaults were used).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(local); err == nil {
				cfg, err := config.Load(local)
				return cfg, local, err
			}
		}
	}
	resolved := expandHome(path)
	cfg, err := config.Load(resolved)
	if err != nil {
		if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
			return config.Default(filepath.Dir(resolved)), "", nil
		}
		return nil, "", err
	}
	return cfg, resolved, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// setup loads and validates config and builds the logger. It exits on failure.
func setup(configPath string, debug bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "fetch":
		runFetch()
	case "cursor":
		runCursor()
	case "similar":
		runSimilar()
	case "refine":
		runRefine()
	case "sweep":
		runSweep()
	case "status":
		runStatus()
	case "export":
		runExport()
	case "init":
		runInit()
	case "models":
		runModels()
	case "version", "--version", "-v":
		fmt.Printf("promptforge version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolved, logger := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded", zap.String("config_path", resolved))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger, componentOptions{history: true})
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if resolved != "" {
		w := watcher.NewWatcher(resolved, func(path string) {
			reloadCategories(path, components.Categories, logger)
		}, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Warn("config watcher not started", zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	srv := server.NewServer(components.Deps(), cfg, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = srv.Stop(stopCtx)
}

// reloadCategories re-reads the config file and swaps in its allow-list. A
// broken file keeps the current list.
func reloadCategories(path string, categories *config.Categories, logger *zap.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		logger.Warn("config reload failed", zap.String("path", path), zap.Error(err))
		return
	}
	categories.Set(cfg.Ingest.Categories)
	logger.Info("categories reloaded", zap.Strings("categories", categories.Snapshot()))
}

func runFetch() {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	mode := fs.String("mode", "continue", "new (start from the first page) or continue (resume from the saved cursor)")
	target := fs.Int("target", 0, "number of items to fetch (default from config)")
	capTarget := fs.Bool("cap", false, "drop items fetched past the target")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := mustFormat(*outputFormat)
	m, err := fetcher.ParseMode(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, _, logger := setup(*configPath, *debug)
	defer logger.Sync()
	if *target == 0 {
		*target = cfg.Ingest.TargetCount
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := func(p fetcher.Progress) {
		fmt.Fprintf(os.Stderr, "page %d: %d/%d fetched\n", p.Page, p.Fetched, p.Target)
	}
	components, err := initializeComponents(ctx, cfg, logger, componentOptions{progress: progress})
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	rep, err := components.Runner.Run(ctx, job.Request{Mode: m, TargetCount: *target, CapToTarget: *capTarget})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fetch failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteReport(os.Stdout, rep, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if rep.State == fetcher.StateError {
		os.Exit(2)
	}
}

func runCursor() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: promptforge cursor <show|clear> [flags]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("cursor", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[3:])

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	db, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	store := cursor.NewStore(db, cursor.WithLogger(logger))

	ctx := context.Background()
	switch sub {
	case "show":
		if c := store.Load(ctx); c != "" {
			fmt.Println(c)
		} else {
			fmt.Println("(none)")
		}
	case "clear":
		if err := store.Clear(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Clear failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Cursor cleared; the next continue run starts from the first page.")
	default:
		fmt.Printf("Unknown cursor subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// buildQuery joins positional args so multi-word prompts work with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that follow the positional prompt to the front so
// flag.Parse sees them.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSimilar() {
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	category := fs.String("category", "", "category to search within (required, exact match)")
	limit := fs.Int("limit", 0, "number of results (default from config)")
	showContext := fs.Bool("context", false, "print the formatted context block instead of the results")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: promptforge similar --category <name> [flags] <prompt>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" || strings.TrimSpace(*category) == "" {
		fs.Usage()
		os.Exit(1)
	}
	format := mustFormat(*outputFormat)

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, componentOptions{})
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	k := *limit
	if k <= 0 {
		k = cfg.RAG.TopK
	}
	examples, err := components.Retrieval.Similar(ctx, query, *category, k)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if *showContext {
		fmt.Println(rag.Format(examples, cfg.RAG.MaxContextChars))
		return
	}
	suggestion := ""
	if len(examples) == 0 {
		suggestion = components.Categories.Suggest(*category)
	}
	if err := cli.WriteExamples(os.Stdout, examples, suggestion, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRefine() {
	fs := flag.NewFlagSet("refine", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	category := fs.String("category", "", "category to draw examples from (required)")
	sessionID := fs.String("session", "", "continue an existing session")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: promptforge refine --category <name> [flags] <prompt>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))

	prompt := buildQuery(fs.Args())
	if prompt == "" || strings.TrimSpace(*category) == "" {
		fs.Usage()
		os.Exit(1)
	}
	format := mustFormat(*outputFormat)

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger, componentOptions{history: true})
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	res, err := components.Refiner.Refine(ctx, refine.Request{SessionID: *sessionID, Prompt: prompt, Category: *category})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Refine failed: %v\n", err)
		os.Exit(1)
	}
	if format == cli.OutputJSON {
		_ = cli.WriteJSON(os.Stdout, res)
		return
	}
	fmt.Printf("session: %s (%d example(s) used)\n\n%s\n", res.SessionID, len(res.Examples), res.Reply)
}

func runSweep() {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, componentOptions{})
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	n, err := components.Pipeline.Sweep(ctx, components.Categories.Snapshot())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %d record(s) outside the allow-list\n", n)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := mustFormat(*outputFormat)

	var status map[string]any
	if *serverURL != "" {
		s, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = s
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		ctx := context.Background()
		components, err := initializeComponents(ctx, cfg, logger, componentOptions{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		status, err = localStatus(ctx, cfg, components)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func localStatus(ctx context.Context, cfg *config.Config, c *Components) (map[string]any, error) {
	count, err := c.Index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	status := map[string]any{
		"records":    count,
		"categories": strings.Join(c.Categories.Snapshot(), ", "),
		"config": map[string]any{
			"vector_type":     cfg.Vector.Type,
			"embedding_type":  cfg.Embedding.Type,
			"embedding_model": cfg.Embedding.ModelID,
			"database_path":   cfg.Storage.DatabasePath,
		},
	}
	if cur := c.Cursor.Load(ctx); cur != "" {
		status["cursor"] = cur
	}
	if n, err := c.Seen.Count(ctx); err == nil {
		status["seen"] = n
	}
	paths := append(storage.DatabaseFiles(cfg.Storage.DatabasePath),
		cfg.Storage.HistoryIndexPath, cfg.Storage.SnapshotPath)
	if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
		status["disk_usage_bytes"] = diskBytes
	}
	return status, nil
}

func statusViaHTTP(serverURL string) (map[string]any, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return s, nil
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	out := fs.String("out", "prompts.xlsx", "output .xlsx path")
	limit := fs.Int("limit", 0, "maximum rows (0 = all)")
	_ = fs.Parse(os.Args[2:])

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, componentOptions{})
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	n, err := export.WriteXLSX(ctx, components.Index, *out, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d record(s) to %s\n", n, *out)
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	path, err := writeDefaultConfig(expandHome(*configPath), *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}

// writeDefaultConfig writes the built-in defaults to path, creating its
// directory. An existing file is kept unless force is set.
func writeDefaultConfig(path string, force bool) (string, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := config.Save(path, config.Default(filepath.Dir(path))); err != nil {
		return "", err
	}
	return path, nil
}

func runModels() {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	client := refine.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model, 10*time.Second)
	names, err := client.Models(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Listing models failed: %v\n", err)
		os.Exit(1)
	}
	for _, n := range names {
		marker := " "
		if n == cfg.LLM.Model || strings.TrimSuffix(n, ":latest") == cfg.LLM.Model {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, n)
	}
}

func mustFormat(s string) cli.OutputFormat {
	format, err := cli.ParseFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func printUsage() {
	fmt.Println(`promptforge - Civitai prompt ingestion and retrieval

Usage:
  promptforge server [flags]             Start the HTTP server
  promptforge fetch [flags]              Fetch a batch of items and ingest them
  promptforge cursor <show|clear>        Show or clear the saved pagination cursor
  promptforge similar [flags] <prompt>   Find stored prompts similar to <prompt>
  promptforge refine [flags] <prompt>    Refine a prompt with the local LLM
  promptforge sweep [flags]              Remove records outside the category allow-list
  promptforge status [flags]             Show index and storage status
  promptforge export [flags]             Export stored prompts to an .xlsx file
  promptforge init [flags]               Write a config file with the defaults
  promptforge models [flags]             List models on the Ollama server (* = configured)
  promptforge version                    Show version
  promptforge help                       Show this help

Common Flags:
  --config string    Config file path (default: ~/.promptforge/config.yaml, or ./config.yaml if present)

Fetch Flags:
  --mode string      new or continue (default: continue)
  --target int       Items to fetch (default: ingest.target_count)
  --cap              Drop items fetched past the target
  --output string    text or json

Similar Flags:
  --category string  Category to search within (required)
  --limit int        Number of results (default: rag.top_k)
  --context          Print the formatted context block

Refine Flags:
  --category string  Category to draw examples from (required)
  --session string   Continue an existing session

Status Flags:
  --server string    Query a running server instead of local storage

Export Flags:
  --out string       Output path (default: prompts.xlsx)
  --limit int        Maximum rows (0 = all)

Environment:
  CIVITAI_API_KEY    Upstream bearer token (also read from .env)
  QDRANT_API_KEY     Qdrant API key when vector.type is qdrant

Examples:
  promptforge fetch --mode new --target 500
  promptforge fetch
  promptforge similar --category "SDXL 1.0" a lighthouse at dusk
  promptforge refine --category Pony "cute fox, forest"
  promptforge cursor clear
  promptforge status --output json`)
}
