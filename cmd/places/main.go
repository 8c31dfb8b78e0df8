package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/leadgrid/places-pipeline/internal/config"
	"github.com/leadgrid/places-pipeline/internal/enrich/gemini"
	"github.com/leadgrid/places-pipeline/internal/pipeline"
	"github.com/leadgrid/places-pipeline/internal/server"
	"github.com/leadgrid/places-pipeline/internal/util"
)

func main() {
	// Local convenience only; a missing .env is fine.
	_ = godotenv.Load()

	ctx := context.Background()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "run":
		os.Exit(runCmd(ctx, os.Args[2:]))
	case "serve":
		os.Exit(serveCmd(os.Args[2:]))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func runCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inputPath, outputPath, configPath string
	fs.StringVar(&inputPath, "input", "", "Input CSV path (requires query, city and zip columns)")
	fs.StringVar(&outputPath, "output", "output.csv", "Output CSV path")
	fs.StringVar(&configPath, "config", "", "Optional YAML config file path")
	overrides := registerConfigFlags(fs)

	var enrich bool
	var geminiModel, geminiBaseURL string
	fs.BoolVar(&enrich, "enrich", false, "Summarize valid leads with Gemini (env: GEMINI_API_KEY, GEMINI_MODEL)")
	fs.StringVar(&geminiModel, "gemini-model", strings.TrimSpace(os.Getenv("GEMINI_MODEL")), "Gemini model name (env: GEMINI_MODEL)")
	fs.StringVar(&geminiBaseURL, "gemini-base-url", strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")), "Gemini API base URL override (env: GEMINI_BASE_URL)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inputPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "run requires --input")
		return 2
	}

	cfg, err := resolveConfig(configPath, fs, overrides)
	if err != nil {
		return configError(err)
	}

	apiKey := strings.TrimSpace(os.Getenv("SERPER_API_KEY"))
	if apiKey == "" {
		_, _ = fmt.Fprintln(os.Stderr, "SERPER_API_KEY is required")
		return 2
	}

	runner := &pipeline.Runner{
		Config: cfg,
		APIKey: apiKey,
		Logger: log.New(os.Stdout, "", log.LstdFlags),
	}
	if enrich {
		summarizer, err := gemini.New(ctx, gemini.Config{
			APIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			Model:   geminiModel,
			BaseURL: geminiBaseURL,
		})
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "gemini config error: %s\n", util.RedactSecrets(err.Error()))
			return 2
		}
		runner.Summarizer = summarizer
	}

	res, err := runner.Run(ctx, inputPath, outputPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "run failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	fmt.Println(res.OutputPath)
	return 0
}

func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var addr, uploadDir, configPath string
	fs.StringVar(&addr, "addr", ":8080", "Listen address")
	fs.StringVar(&uploadDir, "uploads", "uploads", "Directory for per-session inputs and outputs")
	fs.StringVar(&configPath, "config", "", "Optional YAML config file path")
	overrides := registerConfigFlags(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := resolveConfig(configPath, fs, overrides)
	if err != nil {
		return configError(err)
	}

	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "create uploads dir: %v\n", err)
		return 1
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	srv := server.New(cfg, uploadDir, logger)
	logger.Printf("listening on %s (uploads: %s)", addr, uploadDir)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "serve failed: %v\n", err)
		return 1
	}
	return 0
}

// configOverrides holds the pipeline tuning flags shared by run and serve.
type configOverrides struct {
	endpoint         *string
	workers          *int
	maxPages         *int
	minReviews       *int
	requestTimeout   *time.Duration
	maxRetries       *int
	rateLimitRPS     *float64
	keepUnidentified *bool
}

func registerConfigFlags(fs *flag.FlagSet) *configOverrides {
	o := &configOverrides{}
	o.endpoint = fs.String("endpoint", "", "Places API endpoint (env: PLACES_ENDPOINT)")
	o.workers = fs.Int("workers", 0, "Concurrent query-row fetches (env: WORKERS)")
	o.maxPages = fs.Int("max-pages", 0, "Pagination ceiling per query row (env: MAX_PAGES)")
	o.minReviews = fs.Int("min-reviews", 0, "Review-count threshold for valid leads (env: MIN_REVIEWS)")
	o.requestTimeout = fs.Duration("request-timeout", 0, "Per-request timeout (env: REQUEST_TIMEOUT)")
	o.maxRetries = fs.Int("max-retries", 0, "Extra attempts on transient API failures (env: MAX_RETRIES)")
	o.rateLimitRPS = fs.Float64("rate-limit-rps", 0, "Global outbound rate limit, 0 disables (env: RATE_LIMIT_RPS)")
	o.keepUnidentified = fs.Bool("keep-unidentified", false, "Keep records without a cid (env: KEEP_UNIDENTIFIED)")
	return o
}

// resolveConfig layers flags over environment over the config file over defaults.
func resolveConfig(configPath string, fs *flag.FlagSet, o *configOverrides) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoint":
			cfg.Endpoint = *o.endpoint
		case "workers":
			cfg.Workers = *o.workers
		case "max-pages":
			cfg.MaxPages = *o.maxPages
		case "min-reviews":
			cfg.MinReviews = *o.minReviews
		case "request-timeout":
			cfg.RequestTimeout = config.Duration(*o.requestTimeout)
		case "max-retries":
			cfg.MaxRetries = *o.maxRetries
		case "rate-limit-rps":
			cfg.RateLimitRPS = *o.rateLimitRPS
		case "keep-unidentified":
			cfg.KeepUnidentified = *o.keepUnidentified
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *config.Config) error {
	if v := strings.TrimSpace(os.Getenv("PLACES_ENDPOINT")); v != "" {
		cfg.Endpoint = v
	}
	var err error
	if cfg.Workers, err = envInt("WORKERS", cfg.Workers); err != nil {
		return err
	}
	if cfg.MaxPages, err = envInt("MAX_PAGES", cfg.MaxPages); err != nil {
		return err
	}
	if cfg.MinReviews, err = envInt("MIN_REVIEWS", cfg.MinReviews); err != nil {
		return err
	}
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return err
	}
	timeout, err := envDuration("REQUEST_TIMEOUT", cfg.RequestTimeout.Std())
	if err != nil {
		return err
	}
	cfg.RequestTimeout = config.Duration(timeout)
	if cfg.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS); err != nil {
		return err
	}
	if cfg.KeepUnidentified, err = envBool("KEEP_UNIDENTIFIED", cfg.KeepUnidentified); err != nil {
		return err
	}
	return nil
}

func configError(err error) int {
	_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
	return 2
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `places: concurrent places-search lead pipeline

Usage:
  places <command> [flags]

Commands:
  run    Run the pipeline over a local query CSV
  serve  Start the HTTP front end (upload -> run -> download)

Examples:
  places run --input queries.csv --output leads.csv
  places serve --addr :8080 --uploads /var/uploads

Environment:
  SERPER_API_KEY   Places API key (required for run; serve takes it per request)
  GEMINI_API_KEY   Gemini API key (only with --enrich)
  GEMINI_MODEL     Gemini model name (only with --enrich)

Pipeline tuning is available as flags, environment variables, or a YAML
config file (--config); flags win over environment over file.
`)
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
