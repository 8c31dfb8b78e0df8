package pipeline

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/leadgrid/places-pipeline/internal/config"
	"github.com/leadgrid/places-pipeline/internal/serper"
	"github.com/leadgrid/places-pipeline/internal/util"
	"github.com/leadgrid/places-pipeline/pkg/pipeline/worker"
)

// Summarizer produces a short about_summary for an accepted lead.
// Summarization failures are logged and never fail the run.
type Summarizer interface {
	Summarize(ctx context.Context, rec serper.Record) (string, error)
}

// Runner drives one pipeline run: load query rows, fan out fetches over a
// bounded worker pool, then validate, deduplicate and persist completed
// batches in completion order.
type Runner struct {
	Config config.Config
	APIKey string
	Logger *log.Logger

	// Summarizer, when set, adds an about_summary column for valid leads.
	Summarizer Summarizer

	// HTTPClient overrides the API transport, mainly for tests.
	HTTPClient *http.Client
}

// Result summarizes one completed run.
type Result struct {
	OutputPath  string
	Accepted    int
	APICalls    int64
	RowFailures int
}

// Run executes the pipeline for the query rows in inputPath and streams
// accepted records to outputPath. Partial output survives row failures; only
// input load errors and output I/O errors abort the run.
func (r *Runner) Run(ctx context.Context, inputPath, outputPath string) (Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}
	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	logf := func(format string, args ...any) {
		prefix := make([]any, 0, len(args)+1)
		prefix = append(prefix, runID)
		prefix = append(prefix, args...)
		logger.Printf("run=%s "+format, prefix...)
	}

	inF, err := os.Open(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("open input: %w", err)
	}
	rows, err := LoadQueries(inF)
	_ = inF.Close()
	if err != nil {
		return Result{}, err
	}

	client, err := serper.NewClient(serper.ClientOptions{
		Endpoint:       r.Config.Endpoint,
		APIKey:         r.APIKey,
		RequestTimeout: r.Config.RequestTimeout.Std(),
		MaxRetries:     r.Config.MaxRetries,
		BackoffInitial: r.Config.BackoffInitial.Std(),
		HTTPClient:     r.HTTPClient,
	})
	if err != nil {
		return Result{}, err
	}
	fetcher := &serper.Fetcher{
		Client:   client,
		MaxPages: r.Config.MaxPages,
		Logf:     logf,
	}

	outF, err := os.Create(outputPath)
	if err != nil {
		return Result{}, fmt.Errorf("open output: %w", err)
	}
	defer func() {
		_ = outF.Close()
	}()

	dedupe := NewDedupeSet()
	writer := NewCSVWriter(outF, logf)

	logf("starting scrape of %d queries with up to %d workers", len(rows), r.Config.Workers)

	completed := 0
	accepted := 0
	rowFailures := 0

	onDone := func(res worker.Result[serper.QueryRow, []serper.Record]) error {
		completed++
		if res.Err != nil {
			// The fetcher already logged the failing page; partial records in
			// res.Output are still processed below.
			rowFailures++
		}

		kept := res.Output[:0]
		for _, rec := range res.Output {
			TagValidity(rec, r.Config.MinReviews)
			cid := rec["cid"]
			if cid == "" {
				if !r.Config.KeepUnidentified {
					continue
				}
			} else if !dedupe.Claim(cid) {
				continue
			}
			r.summarize(ctx, rec, logf)
			kept = append(kept, rec)
		}

		if err := writer.WriteBatch(kept); err != nil {
			return err
		}
		accepted += len(kept)

		if completed%100 == 0 || completed == len(rows) {
			logf("completed %d/%d queries, accepted %d rows so far", completed, len(rows), accepted)
		}
		return nil
	}

	_, err = worker.ProcessAllWithCallback(ctx, rows, fetcher.FetchRow, onDone, worker.Options{
		Workers:      r.Config.Workers,
		RateLimitRPS: r.Config.RateLimitRPS,
		// Retries happen inside the API client; a task that still fails keeps
		// its partial pages instead of being replayed from page 1.
		MaxRetries:    0,
		FailurePolicy: worker.FailurePolicyPartialOutput,
	})
	if err != nil {
		return Result{}, err
	}

	if err := outF.Close(); err != nil {
		return Result{}, fmt.Errorf("close output: %w", err)
	}

	result := Result{
		OutputPath:  outputPath,
		Accepted:    accepted,
		APICalls:    client.Calls(),
		RowFailures: rowFailures,
	}
	logf("done: wrote %d rows to %q (row failures: %d, api calls: %d)",
		result.Accepted, outputPath, result.RowFailures, result.APICalls)
	return result, nil
}

func (r *Runner) summarize(ctx context.Context, rec serper.Record, logf func(string, ...any)) {
	if r.Summarizer == nil {
		return
	}
	// Always materialize the column so it lands in the frozen schema even
	// when the first batch has no summarizable leads.
	rec["about_summary"] = ""
	if rec["is_valid"] != "TRUE" {
		return
	}
	summary, err := r.Summarizer.Summarize(ctx, rec)
	if err != nil {
		logf("summarize %q failed: %v", rec["title"], util.RedactSecrets(err.Error()))
		return
	}
	rec["about_summary"] = strings.TrimSpace(summary)
}
