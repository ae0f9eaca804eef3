package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"playmart/internal/config"
	"playmart/internal/metrics"
	"playmart/internal/metrics/datadog"
	"playmart/internal/pipeline"
	"playmart/internal/storage"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "playmart/internal/storage/all"
)

// main is the entry point for the ETL binary. It loads the pipeline config,
// optionally initializes a metrics backend, and executes the batch run.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/local.json", "pipeline config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (datadog, none)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	p, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.ValidatePipeline(p)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}

	// If validate flag is set, only validate the configuration and exit
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	// Decide metrics backend: flag → env → default.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "datadog":
		// Datadog backend:
		//   - buffers metrics and submits periodically (default once per minute)
		//   - submits one final time at shutdown (Close())

		jobName := p.Job
		if jobName == "" {
			jobName = "etl"
		}

		// Optional extra tags provided via environment, e.g. "env:prod,team:data".
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))

		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    jobName,
			Tags:       extraTags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			log.Printf("metrics: backend=%v job_name=%v tags=%v", backendName, jobName, extraTags)
			metrics.SetBackend(b)

			// Close() stops the periodic flush loop and then performs a final
			// Flush(). This is the clean shutdown path for the Datadog backend.
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}

	case "", "none":
		// metrics disabled; nop backend remains
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx := context.Background()

	if *verbose {
		log.Printf("pipeline: song_dir=%s log_dir=%s storage=%s",
			p.Source.SongDir, p.Source.LogDir, p.Storage.Kind)
	}

	// DSNs may carry $VAR references so credentials stay in the environment.
	repo, err := storage.New(ctx, storage.Config{
		Kind: p.Storage.Kind,
		DSN:  os.ExpandEnv(p.Storage.DSN),
	})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer repo.Close()

	d := &pipeline.Driver{
		Repo:    repo,
		Logger:  log.Default(),
		SongDir: p.Source.SongDir,
		LogDir:  p.Source.LogDir,
	}

	summary, err := d.Run(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}

	printSummary(os.Stdout, summary)

	if summary.Failed() > 0 {
		os.Exit(1)
	}
}

// printSummary renders the run outcome for humans. Row counts come out
// grouped (1,234,567) so big backfills stay readable.
func printSummary(w io.Writer, s pipeline.Summary) {
	pr := message.NewPrinter(language.English)

	pr.Fprintf(w, "files: %d discovered, %d processed, %d failed\n",
		s.Discovered, s.Processed, s.Failed())

	for _, table := range []string{"songs", "artists", "users", "time", "songplays"} {
		pr.Fprintf(w, "rows loaded: %-9s %d\n", table, s.RowsLoaded[table])
	}

	for _, f := range s.Failures {
		pr.Fprintf(w, "failed: %s: %v\n", f.Path, f.Err)
	}

	pr.Fprintf(w, "elapsed: %s\n", s.Elapsed.Truncate(time.Millisecond))
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
