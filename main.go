package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/athapong/finkg/pkg/extract"
	"github.com/athapong/finkg/pkg/graph"
	"github.com/athapong/finkg/pkg/graph/metrics"
	"github.com/athapong/finkg/pkg/graph/query"
	"github.com/athapong/finkg/pkg/graph/storage"
	"github.com/athapong/finkg/pkg/normalize"
	"github.com/athapong/finkg/pkg/preprocess"
	"github.com/athapong/finkg/pkg/resolve"
	"github.com/athapong/finkg/pkg/schema"
	"github.com/athapong/finkg/services"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	envFile    = flag.String("env", ".env", "Path to environment file")
	mode       = flag.String("mode", "build", "Pipeline mode: build, ask or both")
	input      = flag.String("input", "", "Input file or directory of articles (.txt, .md, .html)")
	question   = flag.String("question", "", "Question to answer; empty starts an interactive loop in ask mode")
	storeKind  = flag.String("store", "memory", "Graph store backend: memory or neo4j")
	neo4jURI   = flag.String("neo4j-uri", "bolt://localhost:7687", "Neo4j bolt URI")
	neo4jUser  = flag.String("neo4j-user", "neo4j", "Neo4j username")
	neo4jPass  = flag.String("neo4j-pass", "", "Neo4j password")
	logLevel   = flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	clearFirst = flag.Bool("clear", false, "Clear the graph store before building (neo4j only)")
	timeout    = flag.Duration("timeout", 10*time.Minute, "Overall timeout for the run")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatalf("Invalid log level: %v", err)
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := godotenv.Load(*envFile); err != nil {
		logger.Warnf("Error loading env file %s: %v", *envFile, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := openStore(ctx, logger)
	if err != nil {
		logger.Fatalf("Failed to open graph store: %v", err)
	}
	defer store.Close()

	registry := schema.NewDefaultRegistry()

	switch *mode {
	case "build":
		runBuild(ctx, logger, store, registry)
	case "ask":
		runAsk(ctx, logger, store, registry)
	case "both":
		runBuild(ctx, logger, store, registry)
		runAsk(ctx, logger, store, registry)
	default:
		logger.Fatalf("Unknown mode %q (expected build, ask or both)", *mode)
	}
}

func openStore(ctx context.Context, logger *logrus.Logger) (graph.Store, error) {
	switch *storeKind {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "neo4j":
		store, err := storage.NewNeo4jStore(*neo4jURI, *neo4jUser, *neo4jPass)
		if err != nil {
			return nil, err
		}
		if err := store.Connect(ctx); err != nil {
			return nil, err
		}
		if *clearFirst {
			logger.Warn("Clearing existing graph data")
			if err := store.Clear(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", *storeKind)
	}
}

func runBuild(ctx context.Context, logger *logrus.Logger, store graph.Store, registry *schema.Registry) {
	if *input == "" {
		logger.Fatal("Input file or directory must be specified in build mode")
	}

	files, err := collectInputFiles(*input)
	if err != nil {
		logger.Fatalf("Failed to read input: %v", err)
	}
	if len(files) == 0 {
		logger.Fatal("No input files found")
	}
	logger.Infof("Processing %d input files...", len(files))

	chunker := preprocess.NewChunker(preprocess.DefaultConfig)
	spans := make([]extract.Span, 0)
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Errorf("Failed to read file %s: %v", file, err)
			continue
		}

		var fileSpans []extract.Span
		if strings.EqualFold(filepath.Ext(file), ".html") {
			fileSpans, err = chunker.ChunkHTML(string(content), nil)
		} else {
			fileSpans, err = chunker.Chunk(string(content), nil)
		}
		if err != nil {
			logger.Errorf("Failed to chunk file %s: %v", file, err)
			continue
		}
		spans = append(spans, fileSpans...)
	}

	extractor := extract.NewLLMExtractor(services.DefaultExtractionClient(), services.ExtractionModel(), registry)
	normalizer := normalize.New(registry)
	resolver := resolve.New(store, resolve.Config{CreateMissing: true})
	engine := graph.NewUpsertEngine(store, registry)

	pipeline := graph.NewPipeline(extractor, normalizer, resolver, engine)
	report, err := pipeline.Run(ctx, spans)
	if err != nil {
		logger.Fatalf("Pipeline run failed: %v", err)
	}

	logger.Infof("Processed %d spans: %d candidates, %d facts created, %d merged, %d rejected",
		report.Spans, report.Candidates, report.Created, report.Merged, report.Rejected)
	for _, runErr := range report.Errors {
		logger.Warnf("Pipeline error: %v", runErr)
	}
	publishGraphMetrics(ctx, logger, store, registry)
}

func runAsk(ctx context.Context, logger *logrus.Logger, store graph.Store, registry *schema.Registry) {
	resolver := resolve.New(store, resolve.Config{CreateMissing: false})
	translator := query.New(store, registry, resolver)

	if *question != "" {
		printAnswer(translator.Ask(ctx, *question))
		return
	}

	fmt.Println("Ask questions about the graph (empty line to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		printAnswer(translator.Ask(ctx, line))
	}
	if err := scanner.Err(); err != nil {
		logger.Errorf("Input error: %v", err)
	}
}

func printAnswer(answer *query.Answer) {
	if answer.State == query.StateFailed {
		fmt.Printf("No answer (%s)\n", answer.FailReason)
		return
	}
	if len(answer.Rows) == 0 {
		fmt.Println("No results.")
		return
	}
	for _, row := range answer.Rows {
		if count, ok := row["count"]; ok {
			fmt.Printf("Count: %v\n", count)
			continue
		}
		parts := make([]string, 0, len(row))
		for _, key := range []string{"source", "relation", "target", "amount", "date", "confidence"} {
			if value, ok := row[key]; ok && value != "" {
				parts = append(parts, fmt.Sprintf("%s=%v", key, value))
			}
		}
		fmt.Println(strings.Join(parts, "  "))
	}
}

// publishGraphMetrics refreshes the entity and fact gauges after a build.
func publishGraphMetrics(ctx context.Context, logger *logrus.Logger, store graph.Store, registry *schema.Registry) {
	metrics.UpdateSystemMetrics()

	total := 0
	for _, name := range registry.EntityTypeNames() {
		entities, err := store.EntitiesByType(ctx, schema.EntityType(name))
		if err != nil {
			logger.Debugf("Skipping metrics for type %s: %v", name, err)
			continue
		}
		metrics.GraphEntityCount.WithLabelValues(name).Set(float64(len(entities)))
		total += len(entities)
	}
	logger.Infof("Graph now holds %d entities", total)
}

// collectInputFiles expands a file or directory argument into article paths.
func collectInputFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	supported := map[string]bool{".txt": true, ".md": true, ".html": true}
	var files []string
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() && supported[strings.ToLower(filepath.Ext(p))] {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}
