package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/0xmhha/contactstore/api"
	"github.com/0xmhha/contactstore/contact"
	"github.com/0xmhha/contactstore/internal/config"
	"github.com/0xmhha/contactstore/internal/logger"
	"github.com/0xmhha/contactstore/storage"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// Output formats for one-shot queries
const (
	formatJSON  = "json"
	formatTable = "table"
)

// options holds parsed command-line flags
type options struct {
	configFile   string
	showVersion  bool
	dbPath       string
	backend      string
	seedPath     string
	query        string
	querySet     bool
	format       string
	logLevel     string
	logFormat    string
	recordPolicy string

	enableAPI bool
	apiHost   string
	apiPort   int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "contacts: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args into options
func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("contacts", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configFile, "config", "", "Path to configuration file (YAML)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information and exit")
	fs.StringVar(&opts.dbPath, "db", "", "Database path")
	fs.StringVar(&opts.backend, "backend", "", "Storage backend (pebble, sqlite)")
	fs.StringVar(&opts.seedPath, "seed", "", "JSON or YAML file of contacts to load into an empty store")
	fs.StringVar(&opts.query, "query", "", "Run one search and print the matches")
	fs.StringVar(&opts.format, "format", formatJSON, "Output format for -query (json, table)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.logFormat, "log-format", "", "Log format (json, console)")
	fs.StringVar(&opts.recordPolicy, "record-policy", "", "Malformed record policy (strict, skip)")

	// API server flags
	fs.BoolVar(&opts.enableAPI, "api", false, "Enable API server")
	fs.StringVar(&opts.apiHost, "api-host", "", "API server host")
	fs.IntVar(&opts.apiPort, "api-port", 0, "API server port")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "query" {
			opts.querySet = true
		}
	})

	if opts.format != formatJSON && opts.format != formatTable {
		return nil, fmt.Errorf("invalid format %q, must be one of: json, table", opts.format)
	}
	return opts, nil
}

// run is the whole program after signal setup
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "contactstore version %s\n", version)
		fmt.Fprintf(stdout, "  commit: %s\n", commit)
		fmt.Fprintf(stdout, "  built:  %s\n", buildTime)
		return nil
	}

	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !opts.querySet && !cfg.API.Enabled {
		return errors.New("nothing to do: pass -query or -api")
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting contactstore",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("backend", cfg.Database.Backend),
		zap.String("db_path", cfg.Database.Path),
		zap.String("record_policy", cfg.Search.RecordPolicy),
	)

	store, err := openStorage(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()

	if err := prepareCollection(ctx, cfg, store, log); err != nil {
		return err
	}

	policy, err := contact.ParseRecordPolicy(cfg.Search.RecordPolicy)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	searcher := contact.NewSearcher(store,
		contact.WithLogger(log),
		contact.WithMetrics(contact.NewMetrics(registry, "")),
		contact.WithCollection(cfg.Search.Collection),
		contact.WithRecordPolicy(policy),
	)

	if opts.querySet {
		contacts, err := searcher.Search(ctx, opts.query)
		if err != nil {
			return err
		}
		if err := writeResults(stdout, opts.format, contacts); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
	}

	if !cfg.API.Enabled {
		return nil
	}
	return serve(ctx, cfg, log, searcher, registry)
}

// loadConfig loads configuration from .env, file and environment variables
func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, opts *options) {
	if opts.dbPath != "" {
		cfg.Database.Path = opts.dbPath
	}
	if opts.backend != "" {
		cfg.Database.Backend = opts.backend
	}
	if opts.seedPath != "" {
		cfg.Seed.Path = opts.seedPath
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.recordPolicy != "" {
		cfg.Search.RecordPolicy = opts.recordPolicy
	}
	if opts.enableAPI {
		cfg.API.Enabled = true
	}
	if opts.apiHost != "" {
		cfg.API.Host = opts.apiHost
	}
	if opts.apiPort > 0 {
		cfg.API.Port = opts.apiPort
	}
}

// openStorage opens the configured storage engine
func openStorage(cfg *config.Config, log *zap.Logger) (storage.Storage, error) {
	storageConfig := storage.DefaultConfig(cfg.Database.Path)
	storageConfig.Backend = cfg.Database.Backend
	storageConfig.ReadOnly = cfg.Database.ReadOnly
	if cfg.Database.CacheMB > 0 {
		storageConfig.Cache = cfg.Database.CacheMB
	}

	store, err := storage.Open(storageConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	switch s := store.(type) {
	case *storage.PebbleStorage:
		s.SetLogger(logger.WithComponent(log, "storage"))
	case *storage.SQLiteStorage:
		s.SetLogger(logger.WithComponent(log, "storage"))
	}

	log.Info("Storage initialized",
		zap.String("backend", cfg.Database.Backend),
		zap.String("path", cfg.Database.Path),
		zap.Bool("readonly", cfg.Database.ReadOnly),
	)
	return store, nil
}

// prepareCollection creates the search collection on a writable store and
// loads the seed file into it while it is empty
func prepareCollection(ctx context.Context, cfg *config.Config, store storage.Storage, log *zap.Logger) error {
	collection := cfg.Search.Collection

	if cfg.Database.ReadOnly {
		if cfg.Seed.Path != "" {
			return errors.New("cannot seed a read-only database")
		}
		return nil
	}

	if err := store.CreateCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", collection, err)
	}

	if cfg.Seed.Path == "" {
		return nil
	}

	count, err := store.Count(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to count collection %q: %w", collection, err)
	}
	if count > 0 {
		log.Info("Collection not empty, skipping seed",
			zap.String("collection", collection),
			zap.Uint64("records", count),
		)
		return nil
	}

	f, err := os.Open(cfg.Seed.Path)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	n, err := contact.ImportInto(ctx, store, collection, f)
	if err != nil {
		return fmt.Errorf("failed to import seed: %w", err)
	}

	log.Info("Seed imported",
		zap.String("path", cfg.Seed.Path),
		zap.Int("contacts", n),
	)
	return nil
}

// writeResults prints contacts as indented JSON or as a table
func writeResults(w io.Writer, format string, contacts []contact.Contact) error {
	if format == formatTable {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Key", "Name", "Email"})
		table.SetAutoWrapText(false)
		for _, c := range contacts {
			table.Append([]string{strconv.FormatUint(c.Key, 10), c.Name, c.Email})
		}
		table.SetFooter([]string{"", "", fmt.Sprintf("%d found", len(contacts))})
		table.Render()
		return nil
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(contacts)
}

// newAPIConfig maps the application configuration onto the API server's
func newAPIConfig(cfg *config.Config) *api.Config {
	apiConfig := api.DefaultConfig()
	apiConfig.Host = cfg.API.Host
	apiConfig.Port = cfg.API.Port
	apiConfig.EnableCORS = cfg.API.EnableCORS
	apiConfig.AllowedOrigins = cfg.API.AllowedOrigins
	apiConfig.EnableRateLimit = cfg.API.EnableRateLimit
	apiConfig.RateLimitPerSecond = cfg.API.RateLimitPerSecond
	apiConfig.RateLimitBurst = cfg.API.RateLimitBurst
	apiConfig.Version = version
	return apiConfig
}

// serve runs the API server until ctx is cancelled or the server fails
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, searcher *contact.Searcher, registry *prometheus.Registry) error {
	server, err := api.NewServer(newAPIConfig(cfg), logger.WithComponent(log, "api"), searcher, registry)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")
		return server.Stop(context.Background())
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("contactstore stopped")
	return nil
}
