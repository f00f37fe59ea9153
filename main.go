package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
	_ "github.com/dbscribe/dbscribe/pkg/adapters/metadata/mssql"
	_ "github.com/dbscribe/dbscribe/pkg/adapters/metadata/postgres"
	"github.com/dbscribe/dbscribe/pkg/apperrors"
	"github.com/dbscribe/dbscribe/pkg/config"
	"github.com/dbscribe/dbscribe/pkg/confluence"
	"github.com/dbscribe/dbscribe/pkg/confluence/storage"
	"github.com/dbscribe/dbscribe/pkg/doctree"
	"github.com/dbscribe/dbscribe/pkg/graph"
	"github.com/dbscribe/dbscribe/pkg/retry"
	pagesync "github.com/dbscribe/dbscribe/pkg/sync"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	dryRun := flag.Bool("dry-run", false, "compute and report the plan without touching the wiki")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("run_id", uuid.NewString()))

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *dryRun, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, dryRun bool, logger *zap.Logger) error {
	logger.Info("starting documentation run",
		zap.String("version", cfg.Version),
		zap.String("database_type", cfg.Database.Type),
		zap.String("space", cfg.Confluence.SpaceKey))

	source, err := metadata.Open(ctx, cfg.Database.Type, metadata.ConnectParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		Encrypt:  cfg.Database.Encrypt,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("%w: open %s source: %v", apperrors.ErrMetadataUnavailable, cfg.Database.Type, err)
	}
	defer source.Close()

	resolver := graph.NewResolver(source, logger)
	resolver.Databases = []string{cfg.Database.Database}
	resolver.Schemas = cfg.Database.Schemas
	resolver.DependencyDatabases = cfg.Database.DependencyDatabases
	resolver.DefaultSchema = cfg.Database.DefaultSchema

	g, err := resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: nothing to document", apperrors.ErrMetadataUnavailable)
	}

	builder := doctree.NewBuilder(storage.NewRenderer())
	builder.SchemaDescriptions = schemaDescriptions(ctx, source, g, logger)
	desired := builder.Build(g)

	client := confluence.NewClient(
		cfg.Confluence.BaseURL,
		cfg.Confluence.Username,
		cfg.Confluence.APIToken,
		cfg.Sync.RateLimitPerSec,
		logger,
	)

	retryCfg := retryConfig(cfg.Sync.MaxRetries)

	spaceID, err := retry.DoWithResult(ctx, retryCfg, func() (string, error) {
		return client.SpaceID(ctx, cfg.Confluence.SpaceKey)
	})
	if err != nil {
		return fmt.Errorf("resolve space %q: %w", cfg.Confluence.SpaceKey, err)
	}
	anchorID, err := retry.DoWithResult(ctx, retryCfg, func() (string, error) {
		return client.PageIDByTitle(ctx, spaceID, cfg.Confluence.AnchorTitle)
	})
	if err != nil {
		return fmt.Errorf("resolve anchor page %q: %w", cfg.Confluence.AnchorTitle, err)
	}

	fetcher := confluence.NewTreeFetcher(client, logger)
	fetcher.MaxInFlight = cfg.Sync.MaxInFlight
	remote, err := fetcher.Fetch(ctx, anchorID)
	if err != nil {
		return fmt.Errorf("fetch remote tree: %w", err)
	}

	differ := pagesync.NewDiffer(logger)
	differ.Prune = cfg.Sync.Prune
	plan := differ.Diff(desired, remote)

	logger.Info("plan computed",
		zap.Int("operations", len(plan.Operations)),
		zap.Int("conflicts", len(plan.Conflicts)),
		zap.Int("orphans", len(plan.Orphans)))

	if cfg.Sync.PlanFile != "" {
		if err := pagesync.WritePlanFile(cfg.Sync.PlanFile, plan); err != nil {
			return err
		}
		logger.Info("plan written", zap.String("path", cfg.Sync.PlanFile))
	}

	if dryRun || cfg.Sync.DryRun {
		logger.Info("dry run, skipping execution")
		return nil
	}

	executor := pagesync.NewExecutor(client, spaceID, anchorID, logger)
	executor.MaxInFlight = cfg.Sync.MaxInFlight
	executor.Retry = retryCfg

	summary := executor.Execute(ctx, plan)
	logSummary(logger, summary)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !summary.Clean() {
		if summary.Created+summary.Updated+summary.Reordered+summary.Deleted == 0 {
			return errors.New("no operation succeeded")
		}
		logger.Warn("run finished with partial failures",
			zap.Int("failed", summary.Failed), zap.Int("skipped", summary.Skipped))
	}
	return nil
}

func retryConfig(maxRetries int) *retry.Config {
	cfg := retry.DefaultConfig()
	if maxRetries >= 0 {
		cfg.MaxRetries = maxRetries
	}
	return cfg
}

// schemaDescriptions collects schema comments for every documented
// schema in the graph. Missing descriptions are not an error.
func schemaDescriptions(ctx context.Context, source metadata.Source, g *graph.Graph, logger *zap.Logger) map[string]string {
	seen := make(map[string][2]string)
	for _, node := range g.Nodes {
		if node.External {
			continue
		}
		key := doctree.SchemaKey(node.Name.Database, node.Name.Schema)
		seen[key] = [2]string{node.Name.Database, node.Name.Schema}
	}

	descs := make(map[string]string, len(seen))
	for key, pair := range seen {
		desc, err := source.SchemaDescription(ctx, pair[0], pair[1])
		if err != nil {
			logger.Warn("schema description unavailable",
				zap.String("schema", strings.Join(pair[:], ".")), zap.Error(err))
			continue
		}
		if desc != "" {
			descs[key] = desc
		}
	}
	return descs
}

func logSummary(logger *zap.Logger, s *pagesync.Summary) {
	logger.Info("run complete",
		zap.Int("created", s.Created),
		zap.Int("updated", s.Updated),
		zap.Int("reordered", s.Reordered),
		zap.Int("deleted", s.Deleted),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Duration("duration", s.Duration))

	for _, f := range s.Failures {
		if f.Skipped {
			logger.Warn("operation skipped", zap.String("op", f.Op), zap.String("cause", f.Err))
		} else {
			logger.Error("operation failed", zap.String("op", f.Op), zap.String("error", f.Err))
		}
	}
	for _, c := range s.Conflicts {
		logger.Warn("page skipped, title held by a page outside the documentation run",
			zap.String("title", c.Title), zap.String("foreign_id", c.ForeignID))
	}
	for _, o := range s.Orphans {
		logger.Warn("orphaned page left in place, enable prune to delete",
			zap.String("title", o.Title), zap.String("page_id", o.PageID))
	}
}
