// pathway-admin runs operational tasks against the progression store:
// seeding the milestone catalog, auditing the dependency graph for cycles,
// and printing a graph snapshot.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pathway-labs/pathway-go/internal/cache"
	"github.com/pathway-labs/pathway-go/internal/catalog"
	"github.com/pathway-labs/pathway-go/internal/graph"
	"github.com/pathway-labs/pathway-go/internal/platform/postgres"
	"github.com/pathway-labs/pathway-go/internal/platform/redisconn"
	pgstore "github.com/pathway-labs/pathway-go/internal/repo/postgres"
)

const usage = `usage: pathway-admin <command>

commands:
  seed <catalog.yaml>   seed milestones and dependency edges from a catalog file
  audit                 check the dependency graph for cycles
  snapshot              print the dependency graph as JSON
`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	milestones := pgstore.NewMilestoneStore(db)
	deps := pgstore.NewDependencyStore(db)
	graphStore := graph.NewStore(milestones, deps)

	switch os.Args[1] {
	case "seed":
		if len(os.Args) != 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		if err := runSeed(ctx, logger, milestones, graphStore, os.Args[2]); err != nil {
			logger.Error("seed failed", "error", err)
			os.Exit(1)
		}
	case "audit":
		if err := runAudit(ctx, logger, graphStore); err != nil {
			logger.Error("audit failed", "error", err)
			os.Exit(1)
		}
	case "snapshot":
		if err := runSnapshot(ctx, graphStore); err != nil {
			logger.Error("snapshot failed", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func runSeed(ctx context.Context, logger *slog.Logger, milestones *pgstore.MilestoneStore, graphStore *graph.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	parsed, err := catalog.Parse(raw)
	if err != nil {
		return err
	}

	seeder := catalog.NewSeeder(milestones, graphStore, logger)
	report, err := seeder.Apply(ctx, parsed)
	if err != nil {
		return err
	}
	logger.Info("catalog applied",
		"milestones_created", report.MilestonesCreated,
		"milestones_kept", report.MilestonesKept,
		"edges_created", report.EdgesCreated,
		"edges_kept", report.EdgesKept,
	)

	if report.EdgesCreated > 0 {
		invalidateChecks(ctx, logger)
	}
	return nil
}

// invalidateChecks drops every cached dependency-check result after the edge
// set changed. The cache tier being down is not a failure: checks expire by
// TTL anyway.
func invalidateChecks(ctx context.Context, logger *slog.Logger) {
	redisCfg, err := redisconn.ConfigFromEnv()
	if err != nil {
		logger.Warn("invalid redis config, skipping check invalidation", "error", err)
		return
	}
	client, err := redisconn.Open(ctx, redisCfg)
	if err != nil {
		logger.Warn("redis unavailable, cached checks expire by TTL", "error", err)
		return
	}
	defer func() { _ = client.Close() }()

	remote := cache.NewRedisRemote(client)
	if err := remote.DeletePattern(ctx, cache.MilestoneCheckPattern("*")); err != nil {
		logger.Warn("invalidate cached checks", "error", err)
		return
	}
	logger.Info("cached dependency checks invalidated")
}

func runAudit(ctx context.Context, logger *slog.Logger, graphStore *graph.Store) error {
	cycles, err := graphStore.DetectAllCycles(ctx)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		logger.Info("dependency graph is acyclic")
		return nil
	}
	for _, cycle := range cycles {
		logger.Error("cycle detected", "path", cycle)
	}
	return fmt.Errorf("%d cycle(s) detected", len(cycles))
}

func runSnapshot(ctx context.Context, graphStore *graph.Store) error {
	snapshot, err := graphStore.Snapshot(ctx)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snapshot)
}
