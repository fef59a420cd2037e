package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ansuz/internal"
	"github.com/starford/ansuz/internal/compact"
	"github.com/starford/ansuz/internal/docstore"
	"github.com/starford/ansuz/internal/identity"
	"github.com/starford/ansuz/internal/migrate"
	"github.com/starford/ansuz/internal/storage"
	pkgconfig "github.com/starford/ansuz/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *internal.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func runGC(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	store, err := storage.NewFS(cfg.Sync.Dir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	gcCfg := cfg.GC
	gcCfg.DryRun = cmd.Bool("dry-run")
	stats, err := compact.NewGC(store, logger).Run(ctx, gcCfg)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(stats)
}

func runMigrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	store, err := storage.NewFS(cfg.Sync.Dir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	report, err := migrate.MigrateDirectory(ctx, store, logger)
	if err != nil {
		return err
	}
	if cmd.Bool("cleanup") {
		deleted, err := migrate.CleanupOldFiles(store, report)
		if err != nil {
			return fmt.Errorf("cleanup after %d deletions: %w", deleted, err)
		}
		logger.Info("legacy files removed", slog.Int("deleted", deleted))
	}
	return json.NewEncoder(os.Stdout).Encode(report)
}

func inspect(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	docID := cmd.Args().First()
	if docID == "" {
		return fmt.Errorf("usage: inspect <doc-id>")
	}

	store, err := storage.NewFS(cfg.Sync.Dir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	writer, err := identity.LoadOrCreate(cfg.Sync.InstanceFile)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	reg := docstore.NewRegistry(store, writer, logger)
	defer reg.CloseAll()

	var doc *docstore.Document
	if docID == docstore.TreeDocID {
		doc, err = reg.OpenTree(ctx)
	} else {
		doc, err = reg.OpenNote(ctx, docID)
	}
	if err != nil {
		return err
	}

	out := map[string]any{
		"id":       doc.ID(),
		"kind":     doc.DocKind().String(),
		"state":    doc.DocState().String(),
		"degraded": doc.Degraded(),
		"clock":    doc.Clock(),
		"skipped":  doc.SkippedFiles(),
	}
	if doc.DocKind() == docstore.KindNote && !doc.Degraded() {
		if title, err := doc.Title(); err == nil {
			out["title"] = title
		}
	}
	return json.NewEncoder(os.Stdout).Encode(out)
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:   "ansuz",
		Usage:  "Local-first CRDT document engine replicating over a cloud-synced folder",
		Action: serve,
		Flags:  []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the document engine and diagnostics server",
				Action: serve,
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:   "gc",
				Usage:  "Run one garbage-collection pass over the sync directory",
				Action: runGC,
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Plan deletions without performing them",
					},
				},
			},
			{
				Name:   "migrate",
				Usage:  "Convert legacy update files to the log format",
				Action: runMigrate,
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "cleanup",
						Usage: "Delete legacy files verified as converted",
					},
				},
			},
			{
				Name:      "inspect",
				Usage:     "Print the replication state of one document",
				ArgsUsage: "<doc-id>",
				Action:    inspect,
				Flags:     []cli.Flag{configFlag},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
