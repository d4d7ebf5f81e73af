package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scansim/internal/config"
	"github.com/banshee-data/scansim/internal/db"
	"github.com/banshee-data/scansim/internal/lidar"
	"github.com/banshee-data/scansim/internal/lidar/export"
	"github.com/banshee-data/scansim/internal/lidar/monitor"
	"github.com/banshee-data/scansim/internal/lidar/scene"
	"github.com/banshee-data/scansim/internal/lidar/sweep"
	"github.com/banshee-data/scansim/internal/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	root    string
	dbPath  string
	verbose int
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "scansim",
		Short:         "Simulate LiDAR sweeps and export point clouds",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				g.root = wd
			}
			configureLogging(cmd.ErrOrStderr(), g.verbose)
			return nil
		},
	}
	cmd.SetVersionTemplate(version.String() + "\n")

	cmd.PersistentFlags().StringVar(&g.root, "root", "", "project root that \"//\" output paths resolve against (default: working directory)")
	cmd.PersistentFlags().StringVar(&g.dbPath, "db", "", "scan history database (SQLite); empty disables history")
	cmd.PersistentFlags().CountVarP(&g.verbose, "verbose", "v", "log diagnostics (-v) and per-chunk traces (-vv)")

	cmd.AddCommand(
		newScanCmd(g),
		newEstimateCmd(),
		newPresetsCmd(),
		newConfigCmd(),
		newInspectCmd(),
		newHistoryCmd(g),
		newDBCmd(g),
		newVersionCmd(),
	)
	return cmd
}

// configureLogging routes the ops stream to w always, diag at -v and
// trace at -vv.
func configureLogging(w io.Writer, verbose int) {
	var diag, trace io.Writer
	if verbose >= 1 {
		diag = w
	}
	if verbose >= 2 {
		trace = w
	}
	lidar.SetLogWriters(w, diag, trace)
	sweep.SetLogWriters(w, diag, trace)
	monitor.SetLogWriters(w, diag, trace)
	export.SetLogWriters(w, diag, trace)
	scene.SetLogWriters(w, diag, trace)
	db.SetLogWriter(diag)
}

// loadDocument reads path, or returns an empty document when path is "".
func loadDocument(path string) (*config.ScanDocument, error) {
	if path == "" {
		return &config.ScanDocument{}, nil
	}
	return config.LoadScanDocument(path)
}

// settingsFromDocument applies doc and an optional preset override to a
// fresh configuration.
func settingsFromDocument(doc *config.ScanDocument, preset string) (*lidar.ScanConfig, error) {
	cfg := lidar.NewScanConfig()
	if err := doc.Apply(cfg); err != nil {
		return nil, err
	}
	if preset != "" {
		cfg.ApplyPreset(preset)
	}
	return cfg, nil
}

// openStore opens the history database, migrating it to the latest
// schema unless migrate is false.
func openStore(path string, migrate bool) (*db.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("no database configured; pass --db")
	}
	if !migrate {
		return db.OpenDB(path)
	}
	return db.NewDB(path)
}
