package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/banshee-data/scansim/internal/db"
	"github.com/banshee-data/scansim/internal/lidar/storage/sqlite"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List recorded scan runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openStore(g.dbPath, true)
			if err != nil {
				return err
			}
			defer d.Close()
			store := sqlite.NewScanRunStore(d.DB)
			w := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := store.Get(args[0])
				if err != nil {
					return err
				}
				printRun(cmd, run)
				return nil
			}

			runs, err := store.ListRecent(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(w, "no scan runs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tLABEL\tPRESET\tFRAMES\tRAYS\tPOINTS\tELAPSED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					shortID(r.RunID), humanize.Time(r.StartedAt), r.Label, r.Preset, r.FramesScanned,
					humanize.Comma(int64(r.RaysCast)), humanize.Comma(int64(r.Stats.TotalPoints)), r.Elapsed)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func printRun(cmd *cobra.Command, r *sqlite.ScanRun) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run:      %s\n", r.RunID)
	fmt.Fprintf(w, "Started:  %s (%s)\n", r.StartedAt.Format("2006-01-02 15:04:05"), humanize.Time(r.StartedAt))
	if r.Label != "" {
		fmt.Fprintf(w, "Label:    %s\n", r.Label)
	}
	fmt.Fprintf(w, "Preset:   %s  Seed: %d\n", r.Preset, r.Seed)
	if r.Animated {
		fmt.Fprintf(w, "Frames:   %d scanned", r.FramesScanned)
		if len(r.FramesSkipped) > 0 {
			fmt.Fprintf(w, ", skipped %v", r.FramesSkipped)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Rays:     %s  Points: %s  Elapsed: %s\n",
		humanize.Comma(int64(r.RaysCast)), humanize.Comma(int64(r.Stats.TotalPoints)), r.Elapsed)
	for _, e := range r.Exports {
		switch {
		case e.Unavailable:
			fmt.Fprintf(w, "  %-7s unavailable\n", e.Format)
		case e.Error != "":
			fmt.Fprintf(w, "  %-7s FAILED: %s\n", e.Format, e.Error)
		default:
			fmt.Fprintf(w, "  %-7s %s (%s)\n", e.Format, e.Path, humanize.Bytes(uint64(e.Bytes)))
		}
	}
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func newDBCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the scan history database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openStore(g.dbPath, false)
			if err != nil {
				return err
			}
			defer d.Close()
			status, err := d.GetMigrationStatus()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d of %d (dirty=%v, pending=%v)\n",
				status.CurrentVersion, status.LatestVersion, status.Dirty, status.Pending())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openStore(g.dbPath, false)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.MigrateUp(); err != nil {
				return err
			}
			return printVersion(cmd, d)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openStore(g.dbPath, false)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.MigrateDown(); err != nil {
				return err
			}
			return printVersion(cmd, d)
		},
	})
	return cmd
}

func printVersion(cmd *cobra.Command, d *db.DB) error {
	v, _, err := d.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}
