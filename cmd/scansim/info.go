package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/seqsense/pcgol/pc"
	"github.com/spf13/cobra"

	"github.com/banshee-data/scansim/internal/config"
	"github.com/banshee-data/scansim/internal/lidar"
	"github.com/banshee-data/scansim/internal/version"
)

func newEstimateCmd() *cobra.Command {
	var configPath, preset string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Print the number of rays one sweep would cast",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadDocument(configPath)
			if err != nil {
				return err
			}
			cfg, err := settingsFromDocument(doc, preset)
			if err != nil {
				return err
			}
			s := cfg.Snapshot()
			rays := s.EstimatedRays()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Estimated rays: %s (%.1f deg x %.1f deg at %.2f x %.2f)\n",
				humanize.Comma(int64(rays)), s.FOVH, s.FOVV, s.ResolutionH, s.ResolutionV)
			if p, ok := lidar.LookupPreset(s.Preset); ok && p.PointsPerSecond > 0 {
				secs := float64(rays) / float64(p.PointsPerSecond)
				fmt.Fprintf(w, "At %s points/s (%s): %.3f s per sweep\n",
					humanize.Comma(int64(p.PointsPerSecond)), p.Name, secs)
			}
			if s.Animation.Enabled {
				frames := (s.Animation.FrameEnd-s.Animation.FrameStart)/s.Animation.FrameStep + 1
				fmt.Fprintf(w, "Animation: %d frames, %s rays total\n",
					frames, humanize.Comma(int64(rays)*int64(frames)))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "scan document (.json, .yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "sensor preset, overriding the document")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the sensor preset catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tCHANNELS\tFOV (deg)\tRANGE (m)\tRAYS\tPOINTS/S")
			for _, p := range lidar.Presets() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%gx%g\t%g-%g\t%s\t%s\n",
					p.Key, p.Name, p.Channels, p.FOVH, p.FOVV, p.RangeMin, p.RangeMax,
					humanize.Comma(int64(p.EstimatedRays())), humanize.Comma(int64(p.PointsPerSecond)))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\ncatalog %s, default %s\n", lidar.PresetCatalogVersion, lidar.DefaultPresetKey)
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with scan documents",
	}

	var configPath, preset, outPath string
	var asYAML bool
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the clamped configuration as a scan document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadDocument(configPath)
			if err != nil {
				return err
			}
			cfg, err := settingsFromDocument(doc, preset)
			if err != nil {
				return err
			}
			out := config.DocumentFromConfig(cfg.Snapshot(), doc.Scene)

			if outPath == "" {
				if asYAML {
					return out.WriteYAML(cmd.OutOrStdout())
				}
				return out.WriteJSON(cmd.OutOrStdout())
			}

			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			switch ext := strings.ToLower(filepath.Ext(outPath)); {
			case asYAML || ext == ".yaml" || ext == ".yml":
				err = out.WriteYAML(f)
			default:
				err = out.WriteJSON(f)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", outPath)
			return f.Close()
		},
	}
	exportCmd.Flags().StringVarP(&configPath, "config", "c", "", "scan document to start from")
	exportCmd.Flags().StringVar(&preset, "preset", "", "sensor preset to apply")
	exportCmd.Flags().StringVarP(&outPath, "output", "o", "", "output file (default: stdout)")
	exportCmd.Flags().BoolVar(&asYAML, "yaml", false, "write YAML instead of JSON")

	cmd.AddCommand(exportCmd)
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE.pcd",
		Short: "Print the header of a PCD file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			cloud, err := pc.Unmarshal(f)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "File:   %s (%s)\n", args[0], humanize.Bytes(uint64(info.Size())))
			fmt.Fprintf(w, "Fields: %s\n", strings.Join(cloud.Fields, " "))
			fmt.Fprintf(w, "Size:   %d x %d\n", cloud.Width, cloud.Height)
			fmt.Fprintf(w, "Points: %s\n", humanize.Comma(int64(cloud.Points)))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
