package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/dedup"
	"github.com/sells-group/listing-radar/internal/export"
	"github.com/sells-group/listing-radar/internal/model"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		zap.L().Info("schema up to date", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Scan every ungrouped listing for cross-portal duplicates",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), "dedup")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := dedup.NewDetector(st, dedupConfig(cfg.Dedup)).ScanAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("scanned=%d skipped=%d grouped=%d\n", res.Scanned, res.Skipped, res.Grouped)
		return nil
	},
}

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or reset pagination cursors",
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored cursor of every category",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), "cursor")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lines, err := cursorLines(cmd.Context(), st)
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Println(l)
		}
		return nil
	},
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset <category>...",
	Short: "Delete cursors so the next scrape runs a baseline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), "cursor")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, category := range args {
			if err := st.DeleteCursor(cmd.Context(), category); err != nil {
				return err
			}
			zap.L().Info("cursor reset", zap.String("category", category))
		}
		return nil
	},
}

type cursorLister interface {
	ListCursors(ctx context.Context) (map[string]string, error)
}

// cursorLines renders the stored cursors, one category per line, sorted.
func cursorLines(ctx context.Context, st cursorLister) ([]string, error) {
	cursors, err := st.ListCursors(ctx)
	if err != nil {
		return nil, err
	}
	categories := make([]string, 0, len(cursors))
	for c := range cursors {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	lines := make([]string, 0, len(categories))
	for _, c := range categories {
		lines = append(lines, fmt.Sprintf("%s\t%s", c, cursors[c]))
	}
	if len(lines) == 0 {
		lines = append(lines, "no cursors stored; the next scrape runs in baseline mode")
	}
	return lines, nil
}

var (
	exportOut      string
	exportCategory string
	exportRegion   string
	exportMinScore int
	exportGold     bool
	exportPrimary  bool
	exportSince    time.Duration
	exportLimit    int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the scored listing feed to an XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOut == "" {
			return eris.New("export: --out is required")
		}
		st, err := openStore(cmd.Context(), "export")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := export.WriteXLSX(cmd.Context(), st, exportOut, export.Options{Filter: exportFilter(time.Now().UTC())})
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d listings to %s\n", n, exportOut)
		return nil
	},
}

// exportFilter builds the listing filter from the export flags.
func exportFilter(now time.Time) model.ListingFilter {
	f := model.ListingFilter{
		Category:    exportCategory,
		Region:      exportRegion,
		GoldOnly:    exportGold,
		PrimaryOnly: exportPrimary,
		Limit:       exportLimit,
	}
	if exportMinScore > 0 {
		score := exportMinScore
		f.MinScore = &score
	}
	if exportSince > 0 {
		after := now.Add(-exportSince)
		f.ChangedAfter = &after
	}
	return f
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output .xlsx path")
	exportCmd.Flags().StringVar(&exportCategory, "category", "", "only this category")
	exportCmd.Flags().StringVar(&exportRegion, "region", "", "only this region")
	exportCmd.Flags().IntVar(&exportMinScore, "min-score", 0, "minimum quality score")
	exportCmd.Flags().BoolVar(&exportGold, "gold", false, "only gold finds")
	exportCmd.Flags().BoolVar(&exportPrimary, "primary", true, "only primary listings of duplicate groups")
	exportCmd.Flags().DurationVar(&exportSince, "since", 0, "only listings changed within this window, e.g. 72h")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "maximum rows (0 = all)")

	cursorCmd.AddCommand(cursorShowCmd, cursorResetCmd)
	rootCmd.AddCommand(migrateCmd, dedupCmd, cursorCmd, exportCmd)
}
