package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/discovery"
	"github.com/sells-group/listing-radar/internal/monitoring"
)

var scrapeJSON bool

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one full scrape across all configured categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initDiscovery(ctx, "scrape")
		if err != nil {
			return err
		}
		defer env.Close()

		go func() {
			<-ctx.Done()
			env.Orchestrator.Halt()
		}()

		report, err := env.Orchestrator.FullScrape(ctx, discovery.TriggerManual)
		alerts := monitoring.NewAlerter(cfg.Monitoring)
		if sent := alerts.SendAlerts(cmd.Context(), alerts.Evaluate(report)); sent > 0 {
			zap.L().Info("alerts sent", zap.Int("count", sent))
		}
		if scrapeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
		} else {
			printReport(report)
		}
		return err
	},
}

var quickcheckCmd = &cobra.Command{
	Use:   "quickcheck [category]",
	Short: "Print the listing ids on page 1 of a category",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initDiscovery(cmd.Context(), "quickcheck")
		if err != nil {
			return err
		}
		defer env.Close()

		category := cfg.Discovery.QuickCheckCategory
		if len(args) == 1 {
			category = args[0]
		}
		ids, err := env.Orchestrator.QuickCheck(cmd.Context(), category)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		zap.L().Info("quick check complete", zap.String("category", category), zap.Int("ids", len(ids)))
		return nil
	},
}

func printReport(r discovery.CycleReport) {
	fmt.Printf("cycle %s (%s, %s) in %s\n", r.ID, r.Trigger, r.Mode, r.Duration().Round(time.Millisecond))
	for _, c := range r.Categories {
		fmt.Printf("  %-12s pages=%d failed=%d new=%d updated=%d drops=%d dups=%d",
			c.Category, c.PagesFetched, c.PagesFailed,
			c.Outcomes[discovery.OutcomeNew], c.Outcomes[discovery.OutcomeUpdated],
			c.PriceDrops, c.Duplicates)
		if c.HitSafetyLimit {
			fmt.Print(" safety-limit")
		}
		if c.Err != "" {
			fmt.Printf(" error=%q", c.Err)
		}
		fmt.Println()
	}
	if r.Aborted {
		fmt.Println("  cycle aborted")
	}
}

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeJSON, "json", false, "print the cycle report as JSON")
	rootCmd.AddCommand(scrapeCmd, quickcheckCmd)
}
