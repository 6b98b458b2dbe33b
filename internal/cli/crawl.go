package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rccrawler/internal/crawler"
	"rccrawler/internal/models"
	"rccrawler/internal/platform"
	"rccrawler/internal/storage"
)

func newCrawlCmd(a *app) *cobra.Command {
	var (
		numScrapers  int
		runTimestamp int64
		noPages      bool
	)
	cmd := &cobra.Command{
		Use:   "crawl <platform> [keyword-file]",
		Short: "crawl a platform for the keywords in keyword-file, one per line (- for stdin)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			p, err := platform.NewRegistry().Get(args[0])
			if err != nil {
				return err
			}

			var keywords []string
			if len(args) == 2 {
				if keywords, err = readKeywordFile(cmd, args[1]); err != nil {
					return err
				}
			}

			res, err := newCrawlResources(cmd.Context(), cfg, !noPages)
			if err != nil {
				return err
			}
			defer res.Close()

			store, err := storage.NewPocketBaseStore(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()

			runCfg := res.template
			runCfg.Platform = p
			runCfg.Keywords = keywords
			runCfg.Store = store
			runCfg.RunTimestamp = runTimestamp
			if cmd.Flags().Changed("num-scrapers") {
				runCfg.NumScrapers = numScrapers
			}

			run, err := crawler.Run(cmd.Context(), runCfg)
			if run != nil {
				printSummary(cmd.OutOrStdout(), run)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&numScrapers, "num-scrapers", "n", 1, "number of concurrent scrapers (default NUM_SCRAPERS)")
	cmd.Flags().Int64Var(&runTimestamp, "run-timestamp", 0, "reuse the pages saved by the run with this timestamp")
	cmd.Flags().BoolVar(&noPages, "no-pages", false, "neither save nor reuse fetched pages")
	return cmd
}

func readKeywordFile(cmd *cobra.Command, path string) ([]string, error) {
	if path == "-" {
		return crawler.ReadKeywords(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyword file: %w", err)
	}
	defer f.Close()
	return crawler.ReadKeywords(f)
}

func printSummary(w io.Writer, run *models.CrawlRun) {
	status := color.New(color.FgGreen, color.Bold)
	if run.Status != models.RunFinished {
		status = color.New(color.FgRed, color.Bold)
	}
	status.Fprintf(w, "run %s %s", run.ID, run.Status)
	fmt.Fprintf(w, " after %s\n", run.Finished.Sub(run.Started).Round(time.Millisecond))
	fmt.Fprintf(w, "  fetched %s, from saved pages %s, harvested %s\n",
		humanize.Comma(run.Stats.Fetched), humanize.Comma(run.Stats.FromCache), humanize.Comma(run.Stats.Harvested))
	fmt.Fprintf(w, "  failed %s, retried %s, anti scraping %s, captchas %s, agent switches %s\n",
		humanize.Comma(run.Stats.Failed), humanize.Comma(run.Stats.Retried), humanize.Comma(run.Stats.AntiScraping),
		humanize.Comma(run.Stats.Captchas), humanize.Comma(run.Stats.AgentSwitches))
	if run.Error != "" {
		color.New(color.FgRed).Fprintf(w, "  error: %s\n", run.Error)
	}
}
