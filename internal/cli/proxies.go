package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rccrawler/internal/browser"
	"rccrawler/internal/proxytest"
)

func newProxiesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "manage proxy lists",
	}

	tester := proxytest.NewTester()
	test := &cobra.Command{
		Use:   "test <proxy-file>",
		Short: "print the proxies of proxy-file that work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.config(); err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open proxy list: %w", err)
			}
			proxies, err := browser.LoadProxies(f)
			f.Close()
			if err != nil {
				return err
			}

			good := color.New(color.FgGreen)
			found, err := tester.Run(cmd.Context(), proxies, func(proxy string) {
				good.Fprintln(cmd.OutOrStdout(), proxy)
			})
			if err != nil {
				return err
			}
			color.New(color.Faint).Fprintf(cmd.ErrOrStderr(), "%d of %d proxies are good\n", len(found), len(proxies))
			return nil
		},
	}
	test.Flags().IntVarP(&tester.Workers, "workers", "w", proxytest.DefaultWorkers, "concurrent proxy tests")
	test.Flags().DurationVar(&tester.Timeout, "timeout", proxytest.DefaultTimeout, "timeout per test request")
	test.Flags().StringSliceVar(&tester.URLs, "url", proxytest.DefaultURLs, "urls every proxy is tried against")

	cmd.AddCommand(test)
	return cmd
}
