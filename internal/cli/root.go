// Package cli wires the rccrawler commands together.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gocloud.dev/blob"

	"rccrawler/internal/browser"
	"rccrawler/internal/captcha"
	"rccrawler/internal/config"
	"rccrawler/internal/crawler"
	"rccrawler/internal/logging"
	"rccrawler/internal/middleware"
)

// app carries what the commands share. Config and logging are set up on
// first use so commands like tasks work without a valid environment.
type app struct {
	envFiles  []string
	cfg       *config.Config
	logCloser io.Closer
}

func (a *app) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return nil, err
	}
	closer, err := logging.Open(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a.cfg, a.logCloser = cfg, closer
	return cfg, nil
}

func (a *app) close() {
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

// NewRootCmd builds the rccrawler command tree
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "rccrawler",
		Short:         "crawl e-commerce and video search platforms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "env files to load (default .env)")

	root.AddCommand(
		newCrawlCmd(a),
		newServeCmd(a),
		newProxiesCmd(a),
		newTesseractCmd(a),
		newTasksCmd(),
	)
	return root
}

// Execute runs the command line and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	defer a.close()
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// crawlResources are the run settings derived from the config
type crawlResources struct {
	template crawler.RunConfig
	bucket   *blob.Bucket
}

func (r *crawlResources) Close() error {
	if r.bucket != nil {
		return r.bucket.Close()
	}
	return nil
}

func newCrawlResources(ctx context.Context, cfg *config.Config, usePages bool) (*crawlResources, error) {
	solver, err := newSolver(cfg)
	if err != nil {
		return nil, err
	}

	var proxies []string
	if cfg.ProxyList != "" {
		f, err := os.Open(cfg.ProxyList)
		if err != nil {
			return nil, fmt.Errorf("failed to open proxy list: %w", err)
		}
		proxies, err = browser.LoadProxies(f)
		f.Close()
		if err != nil {
			return nil, err
		}
	}

	res := &crawlResources{
		template: crawler.RunConfig{
			NumScrapers:    cfg.NumScrapers,
			Solver:         solver,
			AgentPool:      browser.NewAgentPool(proxies),
			RequestTimeout: cfg.RequestTimeout,
		},
	}
	if usePages {
		bucket, err := middleware.OpenBucket(ctx, cfg.PageBucket)
		if err != nil {
			return nil, err
		}
		res.bucket = bucket
		res.template.PageBucket = bucket
	}
	return res, nil
}

func newSolver(cfg *config.Config) (captcha.Solver, error) {
	switch cfg.CaptchaSolver {
	case config.SolverTesseract:
		s := captcha.NewTesseractSolver(cfg.TesseractPSM, cfg.CaptchaDelay)
		s.TessdataDir = cfg.TessdataDir
		return s, nil
	case config.SolverAntiCaptcha:
		return captcha.NewAntiCaptchaSolver(cfg.AntiCaptchaKey), nil
	default:
		return nil, errors.New("unknown captcha solver: " + cfg.CaptchaSolver)
	}
}
