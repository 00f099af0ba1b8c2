package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"resultados/internal/config"
	"resultados/internal/logging"
)

// app carries the flags and the state built before a command runs
type app struct {
	configPath    string
	dataDir       string
	baseURL       string
	electionIndex int
	seed          uint64
	timeout       time.Duration
	pocketBaseDir string
	verbose       bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "resultados <fraction>",
		Short: "Download polling station results and export them as CSV",
		Long: `Downloads the nomenclator of resultados.gob.ar, samples the given fraction
of the presidential election's polling stations (mesas), stores each station's
result as data/jsons/<id>.json and flattens everything into data/data.csv.

Stations that fail are appended to data/errors/ids.txt and can be fetched
again later with "resultados fetch --from-errors".

Example:
  resultados 0.001`,
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: a.runPipeline,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file")
	flags.StringVar(&a.dataDir, "data-dir", config.DefaultDataDir, "directory for the catalog, results and export")
	flags.StringVar(&a.baseURL, "base-url", config.DefaultBaseURL, "results site base URL")
	flags.IntVar(&a.electionIndex, "election-index", config.DefaultPresidentialIndex, "position of the election in the nomenclator (see 'resultados elections')")
	flags.Uint64Var(&a.seed, "seed", 0, "sampling seed, 0 for a random one")
	flags.DurationVar(&a.timeout, "timeout", 30*time.Second, "HTTP request timeout")
	flags.StringVar(&a.pocketBaseDir, "pocketbase-dir", "", "also store the export in a PocketBase data dir")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.electionsCmd(),
		a.fetchCmd(),
		a.exportCmd(),
		a.configCmd(),
	)
	return root
}

// setup loads the configuration (defaults, file, .env, environment, flags) and the logger
func (a *app) setup(cmd *cobra.Command, args []string) error {
	// usage is only useful for argument errors, which cobra reports before this hook
	cmd.SilenceUsage = true

	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = a.dataDir
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = a.baseURL
	}
	if flags.Changed("election-index") {
		cfg.ElectionIndex = a.electionIndex
	}
	if flags.Changed("seed") {
		cfg.Seed = a.seed
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.timeout.String()
	}
	if flags.Changed("pocketbase-dir") {
		cfg.PocketBaseDir = a.pocketBaseDir
	}
	if flags.Changed("verbose") {
		cfg.Verbose = a.verbose
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	if a.logger == nil {
		logger, err := logging.New(cfg.Verbose)
		if err != nil {
			return err
		}
		a.logger = logger
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
