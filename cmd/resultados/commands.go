package main

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"resultados/internal/api"
	"resultados/internal/catalog"
	"resultados/internal/exporter"
	"resultados/internal/fetcher"
	"resultados/internal/sampler"
	"resultados/internal/storage"
)

func (a *app) client() *api.Client {
	return api.NewClient(a.cfg.BaseURL,
		api.WithTimeout(a.cfg.HTTPTimeout()),
		api.WithUserAgent(a.cfg.UserAgent),
		api.WithLogger(a.logger))
}

func (a *app) loader(client *api.Client) *catalog.Loader {
	return catalog.NewLoader(client, a.cfg.Paths().Catalog, a.logger)
}

func (a *app) errorLog() *fetcher.ErrorLog {
	paths := a.cfg.Paths()
	return fetcher.NewErrorLog(paths.ErrorIDs, paths.ErrorRecords)
}

func (a *app) fetcher(client *api.Client) *fetcher.Fetcher {
	return fetcher.New(client, a.cfg.Paths().Results, a.errorLog(), a.logger)
}

// runPipeline is the default command: catalog, sample, fetch, export
func (a *app) runPipeline(cmd *cobra.Command, args []string) error {
	fraction, err := cast.ToFloat64E(args[0])
	if err != nil {
		return fmt.Errorf("fraction must be a number: %q", args[0])
	}
	if err := sampler.ValidateFraction(fraction); err != nil {
		return err
	}

	ctx := cmd.Context()
	client := a.client()

	cat, err := a.loader(client).EnsureAndLoad(ctx)
	if err != nil {
		return err
	}
	stations, err := cat.PollingStations(a.cfg.ElectionIndex)
	if err != nil {
		return err
	}

	sample, err := sampler.Sample(stations, fraction, sampler.NewRand(a.cfg.Seed))
	if err != nil {
		return err
	}
	a.logger.Info("stations sampled",
		zap.Int("polling_stations", len(stations)),
		zap.Float64("fraction", fraction),
		zap.Int("sampled", len(sample)))

	if _, err := a.fetcher(client).FetchAll(ctx, sample); err != nil {
		return err
	}
	return a.export()
}

func (a *app) export() error {
	paths := a.cfg.Paths()
	rows, err := exporter.New(paths.Results, paths.Export, a.logger).Export()
	if err != nil {
		return err
	}

	if a.cfg.PocketBaseDir == "" {
		return nil
	}
	store, err := storage.NewPocketBaseStore(a.cfg.PocketBaseDir, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.ReplaceRows(rows)
}

func (a *app) electionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "elections",
		Short: "List the elections in the nomenclator with their index",
		Long: `Lists every election of the nomenclator. The number on the left is the
value to pass as --election-index; the configured one is marked with '*'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.loader(a.client()).EnsureAndLoad(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, e := range cat.Elections {
				desc, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("failed to encode election %d: %w", i, err)
				}
				mark := " "
				if i == a.cfg.ElectionIndex {
					mark = "*"
				}
				fmt.Fprintf(out, "%s%3d  %s\n", mark, i, desc)
			}
			return nil
		},
	}
}

func (a *app) fetchCmd() *cobra.Command {
	var fromErrors bool

	cmd := &cobra.Command{
		Use:   "fetch [codes...]",
		Short: "Download specific polling stations",
		Long: `Downloads the given station codes. With --from-errors the codes recorded
in data/errors/ids.txt are fetched as well. Codes that fail again are
appended to the error log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := append([]string(nil), args...)
			if fromErrors {
				logged, err := a.errorLog().Codes()
				if err != nil {
					return err
				}
				codes = append(codes, logged...)
			}
			if len(codes) == 0 {
				return errors.New("no station codes given")
			}

			report, err := a.fetcher(a.client()).FetchCodes(cmd.Context(), codes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d, failed %d, skipped %d\n", report.Saved, report.Failed, report.Skipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromErrors, "from-errors", false, "also fetch the codes in the error log")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Flatten the downloaded results into the CSV export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.export()
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	var writePath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if writePath != "" {
				return a.cfg.Save(writePath)
			}
			data, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&writePath, "write", "", "write the configuration to this file instead")
	return cmd
}
