package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/careflow/akimon/internal/config"
	"github.com/careflow/akimon/internal/metrics"
	"github.com/careflow/akimon/internal/mllp"
	"github.com/careflow/akimon/internal/pager"
	"github.com/careflow/akimon/internal/predict"
	"github.com/careflow/akimon/internal/server"
	"github.com/careflow/akimon/internal/service"
	"github.com/careflow/akimon/internal/store"
)

var (
	flagHistory string
	flagDebug   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the alerting service",
	Long: `Run connects to the hospital MLLP feed and processes messages until
interrupted. State survives restarts via the on-disk snapshot and the
persistent pager queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagHistory != "" {
			cfg.Store.HistoryPath = flagHistory
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mllpHost, mllpPort, err := config.SplitAddress(cfg.MLLP.Address)
		if err != nil {
			return err
		}
		pagerHost, pagerPort, err := config.SplitAddress(cfg.Pager.Address)
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.Store.SnapshotPath, cfg.Store.HistoryPath, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		tree, err := predict.Load(cfg.Model.Path)
		if err != nil {
			return err
		}

		pg, err := pager.New(pagerHost, pagerPort, cfg.Store.PagerQueuePath, logger)
		if err != nil {
			return err
		}

		registry := metrics.NewRegistry()
		collector := metrics.NewCollector(registry)
		defer collector.Close()
		collector.SetPagerBacklog(pg.QueueLen())

		persister, err := metrics.NewStatePersister(collector, logger)
		if err != nil {
			return err
		}
		persister.Start()
		defer persister.Stop()

		srv := server.New(collector, registry, &cfg, logger)
		srv.StartBackground(ctx, cfg.Metrics.Port)

		client := mllp.NewClient(mllpHost, mllpPort, logger)
		svc := service.New(client, st, tree, pg, collector, logger, flagDebug)

		logger.Info().
			Str("mllp", cfg.MLLP.Address).
			Str("pager", cfg.Pager.Address).
			Int("metrics_port", cfg.Metrics.Port).
			Msg("starting akimon")

		return svc.Run(ctx)
	},
}

func init() {
	runCmd.Flags().StringVar(&flagHistory, "history", "", "Path to the historical creatinine CSV (first start only)")
	runCmd.Flags().BoolVar(&flagDebug, "debug", false, "Record predicted positives to aki_predicted.csv on shutdown")
	rootCmd.AddCommand(runCmd)
}
