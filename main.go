package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banachtech/riskcube/aggregation"
	"github.com/banachtech/riskcube/api"
	"github.com/banachtech/riskcube/config"
	"github.com/banachtech/riskcube/cube"
	"github.com/banachtech/riskcube/db"
	"github.com/banachtech/riskcube/logger"
	"github.com/banachtech/riskcube/mainfuncs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	cfg *config.Config
	log *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "riskcube",
	Short:         "Monte Carlo exposure simulation",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		log, err = logger.New(cfg.Logging.Level, cfg.Logging.Format)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./riskcube.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	simulateCmd.Flags().String("out", "", "write the json report here instead of stdout")
	simulateCmd.Flags().String("cube-out", "", "write the npv cube as csv")
	serveCmd.Flags().String("bootstrap-email", "admin@localhost", "owner of the key issued for the in-memory store")
	keygenCmd.Flags().String("email", "", "owner of the new key")
	keygenCmd.Flags().Duration("validity", 180*24*time.Hour, "how long the key stays valid")
	_ = keygenCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(versionCmd, simulateCmd, cvaCmd, serveCmd, keygenCmd, cubeCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("riskcube %s\n", version)
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Build the npv cube for the configured portfolio and aggregate it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out, err := mainfuncs.Simulate(ctx, cfg, log, mainfuncs.Options{Progress: os.Stderr})
		if err != nil {
			return err
		}
		if path, _ := cmd.Flags().GetString("cube-out"); path != "" {
			if err := cube.WriteCSVFile(path, out.Cube, out.NettingSets); err != nil {
				return err
			}
			log.Info("cube written", zap.String("path", path))
		}

		var w io.Writer = os.Stdout
		if path, _ := cmd.Flags().GetString("out"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return out.Report.WriteJSON(w)
	},
}

var cvaCmd = &cobra.Command{
	Use:   "cva",
	Short: "CVA and its CDS spread sensitivities for the configured netting set",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		run := *cfg
		run.CVA.Enabled = true
		run.Credit.Enabled, run.DIM.Enabled, run.VaR.Enabled = false, false, false
		out, err := mainfuncs.Simulate(ctx, &run, log, mainfuncs.Options{Progress: os.Stderr})
		if err != nil {
			return err
		}
		c := out.Report.CVA
		fmt.Printf("netting set %s CVA %.6f\n", c.NettingSet, c.CVA)
		for i, t := range c.Times {
			fmt.Printf("%8.4fy  dCVA/dh %14.6f  dCVA/ds %14.6f\n", t, c.Hazard[i], c.Spread[i])
		}
		return nil
	},
}

func openStore(ctx context.Context) (db.Store, func() error, error) {
	switch cfg.DB.Driver {
	case "postgres":
		store, err := db.Open(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return db.NewMemStore(), func() error { return nil }, nil
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve simulations over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return fmt.Errorf("cannot connect to db: %w", err)
		}
		defer closeStore()

		if mem, ok := store.(*db.MemStore); ok {
			email, _ := cmd.Flags().GetString("bootstrap-email")
			key, record, err := api.GenerateAPIKey(email, 24*time.Hour)
			if err != nil {
				return err
			}
			mem.AddAPIKey(record)
			fmt.Fprintf(os.Stderr, "in-memory store, api key for this session: %s\n", key)
		}

		server := api.NewServer(store, *cfg, log)
		log.Info("starting server", zap.String("address", cfg.API.Address), zap.String("db", cfg.DB.Driver))
		return server.Start(cfg.API.Address)
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Issue an api key into the postgres store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DB.Driver != "postgres" {
			return errors.New("keygen needs db.driver postgres, in-memory keys are issued by serve")
		}
		email, _ := cmd.Flags().GetString("email")
		validity, _ := cmd.Flags().GetDuration("validity")
		key, record, err := api.GenerateAPIKey(email, validity)
		if err != nil {
			return err
		}
		store, err := db.Open(cmd.Context(), cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("cannot connect to db: %w", err)
		}
		defer store.Close()
		if err := store.InsertAPIKey(cmd.Context(), record); err != nil {
			return err
		}
		fmt.Printf("api key: %s\nexpires: %s\n", key, record.ExpiredAt.Format(time.RFC3339))
		return nil
	},
}

var cubeCmd = &cobra.Command{
	Use:   "cube [file]",
	Short: "Summarise a csv npv cube",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, netting, err := cube.ReadCSVFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("asof %s, %d trades, %d dates, %d samples, depth %d\n",
			c.Asof().Format("2006-01-02"), c.NumIDs(), c.NumDates(), c.Samples(), c.Depth())
		netted := aggregation.NewNettedExposureCalculator(c, netting, 0, log)
		if err := netted.Build(cmd.Context()); err != nil {
			return err
		}
		for _, ns := range netted.NettedCube().IDs() {
			epe, err := netted.EPE(ns)
			if err != nil {
				return err
			}
			fmt.Printf("%s EPE %v\n", ns, epe)
		}
		return nil
	},
}
