package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Granola-Team/mina-indexer-sub000/core"
	"github.com/Granola-Team/mina-indexer-sub000/pkg/config"
	"github.com/Granola-Team/mina-indexer-sub000/pkg/utils"
	"github.com/Granola-Team/mina-indexer-sub000/server"
	"github.com/Granola-Team/mina-indexer-sub000/store"
)

func main() {
	rootCmd := &cobra.Command{Use: "mina-indexerd"}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(replayCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded .env")
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(level)
	}
	return cfg
}

func openState(cfg *config.Config) (*core.IndexerState, *store.IndexerStore) {
	db, err := store.Open(utils.EnvOrDefault("MINA_INDEXER_DB_PATH", cfg.Storage.DBPath))
	if err != nil {
		logrus.Fatalf("open store: %v", err)
	}

	stateConfig := core.NewIndexerStateConfig(
		loadGenesisLedger(cfg), db,
		cfg.Indexer.CanonicalThreshold,
		cfg.Indexer.TransitionFrontierLength,
		cfg.Indexer.DoNotIngestOrphanBlocks,
	)
	if cfg.Network.GenesisStateHash != "" {
		stateConfig.GenesisHash = core.StateHash(cfg.Network.GenesisStateHash)
	}
	if cfg.Indexer.CanonicalUpdateThreshold > 0 {
		stateConfig.CanonicalUpdateThreshold = cfg.Indexer.CanonicalUpdateThreshold
	}
	if cfg.Indexer.PruneInterval > 0 {
		stateConfig.PruneInterval = cfg.Indexer.PruneInterval
	}
	if cfg.Indexer.LedgerCadence > 0 {
		stateConfig.LedgerCadence = cfg.Indexer.LedgerCadence
	}
	if cfg.Indexer.ReportingFreq > 0 {
		stateConfig.ReportingFreq = cfg.Indexer.ReportingFreq
	}

	// an existing best block means we restart from the database
	var state *core.IndexerState
	if _, _, err := db.GetBestBlock(); err == nil {
		state = core.NewIndexerStateWithoutGenesisEvents(stateConfig)
		if _, err := state.SyncFromDB(); err != nil {
			logrus.Fatalf("sync from db: %v", err)
		}
		logrus.Infof("Synced from db: best tip %s", state.BestTipBlock().Summary())
	} else {
		state, err = core.NewIndexerState(stateConfig)
		if err != nil {
			logrus.Fatalf("initialize state: %v", err)
		}
		if cfg.Indexer.BlocksDir != "" {
			parser, err := core.NewBlockParser(cfg.Indexer.BlocksDir, stateConfig.CanonicalThreshold)
			if err != nil {
				logrus.Fatalf("block parser: %v", err)
			}
			if err := state.InitializeWithCanonicalChainDiscovery(parser); err != nil {
				logrus.Fatalf("ingest blocks: %v", err)
			}
		}
	}

	if cfg.Indexer.StakingLedgersDir != "" {
		if err := state.AddStartupStakingLedgers(cfg.Indexer.StakingLedgersDir); err != nil {
			logrus.Fatalf("staking ledgers: %v", err)
		}
	}
	return state, db
}

func loadGenesisLedger(cfg *config.Config) *core.Ledger {
	ledger := core.NewLedger()
	if cfg.Network.GenesisLedger == "" {
		return ledger
	}
	data, err := os.ReadFile(cfg.Network.GenesisLedger)
	if err != nil {
		logrus.Fatalf("read genesis ledger: %v", err)
	}
	if err := ledger.UnmarshalJSON(data); err != nil {
		logrus.Fatalf("parse genesis ledger: %v", err)
	}
	return ledger
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "run the indexer daemon",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			state, db := openState(cfg)

			var mu sync.RWMutex
			socketPath := utils.EnvOrDefault("MINA_INDEXER_SOCKET", cfg.Server.SocketPath)
			srv := server.New(&mu, state, db, db, socketPath)
			go func() {
				if err := srv.Run(); err != nil {
					logrus.Fatalf("domain socket server: %v", err)
				}
			}()

			var httpSrv *server.HTTPServer
			if cfg.Server.HTTPAddr != "" {
				httpSrv = server.NewHTTPServer(cfg.Server.HTTPAddr, &mu, state, db)
				go func() {
					logrus.Infof("HTTP server listening on %s", cfg.Server.HTTPAddr)
					if err := httpSrv.Start(); err != nil {
						logrus.Warnf("http server: %v", err)
					}
				}()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				logrus.Infof("%s received", sig)
			case <-srv.Shutdown:
				logrus.Info("Shutdown requested by client")
			}

			srv.Close()
			if httpSrv != nil {
				_ = httpSrv.Stop()
			}
			if err := db.Close(); err != nil {
				logrus.Errorf("close store: %v", err)
				os.Exit(1)
			}
			logrus.Info("Indexer shutdown gracefully")
		},
	}
}

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "replay the event log against the store and verify consistency",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			db, err := store.Open(utils.EnvOrDefault("MINA_INDEXER_DB_PATH", cfg.Storage.DBPath))
			if err != nil {
				logrus.Fatalf("open store: %v", err)
			}
			defer db.Close()

			stateConfig := core.NewIndexerStateConfig(
				loadGenesisLedger(cfg), db,
				cfg.Indexer.CanonicalThreshold,
				cfg.Indexer.TransitionFrontierLength,
				cfg.Indexer.DoNotIngestOrphanBlocks,
			)
			state := core.NewIndexerStateWithoutGenesisEvents(stateConfig)
			maxCanonical, err := state.ReplayEvents()
			if err != nil {
				logrus.Fatalf("replay: %v", err)
			}
			logrus.Infof("Replay finished: max canonical height %d", maxCanonical)
		},
	}
}
