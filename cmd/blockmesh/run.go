package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iturovskiy/blockmesh/config"
	"github.com/iturovskiy/blockmesh/core"
	"github.com/iturovskiy/blockmesh/events"
	"github.com/iturovskiy/blockmesh/indexer"
	"github.com/iturovskiy/blockmesh/rpc"
	"github.com/iturovskiy/blockmesh/storage"
	"github.com/iturovskiy/blockmesh/timeserver"
)

// newRunCmd starts a single storage node from a config file: restores it
// from its HEAD record when one exists, attaches the configured
// participants, serves the RPC endpoint and drives consensus rounds until
// interrupted.
func newRunCmd() *cobra.Command {
	var (
		cfgPath  string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a storage node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return runNode(cfg, interval)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "consensus round interval")
	return cmd
}

func runNode(cfg *config.Config, interval time.Duration) error {
	lg := logrus.StandardLogger()
	clock := timeserver.System{}
	emitter := events.NewEmitter(lg)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stg, err := openStorage(cfg, store, clock, emitter, lg)
	if err != nil {
		return err
	}

	for _, p := range cfg.Participants {
		ustore, err := storage.NewFileStore(p.Dir)
		if err != nil {
			return err
		}
		if _, err := ustore.GetHead(); err == nil {
			_, err = core.LoadUser(ustore, stg, lg)
		} else {
			_, err = core.NewUser(core.Mode(cfg.Mode), ustore, p.Addr, p.Sign, stg, "", lg)
		}
		if err != nil {
			return fmt.Errorf("participant %s: %w", p.Addr, err)
		}
	}

	idxdb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "index"))
	if err != nil {
		return err
	}
	defer idxdb.Close()
	idx := indexer.New(idxdb, emitter, lg)

	srv := rpc.NewServer(fmt.Sprintf(":%d", cfg.RPCPort), rpc.NewHandler(stg, idx), cfg.RPCAuthToken, lg)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("rpc: %w", err)
	}
	defer srv.Stop()
	lg.WithFields(logrus.Fields{"node": cfg.NodeID, "rpc": srv.Addr()}).Info("node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	round := 0
	for {
		select {
		case <-ticker.C:
			round++
			stg.PerformStep1()
			if err := stg.PerformStep2(round); err != nil {
				lg.WithError(err).Error("commit round")
			}
		case <-sigCh:
			lg.Info("shutting down")
			return stg.SaveState()
		}
	}
}

func openStore(cfg *config.Config) (core.BlockStore, error) {
	switch cfg.Store {
	case "leveldb":
		db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "blocks"))
		if err != nil {
			return nil, err
		}
		return storage.NewLevelStore(db), nil
	default:
		return storage.NewFileStore(cfg.DataDir)
	}
}

func openStorage(cfg *config.Config, store core.BlockStore, clock timeserver.Source,
	emitter *events.Emitter, lg *logrus.Logger) (*core.Storage, error) {
	if _, err := store.GetHead(); err == nil {
		return core.LoadStorage(cfg.NodeID, store, clock, nil, emitter, lg, nil, nil)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	return core.NewStorage(cfg.NodeID, core.Mode(cfg.Mode), store, clock, nil, emitter, lg)
}
