package main

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iturovskiy/blockmesh/core"
	"github.com/iturovskiy/blockmesh/events"
	"github.com/iturovskiy/blockmesh/storage"
	"github.com/iturovskiy/blockmesh/timeserver"
	"github.com/iturovskiy/blockmesh/wallet"
)

// newDemoCmd drives a small local mesh through consensus rounds: every
// participant transacts with its neighbour each round, then step 1 and
// step 2 run on every storage node.
func newDemoCmd() *cobra.Command {
	var (
		mode     string
		storages int
		users    int
		rounds   int
		dir      string
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a local blockmesh through a few consensus rounds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd, core.Mode(mode), storages, users, rounds, dir)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(core.Classic), "consensus mode: classic or modified")
	cmd.Flags().IntVar(&storages, "storages", 2, "number of storage nodes")
	cmd.Flags().IntVar(&users, "users", 4, "number of participants")
	cmd.Flags().IntVar(&rounds, "rounds", 3, "number of consensus rounds")
	cmd.Flags().StringVar(&dir, "dir", "./demo-mesh", "root directory for node data")
	return cmd
}

func runDemo(cmd *cobra.Command, mode core.Mode, nStg, nUsr, rounds int, dir string) error {
	if nStg < 1 || nUsr < 1 {
		return fmt.Errorf("need at least one storage node and one participant")
	}
	lg := logrus.StandardLogger()
	clock := timeserver.NewLogical(0)
	emitter := events.NewEmitter(lg)

	stgs := make([]*core.Storage, nStg)
	for i := range stgs {
		store, err := storage.NewFileStore(filepath.Join(dir, fmt.Sprintf("stg%d", i)))
		if err != nil {
			return err
		}
		stg, err := core.NewStorage(fmt.Sprintf("stg%d", i), mode, store, clock, nil, emitter, lg)
		if err != nil {
			return err
		}
		if i > 0 {
			if err := stg.JoinMesh(stgs[0]); err != nil {
				return err
			}
		}
		stgs[i] = stg
	}

	usrs := make([]*core.User, nUsr)
	for i := range usrs {
		w, err := wallet.Generate()
		if err != nil {
			return err
		}
		store, err := storage.NewFileStore(filepath.Join(dir, fmt.Sprintf("usr%d", i)))
		if err != nil {
			return err
		}
		u, err := core.NewUser(mode, store, w.Address(), w.SignTag(), stgs[i%nStg], "", lg)
		if err != nil {
			return err
		}
		usrs[i] = u
	}

	for round := 1; round <= rounds; round++ {
		for i, u := range usrs {
			peer := usrs[(i+1)%nUsr]
			if peer == u {
				continue
			}
			if _, err := u.Perform([]string{peer.Addr()}, map[string]any{"round": round}); err != nil {
				return fmt.Errorf("round %d, participant %s: %w", round, u.Addr(), err)
			}
		}
		for _, s := range stgs {
			s.PerformStep1()
		}
		for _, s := range stgs {
			if err := s.PerformStep2(round); err != nil {
				return fmt.Errorf("round %d, node %s: %w", round, s.ID(), err)
			}
		}
	}

	for _, s := range stgs {
		if err := s.SaveState(); err != nil {
			return err
		}
	}
	cmd.Printf("mesh after %d rounds: %d blocks on %s\n", rounds, stgs[0].BlockCount(), stgs[0].ID())
	for addr, head := range stgs[0].Heads() {
		cmd.Printf("  %s -> %s\n", addr, head)
	}
	return nil
}
