// Command blockmesh is the node tooling: key generation and a local mesh
// demonstration driver.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iturovskiy/blockmesh/wallet"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "blockmesh",
		Short:         "Blockmesh storage-node tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.AddCommand(newKeygenCmd(), newDemoCmd(), newRunCmd())
	return root
}

func newKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a participant key and write an encrypted keystore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Keystore password comes from the environment, not a flag
			// (flags leak via ps).
			password := os.Getenv("BM_PASSWORD")
			if password == "" {
				logrus.Warn("BM_PASSWORD not set, keystore will use an empty password")
			}
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(out, password, w.PrivKey()); err != nil {
				return err
			}
			cmd.Printf("address: %s\nkeystore: %s\n", w.Address(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "participant.key", "keystore path")
	return cmd
}
