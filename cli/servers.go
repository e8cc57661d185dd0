package cli

import (
	"github.com/spf13/cobra"

	"custodyledger_go/custody"
	"custodyledger_go/devnet"
	"custodyledger_go/utils"
)

func (a *app) custodydCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "custodyd",
		Short: "Run the development custody service (keys on local disk, not for production)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Custodyd
			ks, err := custody.NewKeystore(cfg.KeyDir, cfg.Passphrase)
			if err != nil {
				return err
			}
			if cfg.KeyDir == "" {
				utils.LogWarn("custodyd: no key directory configured, keys are kept in memory only")
			}
			utils.PrintStartupMessage("custodyd", cfg.Listen)
			return custody.NewServer(ks).Start(cmd.Context(), cfg.Listen)
		},
	}
	cmd.Flags().String("listen", "", "Listen address")
	cmd.Flags().String("key-dir", "", "Directory for encrypted keys; empty keeps keys in memory")
	bindFlags(a.v, cmd.Flags(), map[string]string{
		"listen":  "custodyd.listen",
		"key-dir": "custodyd.key_dir",
	})
	return cmd
}

func (a *app) devnetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devnet",
		Short: "Run a single-process development node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Devnet
			store, err := devnet.OpenStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			ledger, err := devnet.NewLedger(devnet.Config{GenesisID: cfg.GenesisID, MinFee: cfg.MinFee}, store)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			done := make(chan struct{})
			go func() {
				ledger.Run(ctx, cfg.BlockInterval)
				close(done)
			}()

			utils.PrintStartupMessage("devnet "+cfg.GenesisID, cfg.Listen)
			err = devnet.NewServer(ledger, a.cfg.Node.Token, 0).Start(ctx, cfg.Listen)
			<-done
			return err
		},
	}
	cmd.Flags().String("listen", "", "Listen address")
	cmd.Flags().String("data-dir", "", "Chain data directory; empty keeps the chain in memory")
	cmd.Flags().Duration("block-interval", 0, "Time between blocks")
	bindFlags(a.v, cmd.Flags(), map[string]string{
		"listen":         "devnet.listen",
		"data-dir":       "devnet.data_dir",
		"block-interval": "devnet.block_interval",
	})
	return cmd
}
