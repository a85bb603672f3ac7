package main

import (
	"fmt"

	"github.com/devblac/certiblock/internal/mint"
	"github.com/devblac/certiblock/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagFromBlock     uint64
	flagConfirmations uint64
	flagBatch         uint64
)

func init() {
	syncCmd.Flags().Uint64Var(&flagFromBlock, "from", 0, "First block to scan when no cursor is stored")
	syncCmd.Flags().Uint64Var(&flagConfirmations, "confirmations", 2, "Blocks to stay behind the head")
	syncCmd.Flags().Uint64Var(&flagBatch, "batch", mint.DefaultBatch, "Blocks per log query")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Backfill the mint ledger from on-chain Transfer events",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		store, err := storage.Open(a.cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		extractor, err := mint.NewExtractor(a.contract.Address(), a.contract.ABI())
		if err != nil {
			return err
		}
		scanner := mint.NewScanner(a.rpc, store, extractor, mint.ScanOptions{
			StartBlock:    flagFromBlock,
			Confirmations: flagConfirmations,
			Batch:         flagBatch,
			Logger:        a.log,
		})

		n, err := scanner.Sync(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %d new mint(s)\n", n)
		return nil
	},
}
