package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"text/tabwriter"
	"time"

	"github.com/devblac/certiblock/internal/chain"
	"github.com/devblac/certiblock/internal/mint"
	"github.com/devblac/certiblock/internal/sink"
	"github.com/devblac/certiblock/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagCourse  string
	flagDryRun  bool
	flagLimit   int
	flagTimeout time.Duration
)

func init() {
	mintCmd.Flags().StringVar(&flagCourse, "course", "", "Course the certificate is issued for")
	mintCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Do not send to sinks")
	mintCmd.Flags().DurationVar(&flagTimeout, "timeout", 5*time.Minute, "How long to wait for confirmation")
	mintsCmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum rows to show (0 for all)")
}

var mintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint a certificate and print its token id",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.cfg.Chain.PrivateKey == "" {
			return errors.New("chain.private_key is required to mint")
		}
		ctx := cmd.Context()

		chainID := new(big.Int).SetUint64(a.cfg.Chain.ChainID)
		if chainID.Sign() == 0 {
			if chainID, err = a.rpc.ChainID(ctx); err != nil {
				return fmt.Errorf("query chain id: %w", err)
			}
		}
		signer, err := mint.NewSigner(a.cfg.Chain.PrivateKey, chainID)
		if err != nil {
			return err
		}
		extractor, err := mint.NewExtractor(a.contract.Address(), a.contract.ABI())
		if err != nil {
			return err
		}

		store, err := storage.Open(a.cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		sinks := map[string]sink.Sender{}
		if !flagDryRun {
			if sinks, err = sink.FromConfig(a.cfg.Sinks); err != nil {
				return err
			}
		}

		minter, err := mint.NewMinter(a.contract, extractor, signer, mint.WaitMined(a.rpc), mint.Options{
			Method:      a.cfg.Chain.MintMethod,
			LockTTL:     a.cfg.Global.MintLockTTLDuration(),
			Ledger:      store,
			Sinks:       sinks,
			ExplorerURL: a.cfg.Chain.ExplorerURL,
			Logger:      a.log,
			Metrics:     a.metrics,
		})
		if err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, flagTimeout)
		defer cancel()
		res, err := minter.Mint(waitCtx, flagCourse)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "tx %s confirmed in block %d\n", res.TxHash.Hex(), res.BlockNumber)
		if res.TokenID == nil {
			fmt.Fprintln(out, "token id unavailable: no Transfer event from the contract in the receipt")
			return nil
		}
		fmt.Fprintf(out, "token id %s\n", res.TokenID)
		if link := chain.ExplorerTokenURL(a.cfg.Chain.ExplorerURL, res.Contract, res.TokenID.String()); link != "" {
			fmt.Fprintf(out, "explorer %s\n", link)
		}
		return nil
	},
}

var mintsCmd = &cobra.Command{
	Use:   "mints",
	Short: "Show mints recorded in the local ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		rows, err := store.ListMints(cmd.Context(), flagLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOKEN\tCOURSE\tBLOCK\tTX\tCONTRACT\tMINTED")
		for _, m := range rows {
			token := m.TokenID
			if token == "" {
				token = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", token, m.Course, m.BlockNumber, m.TxHash, m.Contract, m.CreatedAt.UTC().Format(time.RFC3339))
			if m.Contract != "" && !sameAddress(m.Contract, cfg.Chain.ContractAddress) {
				log.Warn("ledger entry minted on a different contract", "tx", m.TxHash, "minted_on", m.Contract)
			}
		}
		return w.Flush()
	},
}
