package main

import (
	"fmt"
	"math/big"

	"github.com/devblac/certiblock/internal/chain"
	"github.com/devblac/certiblock/internal/metadata"
	"github.com/devblac/certiblock/internal/storage"
	"github.com/devblac/certiblock/internal/verify"
	"github.com/spf13/cobra"
)

var (
	flagOwner   string
	flagTokenID string
	flagDir     string
)

func init() {
	verifyCmd.Flags().StringVar(&flagOwner, "owner", "", "Claimed owner address")
	resolveCmd.Flags().StringVar(&flagTokenID, "token-id", "", "Token id used to synthesize image names from a base URI")
	certificatesCmd.Flags().StringVar(&flagDir, "dir", "", "Metadata directory (overrides server.metadata_dir)")
}

var verifyCmd = &cobra.Command{
	Use:   "verify <tokenId>",
	Short: "Check whether an address owns a certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := verify.NewVerifier(a.contract, a.log, nil).Verify(cmd.Context(), args[0], flagOwner)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <tokenId>",
	Short: "Show owner, metadata and image of a certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := []verify.LookupOption{
			verify.WithExplorer(a.cfg.Chain.ExplorerURL),
			verify.WithLogger(a.log),
		}
		if store, err := storage.Open(a.cfg.Global.DBPath); err == nil {
			defer store.Close()
			opts = append(opts, verify.WithLedger(store))
		} else {
			a.log.Warn("mint ledger unavailable", "err", err)
		}

		cert, err := verify.NewLookup(a.contract, a.fetcher, opts...).Certificate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), cert)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <tokenURI>",
	Short: "Resolve a token URI to metadata and a reachable image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		var id *big.Int
		if flagTokenID != "" {
			if id, err = chain.ParseTokenID(flagTokenID); err != nil {
				return fmt.Errorf("--token-id: %w", err)
			}
		}
		return printJSON(cmd.OutOrStdout(), a.fetcher.Resolve(cmd.Context(), args[0], id))
	},
}

var certificatesCmd = &cobra.Command{
	Use:   "certificates",
	Short: "List locally stored certificate metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		dir := flagDir
		if dir == "" {
			dir = a.cfg.Server.MetadataDir
		}
		if dir == "" {
			return fmt.Errorf("no metadata directory: set server.metadata_dir or --dir")
		}
		entries, err := metadata.LoadDir(dir, a.resolver, a.log)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), entries)
	},
}
