package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "certiblock",
		Short: "Certificate NFT resolution and ownership verification",
	}
)

func init() {
	cobra.EnableCommandSorting = false

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to config file")

	rootCmd.AddCommand(
		versionCmd,
		validateCmd,
		serveCmd,
		verifyCmd,
		lookupCmd,
		resolveCmd,
		certificatesCmd,
		mintCmd,
		mintsCmd,
		syncCmd,
	)
}

// Execute runs the root command tree.
func Execute(ctx context.Context) error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
