package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bjarneo/linkdrop/internal/crypto"
)

func newSumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sum <file>...",
		Short: "Print the BLAKE2b digest reported for transfers of each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				sum, err := crypto.SumReader(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("digest %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, path)
			}
			return nil
		},
	}
}
