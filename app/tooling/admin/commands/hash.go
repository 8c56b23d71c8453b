package commands

import (
	"fmt"

	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

func hashCmd() *cobra.Command {
	var (
		algo string
		salt string
	)

	cmd := cobra.Command{
		Use:   "hash <value>",
		Short: "Calculate the tagged hash of a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := signature.CalculateHash(algo, salt, []byte(args[0]))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().StringVarP(&algo, "algo", "a", signature.HashSHA256, "Hash algorithm: sha1, sha256 or sha256_salt.")
	cmd.Flags().StringVarP(&salt, "salt", "s", "", "Salt used by sha256_salt.")

	return &cmd
}
