package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

func signCmd() *cobra.Command {
	var (
		signer  string
		keyPath string
	)

	cmd := cobra.Command{
		Use:   "sign [file]",
		Short: "Hash and sign an operation read from the file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := readOperation(cmd, args)
			if err != nil {
				return err
			}

			if err := signOperation(op, signer, keyPath); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(op)
		},
	}

	cmd.Flags().StringVarP(&signer, "signer", "s", "server", "Name of the signer.")
	cmd.Flags().StringVarP(&keyPath, "key", "k", "zblock/server.ecdsa", "Path to the private key of the signer.")

	return &cmd
}

// =============================================================================

// readOperation decodes the operation from the file named in the args or
// from stdin.
func readOperation(cmd *cobra.Command, args []string) (*database.Operation, error) {
	var r io.Reader = cmd.InOrStdin()

	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var op database.Operation
	if err := json.NewDecoder(r).Decode(&op); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}

	return &op, nil
}

// signOperation signs the operation with the key stored at the path.
func signOperation(op *database.Operation, signer string, keyPath string) error {
	privateKey, err := crypto.LoadECDSA(keyPath)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	return rules.SignOperation(op, signer, signature.FromECDSA(privateKey))
}
