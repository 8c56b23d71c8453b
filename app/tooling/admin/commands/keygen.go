package commands

import (
	"fmt"

	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

func keygenCmd() *cobra.Command {
	var (
		user   string
		pwd    string
		method string
		out    string
	)

	cmd := cobra.Command{
		Use:   "keygen",
		Short: "Derive a key pair from a user and password, or generate a random one",
		RunE: func(cmd *cobra.Command, args []string) error {
			var kp signature.KeyPair
			var err error

			switch pwd {
			case "":
				kp, err = signature.GenerateKeyPair()
			default:
				kp, err = signature.DeriveKeyPair(method, user, pwd)
			}
			if err != nil {
				return err
			}

			priv, err := signature.EncodePrivateKey(kp.Private)
			if err != nil {
				return err
			}

			pub, err := signature.EncodePublicKey(kp.Public)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "private: %s\npublic: %s\n", priv, pub)

			if out != "" {
				if err := crypto.SaveECDSA(out, kp.Private.ToECDSA()); err != nil {
					return fmt.Errorf("save key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved: %s\n", out)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User name used as the salt of the derivation.")
	cmd.Flags().StringVarP(&pwd, "pwd", "p", "", "Password to derive the keys from, random keys when empty.")
	cmd.Flags().StringVarP(&method, "method", "m", signature.KeygenMethodEC256K1, "Key derivation method.")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Path to save the private key for the node.")

	return &cmd
}
