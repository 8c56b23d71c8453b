package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	var (
		url     string
		signer  string
		keyPath string
	)

	cmd := cobra.Command{
		Use:   "send [file]",
		Short: "Sign an operation and add it to the queue of a node",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := readOperation(cmd, args)
			if err != nil {
				return err
			}

			if err := signOperation(op, signer, keyPath); err != nil {
				return err
			}

			data, err := json.Marshal(op)
			if err != nil {
				return err
			}

			client := http.Client{Timeout: 10 * time.Second}
			resp, err := client.Post(strings.TrimSuffix(url, "/")+"/v1/ops/add", "application/json", bytes.NewReader(data))
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("node answered %d: %s", resp.StatusCode, body)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
	cmd.Flags().StringVarP(&signer, "signer", "s", "server", "Name of the signer.")
	cmd.Flags().StringVarP(&keyPath, "key", "k", "zblock/server.ecdsa", "Path to the private key of the signer.")

	return &cmd
}
