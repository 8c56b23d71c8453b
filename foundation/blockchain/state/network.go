package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
)

// Replicate pulls the blocks the upstream node has after the last block of
// this ledger and commits them in order. It returns the number of blocks
// replicated. Nothing happens unless replication is on.
func (s *State) Replicate(ctx context.Context) (int, error) {
	if !s.IsReplicateOn() {
		return 0, nil
	}

	s.evHandler("state: Replicate: started")
	defer s.evHandler("state: Replicate: completed")

	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	_, layers := s.current()
	from := layers[len(layers)-1].LastBlockRawHash()

	var headers []database.BlockData
	if err := s.send(ctx, "blocks?from="+url.QueryEscape(from), &headers); err != nil {
		return 0, rules.Reject(rules.MgmtReplicationIOFailed, "replicate from %s: %s", s.replicateURL, err)
	}

	if from != "" && len(headers) > 0 {
		first := signature.RawHash(headers[0].Hash)
		if first != from {
			return 0, rules.Reject(rules.MgmtReplicationBlockConflicts, "upstream block %s doesn't match last block %s", first, from)
		}
		headers = headers[1:]
	}

	var n int
	for _, h := range headers {
		raw := signature.RawHash(h.Hash)

		var bd database.BlockData
		if err := s.send(ctx, "block-by-hash?hash="+url.QueryEscape(raw), &bd); err != nil {
			return n, rules.Reject(rules.MgmtReplicationIOFailed, "download block %s: %s", raw, err)
		}

		if bd.BlockID == -1 || bd.Hash == "" {
			return n, rules.Reject(rules.MgmtReplicationDownloadFailed, "block %s can't be downloaded", raw)
		}

		if err := s.ReplicateBlock(database.ToBlock(bd)); err != nil {
			return n, err
		}
		n++

		s.evHandler("state: Replicate: blk[%d][%s]: replicated", bd.BlockID, raw)
	}

	return n, nil
}

// =============================================================================

// send is a helper function to perform a GET request against the
// replication url and decode the response.
func (s *State) send(ctx context.Context, path string, dataRecv any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.replicateURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return errors.New(string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	return nil
}
