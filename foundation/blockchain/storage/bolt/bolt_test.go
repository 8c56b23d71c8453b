package bolt_test

import (
	"path/filepath"
	"testing"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/storage/bolt"
	"github.com/ardanlabs/opledger/foundation/blockchain/storage/storagetest"
	"github.com/stretchr/testify/require"
)

func TestBolt(t *testing.T) {
	paths := make(map[database.Storage]string)

	open := func(t *testing.T) database.Storage {
		path := filepath.Join(t.TempDir(), "ledger.db")
		s, err := bolt.New(path)
		require.NoError(t, err)
		paths[s] = path
		return s
	}

	reopen := func(t *testing.T, s database.Storage) database.Storage {
		require.NoError(t, s.Close())
		r, err := bolt.New(paths[s])
		require.NoError(t, err)
		return r
	}

	storagetest.Run(t, open, reopen)
}

func TestRemoveOperationsAfterBlock(t *testing.T) {
	s, err := bolt.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer s.Close()

	a := storagetest.Operation(t, "a")
	require.NoError(t, s.InsertOperation(a))
	require.NoError(t, s.InsertBlock(storagetest.Block(t, nil, a)))

	n, err := s.RemoveOperations([]string{a.RawHash()})
	require.NoError(t, err)
	require.Zero(t, n, "block operations are no longer pending")
}
