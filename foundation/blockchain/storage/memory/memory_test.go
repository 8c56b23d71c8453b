package memory_test

import (
	"testing"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/opledger/foundation/blockchain/storage/storagetest"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	open := func(t *testing.T) database.Storage {
		m, err := memory.New()
		require.NoError(t, err)
		return m
	}

	storagetest.Run(t, open, nil)
}
