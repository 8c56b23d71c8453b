package nameservice_test

import (
	"path/filepath"
	"testing"

	"github.com/ardanlabs/opledger/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	root := t.TempDir()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, crypto.SaveECDSA(filepath.Join(root, "alice.ecdsa"), key))

	ns, err := nameservice.New(root)
	require.NoError(t, err)

	pub, exists := ns.Lookup("alice")
	require.True(t, exists)
	require.Equal(t, crypto.FromECDSAPub(&key.PublicKey), pub.SerializeUncompressed())

	_, exists = ns.Lookup("bob")
	require.False(t, exists)
	require.Len(t, ns.Copy(), 1)
}
