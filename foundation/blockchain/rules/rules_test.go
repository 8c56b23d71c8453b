package rules_test

import (
	"testing"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// view is a map backed read-only view for the rules.
type view map[string]*database.Object

func (v view) ObjectByName(typ string, key ...string) *database.Object {
	id := append([]string{typ}, key...)
	return v[database.NewObject(id...).String()]
}

func (v view) put(obj *database.Object) {
	v[obj.String()] = obj
}

func signup(t *testing.T, name string, kp signature.KeyPair) *database.Operation {
	t.Helper()

	pub, err := signature.EncodePublicKey(kp.Public)
	require.NoError(t, err)

	obj := database.NewObject(rules.OpSignup, name)
	require.NoError(t, obj.Set(rules.FieldPubKey, pub))

	op := database.NewOperation(rules.OpSignup)
	require.NoError(t, op.AddNew(obj))
	require.NoError(t, rules.SignOperation(op, name, kp))

	return op
}

func userOp(t *testing.T, signer string, kp signature.KeyPair, key string) *database.Operation {
	t.Helper()

	op := database.NewOperation("user")
	require.NoError(t, op.AddNew(database.NewObject("user", key)))
	require.NoError(t, rules.SignOperation(op, signer, kp))

	return op
}

// =============================================================================

func TestValidateOp(t *testing.T) {
	alice, err := signature.GenerateKeyPair()
	require.NoError(t, err)

	mallory, err := signature.GenerateKeyPair()
	require.NoError(t, err)

	r := rules.New(rules.Config{})

	t.Run("self signed signup", func(t *testing.T) {
		op := signup(t, "alice", alice)
		require.NoError(t, r.ValidateOp(view{}, op, nil, nil))
	})

	t.Run("registered signer", func(t *testing.T) {
		v := view{}
		v.put(signup(t, "alice", alice).New[0])

		op := userOp(t, "alice", alice, "a1")
		require.NoError(t, r.ValidateOp(v, op, nil, nil))
	})

	t.Run("wrong key", func(t *testing.T) {
		v := view{}
		v.put(signup(t, "alice", alice).New[0])

		op := userOp(t, "alice", mallory, "a1")
		err := r.ValidateOp(v, op, nil, nil)
		require.Error(t, err)
		assert.Equal(t, rules.OpSignatureFailed, rules.Code(err))
	})

	t.Run("unknown signer", func(t *testing.T) {
		op := userOp(t, "bob", mallory, "b1")
		assert.Equal(t, rules.OpSignatureFailed, rules.Code(r.ValidateOp(view{}, op, nil, nil)))
	})

	t.Run("tampered hash", func(t *testing.T) {
		op := signup(t, "alice", alice)
		op.Type = "sys.other"
		assert.Equal(t, rules.OpHashNotCorrect, rules.Code(r.ValidateOp(view{}, op, nil, nil)))
	})

	t.Run("empty operation", func(t *testing.T) {
		op := database.NewOperation("user")
		require.NoError(t, rules.SignOperation(op, "alice", alice))
		assert.Equal(t, rules.OpEmpty, rules.Code(r.ValidateOp(view{}, op, nil, nil)))
	})

	t.Run("type not allowed", func(t *testing.T) {
		strict := rules.New(rules.Config{AllowedTypes: []string{"place"}})
		strict.TrustSigner("alice", alice.Public)

		op := userOp(t, "alice", alice, "a1")
		assert.Equal(t, rules.OpTypeNotAllowed, rules.Code(strict.ValidateOp(view{}, op, nil, nil)))
	})

	t.Run("registered validator", func(t *testing.T) {
		custom := rules.New(rules.Config{})
		custom.TrustSigner("alice", alice.Public)
		custom.Register("user", func(v rules.View, op *database.Operation, deleted []*database.Object, refs map[string]*database.Object) error {
			if _, exists := refs["owner"]; !exists {
				return rules.Reject(rules.OpInvalid, "owner is required")
			}
			return nil
		})

		op := userOp(t, "alice", alice, "a1")
		assert.Equal(t, rules.OpInvalid, rules.Code(custom.ValidateOp(view{}, op, nil, nil)))
		assert.NoError(t, custom.ValidateOp(view{}, op, nil, map[string]*database.Object{"owner": op.New[0]}))
	})
}

func TestBlock(t *testing.T) {
	server, err := signature.GenerateKeyPair()
	require.NoError(t, err)

	r := rules.New(rules.Config{MaxBlockOps: 2, MaxBlockBytes: 1 << 20})
	r.TrustSigner("server", server.Public)

	a := userOp(t, "server", server, "a")
	b := userOp(t, "server", server, "b")
	c := userOp(t, "server", server, "c")

	first, err := r.CreateAndSignBlock(view{}, []*database.Operation{a}, nil, "server", server)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Header.BlockID)
	assert.Empty(t, first.Header.PrevBlockHash)

	second, err := r.CreateAndSignBlock(view{}, []*database.Operation{b}, first, "server", server)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Header.BlockID)
	assert.Equal(t, first.Header.Hash, second.Header.PrevBlockHash)

	t.Run("too many operations", func(t *testing.T) {
		_, err := r.CreateAndSignBlock(view{}, []*database.Operation{a, b, c}, nil, "server", server)
		assert.Equal(t, rules.BlockTooManyOps, rules.Code(err))
	})

	t.Run("too big", func(t *testing.T) {
		small := rules.New(rules.Config{MaxBlockBytes: 10})
		small.TrustSigner("server", server.Public)
		_, err := small.CreateAndSignBlock(view{}, []*database.Operation{a}, nil, "server", server)
		assert.Equal(t, rules.BlockTooBig, rules.Code(err))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := r.CreateAndSignBlock(view{}, nil, nil, "server", server)
		assert.Equal(t, rules.BlockEmpty, rules.Code(err))
	})

	t.Run("wrong previous block", func(t *testing.T) {
		assert.Equal(t, rules.BlockIDNotSequential, rules.Code(r.ValidateBlock(view{}, second, nil)))
	})

	t.Run("changed operations", func(t *testing.T) {
		forged := database.NewBlock(second.Header, []*database.Operation{c})
		assert.Equal(t, rules.BlockMerkleHash, rules.Code(r.ValidateBlock(view{}, forged, first)))
	})

	t.Run("changed header", func(t *testing.T) {
		h := second.Header
		h.Details = "forged"
		forged := database.NewBlock(h, second.Operations())
		assert.Equal(t, rules.BlockHashNotCorrect, rules.Code(r.ValidateBlock(view{}, forged, first)))
	})

	t.Run("untrusted signer", func(t *testing.T) {
		other := rules.New(rules.Config{})
		assert.Equal(t, rules.BlockSignatureFailed, rules.Code(other.ValidateBlock(view{}, second, first)))
	})
}

func TestSuperblockHash(t *testing.T) {
	assert.Equal(t, "00000003abcd", rules.SuperblockHash(3, "abcd"))
	assert.NotEqual(t, rules.SuperblockHash(2, "abcd"), rules.SuperblockHash(3, "abcd"))
	assert.Empty(t, rules.SuperblockHash(0, ""))
}
