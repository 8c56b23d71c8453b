package database_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// =============================================================================

func Test_OperationHash(t *testing.T) {
	t.Log("Given the need to hash operations.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the hash and signature change.", testID)
		{
			op := database.NewOperation("user")
			obj := database.NewObject("user", "alice")
			obj.Set("name", "Alice")
			op.AddNew(obj)

			h1, err := op.CalculateHash()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to hash: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to hash.", success, testID)

			op.Hash = h1
			op.Signature = "base64:AAAA"

			h2, _ := op.CalculateHash()
			if h1 != h2 {
				t.Fatalf("\t%s\tTest %d:\tShould ignore the hash and signature fields.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould ignore the hash and signature fields.", success, testID)

			if op.RawHash() == "" || op.RawHash() == op.Hash {
				t.Fatalf("\t%s\tTest %d:\tShould strip the algorithm tag: %s", failed, testID, op.RawHash())
			}
			t.Logf("\t%s\tTest %d:\tShould strip the algorithm tag.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen an operation goes through the JSON codec.", testID)
		{
			op := database.NewOperation("place")
			obj := database.NewObject("place", "p1")
			obj.Set("lat", json.Number("52.5"))
			op.AddNew(obj)
			op.AddOld("sha256:abcd", 1)
			op.AddRef("owner", "user", "alice")

			h1, _ := op.CalculateHash()

			data, err := json.Marshal(op)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to marshal: %v", failed, testID, err)
			}

			var got database.Operation
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to unmarshal: %v", failed, testID, err)
			}

			h2, _ := got.CalculateHash()
			if h1 != h2 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the same hash.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the same hash.", success, testID)

			if got.Old[0].Hash != "abcd" || got.Old[0].Index != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the delete reference: %v", failed, testID, got.Old[0])
			}
			t.Logf("\t%s\tTest %d:\tShould keep the delete reference.", success, testID)
		}
	}
}

func Test_Seal(t *testing.T) {
	t.Log("Given the need to make ledger values immutable.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a block is sealed.", testID)
		{
			op := database.NewOperation("user")
			obj := database.NewObject("user", "bob")
			op.AddNew(obj)
			op.Hash, _ = op.CalculateHash()

			b := database.NewBlock(database.BlockHeader{BlockID: 0}, []*database.Operation{op})
			b.Seal()

			if !op.IsSealed() || !obj.IsSealed() {
				t.Fatalf("\t%s\tTest %d:\tShould seal the operations and objects.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould seal the operations and objects.", success, testID)

			if err := obj.Set("name", "x"); !errors.Is(err, database.ErrSealed) {
				t.Fatalf("\t%s\tTest %d:\tShould reject changes to sealed objects: %v", failed, testID, err)
			}
			if err := op.AddNew(database.NewObject("user", "x")); !errors.Is(err, database.ErrSealed) {
				t.Fatalf("\t%s\tTest %d:\tShould reject changes to sealed operations: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject changes to sealed values.", success, testID)

			ops := b.Operations()
			ops[0] = nil
			if b.Operations()[0] == nil {
				t.Fatalf("\t%s\tTest %d:\tShould not expose the internal list.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not expose the internal list.", success, testID)
		}
	}
}

func Test_MerkleHash(t *testing.T) {
	mk := func(key string) *database.Operation {
		op := database.NewOperation("user")
		op.AddNew(database.NewObject("user", key))
		op.Hash, _ = op.CalculateHash()
		return op
	}

	a, b, c := mk("a"), mk("b"), mk("c")

	t.Log("Given the need to commit a block to its operations.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the operation set changes.", testID)
		{
			h1, err := database.MerkleHash([]*database.Operation{a, b})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to hash: %v", failed, testID, err)
			}
			h2, _ := database.MerkleHash([]*database.Operation{a, b})
			h3, _ := database.MerkleHash([]*database.Operation{a, b, c})

			if h1 != h2 {
				t.Fatalf("\t%s\tTest %d:\tShould be stable for the same operations.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould be stable for the same operations.", success, testID)

			if h1 == h3 {
				t.Fatalf("\t%s\tTest %d:\tShould change with the operations.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould change with the operations.", success, testID)

			if _, err := database.MerkleHash(nil); !errors.Is(err, database.ErrEmptyBlock) {
				t.Fatalf("\t%s\tTest %d:\tShould reject an empty list: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject an empty list.", success, testID)
		}
	}
}

func Test_ParseDeleteRef(t *testing.T) {
	type table struct {
		name  string
		ref   string
		hash  string
		index int
		err   bool
	}

	tt := []table{
		{name: "raw", ref: "abcd", hash: "abcd"},
		{name: "raw-index", ref: "abcd:2", hash: "abcd", index: 2},
		{name: "tagged", ref: "sha256:abcd", hash: "abcd"},
		{name: "tagged-index", ref: "sha256:abcd:3", hash: "abcd", index: 3},
		{name: "tagged-digits", ref: "sha256:1234", hash: "1234"},
		{name: "negative", ref: "abcd:-1", err: true},
		{name: "garbage", ref: "abcd:xyz", err: true},
	}

	t.Log("Given the need to parse delete references.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling reference %q.", testID, tst.ref)
			{
				ref, err := database.ParseDeleteRef(tst.ref)
				if tst.err {
					if err == nil {
						t.Fatalf("\t%s\tTest %d:\tShould reject the reference: %v", failed, testID, ref)
					}
					t.Logf("\t%s\tTest %d:\tShould reject the reference.", success, testID)
					continue
				}
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to parse: %v", failed, testID, err)
				}
				if ref.Hash != tst.hash || ref.Index != tst.index {
					t.Fatalf("\t%s\tTest %d:\tShould normalise to %s:%d, got %v", failed, testID, tst.hash, tst.index, ref)
				}
				t.Logf("\t%s\tTest %d:\tShould normalise to the raw hash and index.", success, testID)
			}
		}
	}
}
