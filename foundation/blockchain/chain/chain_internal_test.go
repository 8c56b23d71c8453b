package chain

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// snapshot captures everything a commit can change except the cache
// counters, which only ever grow.
type snapshot struct {
	queue   []*database.Operation
	blocks  []*database.Block
	records map[string]opRecord
	indexes map[string]map[string][]*database.Object
}

func takeSnapshot(c *Chain) snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := snapshot{
		queue:   append([]*database.Operation(nil), c.queue...),
		blocks:  append([]*database.Block(nil), c.blocks...),
		records: make(map[string]opRecord),
		indexes: make(map[string]map[string][]*database.Object),
	}

	for hash, rec := range c.opsByHash {
		s.records[hash] = opRecord{
			op:      rec.op,
			deleted: append([]bool(nil), rec.deleted...),
			own:     rec.own,
		}
	}

	for typ, idx := range c.indexes {
		s.indexes[typ] = idx.Snapshot()
	}

	return s
}

type fixture struct {
	t     *testing.T
	kp    signature.KeyPair
	rules *rules.Rules
}

func newFixture(t *testing.T) fixture {
	kp, err := signature.GenerateKeyPair()
	if err != nil {
		t.Fatalf("unable to generate keys: %v", err)
	}

	r := rules.New(rules.Config{})
	r.TrustSigner("server", kp.Public)

	return fixture{t: t, kp: kp, rules: r}
}

func (f fixture) op(build func(op *database.Operation)) *database.Operation {
	f.t.Helper()

	op := database.NewOperation("user")
	build(op)

	if err := rules.SignOperation(op, "server", f.kp); err != nil {
		f.t.Fatalf("unable to sign operation: %v", err)
	}

	return op
}

// =============================================================================

func TestRemoveIsExactUndo(t *testing.T) {
	f := newFixture(t)

	parent := New(nil, f.rules, nil)
	base := f.op(func(op *database.Operation) {
		op.AddNew(database.NewObject("user", "alice"))
		op.AddNew(database.NewObject("user", "bob"))
	})
	if err := parent.AddOperation(base); err != nil {
		t.Fatalf("unable to add base operation: %v", err)
	}

	layer := New(parent, f.rules, nil)
	local := f.op(func(op *database.Operation) {
		op.AddNew(database.NewObject("user", "carol"))
	})
	if err := layer.AddOperation(local); err != nil {
		t.Fatalf("unable to add local operation: %v", err)
	}

	t.Log("Given the need to undo an operation exactly.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen an edit of parent and local objects is removed.", testID)
		{
			before := takeSnapshot(layer)

			edit := f.op(func(op *database.Operation) {
				op.AddOld(base.Hash, 1)
				op.AddOld(local.Hash, 0)

				bob := database.NewObject("user", "bob")
				bob.Set("age", 42)
				op.AddNew(bob)
				op.AddNew(database.NewObject("user", "carol"))
				op.AddNew(database.NewObject("group", "admins"))
			})
			if err := layer.AddOperation(edit); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould add the edit: %v", failed, testID, err)
			}

			if reflect.DeepEqual(before, takeSnapshot(layer)) {
				t.Fatalf("\t%s\tTest %d:\tShould change the layer.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould change the layer.", success, testID)

			removed, err := layer.RemoveDuplicateOperation(edit)
			if err != nil || !removed {
				t.Fatalf("\t%s\tTest %d:\tShould remove the edit: %v", failed, testID, err)
			}

			if after := takeSnapshot(layer); !reflect.DeepEqual(before, after) {
				t.Fatalf("\t%s\tTest %d:\tShould restore the exact layer state.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould restore the exact layer state.", success, testID)

			if layer.IsDeleted(database.DeleteRef{Hash: base.RawHash(), Index: 1}) {
				t.Fatalf("\t%s\tTest %d:\tShould clear the deletion.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould clear the deletion.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a deleted local operation is removed first.", testID)
		{
			del := f.op(func(op *database.Operation) {
				op.AddOld(local.Hash, 0)
			})
			if err := layer.AddOperation(del); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould add the delete: %v", failed, testID, err)
			}

			if _, err := layer.RemoveQueueOperations([]string{local.RawHash()}); !errors.Is(err, ErrNotTail) {
				t.Fatalf("\t%s\tTest %d:\tShould refuse to remove a non tail operation: %v", failed, testID, err)
			}

			n, err := layer.RemoveQueueOperations([]string{del.RawHash(), local.RawHash()})
			if err != nil || n != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould remove both operations: %d %v", failed, testID, n, err)
			}

			s := takeSnapshot(layer)
			if len(s.records) != 0 || len(s.indexes) != 0 || len(s.queue) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould leave an empty layer: %+v", failed, testID, s)
			}
			t.Logf("\t%s\tTest %d:\tShould leave an empty layer.", success, testID)
		}
	}
}

func TestBrokenLayer(t *testing.T) {
	fx := newFixture(t)

	steps := []string{"index", "deleted", "queue"}

	t.Log("Given the need to isolate a layer when a commit fails.")
	{
		for testID, step := range steps {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen the commit fails at the %s step.", testID, step)
				{
					var events []string
					layer := New(nil, fx.rules, func(v string, args ...any) {
						events = append(events, v)
					})

					a := fx.op(func(op *database.Operation) {
						op.AddNew(database.NewObject("user", "alice"))
					})
					if err := layer.AddOperation(a); err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould add the first operation: %v", failed, testID, err)
					}

					layer.hook = func(s string) error {
						if s == step {
							return errors.New("disk on fire")
						}
						return nil
					}

					b := fx.op(func(op *database.Operation) {
						op.AddOld(a.Hash, 0)
						op.AddNew(database.NewObject("user", "bob"))
					})

					if err := layer.AddOperation(b); !errors.Is(err, ErrBroken) {
						t.Fatalf("\t%s\tTest %d:\tShould fail the commit: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould fail the commit.", success, testID)

					if layer.State() != Broken {
						t.Fatalf("\t%s\tTest %d:\tShould mark the layer broken: %s", failed, testID, layer.State())
					}
					t.Logf("\t%s\tTest %d:\tShould mark the layer broken.", success, testID)

					layer.hook = nil
					before := takeSnapshot(layer)

					c := fx.op(func(op *database.Operation) {
						op.AddNew(database.NewObject("user", "carol"))
					})
					if err := layer.AddOperation(c); !errors.Is(err, ErrBroken) {
						t.Fatalf("\t%s\tTest %d:\tShould refuse operations: %v", failed, testID, err)
					}
					if _, err := layer.CreateBlock("server", fx.kp); !errors.Is(err, ErrBroken) {
						t.Fatalf("\t%s\tTest %d:\tShould refuse blocks: %v", failed, testID, err)
					}
					if err := layer.Seal(); !errors.Is(err, ErrBroken) {
						t.Fatalf("\t%s\tTest %d:\tShould refuse to seal: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould refuse all writes.", success, testID)

					if !reflect.DeepEqual(before, takeSnapshot(layer)) {
						t.Fatalf("\t%s\tTest %d:\tShould not touch the indexes after breaking.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould not touch the indexes after breaking.", success, testID)

					if layer.ObjectByName("user", "alice") == nil {
						t.Fatalf("\t%s\tTest %d:\tShould still serve reads.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould still serve reads.", success, testID)

					var logged bool
					for _, ev := range events {
						if ev == "chain: %s: ERROR: layer is broken and must be rebuilt: %s" {
							logged = true
						}
					}
					if !logged {
						t.Fatalf("\t%s\tTest %d:\tShould report the broken layer.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould report the broken layer.", success, testID)
				}
			}

			t.Run(step, f)
		}
	}
}

func TestBrokenChildRebase(t *testing.T) {
	f := newFixture(t)

	parent := New(nil, f.rules, nil)
	child := New(parent, f.rules, nil)

	t.Log("Given the need to keep broken layers out of their parent.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the block commit of a child fails.", testID)
		{
			if err := child.AddOperation(f.op(func(op *database.Operation) {
				op.AddNew(database.NewObject("user", "alice"))
			})); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould add the operation: %v", failed, testID, err)
			}

			child.hook = func(s string) error {
				if s == "block" {
					panic("out of memory")
				}
				return nil
			}

			if _, err := child.CreateBlock("server", f.kp); !errors.Is(err, ErrBroken) {
				t.Fatalf("\t%s\tTest %d:\tShould break the child: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould break the child.", success, testID)

			if _, err := parent.RebaseOperations(child); !errors.Is(err, ErrBroken) {
				t.Fatalf("\t%s\tTest %d:\tShould refuse the broken child: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould refuse the broken child.", success, testID)

			if parent.State() != Open || parent.ObjectByName("user", "alice") != nil {
				t.Fatalf("\t%s\tTest %d:\tShould leave the parent untouched.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the parent untouched.", success, testID)
		}
	}
}
