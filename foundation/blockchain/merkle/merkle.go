// Copyright 2017 Cameron Bergoon
// https://github.com/cbergoon/merkletree
// Licensed under the MIT License, see LICENCE file for details.
// This code has been cleaned up, refactored, and turned into generics.

// Package merkle provides an implementation of a merkle tree used to commit
// a block to the exact set and order of its operations.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HashTag is the algorithm tag used when the root is rendered as a tagged
// hash string.
const HashTag = "sha256"

// ErrNoValues is returned when a tree is requested for an empty value set.
var ErrNoValues = errors.New("cannot construct tree with no content")

// Hashable represents the behavior concrete data must exhibit to be used in
// the merkle tree. The leaf hash is used as is and is not hashed again.
type Hashable[T any] interface {
	Hash() ([]byte, error)
	Equals(other T) bool
}

// =============================================================================

// Tree represents a merkle tree that uses data of some type T that exhibits the
// behavior defined by the Hashable constraint.
type Tree[T Hashable[T]] struct {
	Root         *Node[T]
	Leafs        []*Node[T]
	MerkleRoot   []byte
	hashStrategy func() hash.Hash
}

// WithHashStrategy is used to change the default hash strategy of using sha256
// when constructing a new tree.
func WithHashStrategy[T Hashable[T]](hashStrategy func() hash.Hash) func(t *Tree[T]) {
	return func(t *Tree[T]) {
		t.hashStrategy = hashStrategy
	}
}

// NewTree constructs a new merkle tree that uses data of some type T that
// exhibits the behavior defined by the Hashable interface.
func NewTree[T Hashable[T]](values []T, options ...func(t *Tree[T])) (*Tree[T], error) {
	t := Tree[T]{
		hashStrategy: sha256.New,
	}

	for _, option := range options {
		option(&t)
	}

	if err := t.Generate(values); err != nil {
		return nil, err
	}

	return &t, nil
}

// RootHash is a convenience function that returns the tagged root hash for
// the specified values.
func RootHash[T Hashable[T]](values []T) (string, error) {
	t, err := NewTree(values)
	if err != nil {
		return "", err
	}

	return t.RootTagged(), nil
}

// Generate constructs the leafs and nodes of the tree from the specified
// data. If the tree has been generated previously, the tree is re-generated
// from scratch.
func (t *Tree[T]) Generate(values []T) error {
	if len(values) == 0 {
		return ErrNoValues
	}

	leafs := make([]*Node[T], 0, len(values)+1)
	for _, value := range values {
		h, err := value.Hash()
		if err != nil {
			return err
		}

		leafs = append(leafs, &Node[T]{
			Hash:  h,
			Value: value,
			leaf:  true,
			Tree:  t,
		})
	}

	// An odd level is completed by repeating the last leaf.
	if len(leafs)%2 == 1 {
		last := leafs[len(leafs)-1]
		leafs = append(leafs, &Node[T]{
			Hash:  last.Hash,
			Value: last.Value,
			leaf:  true,
			dup:   true,
			Tree:  t,
		})
	}

	root, err := t.buildLevel(leafs)
	if err != nil {
		return err
	}

	t.Root = root
	t.Leafs = leafs
	t.MerkleRoot = root.Hash

	return nil
}

// Proof returns the set of hashes and the order of concatenating those
// hashes for proving a value is in the tree. An order of 0 means the proof
// hash comes first, 1 means it comes second.
func (t *Tree[T]) Proof(data T) ([][]byte, []int64, error) {
	for _, node := range t.Leafs {
		if !node.Value.Equals(data) {
			continue
		}

		var proof [][]byte
		var order []int64
		for parent := node.Parent; parent != nil; parent = parent.Parent {
			if bytes.Equal(parent.Left.Hash, node.Hash) {
				proof = append(proof, parent.Right.Hash)
				order = append(order, 1)
			} else {
				proof = append(proof, parent.Left.Hash)
				order = append(order, 0)
			}
			node = parent
		}

		return proof, order, nil
	}

	return nil, nil, errors.New("unable to find data in tree")
}

// Verify recalculates every level of the tree and checks the result
// against the stored root.
func (t *Tree[T]) Verify() error {
	calculated, err := t.Root.verify()
	if err != nil {
		return err
	}

	if !bytes.Equal(t.MerkleRoot, calculated) {
		return errors.New("root hash invalid")
	}

	return nil
}

// Values returns the values stored in the tree without the padding leaf.
func (t *Tree[T]) Values() []T {
	values := make([]T, 0, len(t.Leafs))
	for _, leaf := range t.Leafs {
		if leaf.dup {
			continue
		}
		values = append(values, leaf.Value)
	}

	return values
}

// RootHex converts the merkle root byte hash to a 0x prefixed hex string.
func (t *Tree[T]) RootHex() string {
	return hexutil.Encode(t.MerkleRoot)
}

// RootTagged returns the merkle root as a tagged hash string, sha256:<hex>.
func (t *Tree[T]) RootTagged() string {
	return HashTag + ":" + hex.EncodeToString(t.MerkleRoot)
}

// MarshalText implements the TextMarshaler interface and produces a panic
// if anyone tries to marshal the Merkle tree. Use the Values function to
// return a slice that can be marshaled.
func (t *Tree[T]) MarshalText() (text []byte, err error) {
	panic("do not marshal the merkle tree, use Values")
}

// buildLevel combines pairs of nodes into their parents until a single
// root remains.
func (t *Tree[T]) buildLevel(level []*Node[T]) (*Node[T], error) {
	if len(level) == 1 {
		return level[0], nil
	}

	next := make([]*Node[T], 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left, right := level[i], level[i]
		if i+1 < len(level) {
			right = level[i+1]
		}

		h, err := t.combine(left.Hash, right.Hash)
		if err != nil {
			return nil, err
		}

		n := Node[T]{
			Left:  left,
			Right: right,
			Hash:  h,
			Tree:  t,
		}
		left.Parent = &n
		right.Parent = &n

		next = append(next, &n)
	}

	return t.buildLevel(next)
}

func (t *Tree[T]) combine(left []byte, right []byte) ([]byte, error) {
	h := t.hashStrategy()

	buf := make([]byte, 0, len(left)+len(right))
	buf = append(buf, left...)
	buf = append(buf, right...)

	if _, err := h.Write(buf); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}

// =============================================================================

// Node represents a node, root, or leaf in the tree.
type Node[T Hashable[T]] struct {
	Tree   *Tree[T]
	Parent *Node[T]
	Left   *Node[T]
	Right  *Node[T]
	Hash   []byte
	Value  T
	leaf   bool
	dup    bool
}

// verify walks down the tree until hitting a leaf, calculating the hash at
// each level and returning the resulting hash of the node.
func (n *Node[T]) verify() ([]byte, error) {
	if n.leaf {
		return n.Value.Hash()
	}

	left, err := n.Left.verify()
	if err != nil {
		return nil, err
	}

	right, err := n.Right.verify()
	if err != nil {
		return nil, err
	}

	return n.Tree.combine(left, right)
}
