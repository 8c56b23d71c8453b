// Package index maintains the per type object index of a single chain layer.
// An index only holds what its layer changed; lookups that miss are resolved
// by the chain against the indexes of the ancestor layers.
package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
)

// keySeparator joins the parts of a composite key. Parts are escaped so a
// separator inside a part can't be confused with a part boundary.
const keySeparator = "\x00"

var (
	escaper   = strings.NewReplacer("\x01", "\x01\x02", "\x00", "\x01\x01")
	unescaper = strings.NewReplacer("\x01\x02", "\x01", "\x01\x01", "\x00")
)

// Key converts a composite object key into its map key form.
func Key(key []string) string {
	parts := make([]string, len(key))
	for i, p := range key {
		parts[i] = escaper.Replace(p)
	}
	return strings.Join(parts, keySeparator)
}

// SplitKey converts a map key back into the composite key.
func SplitKey(k string) []string {
	parts := strings.Split(k, keySeparator)
	for i, p := range parts {
		parts[i] = unescaper.Replace(p)
	}
	return parts
}

// =============================================================================

// Index maps composite keys of one object type to the versions written in
// one layer. The last version of a key is the current one, the earlier ones
// are kept so a removed operation restores exactly what it replaced.
type Index struct {
	typ string

	mu       sync.RWMutex
	versions map[string][]*database.Object
}

// New constructs an empty index for the specified object type.
func New(typ string) *Index {
	return &Index{
		typ:      typ,
		versions: make(map[string][]*database.Object),
	}
}

// Type returns the object type held by the index.
func (idx *Index) Type() string {
	return idx.typ
}

// Get returns the current local version of the key. The boolean is false
// when this layer never wrote the key.
func (idx *Index) Get(key []string) (*database.Object, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	vs := idx.versions[Key(key)]
	if len(vs) == 0 {
		return nil, false
	}

	return vs[len(vs)-1], true
}

// Put makes the object the current version of the key.
func (idx *Index) Put(key []string, obj *database.Object) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	k := Key(key)
	idx.versions[k] = append(idx.versions[k], obj)
}

// Remove takes the exact object version out of the key's history. When it
// was the current version the previous local version becomes current again,
// or the key is cleared and lookups fall through to the ancestors. Remove
// reports false when the version isn't part of this index.
func (idx *Index) Remove(key []string, obj *database.Object) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	k := Key(key)
	vs := idx.versions[k]

	for i := len(vs) - 1; i >= 0; i-- {
		if vs[i] != obj {
			continue
		}

		vs = append(vs[:i:i], vs[i+1:]...)
		switch len(vs) {
		case 0:
			delete(idx.versions, k)
		default:
			idx.versions[k] = vs
		}

		return true
	}

	return false
}

// Absorb moves the versions of the other index on top of the versions held
// by this index.
func (idx *Index) Absorb(other *Index) {
	other.mu.RLock()
	defer other.mu.RUnlock()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for k, vs := range other.versions {
		idx.versions[k] = append(idx.versions[k], vs...)
	}
}

// All calls fn for the current version of every key in the index in key
// order. Iteration stops when fn returns false.
func (idx *Index) All(fn func(key []string, obj *database.Object) bool) {
	idx.mu.RLock()
	keys := make([]string, 0, len(idx.versions))
	current := make(map[string]*database.Object, len(idx.versions))
	for k, vs := range idx.versions {
		keys = append(keys, k)
		current[k] = vs[len(vs)-1]
	}
	idx.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if !fn(SplitKey(k), current[k]) {
			return
		}
	}
}

// Len returns the number of keys written in this layer.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.versions)
}

// Snapshot returns a copy of the version history of every key.
func (idx *Index) Snapshot() map[string][]*database.Object {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	snap := make(map[string][]*database.Object, len(idx.versions))
	for k, vs := range idx.versions {
		snap[k] = append([]*database.Object(nil), vs...)
	}

	return snap
}
