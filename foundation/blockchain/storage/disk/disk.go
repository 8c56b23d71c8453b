// Package disk implements the ability to read and write the ledger to disk
// with every operation, block and superblock in its own JSON file.
package disk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
)

// Set of directories under the database path.
const (
	dirOps         = "ops"
	dirBlocks      = "blocks"
	dirSuperblocks = "superblocks"
)

// Disk represents the storage implementation for reading and storing the
// ledger in separate files on disk. This implements the database.Storage
// interface.
type Disk struct {
	dbPath string

	mu  sync.Mutex
	seq uint64
}

// New constructs a Disk value for use. The directories are created when
// they don't exist.
func New(dbPath string) (*Disk, error) {
	for _, dir := range []string{dirOps, dirBlocks, dirSuperblocks} {
		if err := os.MkdirAll(filepath.Join(dbPath, dir), 0755); err != nil {
			return nil, err
		}
	}

	d := Disk{
		dbPath: dbPath,
	}

	// Continue the sequence after the highest file name on disk.
	for _, dir := range []string{dirOps, dirSuperblocks} {
		names, err := d.list(dir)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			seq, err := strconv.ParseUint(strings.SplitN(name, "-", 2)[0], 10, 64)
			if err == nil && seq > d.seq {
				d.seq = seq
			}
		}
	}

	return &d, nil
}

// Close in this implementation has nothing to do since a new file is
// written to disk for each record and then immediately closed.
func (d *Disk) Close() error {
	return nil
}

// InsertOperation writes the operation to the pending operations.
func (d *Disk) InsertOperation(op *database.Operation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.find(dirOps, op.RawHash())
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}

	d.seq++
	name := fmt.Sprintf("%020d-%s.json", d.seq, op.RawHash())

	return d.write(filepath.Join(dirOps, name), op)
}

// InsertBlock writes the block and removes its operations from the pending
// operations.
func (d *Disk) InsertBlock(b *database.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.write(filepath.Join(dirBlocks, blockFile(b)), database.NewBlockData(b)); err != nil {
		return err
	}

	for _, op := range b.Operations() {
		if _, err := d.remove(dirOps, op.RawHash()); err != nil {
			return err
		}
	}

	return nil
}

// RemoveOperations removes the pending operations with the raw hashes and
// returns how many were removed.
func (d *Disk) RemoveOperations(hashes []string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var n int
	for _, hash := range hashes {
		removed, err := d.remove(dirOps, hash)
		if err != nil {
			return n, err
		}
		if removed {
			n++
		}
	}

	return n, nil
}

// RemoveFullBlock removes the block file.
func (d *Disk) RemoveFullBlock(b *database.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed, err := d.remove(dirBlocks, b.RawHash())
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("block %s: %w", b, database.ErrNotFound)
	}

	return nil
}

// SaveSuperblock writes the superblock record and any of its blocks that
// aren't on disk yet.
func (d *Disk) SaveSuperblock(sb database.Superblock) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.find(dirSuperblocks, sb.Hash)
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}

	for _, b := range sb.Blocks {
		name, err := d.find(dirBlocks, b.RawHash())
		if err != nil {
			return err
		}
		if name != "" {
			continue
		}
		if err := d.write(filepath.Join(dirBlocks, blockFile(b)), database.NewBlockData(b)); err != nil {
			return err
		}
	}

	d.seq++
	name := fmt.Sprintf("%020d-%s.json", d.seq, sb.Hash)

	return d.write(filepath.Join(dirSuperblocks, name), database.NewSuperblockData(d.seq, sb))
}

// LoadSuperblocks reads the superblock records, oldest first.
func (d *Disk) LoadSuperblocks() ([]database.Superblock, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	names, err := d.list(dirSuperblocks)
	if err != nil {
		return nil, err
	}

	sbs := make([]database.Superblock, 0, len(names))
	for _, name := range names {
		var sbd database.SuperblockData
		if err := d.read(filepath.Join(dirSuperblocks, name), &sbd); err != nil {
			return nil, err
		}

		sb := database.Superblock{
			Hash:   sbd.Hash,
			Blocks: make([]*database.Block, 0, len(sbd.Blocks)),
		}

		for _, hash := range sbd.Blocks {
			b, err := d.readBlock(hash)
			if err != nil {
				return nil, fmt.Errorf("superblock %s: %w", sbd.Hash, err)
			}
			sb.Blocks = append(sb.Blocks, b)
		}

		sbs = append(sbs, sb)
	}

	return sbs, nil
}

// UnloadSuperblock removes the superblock record. The blocks are kept.
func (d *Disk) UnloadSuperblock(hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed, err := d.remove(dirSuperblocks, hash)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("superblock %s: %w", hash, database.ErrNotFound)
	}

	return nil
}

// Operations reads the pending operations in insertion order.
func (d *Disk) Operations() ([]*database.Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	names, err := d.list(dirOps)
	if err != nil {
		return nil, err
	}

	ops := make([]*database.Operation, 0, len(names))
	for _, name := range names {
		var op database.Operation
		if err := d.read(filepath.Join(dirOps, name), &op); err != nil {
			return nil, err
		}
		ops = append(ops, &op)
	}

	return ops, nil
}

// Blocks reads every stored block ordered by block id.
func (d *Disk) Blocks() ([]*database.Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	names, err := d.list(dirBlocks)
	if err != nil {
		return nil, err
	}

	blocks := make([]*database.Block, 0, len(names))
	for _, name := range names {
		var bd database.BlockData
		if err := d.read(filepath.Join(dirBlocks, name), &bd); err != nil {
			return nil, err
		}
		blocks = append(blocks, database.ToBlock(bd))
	}

	database.SortBlocks(blocks)

	return blocks, nil
}

// =============================================================================

// blockFile forms the file name of the block from its id and raw hash.
func blockFile(b *database.Block) string {
	return fmt.Sprintf("%010d-%s.json", b.Header.BlockID, b.RawHash())
}

// readBlock reads the block with the raw hash.
func (d *Disk) readBlock(hash string) (*database.Block, error) {
	name, err := d.find(dirBlocks, hash)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("block %s: %w", hash, database.ErrNotFound)
	}

	var bd database.BlockData
	if err := d.read(filepath.Join(dirBlocks, name), &bd); err != nil {
		return nil, err
	}

	return database.ToBlock(bd), nil
}

// list returns the sorted file names in the directory.
func (d *Disk) list(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.dbPath, dir))
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	return names, nil
}

// find returns the name of the file in the directory holding the hash or an
// empty string.
func (d *Disk) find(dir string, hash string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(d.dbPath, dir, "*-"+hash+".json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}

	return filepath.Base(matches[0]), nil
}

// remove deletes the file in the directory holding the hash and reports if
// it existed.
func (d *Disk) remove(dir string, hash string) (bool, error) {
	name, err := d.find(dir, hash)
	if err != nil || name == "" {
		return false, err
	}

	if err := os.Remove(filepath.Join(d.dbPath, dir, name)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// write marshals the value in a more human readable format and replaces the
// file with it.
func (d *Disk) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(d.dbPath, name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// read decodes the contents of the file into the value.
func (d *Disk) read(name string, v any) error {
	f, err := os.Open(filepath.Join(d.dbPath, name))
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewDecoder(f).Decode(v)
}
