// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date           time.Time             `json:"date"`
	ChainID        uint16                `json:"chain_id"`        // The chain id represents an unique id for this running instance.
	MaxBlockBytes  int                   `json:"max_block_bytes"` // The maximum serialized size of the operations in a block.
	MaxBlockOps    int                   `json:"max_block_ops"`   // The maximum number of operations that can be in a block.
	SuperblockSize int                   `json:"superblock_size"` // Number of blocks after which a superblock is sealed.
	MaxLayers      int                   `json:"max_layers"`      // Number of sealed superblocks kept before they are merged.
	AllowedTypes   []string              `json:"allowed_types"`   // Operation types accepted, empty accepts all.
	Bootstrap      []*database.Operation `json:"bootstrap"`       // Operations added by the bootstrap command.
}

// Default returns the genesis values used when no file is provided.
func Default() Genesis {
	return Genesis{
		Date:           time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:        1,
		MaxBlockBytes:  1 << 20,
		MaxBlockOps:    256,
		SuperblockSize: 32,
		MaxLayers:      32,
	}
}

// =============================================================================

// Load opens and consumes the genesis file. Limits that aren't set in the
// file keep their default values.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	genesis := Default()
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("decode genesis %s: %w", path, err)
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Validate checks the limits are usable.
func (g Genesis) Validate() error {
	switch {
	case g.MaxBlockBytes <= 0:
		return fmt.Errorf("max_block_bytes must be positive: %d", g.MaxBlockBytes)
	case g.MaxBlockOps <= 0:
		return fmt.Errorf("max_block_ops must be positive: %d", g.MaxBlockOps)
	case g.SuperblockSize <= 0:
		return fmt.Errorf("superblock_size must be positive: %d", g.SuperblockSize)
	case g.MaxLayers <= 0:
		return fmt.Errorf("max_layers must be positive: %d", g.MaxLayers)
	}

	return nil
}
