// Package nameservice reads a folder of signer key files and creates a name
// service lookup for the signers the ledger trusts.
package nameservice

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
)

// NameService maintains a map of signer names to public keys.
type NameService struct {
	signers map[string]*secp256k1.PublicKey
}

// New constructs a name service with a signer for every <name>.ecdsa file
// found under the root folder.
func New(root string) (*NameService, error) {
	ns := NameService{
		signers: make(map[string]*secp256k1.PublicKey),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != ".ecdsa" {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return fmt.Errorf("load %s: %w", fileName, err)
		}

		name := strings.TrimSuffix(path.Base(fileName), ".ecdsa")
		ns.signers[name] = signature.FromECDSA(privateKey).Public

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Lookup returns the public key for the specified signer.
func (ns *NameService) Lookup(name string) (*secp256k1.PublicKey, bool) {
	pub, exists := ns.signers[name]
	return pub, exists
}

// Copy returns a copy of the map of names and public keys.
func (ns *NameService) Copy() map[string]*secp256k1.PublicKey {
	cpy := make(map[string]*secp256k1.PublicKey, len(ns.signers))
	for name, pub := range ns.signers {
		cpy[name] = pub
	}
	return cpy
}
