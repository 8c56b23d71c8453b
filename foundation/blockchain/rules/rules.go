// Package rules implements the ledger schema: what makes an operation or a
// block valid, and how blocks are assembled and signed.
package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Set of system operation types.
const (
	OpSignup = "sys.signup"
)

// Set of fields used by system objects.
const (
	FieldPubKey        = "pubkey"
	FieldAlgo          = "algo"
	FieldKeygenMethod  = "keygen_method"
	FieldSalt          = "salt"
	FieldAuthMethod    = "auth_method"
	FieldServerDetails = "details"
)

// SigAlgo is the algorithm used to sign operation and block hashes. The
// payload is already a digest.
const SigAlgo = signature.SigAlgoNoneEC

// View is the read-only surface of a chain layer given to the rules.
type View interface {
	ObjectByName(typ string, key ...string) *database.Object
}

// Validator performs type specific checks on an operation. The deleted
// objects and referenced objects were already resolved by the chain.
type Validator func(v View, op *database.Operation, deleted []*database.Object, refs map[string]*database.Object) error

// Config represents the limits applied by the rules.
type Config struct {
	MaxBlockBytes int
	MaxBlockOps   int
	AllowedTypes  []string
}

// Rules validates operations and blocks for a chain.
type Rules struct {
	maxBlockBytes int
	maxBlockOps   int
	allowed       map[string]bool
	now           func() time.Time

	mu         sync.RWMutex
	validators map[string]Validator
	trusted    map[string]*secp256k1.PublicKey
}

// New constructs the rules with the system validators registered.
func New(cfg Config) *Rules {
	r := Rules{
		maxBlockBytes: cfg.MaxBlockBytes,
		maxBlockOps:   cfg.MaxBlockOps,
		now:           time.Now,
		validators:    make(map[string]Validator),
		trusted:       make(map[string]*secp256k1.PublicKey),
	}

	if len(cfg.AllowedTypes) > 0 {
		r.allowed = make(map[string]bool)
		for _, typ := range cfg.AllowedTypes {
			r.allowed[typ] = true
		}
		r.allowed[OpSignup] = true
	}

	r.Register(OpSignup, validateSignup)

	return &r
}

// MaxBlockBytes returns the maximum serialized size of the operations in a
// block.
func (r *Rules) MaxBlockBytes() int {
	return r.maxBlockBytes
}

// MaxBlockOps returns the maximum number of operations in a block.
func (r *Rules) MaxBlockOps() int {
	return r.maxBlockOps
}

// Register adds a type specific validator. A later registration for the
// same type replaces the earlier one.
func (r *Rules) Register(opType string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.validators[opType] = v
}

// TrustSigner registers a public key for a signer name. Trusted keys are
// checked before the signup objects stored in the chain.
func (r *Rules) TrustSigner(name string, pub *secp256k1.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trusted[name] = pub
}

// =============================================================================

// SignOperation calculates the hash of the operation and signs it with the
// key pair of the signer.
func SignOperation(op *database.Operation, signer string, kp signature.KeyPair) error {
	if op.IsSealed() {
		return database.ErrSealed
	}

	op.SignedBy = signer

	hash, err := op.CalculateHash()
	if err != nil {
		return err
	}
	op.Hash = hash

	payload, err := op.SignaturePayload()
	if err != nil {
		return err
	}

	sig, err := signature.SignBase64(kp, payload, SigAlgo)
	if err != nil {
		return err
	}
	op.Signature = sig

	return nil
}

// ValidateOp performs the hash, signature and schema checks for an
// operation.
func (r *Rules) ValidateOp(v View, op *database.Operation, deleted []*database.Object, refs map[string]*database.Object) error {
	if len(op.New) == 0 && len(op.Old) == 0 {
		return Reject(OpEmpty, "operation %s doesn't create or delete objects", op)
	}

	for i, obj := range op.New {
		if obj == nil {
			return Reject(OpInvalid, "operation %s has an empty object at %d", op, i)
		}
	}

	hash, err := op.CalculateHash()
	if err != nil {
		return Reject(OpHashNotCorrect, "operation %s can't be hashed: %s", op, err)
	}
	if hash != op.Hash {
		return Reject(OpHashNotCorrect, "operation hash %s doesn't match calculated %s", op.Hash, hash)
	}

	if r.allowed != nil && !r.allowed[op.Type] {
		return Reject(OpTypeNotAllowed, "operation type %s is not allowed", op.Type)
	}

	if err := r.validateSignature(v, op); err != nil {
		return err
	}

	r.mu.RLock()
	validator, exists := r.validators[op.Type]
	r.mu.RUnlock()

	if exists {
		if err := validator(v, op, deleted, refs); err != nil {
			return err
		}
	}

	return nil
}

// validateSignature checks the operation was signed by the key registered
// for its signer.
func (r *Rules) validateSignature(v View, op *database.Operation) error {
	if op.SignedBy == "" || op.Signature == "" {
		return Reject(OpSignatureFailed, "operation %s is not signed", op)
	}

	pub, err := r.signerKey(v, op.SignedBy, op)
	if err != nil {
		return Reject(OpSignatureFailed, "operation %s: %s", op, err)
	}

	if err := verify(pub, op.Hash, op.Signature); err != nil {
		return Reject(OpSignatureFailed, "operation %s signed by %s: %s", op, op.SignedBy, err)
	}

	return nil
}

// signerKey locates the public key for the signer. A signup operation that
// introduces the signer can be signed with its own key.
func (r *Rules) signerKey(v View, name string, op *database.Operation) (*secp256k1.PublicKey, error) {
	r.mu.RLock()
	pub, exists := r.trusted[name]
	r.mu.RUnlock()

	if exists {
		return pub, nil
	}

	if obj := v.ObjectByName(OpSignup, name); obj != nil {
		return signature.DecodePublicKey(obj.StringValue(FieldPubKey))
	}

	if op != nil && op.Type == OpSignup {
		for _, obj := range op.New {
			key := obj.Key()
			if obj.Type() == OpSignup && len(key) == 1 && key[0] == name {
				return signature.DecodePublicKey(obj.StringValue(FieldPubKey))
			}
		}
	}

	return nil, fmt.Errorf("signer %q is not registered", name)
}

// validateSignup checks every signup object carries a usable public key.
func validateSignup(v View, op *database.Operation, deleted []*database.Object, refs map[string]*database.Object) error {
	for _, obj := range op.New {
		if obj.Type() != OpSignup || len(obj.Key()) != 1 {
			return Reject(OpInvalid, "signup object %v must be identified by [%s, name]", obj.ID(), OpSignup)
		}

		if _, err := signature.DecodePublicKey(obj.StringValue(FieldPubKey)); err != nil {
			return Reject(OpInvalid, "signup object %v: %s", obj.ID(), err)
		}
	}

	return nil
}

// verify checks the tagged signature over the raw digest of the hash.
func verify(pub *secp256k1.PublicKey, hash string, sig string) error {
	payload, err := signature.HashBytes(hash)
	if err != nil {
		return err
	}

	raw, err := signature.DecodeSignature(sig)
	if err != nil {
		return err
	}

	ok, err := signature.Verify(pub, payload, SigAlgo, raw)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("signature doesn't match")
	}

	return nil
}
