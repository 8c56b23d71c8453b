package database

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
)

// DeleteRef identifies an object version by the raw hash of the operation
// that created it and its position in that operation's new objects list.
type DeleteRef struct {
	Hash  string
	Index int
}

// ParseDeleteRef parses the <hash>:<index> form of a delete reference. A
// reference without an index points at the first object. The hash may carry
// its algorithm tag and is stored raw.
func ParseDeleteRef(s string) (DeleteRef, error) {
	hash, idx := s, 0
	if i := strings.LastIndex(s, ":"); i != -1 {
		n, err := strconv.Atoi(s[i+1:])
		switch {
		case err == nil && n >= 0 && !isHashTag(s[:i]):
			hash, idx = s[:i], n
		case !isHex(s[i+1:]):
			return DeleteRef{}, fmt.Errorf("invalid delete reference index %q", s)
		}
	}

	return DeleteRef{Hash: signature.RawHash(hash), Index: idx}, nil
}

// isHashTag reports whether s is an algorithm tag such as sha256.
func isHashTag(s string) bool {
	return !strings.Contains(s, ":") && !isHex(s)
}

func isHex(s string) bool {
	return s != "" && strings.Trim(s, "0123456789abcdefABCDEF") == ""
}

// String implements the Stringer interface.
func (r DeleteRef) String() string {
	return r.Hash + ":" + strconv.Itoa(r.Index)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (r DeleteRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (r *DeleteRef) UnmarshalText(data []byte) error {
	ref, err := ParseDeleteRef(string(data))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// =============================================================================

// Operation is a signed, typed unit of change that creates, edits or deletes
// objects.
type Operation struct {
	Type      string              `json:"type"`
	SignedBy  string              `json:"signed_by,omitempty"`
	Ref       map[string][]string `json:"ref,omitempty"`
	Old       []DeleteRef         `json:"old,omitempty"`
	New       []*Object           `json:"new,omitempty"`
	Hash      string              `json:"hash,omitempty"`
	Signature string              `json:"signature,omitempty"`

	sealed bool
}

// NewOperation constructs an operation of the specified type.
func NewOperation(opType string) *Operation {
	return &Operation{
		Type: opType,
	}
}

// AddNew appends an object to the list of created objects.
func (op *Operation) AddNew(obj *Object) error {
	if op.sealed {
		return ErrSealed
	}
	op.New = append(op.New, obj)
	return nil
}

// AddOld appends a delete reference for an object version.
func (op *Operation) AddOld(hash string, index int) error {
	if op.sealed {
		return ErrSealed
	}
	op.Old = append(op.Old, DeleteRef{Hash: signature.RawHash(hash), Index: index})
	return nil
}

// AddRef records a named reference to an object by its composite id.
func (op *Operation) AddRef(name string, id ...string) error {
	if op.sealed {
		return ErrSealed
	}
	if op.Ref == nil {
		op.Ref = make(map[string][]string)
	}
	op.Ref[name] = id
	return nil
}

// CalculateHash returns the tagged sha256 hash of the canonical encoding of
// the operation without the hash and signature fields.
func (op *Operation) CalculateHash() (string, error) {
	cp := *op
	cp.Hash = ""
	cp.Signature = ""

	data, err := json.Marshal(&cp)
	if err != nil {
		return "", err
	}

	return signature.Hash(data), nil
}

// RawHash returns the hex digest part of the operation hash.
func (op *Operation) RawHash() string {
	return signature.RawHash(op.Hash)
}

// SignaturePayload returns the bytes that are signed for this operation,
// the raw digest of its hash.
func (op *Operation) SignaturePayload() ([]byte, error) {
	if op.Hash == "" {
		return nil, fmt.Errorf("operation of type %s has no hash", op.Type)
	}
	return signature.HashBytes(op.Hash)
}

// Seal makes the operation and all of its objects immutable.
func (op *Operation) Seal() {
	for _, obj := range op.New {
		obj.Seal()
	}
	op.sealed = true
}

// IsSealed reports if the operation is immutable.
func (op *Operation) IsSealed() bool {
	return op.sealed
}

// Size returns the number of bytes in the serialized operation.
func (op *Operation) Size() int {
	data, err := json.Marshal(op)
	if err != nil {
		return 0
	}
	return len(data)
}

// String implements the Stringer interface for logging.
func (op *Operation) String() string {
	return fmt.Sprintf("%s[%s]", op.Type, op.RawHash())
}

// Clone returns an unsealed deep copy of the operation.
func (op *Operation) Clone() (*Operation, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}

	var cp Operation
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}

	return &cp, nil
}
