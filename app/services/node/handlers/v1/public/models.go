package public

import (
	"github.com/ardanlabs/opledger/foundation/blockchain/database"
)

// result is the status answer shared with the management endpoints.
type result struct {
	Status string `json:"status"`
	Msg    string `json:"msg,omitempty"`
}

func ok(msg string) result {
	return result{Status: "OK", Msg: msg}
}

type queueInfo struct {
	Count int                   `json:"count"`
	Ops   []*database.Operation `json:"ops"`
}

type objectsInfo struct {
	Type    string             `json:"type"`
	Count   int                `json:"count"`
	Objects []*database.Object `json:"objects"`
}

type blocksQuery struct {
	From  string `json:"from" validate:"omitempty,hexadecimal"`
	Limit int    `json:"limit" validate:"omitempty,min=1,max=1000"`
}

// operation holds the fields of a submitted operation that are checked
// before it reaches the rules.
type operation struct {
	Type      string `json:"type" validate:"required"`
	SignedBy  string `json:"signed_by" validate:"required"`
	Hash      string `json:"hash" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

func newOp(op database.Operation) operation {
	return operation{
		Type:      op.Type,
		SignedBy:  op.SignedBy,
		Hash:      op.Hash,
		Signature: op.Signature,
	}
}
