package rules

import (
	"errors"
	"fmt"
)

// ErrorType is a machine readable reason code for a rejected operation or
// block.
type ErrorType string

// Set of reason codes reported with rejections.
const (
	OpHashIsDuplicated ErrorType = "OP_HASH_IS_DUPLICATED"
	DelObjNotFound     ErrorType = "DEL_OBJ_NOT_FOUND"
	DelObjDoubleDelete ErrorType = "DEL_OBJ_DOUBLE_DELETED"
	RefObjNotFound     ErrorType = "REF_OBJ_NOT_FOUND"
	OpHashNotCorrect   ErrorType = "OP_HASH_IS_NOT_CORRECT"
	OpSignatureFailed  ErrorType = "OP_SIGNATURE_FAILED"
	OpTypeNotAllowed   ErrorType = "OP_TYPE_NOT_ALLOWED"
	OpEmpty            ErrorType = "OP_EMPTY"
	OpInvalid          ErrorType = "OP_INVALID"

	BlockPrevHash        ErrorType = "BLOCK_PREV_HASH"
	BlockMerkleHash      ErrorType = "BLOCK_MERKLE_HASH"
	BlockHashNotCorrect  ErrorType = "BLOCK_HASH_IS_NOT_CORRECT"
	BlockSignatureFailed ErrorType = "BLOCK_SIGNATURE_FAILED"
	BlockIDNotSequential ErrorType = "BLOCK_ID_NOT_SEQUENTIAL"
	BlockEmpty           ErrorType = "BLOCK_EMPTY"
	BlockTooBig          ErrorType = "BLOCK_TOO_BIG"
	BlockTooManyOps      ErrorType = "BLOCK_TOO_MANY_OPS"

	MgmtReplicationIOFailed       ErrorType = "MGMT_REPLICATION_IO_FAILED"
	MgmtReplicationBlockConflicts ErrorType = "MGMT_REPLICATION_BLOCK_CONFLICTS"
	MgmtReplicationDownloadFailed ErrorType = "MGMT_REPLICATION_BLOCK_DOWNLOAD_FAILED"
)

// Rejection is returned when an operation or block fails validation. The
// layer it was submitted to is left unchanged.
type Rejection struct {
	Code ErrorType
	Msg  string
}

// Reject constructs a rejection with a formatted message.
func Reject(code ErrorType, format string, args ...any) error {
	return &Rejection{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Msg)
}

// IsRejection checks if an error of type Rejection exists.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// GetRejection returns a copy of the Rejection pointer.
func GetRejection(err error) *Rejection {
	var r *Rejection
	if !errors.As(err, &r) {
		return nil
	}
	return r
}

// Code returns the reason code of the error or an empty string when the
// error isn't a rejection.
func Code(err error) ErrorType {
	if r := GetRejection(err); r != nil {
		return r.Code
	}
	return ""
}
