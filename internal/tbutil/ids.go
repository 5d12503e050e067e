package tbutil

import (
	"crypto/sha256"

	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

const (
	operatorAccountPrefix = "acct:operator:"
	sessionAccountPrefix  = "acct:sessions:"
	consumeTransferPref   = "xfer:consume:"
	refundTransferPref    = "xfer:refund:"
	grantTransferPref     = "xfer:grant:"
)

// ID128 deterministically maps a string label to a TigerBeetle Uint128.
func ID128(label string) tbtypes.Uint128 {
	sum := sha256.Sum256([]byte(label))
	var raw [16]byte
	copy(raw[:], sum[:16])
	if isZero(raw) || isMax(raw) {
		raw[0] ^= 0x01
	}
	return tbtypes.BytesToUint128(raw)
}

// OperatorAccountID returns the operator account that issues credits for a plan.
func OperatorAccountID(plan string) tbtypes.Uint128 {
	return ID128(operatorAccountPrefix + plan)
}

// SessionAccountID returns the session-credit account for a user and plan.
func SessionAccountID(userID, plan string) tbtypes.Uint128 {
	return ID128(sessionAccountPrefix + plan + ":" + userID)
}

// ConsumeTransferID returns the transfer ID for consuming an operation's credit.
func ConsumeTransferID(operationID string) tbtypes.Uint128 {
	return ID128(consumeTransferPref + operationID)
}

// RefundTransferID returns the transfer ID for refunding an operation's credit.
func RefundTransferID(operationID string) tbtypes.Uint128 {
	return ID128(refundTransferPref + operationID)
}

// GrantTransferID returns the transfer ID for a balance adjustment.
func GrantTransferID(grantID string) tbtypes.Uint128 {
	return ID128(grantTransferPref + grantID)
}

// isZero reports whether the 16-byte array is all zeros.
func isZero(raw [16]byte) bool {
	for _, b := range raw[:] {
		if b != 0 {
			return false
		}
	}
	return true
}

// isMax reports whether the 16-byte array is all 0xFF.
func isMax(raw [16]byte) bool {
	for _, b := range raw[:] {
		if b != 0xFF {
			return false
		}
	}
	return true
}
