package tbutil

import (
	"encoding/binary"
	"fmt"

	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// Uint64 narrows a TigerBeetle amount. Session balances never approach the
// upper half, so a set high word means a corrupt account.
func Uint64(value tbtypes.Uint128) (uint64, error) {
	raw := value.Bytes()
	if high := binary.LittleEndian.Uint64(raw[8:]); high != 0 {
		return 0, fmt.Errorf("amount overflows uint64 (high word %d)", high)
	}
	return binary.LittleEndian.Uint64(raw[:8]), nil
}

// PostedBalance returns credits minus debits posted to an account, clamped
// at zero.
func PostedBalance(account tbtypes.Account) (int64, error) {
	credits, err := Uint64(account.CreditsPosted)
	if err != nil {
		return 0, fmt.Errorf("credits posted: %w", err)
	}
	debits, err := Uint64(account.DebitsPosted)
	if err != nil {
		return 0, fmt.Errorf("debits posted: %w", err)
	}
	if credits <= debits {
		return 0, nil
	}
	return int64(credits - debits), nil
}
