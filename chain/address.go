// Package chain holds the on-chain collaborators the accounting core calls
// into: address validation and transaction submission. Both are injected at
// construction time; nothing here is a process-wide singleton.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressValidator validates and case-normalizes wallet addresses before
// they reach the ledger.
type AddressValidator interface {
	Valid(address string) bool
	// Normalize returns the canonical lowercase form of a valid address.
	Normalize(address string) (string, bool)
}

// HexValidator accepts 20-byte 0x-prefixed hex addresses.
type HexValidator struct{}

// NewHexValidator returns the standard EVM address validator.
func NewHexValidator() HexValidator { return HexValidator{} }

// Valid implements AddressValidator.
func (HexValidator) Valid(address string) bool {
	return common.IsHexAddress(strings.TrimSpace(address))
}

// Normalize implements AddressValidator. The ledger keys accounts by the
// lowercase form so mixed-case submissions always resolve to one record.
func (HexValidator) Normalize(address string) (string, bool) {
	trimmed := strings.TrimSpace(address)
	if !common.IsHexAddress(trimmed) {
		return "", false
	}
	return strings.ToLower(common.HexToAddress(trimmed).Hex()), true
}
