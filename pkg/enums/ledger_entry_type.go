package enums

import "fmt"

// LedgerEntryType classifies seller ledger rows.
type LedgerEntryType string

const (
	LedgerEntryEscrowHeld     LedgerEntryType = "escrow_held"
	LedgerEntryPayoutReleased LedgerEntryType = "payout_released"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryEscrowHeld,
	LedgerEntryPayoutReleased,
}

// IsValid reports whether the value is a known LedgerEntryType.
func (l LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
