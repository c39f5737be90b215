package enums

import "fmt"

// CartOpKind names a queued cart mutation.
type CartOpKind string

const (
	CartOpAdd         CartOpKind = "add"
	CartOpRemove      CartOpKind = "remove"
	CartOpSetQuantity CartOpKind = "set_quantity"
	CartOpClear       CartOpKind = "clear"
	CartOpToggle      CartOpKind = "toggle"
	CartOpToggleAll   CartOpKind = "toggle_all"
)

var validCartOpKinds = []CartOpKind{
	CartOpAdd,
	CartOpRemove,
	CartOpSetQuantity,
	CartOpClear,
	CartOpToggle,
	CartOpToggleAll,
}

// IsValid reports whether the value is a known CartOpKind.
func (k CartOpKind) IsValid() bool {
	for _, candidate := range validCartOpKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseCartOpKind converts raw input into a CartOpKind.
func ParseCartOpKind(value string) (CartOpKind, error) {
	for _, candidate := range validCartOpKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cart op %q", value)
}

// SyncStatus surfaces whether the client view matches the stored cart document.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)
