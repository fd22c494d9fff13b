// Package voucher allocates human-readable payment voucher numbers.
package voucher

import "errors"

// Payment kinds accepted by the allocator. Values mirror the payment module.
const (
	KindOutbound = "outbound"
	KindInbound  = "inbound"
	KindTransfer = "internal_transfer"
)

// Prefixes are user-visible and stable. PV = payment voucher (outbound),
// RV = receipt voucher (inbound), TV = transfer voucher.
var prefixes = map[string]string{
	KindOutbound: "PV",
	KindInbound:  "RV",
	KindTransfer: "TV",
}

var (
	// ErrInvalidKind indicates an unrecognised payment kind. Not retryable.
	ErrInvalidKind = errors.New("voucher: invalid payment kind")
	// ErrStorageUnavailable indicates the sequence store could not be reached.
	// Callers may retry.
	ErrStorageUnavailable = errors.New("voucher: storage unavailable")
)

// PrefixFor returns the voucher prefix for a payment kind.
func PrefixFor(kind string) (string, error) {
	prefix, ok := prefixes[kind]
	if !ok {
		return "", ErrInvalidKind
	}
	return prefix, nil
}
