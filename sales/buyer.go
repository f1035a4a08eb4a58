package sales

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// BuyerSize is the byte width of a buyer identifier.
const BuyerSize = 32

// Buyer is an opaque 252-bit identifier stored big-endian in 32 bytes.
// The top four bits are always zero.
type Buyer [BuyerSize]byte

// ParseBuyer parses a hex identifier, with or without a 0x prefix.
// Leading zeros are ignored, so the zero-padded 64-digit form is accepted;
// at most 63 significant digits remain so the value fits in 252 bits.
func ParseBuyer(s string) (Buyer, error) {
	var b Buyer
	digits := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if digits == "" {
		return b, fmt.Errorf("%w: empty buyer identifier", ErrInvalidInput)
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return b, nil
	}
	if len(digits) > 2*BuyerSize-1 {
		return b, fmt.Errorf("%w: buyer identifier exceeds 252 bits", ErrInvalidInput)
	}
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	raw, err := hex.DecodeString(digits)
	if err != nil {
		return b, fmt.Errorf("%w: buyer identifier: %v", ErrInvalidInput, err)
	}
	copy(b[BuyerSize-len(raw):], raw)
	return b, nil
}

// MustParseBuyer is ParseBuyer for constants and tests.
func MustParseBuyer(s string) Buyer {
	b, err := ParseBuyer(s)
	if err != nil {
		panic(err)
	}
	return b
}

// BuyerFromBytes builds a buyer from its 32-byte encoding.
func BuyerFromBytes(raw []byte) (Buyer, error) {
	var b Buyer
	if len(raw) != BuyerSize {
		return b, fmt.Errorf("%w: buyer identifier must be %d bytes, got %d", ErrInvalidInput, BuyerSize, len(raw))
	}
	if raw[0]&0xf0 != 0 {
		return b, fmt.Errorf("%w: buyer identifier exceeds 252 bits", ErrInvalidInput)
	}
	copy(b[:], raw)
	return b, nil
}

// String returns the 0x-prefixed hex form without leading zeros.
func (b Buyer) String() string {
	s := strings.TrimLeft(hex.EncodeToString(b[:]), "0")
	if s == "" {
		s = "0"
	}
	return "0x" + s
}

// IsZero reports whether the identifier is all zeros.
func (b Buyer) IsZero() bool { return b == Buyer{} }
