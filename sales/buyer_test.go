package sales_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sale-ledger/sales"
)

func TestParseBuyer(t *testing.T) {
	b, err := sales.ParseBuyer("0x04a1")
	require.NoError(t, err)
	assert.Equal(t, "0x4a1", b.String())
	assert.Equal(t, byte(0xa1), b[31])
	assert.Equal(t, byte(0x04), b[30])

	same, err := sales.ParseBuyer("4A1")
	require.NoError(t, err)
	assert.Equal(t, b, same)

	zero, err := sales.ParseBuyer("0x0")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
	assert.Equal(t, "0x0", zero.String())
}

func TestParseBuyer_Limits(t *testing.T) {
	widest := "0x" + strings.Repeat("f", 63)
	b, err := sales.ParseBuyer(widest)
	require.NoError(t, err)
	assert.Equal(t, widest, b.String())

	// zero-padded 32-byte form agrees with BuyerFromBytes
	padded, err := sales.ParseBuyer("0x0" + strings.Repeat("f", 63))
	require.NoError(t, err)
	assert.Equal(t, b, padded)
	raw := make([]byte, sales.BuyerSize)
	for i := range raw {
		raw[i] = 0xff
	}
	raw[0] = 0x0f
	fromBytes, err := sales.BuyerFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, fromBytes, padded)

	leadingZeros, err := sales.ParseBuyer("0x" + strings.Repeat("0", 70) + "1")
	require.NoError(t, err)
	assert.Equal(t, "0x1", leadingZeros.String())

	for _, bad := range []string{"", "0x", "0xzz", "0x" + strings.Repeat("1", 64), "0x0" + strings.Repeat("f", 64)} {
		_, err := sales.ParseBuyer(bad)
		assert.ErrorIs(t, err, sales.ErrInvalidInput, "input %q", bad)
	}
}

func TestBuyerFromBytes(t *testing.T) {
	raw := make([]byte, sales.BuyerSize)
	raw[31] = 7
	b, err := sales.BuyerFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, "0x7", b.String())

	raw[0] = 0x10
	_, err = sales.BuyerFromBytes(raw)
	assert.ErrorIs(t, err, sales.ErrInvalidInput)

	_, err = sales.BuyerFromBytes(raw[:31])
	assert.ErrorIs(t, err, sales.ErrInvalidInput)
}
