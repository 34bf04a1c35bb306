package coin

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoin_Equal(t *testing.T) {
	a := New("0xabc", "USDT", "TRC20", 1.0, 0)
	b := New("0xabc", "USDT-on-okx", "TRC20", 2.0, 0)
	c := New("0xdef", "USDT", "TRC20", 1.0, 0)

	assert.True(t, a.Equal(b), "coins sharing an address are the same coin regardless of other fields")
	assert.False(t, a.Equal(c))
}

func TestCoin_Less_UnknownFeeOrdering(t *testing.T) {
	known := New("a", "X", "C", 0.5, 0)
	unknown := New("b", "X", "C", UnknownFee, 0)
	otherUnknown := New("c", "X", "C", UnknownFee, 0)

	assert.True(t, known.Less(unknown), "a known fee is always better than an unknown one")
	assert.False(t, unknown.Less(known), "an unknown fee is never better than a known one")
	assert.False(t, unknown.Less(otherUnknown), "two unknown fees are equal, neither is less")
	assert.False(t, otherUnknown.Less(unknown))
}

func TestCoin_Less_KnownFees(t *testing.T) {
	cheap := New("a", "X", "C", 0.1, 0)
	expensive := New("b", "X", "C", 0.9, 0)

	assert.True(t, cheap.Less(expensive))
	assert.False(t, expensive.Less(cheap))
}

func TestMin_TieBreaksToFirst(t *testing.T) {
	a := New("a", "X", "C", 1.0, 0)
	b := New("b", "X", "C", 1.0, 0)

	assert.Equal(t, a, Min(a, b), "on a fee tie the first-enumerated coin wins")
	assert.Equal(t, b, Min(b, a))
}

func TestMin_UnknownLoses(t *testing.T) {
	known := New("a", "X", "C", 0.2, 0)
	unknown := New("b", "X", "C", UnknownFee, 0)

	assert.Equal(t, known, Min(known, unknown))
	assert.Equal(t, known, Min(unknown, known))
}

func TestCoin_CSVRoundTrip(t *testing.T) {
	original := New(`0x"weird",addr`, "US,DT", "TRC20", 1.5, 0.25)

	row := original.MarshalCSV()
	parsed, err := ParseCSV(row)
	require.NoError(t, err)

	assert.Equal(t, original, parsed)
}

func TestCoin_CSVHeaderShape(t *testing.T) {
	assert.Equal(t, `"address","name","chain","fee","min_amount"`, CSVHeader())
}

func TestCoin_HasKnownFee(t *testing.T) {
	assert.True(t, New("a", "X", "C", 0.0, 0).HasKnownFee())
	assert.False(t, New("a", "X", "C", UnknownFee, 0).HasKnownFee())
}

func TestCoin_MinAmount(t *testing.T) {
	c := New("a", "X", "C", 0.0, 0.5)
	assert.Equal(t, 0.5, c.MinAmount())
}

func TestNewValidated_Accepts(t *testing.T) {
	c, err := NewValidated("0xabc", "USDT", "TRC20", 1.0, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "USDT", c.Name())
	assert.Equal(t, 0.5, c.MinAmount())
}

func TestNewValidated_AcceptsUnknownFeeSentinel(t *testing.T) {
	_, err := NewValidated("0xabc", "USDT", "TRC20", UnknownFee, 0)
	require.NoError(t, err)
}

func TestNewValidated_RejectsEmptyName(t *testing.T) {
	_, err := NewValidated("0xabc", "  ", "TRC20", 1.0, 0)
	require.Error(t, err)
	var ce *CoinCreateError
	assert.ErrorAs(t, err, &ce)
}

func TestNewValidated_RejectsEmptyChain(t *testing.T) {
	_, err := NewValidated("0xabc", "USDT", "", 1.0, 0)
	require.Error(t, err)
}

func TestNewValidated_RejectsNegativeFee(t *testing.T) {
	_, err := NewValidated("0xabc", "USDT", "TRC20", -1.5, 0)
	require.Error(t, err)
}

func TestNewValidated_RejectsNonNumericFee(t *testing.T) {
	_, err := NewValidated("0xabc", "USDT", "TRC20", math.NaN(), 0)
	require.Error(t, err)

	_, err = NewValidated("0xabc", "USDT", "TRC20", math.Inf(1), 0)
	require.Error(t, err)
}

func TestNewValidated_RejectsNegativeMinAmount(t *testing.T) {
	_, err := NewValidated("0xabc", "USDT", "TRC20", 1.0, -0.1)
	require.Error(t, err)
}

func TestNewValidated_RejectsNonNumericMinAmount(t *testing.T) {
	_, err := NewValidated("0xabc", "USDT", "TRC20", 1.0, math.NaN())
	require.Error(t, err)
}
