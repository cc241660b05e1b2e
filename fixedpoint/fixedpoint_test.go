package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRawFloorsToPrecision(t *testing.T) {
	raw, err := ToRaw("100.50", 6)
	require.NoError(t, err)
	assert.Equal(t, "100500000", raw.String())

	raw, err = ToRaw("1.23456789", 6)
	require.NoError(t, err)
	assert.Equal(t, "1234567", raw.String())

	raw, err = ToRaw(".5", 2)
	require.NoError(t, err)
	assert.Equal(t, "50", raw.String())

	raw, err = ToRaw("7", 0)
	require.NoError(t, err)
	assert.Equal(t, "7", raw.String())
}

func TestToRawRejectsInvalidInput(t *testing.T) {
	for _, input := range []string{"", " ", "-1", "abc", "1e5", "NaN", "Inf", "1/3", "0x10", "1.2.3", "5."} {
		_, err := ToRaw(input, 6)
		assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", input)
	}
}

func TestFloatToRawRejectsNonFinite(t *testing.T) {
	_, err := FloatToRaw(-0.5, 6)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	raw, err := FloatToRaw(0.1, 6)
	require.NoError(t, err)
	assert.Equal(t, "100000", raw.String())
}

func TestToRawRejectsUint256Overflow(t *testing.T) {
	huge := "115792089237316195423570985008687907853269984665640564039457584007913129639936"
	_, err := ToRaw(huge, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRoundTripWithinPrecision(t *testing.T) {
	inputs := []string{"0", "1", "0.1", "100.50", "123.456789", "0.000000000000000001", "98765.4321", "42.999999999999999999"}
	for d := uint8(0); d <= 18; d++ {
		tolerance := new(big.Rat).SetFrac(big.NewInt(1), pow10(d))
		for _, input := range inputs {
			raw, err := ToRaw(input, d)
			require.NoError(t, err)

			amount, err := NewTokenAmount(raw, d)
			require.NoError(t, err)

			want, ok := new(big.Rat).SetString(input)
			require.True(t, ok)
			diff := new(big.Rat).Sub(want, amount.Rat())
			assert.True(t, diff.Sign() >= 0, "floor must never round up: %s at %d", input, d)
			assert.True(t, diff.Cmp(tolerance) < 0, "%s at %d drifted by %s", input, d, diff.FloatString(20))
		}
	}
}

func TestToHumanRoundsForDisplay(t *testing.T) {
	assert.Equal(t, 100.5, ToHuman(big.NewInt(100_500_000), 6))
	assert.Equal(t, 1.23, ToHuman(big.NewInt(1_234_567), 6))
	assert.Equal(t, 1.2346, ToHumanPlaces(big.NewInt(1_234_567), 6, 4))
	assert.Equal(t, float64(0), ToHuman(nil, 6))
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "25000.000000", FormatRate(big.NewInt(2_500_000_000_000), 8, 6))
	assert.Equal(t, "0.9200", FormatRate(big.NewInt(92_000_000), 8, 4))
}

func TestTokenAmount(t *testing.T) {
	amount, err := ParseTokenAmount("100.50", 6)
	require.NoError(t, err)
	assert.Equal(t, "100.5", amount.String())
	assert.Equal(t, uint8(6), amount.Decimals())
	assert.False(t, amount.IsZero())

	raw := amount.Raw()
	raw.SetInt64(0)
	assert.Equal(t, "100500000", amount.Raw().String(), "raw must be copied out")

	_, err = NewTokenAmount(big.NewInt(-1), 6)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewTokenAmount(new(big.Int).Add(MaxUint256(), big.NewInt(1)), 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMaxUint256(t *testing.T) {
	want := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	assert.Equal(t, 0, want.Cmp(MaxUint256()))
}
