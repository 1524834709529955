package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCode(t *testing.T) {
	cases := []struct {
		in   string
		out  string
		fail bool
	}{
		{in: "usd", out: "USD"},
		{in: " eur ", out: "EUR"},
		{in: "USDT2024", out: "USDT2024"},
		{in: "us", fail: true},
		{in: "TOOLONGCODE", fail: true},
		{in: "US-D", fail: true},
		{in: "", fail: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeCode(tc.in)
			if tc.fail {
				assert.ErrorIs(t, err, ErrInvalidCurrency)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.out, got)
		})
	}
}

func TestScale(t *testing.T) {
	assert.Equal(t, int32(2), Scale("USD"))
	assert.Equal(t, int32(0), Scale("JPY"))
	assert.Equal(t, int32(3), Scale("BHD"))
	assert.Equal(t, DefaultScale, Scale("POINTS"))
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in    string
		scale int32
		want  string
	}{
		{"1.005", 2, "1.01"},
		{"1.004", 2, "1.00"},
		{"9.995", 2, "10.00"},
		{"149.5", 0, "150"},
		{"3.3333", 2, "3.33"},
	}
	for _, tc := range cases {
		got := RoundHalfUp(decimal.RequireFromString(tc.in), tc.scale)
		assert.Equal(t, tc.want, got.StringFixed(tc.scale), tc.in)
	}
}

func TestConvertRoundsOnce(t *testing.T) {
	got := Convert(decimal.RequireFromString("1000"), decimal.RequireFromString("0.0066725"), 2)
	assert.Equal(t, "6.67", got.StringFixed(2))
}

func TestValidateTotal(t *testing.T) {
	assert.NoError(t, ValidateTotal(decimal.RequireFromString("10.50"), "USD"))
	assert.NoError(t, ValidateTotal(decimal.RequireFromString("1500"), "JPY"))
	assert.ErrorIs(t, ValidateTotal(decimal.RequireFromString("10.505"), "USD"), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateTotal(decimal.RequireFromString("1500.5"), "JPY"), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateTotal(decimal.RequireFromString("-1"), "USD"), ErrInvalidAmount)
}

func TestParse(t *testing.T) {
	d, err := Parse("12,34")
	require.NoError(t, err)
	assert.Equal(t, "12.34", d.String())

	_, err = Parse("abc")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Parse(" ")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
