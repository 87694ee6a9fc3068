package money_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

func TestQuantizeHalfUp(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"10":      "10",
		"10.004":  "10",
		"10.005":  "10.01",
		"10.4999": "10.5",
		"0.125":   "0.13",
		"3.999":   "4",
	}
	for in, want := range cases {
		got := money.Quantize(money.MustFromString(in))
		require.True(t, got.Equal(money.MustFromString(want)), "Quantize(%s) = %s, want %s", in, got, want)
	}
}

func TestNumericRoundTrip(t *testing.T) {
	t.Parallel()

	a := money.MustFromString("1234.56")
	n := money.ToNumeric(a)
	back, err := money.FromNumeric(n)
	require.NoError(t, err)
	require.True(t, back.Equal(a))
}

func TestToNumericQuantizes(t *testing.T) {
	t.Parallel()

	n := money.ToNumeric(money.MustFromString("9.995"))
	back, err := money.FromNumeric(n)
	require.NoError(t, err)
	require.True(t, back.Equal(money.MustFromString("10.00")))
}

func TestMin(t *testing.T) {
	t.Parallel()

	a := money.MustFromString("5.00")
	b := money.MustFromString("3.50")
	require.True(t, money.Min(a, b).Equal(b))
	require.True(t, money.Min(b, a).Equal(b))
	require.True(t, money.Min(a, a).Equal(a))
}
