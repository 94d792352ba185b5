package collector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAmountMicros(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{"35.00", 35_000_000},
		{"¥58.00", 58_000_000},
		{"1,200.50", 1_200_500_000},
		{"-12.34", -12_340_000},
		{"(12.34)", -12_340_000},
		{"+9.99", 9_990_000},
		{"CNY 100", 100_000_000},
	}
	for _, c := range cases {
		got, err := normalizeAmountMicros(c.raw)
		require.NoError(t, err, c.raw)
		require.Equal(t, c.want, got, c.raw)
	}
}

func TestNormalizeAmountMicrosRejectsEmpty(t *testing.T) {
	_, err := normalizeAmountMicros("   ")
	require.Error(t, err)
}
