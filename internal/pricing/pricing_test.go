package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

func TestMargin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		price, cost float64
		want        float64
	}{
		{name: "amazon markup", price: 13, cost: 10, want: 23.1},
		{name: "fractional", price: 19.5, cost: 15, want: 23.1},
		{name: "cost above price clamps", price: 10, cost: 15, want: 0},
		{name: "zero price", price: 0, cost: 5, want: 0},
		{name: "negative price", price: -3, cost: 1, want: 0},
		{name: "no cost", price: 8, cost: 0, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tt.want, Margin(tt.price, tt.cost), 1e-9)
		})
	}
}

func TestApplyMarkupRoundsToCents(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 13.0, ApplyMarkup(10, 1.3), 1e-9)
	require.InDelta(t, 19.5, ApplyMarkup(15, 1.3), 1e-9)
	require.InDelta(t, 26.0, ApplyMarkup(20, 1.3), 1e-9)
	require.InDelta(t, 12.35, ApplyMarkup(9.5, 1.3), 1e-9)
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	cases := map[string]float64{
		"$1,234.56":         1234.56,
		"1.234,56 €":        1234.56,
		"US $12.99":         12.99,
		"12,5":              12.5,
		"£1,234":            1234,
		"R$ 1.234.567":      1234567,
		"$10.00 to $15.00":  10,
		"":                  FallbackPrice,
		"Price unavailable": FallbackPrice,
		"$0.00":             FallbackPrice,
	}
	for in, want := range cases {
		require.InDelta(t, want, ParsePrice(in, FallbackPrice), 1e-9, in)
	}
}

func TestRules(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	require.InDelta(t, 1.3, rules.Multiplier(sourcing.FamilyAmazon), 1e-9)
	require.InDelta(t, 1.0, Rules{}.Multiplier(sourcing.FamilyEbay), 1e-9)
	require.InDelta(t, 15.0, rules.Resale(sourcing.FamilyAliExpress, 10), 1e-9)
	require.Equal(t, map[string]string{"Amazon": "+30%", "AliExpress": "+50%", "eBay": "+20%"}, rules.Describe())
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	got := Normalize(sourcing.CandidateProduct{
		Name:       "  Phone ",
		Price:      13,
		Cost:       10,
		ImageURL:   "https://img/1.jpg",
		Source:     sourcing.SourceSynthetic,
		Family:     sourcing.FamilyAmazon,
		ExternalID: "X1",
	}, "Tech")

	require.Equal(t, "Phone", got.Name)
	require.Equal(t, "Tech", got.Category)
	require.Equal(t, []string{"https://img/1.jpg"}, got.Images)
	require.InDelta(t, 23.1, got.Margin, 1e-9)
	require.True(t, got.Active)
}

func TestNormalizeKeepsAdapterCategoryAndDefaults(t *testing.T) {
	t.Parallel()

	got := Normalize(sourcing.CandidateProduct{
		Category: "Garden",
		Images:   []string{"", "https://img/2.jpg"},
		Price:    -1,
	}, "Tech")

	require.Equal(t, "Garden", got.Category)
	require.Equal(t, "https://img/2.jpg", got.ImageURL)
	require.Equal(t, []string{"https://img/2.jpg"}, got.Images)
	require.Zero(t, got.Price)
	require.Zero(t, got.Cost)
	require.Zero(t, got.Margin)
}
