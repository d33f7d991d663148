package sourcing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFamily(t *testing.T) {
	t.Parallel()

	cases := map[string]Family{
		"Amazon":      FamilyAmazon,
		"amazon":      FamilyAmazon,
		" AliExpress": FamilyAliExpress,
		"EBAY":        FamilyEbay,
	}
	for in, want := range cases {
		got, err := ParseFamily(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}

	_, err := ParseFamily("walmart")
	require.ErrorIs(t, err, ErrUnknownFamily)
}

func TestSourceLabels(t *testing.T) {
	t.Parallel()

	require.Equal(t, SourceScrapedAliExpress, ScrapedSource(FamilyAliExpress))
	require.Equal(t, SourcePaidEbay, PaidSource(FamilyEbay))
	require.Equal(t, SourcePaidAmazon, PaidSource(FamilyAmazon))
}

func TestRunScope(t *testing.T) {
	t.Parallel()

	require.Equal(t, RunScope("Global"), RunRequest{}.Scope())
	fam := FamilyEbay
	require.Equal(t, RunScope("eBay"), RunRequest{Family: &fam}.Scope())
}

func TestProductApplyKeepsIdentityFields(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	p := Product{ID: "1", Name: "Renamed", Description: "Edited", Category: "Tech", Price: 1}
	p.Apply(VolatileFields{Price: 26, Cost: 20, Images: []string{"a"}, ImageURL: "a", Active: true, UpdatedAt: now})

	require.Equal(t, "Renamed", p.Name)
	require.Equal(t, "Edited", p.Description)
	require.Equal(t, "Tech", p.Category)
	require.InDelta(t, 26.0, p.Price, 0.0001)
	require.True(t, p.Active)
	require.Equal(t, now, p.UpdatedAt)
	require.Equal(t, p.Volatile().Images, []string{"a"})
}
