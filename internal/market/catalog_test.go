package market

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAssetID(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "RH-1001", want: "RH-1001"},
		{in: "1001", want: "RH-1001"},
		{in: "  RH-7  ", want: "RH-7"},
		{in: "asset-42", want: "RH-42"},
		{in: "rh-1001", want: "RH-1001"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "no-digits-here", wantErr: true},
	}
	for _, tc := range cases {
		got, err := NormalizeAssetID(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestCatalogSeedsDefaultsOnFirstOpen(t *testing.T) {
	dir := t.TempDir()
	defaults := []Asset{
		{ID: "1001", Name: "Alpha", Symbol: "ALP", UnitPrice: decimal.RequireFromString("10.00")},
	}

	c, err := NewCatalog(dir, defaults)
	require.NoError(t, err)

	a, ok := c.Get("RH-1001")
	require.True(t, ok)
	assert.Equal(t, "RH-1001", a.ID, "default ids are normalized on seed")
	assert.Equal(t, "Alpha", a.Name)
}

func TestCatalogPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCatalog(dir, nil)
	require.NoError(t, err)
	require.NoError(t, c.Put(Asset{ID: "RH-2000", Name: "Beta", UnitPrice: decimal.RequireFromString("3.25")}))

	reopened, err := NewCatalog(dir, []Asset{{ID: "RH-9999", Name: "ShouldNotSeed"}})
	require.NoError(t, err)

	_, ok := reopened.Get("RH-9999")
	assert.False(t, ok, "defaults only apply to a fresh catalog")

	a, ok := reopened.Get("2000")
	require.True(t, ok)
	assert.Equal(t, "Beta", a.Name)
	assert.True(t, a.UnitPrice.Equal(decimal.RequireFromString("3.25")))
}

func TestCatalogWriteLeavesSingleFile(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCatalog(dir, DefaultAssets())
	require.NoError(t, err)
	require.NoError(t, c.Put(Asset{ID: "RH-2000", Name: "Beta", UnitPrice: decimal.RequireFromString("3.25")}))
	require.NoError(t, c.Put(Asset{ID: "RH-2000", Name: "Beta v2", UnitPrice: decimal.RequireFromString("3.50")}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "rewrites replace the catalog, no temp files left behind")
	assert.Equal(t, "assets.json", entries[0].Name())
}

func TestCatalogGetAcceptsAnySpelling(t *testing.T) {
	c, err := NewCatalog(t.TempDir(), DefaultAssets())
	require.NoError(t, err)

	for _, spelling := range []string{"RH-1001", "1001", "asset 1001"} {
		_, ok := c.Get(spelling)
		assert.True(t, ok, "spelling %q", spelling)
	}
	_, ok := c.Get("garbage")
	assert.False(t, ok)
}
