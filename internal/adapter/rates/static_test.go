package rates

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSource_FetchRate(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewStaticSource("usd", map[string]string{"EUR": "0.92", "JPY": "151.50", "gbp": "0.80"}, asOf)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		from, to string
		want     string
	}{
		{"USD", "EUR", "0.92"},
		{"eur", "usd", "1.086956521739"},
		{"EUR", "JPY", "164.673913043478"},
		{"GBP", "EUR", "1.15"},
		{"USD", "USD", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			rate, at, err := s.FetchRate(ctx, tt.from, tt.to)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(rate), "got %s", rate)
			assert.Equal(t, asOf, at)
		})
	}

	_, _, err = s.FetchRate(ctx, "USD", "XAU")
	assert.ErrorContains(t, err, "XAU")
}

func TestStaticSource_Invalid(t *testing.T) {
	_, err := NewStaticSource("USD", map[string]string{"EUR": "abc"}, time.Now())
	assert.Error(t, err)
	_, err = NewStaticSource("USD", map[string]string{"EUR": "-1"}, time.Now())
	assert.Error(t, err)
	_, err = NewStaticSource("USD", map[string]string{"USD": "2"}, time.Now())
	assert.Error(t, err)
}

func TestStaticSource_SetRateOverridesPair(t *testing.T) {
	s, err := NewStaticSource("USD", DefaultTable, time.Now())
	require.NoError(t, err)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SetRate("usd", "eur", decimal.RequireFromString("0.95"), at))

	rate, asOf, err := s.FetchRate(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.95", rate.String())
	assert.Equal(t, at, asOf)

	inverse, _, err := s.FetchRate(ctx, "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, "1.052631578947", inverse.String())

	assert.Error(t, s.SetRate("USD", "USD", decimal.NewFromInt(1), at))
	assert.Error(t, s.SetRate("USD", "EUR", decimal.Zero, at))
	assert.Contains(t, s.Currencies(), "JPY")
}

func TestLoadStaticSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	content := `base: EUR
as_of: 2026-02-01T00:00:00Z
rates:
  USD: "1.08"
  CHF: "0.95"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := LoadStaticSource(path)
	require.NoError(t, err)
	rate, asOf, err := s.FetchRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, "1.08", rate.String())
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), asOf)

	_, err = LoadStaticSource(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	noBase := filepath.Join(t.TempDir(), "nobase.yaml")
	require.NoError(t, os.WriteFile(noBase, []byte("rates: {}\n"), 0o600))
	_, err = LoadStaticSource(noBase)
	assert.ErrorContains(t, err, "base is required")
}

func TestDefaultSource_Rebases(t *testing.T) {
	s, err := DefaultSource("eur")
	require.NoError(t, err)

	rate, _, err := s.FetchRate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	assert.True(t, rate.Sub(decimal.RequireFromString("0.92")).Abs().LessThan(decimal.New(1, -9)), "got %s", rate)

	rate, _, err = s.FetchRate(context.Background(), "EUR", "EUR")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))

	_, err = DefaultSource("XAU")
	assert.Error(t, err)
}

func TestStaticSource_LiveTableReportsFetchTime(t *testing.T) {
	s, err := DefaultSource("USD")
	require.NoError(t, err)
	later := time.Now().Add(25 * time.Hour)
	s.now = func() time.Time { return later }

	_, asOf, err := s.FetchRate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, later.UTC(), asOf)

	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base: USD\nrates:\n  EUR: \"0.9\"\n"), 0o600))
	fromFile, err := LoadStaticSource(path)
	require.NoError(t, err)
	fromFile.now = func() time.Time { return later }
	_, asOf, err = fromFile.FetchRate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, later.UTC(), asOf)
}
