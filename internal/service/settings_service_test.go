package service

import (
	"context"
	"testing"

	"storefront/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxRatesDefaultToZero(t *testing.T) {
	env := newTestEnv(t)

	rates, err := env.settings.TaxRates(context.Background())
	require.NoError(t, err)
	assert.True(t, rates.GST.IsZero())
	assert.True(t, rates.CGST.IsZero())
}

func TestSettingsUpdateAppliesImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.settings.Update(ctx, map[string]string{
		"gst_rate":  "9",
		"cgst_rate": "9",
		"site_name": "Weave & Co",
		"gstin":     "27ABCDE1234F1Z5",
	}))

	rates, err := env.settings.TaxRates(ctx)
	require.NoError(t, err)
	assert.True(t, rates.GST.Equal(dec("9")))

	site, err := env.settings.SiteIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Weave & Co", site.Name)
	assert.Equal(t, "27ABCDE1234F1Z5", site.GSTIN)

	require.NoError(t, env.settings.Update(ctx, map[string]string{"gst_rate": "12.5"}))
	rates, err = env.settings.TaxRates(ctx)
	require.NoError(t, err)
	assert.True(t, rates.GST.Equal(dec("12.5")))
}

func TestSettingsUpdateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for name, values := range map[string]map[string]string{
		"unknown key":   {"theme": "dark"},
		"negative rate": {"gst_rate": "-1"},
		"not a number":  {"cgst_rate": "nine"},
		"rate over 100": {"gst_rate": "101"},
		"bad gstin":     {"gstin": "abc"},
		"empty":         {},
	} {
		t.Run(name, func(t *testing.T) {
			err := env.settings.Update(ctx, values)
			assert.True(t, apperr.Is[*apperr.ValidationError](err), "%v", err)
		})
	}

	all, err := env.settings.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSiteIdentityFallsBackToDefaultName(t *testing.T) {
	env := newTestEnv(t)

	site, err := env.settings.SiteIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Storefront", site.Name)
}
