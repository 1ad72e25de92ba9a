package bundle

import (
	"testing"

	"github.com/smallbiznis/proposalpricing/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(config.DefaultPricingConfig().BundleRules)
	require.NoError(t, err)
	return d
}

func TestDetect_RoofingAndWindows(t *testing.T) {
	d := defaultDetector(t)

	res, err := d.Detect([]PricedService{
		{ID: "roofing", Subtotal: 20000},
		{ID: "windows-doors", Subtotal: 8000},
	})

	require.NoError(t, err)
	assert.Equal(t, 1400.0, res.Amount)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, "roofing-windows", res.Applied[0].RuleID)
	assert.Equal(t, 28000.0, res.Applied[0].Basis)
}

func TestDetect_HVACNeedsAnotherService(t *testing.T) {
	d := defaultDetector(t)

	alone, err := d.Detect([]PricedService{{ID: "hvac", Subtotal: 12000}})
	require.NoError(t, err)
	assert.Zero(t, alone.Amount)

	combined, err := d.Detect([]PricedService{
		{ID: "hvac", Subtotal: 12000},
		{ID: "insulation", Subtotal: 3000},
	})
	require.NoError(t, err)
	assert.Equal(t, 360.0, combined.Amount)
}

func TestDetect_RulesAreSummed(t *testing.T) {
	d := defaultDetector(t)

	res, err := d.Detect([]PricedService{
		{ID: "roofing", Subtotal: 20000},
		{ID: "windows-doors", Subtotal: 8000},
		{ID: "hvac", Subtotal: 10000},
	})

	require.NoError(t, err)
	assert.Equal(t, 1700.0, res.Amount)
	assert.Len(t, res.Applied, 2)
}

func TestDetect_DuplicateServicesAreMerged(t *testing.T) {
	d := defaultDetector(t)

	res, err := d.Detect([]PricedService{
		{ID: "roofing", Subtotal: 10000},
		{ID: "roofing", Subtotal: 10000},
		{ID: "windows-doors", Subtotal: 8000},
	})

	require.NoError(t, err)
	assert.Equal(t, 1400.0, res.Amount)
}

func TestDetect_NoServices(t *testing.T) {
	res, err := defaultDetector(t).Detect(nil)
	require.NoError(t, err)
	assert.Zero(t, res.Amount)
}

func TestNewDetector_RejectsBadConditions(t *testing.T) {
	_, err := NewDetector([]config.BundleRuleConfig{{ID: "broken", Condition: `services +`, Percent: 1}})
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = NewDetector([]config.BundleRuleConfig{{ID: "not-bool", Condition: `service_count`, Percent: 1}})
	assert.ErrorIs(t, err, ErrInvalidRule)
}
