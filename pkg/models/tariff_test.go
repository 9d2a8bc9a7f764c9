package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElectricTariffFirstTier(t *testing.T) {
	assert.Equal(t, 1.0, ElectricTariff.CostOf(100))
	assert.Equal(t, 6.0, ElectricTariff.CostOf(600))
}

func TestElectricTariffSpansTiers(t *testing.T) {
	// 600 units at 0.01 plus 400 units at 0.08.
	assert.Equal(t, 38.0, ElectricTariff.CostOf(1000))
}

func TestElectricTariffTopTier(t *testing.T) {
	// 600*0.01 + 1400*0.08 + 2000*0.10 + 1000*0.12.
	assert.Equal(t, 438.0, ElectricTariff.CostOf(5000))
}

func TestWaterTariff(t *testing.T) {
	assert.Equal(t, 1.1, WaterTariff.CostOf(10))
	// Consumption past the first band is billed at the higher rate.
	assert.InDelta(t, 54.54*0.11+10*0.44, WaterTariff.CostOf(64.54), 0.01)
}

func TestTariffForUnknownType(t *testing.T) {
	assert.Nil(t, TariffFor(MeterType("GAS")))
	assert.NotNil(t, TariffFor(MeterElectricity))
	assert.NotNil(t, TariffFor(MeterWater))
}

func TestTotalCost(t *testing.T) {
	var s ConsumptionSeries
	s.Append(ConsumptionEntry{Value: 50})
	s.Append(ConsumptionEntry{Value: 50})

	assert.Equal(t, 1.0, TotalCost(MeterElectricity, s))
	assert.Equal(t, 0.0, TotalCost(MeterType("GAS"), s))
}
