package models

import "math"

// TariffTier is one pricing band of a tiered tariff. Upper is the
// inclusive upper bound of the band in consumption units; the last tier
// uses +Inf.
type TariffTier struct {
	Lower float64
	Upper float64
	Rate  float64
}

// Tariff is a tiered consumption tariff.
type Tariff struct {
	Tiers []TariffTier
}

// ElectricTariff and WaterTariff are the published USMS residential
// tariffs.
var (
	ElectricTariff = Tariff{Tiers: []TariffTier{
		{1, 600, 0.01},
		{601, 2000, 0.08},
		{2001, 4000, 0.10},
		{4001, math.Inf(1), 0.12},
	}}
	WaterTariff = Tariff{Tiers: []TariffTier{
		{1, 54.54, 0.11},
		{54.54, math.Inf(1), 0.44},
	}}
)

// TariffFor returns the tariff for a meter type, or nil for types
// without a published tariff.
func TariffFor(t MeterType) *Tariff {
	switch t {
	case MeterElectricity:
		return &ElectricTariff
	case MeterWater:
		return &WaterTariff
	default:
		return nil
	}
}

// CostOf calculates the cost of a total consumption across the tiers.
func (t Tariff) CostOf(consumption float64) float64 {
	var cost float64
	remaining := consumption
	for _, tier := range t.Tiers {
		if remaining <= 0 {
			break
		}
		span := tier.Upper - tier.Lower + 1
		if math.IsInf(tier.Upper, 1) {
			span = math.Inf(1)
		}
		portion := math.Min(remaining, span)
		cost += portion * tier.Rate
		remaining -= portion
	}
	return math.Round(cost*100) / 100
}

// TotalCost prices a consumption series against the tariff for the given
// meter type. It returns 0 for meter types without a tariff.
func TotalCost(t MeterType, s ConsumptionSeries) float64 {
	tariff := TariffFor(t)
	if tariff == nil {
		return 0
	}
	return tariff.CostOf(s.TotalConsumption())
}
