package ingest

import "math"

// MolarMassRatio is the ratio of the molar masses of water vapour and dry air.
const MolarMassRatio = 0.621981

// SaturationVapourPressure returns the saturation vapour pressure over water
// in hPa using the Magnus form.
func SaturationVapourPressure(tempC float64) float64 {
	return 6.112 * math.Exp(17.62*tempC/(243.12+tempC))
}

// SpecificHumidity returns kg/kg from temperature (°C), relative humidity (%)
// and station pressure (hPa). RH is clipped to [0, 100]; NaN propagates.
func SpecificHumidity(tempC, rhPercent, pressureHPa float64) float64 {
	if math.IsNaN(tempC) || math.IsNaN(rhPercent) || math.IsNaN(pressureHPa) {
		return math.NaN()
	}
	rh := math.Min(math.Max(rhPercent, 0), 100)
	e := rh / 100 * SaturationVapourPressure(tempC)
	denom := pressureHPa - (1-MolarMassRatio)*e
	if denom <= 0 {
		return math.NaN()
	}
	return MolarMassRatio * e / denom
}
