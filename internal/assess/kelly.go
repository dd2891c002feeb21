package assess

import "math"

// assumedAverageLoss approximates the loss side of the payoff ratio.
const assumedAverageLoss = 0.05

// KellyPercent returns the recommended position size as a percentage of
// portfolio value:
//
//	kelly = p - (1-p)/r,  r = |expected_return| / 0.05 (1 when expected_return is 0)
//
// floored at 0, scaled by the fractional-Kelly coefficient and capped at
// maxPercent. For a fixed expected return it is non-decreasing in p.
func KellyPercent(winProbability, expectedReturn, fraction, maxPercent float64) float64 {
	if winProbability <= 0 || fraction <= 0 {
		return 0
	}
	p := math.Min(winProbability, 1)

	ratio := 1.0
	if expectedReturn != 0 {
		ratio = math.Abs(expectedReturn) / assumedAverageLoss
	}

	kelly := p - (1-p)/ratio
	if kelly < 0 {
		kelly = 0
	}
	return math.Min(kelly*fraction*100, maxPercent)
}
