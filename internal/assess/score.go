package assess

import "math"

// Score returns the 0-100 risk score:
// base 30, plus up to 40 from position size (2 points per percent),
// plus 30/20/10 per failed CRITICAL/HIGH/MEDIUM check, plus 15 for a
// negative expected return or minus 10 above 10%.
func Score(checks []Check, sizePercent, expectedReturn float64) float64 {
	score := 30.0
	score += math.Min(sizePercent*2, 40)

	for _, c := range checks {
		if c.Passed {
			continue
		}
		switch c.Level {
		case LevelCritical:
			score += 30
		case LevelHigh:
			score += 20
		case LevelMedium:
			score += 10
		}
	}

	switch {
	case expectedReturn < 0:
		score += 15
	case expectedReturn > 0.1:
		score -= 10
	}
	return math.Min(math.Max(score, 0), 100)
}
