package assess

import "fmt"

// lowReturn is the expected return below which waiting is suggested.
const lowReturn = 0.05

// Recommendations is a pure function of the computed assessment state:
// identical inputs always yield identical text in identical order.
func Recommendations(critical []string, checks []Check, sizePercent, kellyPercent, expectedReturn, maxPositionPercent float64) []string {
	var out []string
	for _, msg := range critical {
		out = append(out, "Critical: "+msg)
	}

	if sizePercent > maxPositionPercent {
		out = append(out, fmt.Sprintf("Consider reducing position size from %.1f%% to under %g%% of portfolio", sizePercent, maxPositionPercent))
	}
	if kellyPercent > 0 && sizePercent > kellyPercent {
		out = append(out, fmt.Sprintf("Kelly criterion recommends %.1f%% position size vs current %.1f%%", kellyPercent, sizePercent))
	}

	failed := 0
	for _, c := range checks {
		if c.Passed {
			continue
		}
		failed++
		if c.Level == LevelHigh {
			out = append(out, "High priority: "+c.Message)
		}
	}

	if expectedReturn < lowReturn {
		out = append(out, "Expected return is low - consider waiting for a better opportunity")
	}
	if failed > 2 {
		out = append(out, "Multiple risk issues detected - consider reducing risk or skipping this trade")
	}
	if len(out) == 0 {
		out = append(out, "Trade appears acceptable within risk parameters")
	}
	return out
}
