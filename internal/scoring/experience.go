package scoring

import "math"

// ExperienceFit maps candidate years against the required minimum onto [0,1].
//
// Candidate years are capped at twice the requirement. Meeting the minimum
// scores 1.0, falling short by up to 20% decays linearly from 1.0 to 0.7 and
// anything below that scales as ratio*0.8. With no requirement any positive
// experience scores 1.0.
func ExperienceFit(requiredYears, candidateYears float64) float64 {
	if math.IsNaN(candidateYears) || candidateYears < 0 {
		candidateYears = 0
	}
	if math.IsNaN(requiredYears) || requiredYears <= 0 {
		if candidateYears > 0 {
			return 1
		}
		return 0
	}

	if candidateYears > 2*requiredYears {
		candidateYears = 2 * requiredYears
	}

	ratio := candidateYears / requiredYears
	switch {
	case ratio >= 1:
		return 1
	case ratio >= 0.8:
		return 0.7 + (ratio-0.8)*1.5
	default:
		return ratio * 0.8
	}
}

// TotalYears sums non-negative durations.
func TotalYears(durations ...float64) float64 {
	var total float64
	for _, d := range durations {
		if d > 0 && !math.IsInf(d, 0) {
			total += d
		}
	}
	return total
}
