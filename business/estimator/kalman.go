package estimator

// kalmanResult is the outcome of one filter update, in seconds
type kalmanResult struct {
	estimate    float64
	filterError float64
}

// kalmanUpdate blends the latest measured travel time with the ensemble of travel times from previous days.
// The ensemble's mean is the prior and its population variance the measurement noise, lastError is the error
// carried from the previous update on the same leg.
func kalmanUpdate(lastVehicleSeconds float64, historicalSeconds []float64, lastError float64) kalmanResult {
	average := mean(historicalSeconds)
	v := variance(historicalSeconds, average)

	gain := 1.0
	if denominator := lastError + 2*v; denominator != 0 {
		gain = (lastError + v) / denominator
	}
	loopGain := 1 - gain

	return kalmanResult{
		estimate:    loopGain*lastVehicleSeconds + gain*average,
		filterError: v * gain,
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// variance is the population variance of values around average
func variance(values []float64, average float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		d := v - average
		total += d * d
	}
	return total / float64(len(values))
}
