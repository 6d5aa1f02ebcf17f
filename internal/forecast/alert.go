package forecast

// AlertResult is the outcome of comparing a forecast against a threshold.
// Index and Value locate the forecast minimum; Index is -1 when no
// threshold was configured.
type AlertResult struct {
	Triggered bool     `json:"triggered"`
	Index     int      `json:"index"`
	Value     float64  `json:"value"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Evaluate triggers when the minimum of series is strictly below
// threshold. A nil threshold never triggers. Ties resolve to the earliest
// step.
func Evaluate(series Series, threshold *float64) (AlertResult, error) {
	if len(series) == 0 {
		return AlertResult{}, invalid("series", "forecast series is empty")
	}
	if threshold == nil {
		return AlertResult{Index: -1}, nil
	}

	minIdx := 0
	for i := 1; i < len(series); i++ {
		if series[i] < series[minIdx] {
			minIdx = i
		}
	}

	t := *threshold
	return AlertResult{
		Triggered: series[minIdx] < t,
		Index:     minIdx,
		Value:     series[minIdx],
		Threshold: &t,
	}, nil
}
