package forecast

// Status is the headline condition shown to a borewell owner.
type Status string

const (
	StatusSafe     Status = "safe"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Advisory summarises a forecast for display alongside the raw series.
type Advisory struct {
	Status      Status  `json:"status"`
	Drop        float64 `json:"drop"`
	Description string  `json:"description"`
	Advice      string  `json:"advice"`
}

// Advise classifies a forecast: critical when the alert fired, warning
// when the level falls by more than warnDrop between the first and last
// step, safe otherwise. An empty series is reported as safe with no drop.
func Advise(series Series, alert AlertResult, warnDrop float64) Advisory {
	var drop float64
	if len(series) > 0 {
		drop = series[0] - series[len(series)-1]
	}

	switch {
	case alert.Triggered:
		return Advisory{
			Status:      StatusCritical,
			Drop:        drop,
			Description: "Water level may reduce significantly",
			Advice:      "Reduce water usage. Avoid flood irrigation. Use drip irrigation.",
		}
	case drop > warnDrop:
		return Advisory{
			Status:      StatusWarning,
			Drop:        drop,
			Description: "Possible water level reduction",
			Advice:      "Use water carefully. Monitor irrigation.",
		}
	default:
		return Advisory{
			Status:      StatusSafe,
			Drop:        drop,
			Description: "Water level is stable",
			Advice:      "Normal irrigation can continue.",
		}
	}
}
