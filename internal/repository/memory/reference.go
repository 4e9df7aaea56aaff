package memory

import (
	"context"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

// ConditionHistory is a read-only map of patient → past conditions.
type ConditionHistory map[string][]model.ConditionEntry

var _ repository.ConditionHistoryProvider = ConditionHistory(nil)

// DefaultConditionHistory is the demo reference data.
func DefaultConditionHistory() ConditionHistory {
	return ConditionHistory{
		DemoPatientID: {
			{Date: "2025-08-01", Assessment: "Seasonal allergic rhinitis", Category: model.CategoryRespiratory},
			{Date: "2025-08-10", Assessment: "Sinus congestion", Category: model.CategoryRespiratory},
			{Date: "2025-08-20", Assessment: "Asthma-like symptoms", Category: model.CategoryRespiratory},
		},
	}
}

// ConditionHistory returns a copy of the patient's entries, or nil.
func (h ConditionHistory) ConditionHistory(_ context.Context, patientID string) ([]model.ConditionEntry, error) {
	entries := h[patientID]
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]model.ConditionEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// StaticForecast always reports the same outlook.
type StaticForecast model.Forecast

var _ repository.ForecastProvider = StaticForecast{}

// DefaultForecast is the demo pollen outlook.
func DefaultForecast() StaticForecast {
	return StaticForecast{Today: "High", InSevenDays: "Moderate"}
}

func (f StaticForecast) Forecast(_ context.Context) (model.Forecast, error) {
	return model.Forecast(f), nil
}
