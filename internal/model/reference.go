package model

// Body-system categories used by condition history entries.
const (
	CategoryRespiratory = "Respiratory"
)

// ConditionEntry is one past condition on a patient's record.
type ConditionEntry struct {
	Date       string `json:"date" yaml:"date"`
	Assessment string `json:"assessment" yaml:"assessment"`
	Category   string `json:"category" yaml:"category"`
}

// Forecast is an environmental outlook, e.g. pollen, for today and a week out.
type Forecast struct {
	Today       string `json:"today" mapstructure:"today"`
	InSevenDays string `json:"in_7_days" mapstructure:"in_7_days"`
}
