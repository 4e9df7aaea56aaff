package model

// Patient is a directory entry. InsuranceBalance only ever decreases, through
// the directory's atomic update.
type Patient struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	IsInternational  bool    `json:"is_international"`
	InsuranceBalance float64 `json:"insurance_balance"`
	HistoricalVisits int     `json:"historical_visits"`
}
