package model

// Note is a SOAP note synthesized from a transcript.
type Note struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// Advisory holds the derived follow-up and risk messages for a visit.
type Advisory struct {
	FollowUp   string `json:"follow_up"`
	HealthRisk string `json:"health_risk,omitempty"`
}

// InsuranceStatus is the outcome of billing one consultation.
type InsuranceStatus struct {
	PatientID       string  `json:"patient_id"`
	International   bool    `json:"international"`
	ServiceCost     float64 `json:"service_cost"`
	Covered         float64 `json:"covered"`
	OutOfPocket     float64 `json:"out_of_pocket"`
	PreviousBalance float64 `json:"previous_balance"`
	Balance         float64 `json:"balance"`
	Message         string  `json:"message"`
}

// ConsultationRequest is the presentation layer's input.
type ConsultationRequest struct {
	PatientID  string `json:"patient_id" binding:"required,notblank"`
	Transcript string `json:"transcript" binding:"max=20000"`
}

// Consultation is the full result of processing one transcript.
type Consultation struct {
	Note      Note            `json:"note"`
	Advisory  Advisory        `json:"advisory"`
	Insurance InsuranceStatus `json:"insurance"`
	Visit     *Visit          `json:"visit"`
	History   []HistoryRow    `json:"history"`
}
