package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VisitTimeLayout is the persisted timestamp format of a visit.
const VisitTimeLayout = "2006-01-02 15:04:05"

// Flag is a boolean persisted as an INTEGER 0/1 column.
type Flag bool

// Value implements driver.Valuer
func (f Flag) Value() (driver.Value, error) {
	if f {
		return int64(1), nil
	}
	return int64(0), nil
}

// Scan implements sql.Scanner
func (f *Flag) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*f = v != 0
	case bool:
		*f = Flag(v)
	case []byte:
		*f = len(v) > 0 && v[0] != '0'
	case nil:
		*f = false
	default:
		return fmt.Errorf("cannot scan %T into Flag", src)
	}
	return nil
}

// Visit is one processed consultation. Visits are append-only and never
// modified after they are stored.
type Visit struct {
	ID               uuid.UUID `json:"id" db:"id"`
	PatientID        string    `json:"patient_id" db:"patient_id"`
	PatientName      string    `json:"name" db:"name"`
	IsInternational  Flag      `json:"is_international" db:"is_international"`
	InsuranceBalance float64   `json:"insurance_balance" db:"insurance_balance"`
	Subjective       string    `json:"subjective" db:"subjective"`
	Objective        string    `json:"objective" db:"objective"`
	Assessment       string    `json:"assessment" db:"assessment"`
	Plan             string    `json:"plan" db:"plan"`
	FollowUp         string    `json:"follow_up" db:"follow_up"`
	CreatedAt        time.Time `json:"timestamp" db:"-"`
}

// Timestamp renders CreatedAt in the persisted layout.
func (v *Visit) Timestamp() string {
	return v.CreatedAt.Format(VisitTimeLayout)
}

// HistoryRow is the tabular view of a visit shown next to a new consultation.
type HistoryRow struct {
	Timestamp  string `json:"timestamp"`
	Subjective string `json:"subjective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
	FollowUp   string `json:"follow_up"`
}

// NewHistoryRows projects visits into history rows, keeping their order.
func NewHistoryRows(visits []*Visit) []HistoryRow {
	rows := make([]HistoryRow, 0, len(visits))
	for _, v := range visits {
		rows = append(rows, HistoryRow{
			Timestamp:  v.Timestamp(),
			Subjective: v.Subjective,
			Assessment: v.Assessment,
			Plan:       v.Plan,
			FollowUp:   v.FollowUp,
		})
	}
	return rows
}
