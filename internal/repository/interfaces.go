package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
)

// ErrPatientNotFound is returned by the directory for identifiers it does not hold.
var ErrPatientNotFound = errors.New("patient not found")

// All repository interfaces in one file
type (
	// PatientDirectory holds the seeded patient population.
	PatientDirectory interface {
		Get(ctx context.Context, id string) (*model.Patient, error)
		List(ctx context.Context) ([]*model.Patient, error)
		// UpdateBalance runs fn on the current balance and stores the result
		// atomically with respect to other updates of the same directory.
		UpdateBalance(ctx context.Context, id string, fn func(balance float64) float64) (*model.Patient, error)
	}

	// VisitRepository is the append-only visit store.
	VisitRepository interface {
		Append(ctx context.Context, visit *model.Visit) error
		ListByPatient(ctx context.Context, patientID string) ([]*model.Visit, error)
		ListTimestamps(ctx context.Context, patientID string) ([]time.Time, error)
		Ping(ctx context.Context) error
	}

	// ConditionHistoryProvider returns a patient's past conditions, oldest first.
	ConditionHistoryProvider interface {
		ConditionHistory(ctx context.Context, patientID string) ([]model.ConditionEntry, error)
	}

	// ForecastProvider returns the current environmental outlook.
	ForecastProvider interface {
		Forecast(ctx context.Context) (model.Forecast, error)
	}

	// OutboxRepository feeds the relay. GetPendingEvents returns pending events
	// and retry events whose retry_at has passed.
	OutboxRepository interface {
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error
		ScheduleRetry(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
