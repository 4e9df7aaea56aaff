// Package billing charges a consultation against the patient's insurance balance.
package billing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
)

const (
	ServiceCost  = 20.0
	CoverageRate = 0.5
)

type BillingService interface {
	Bill(ctx context.Context, patientID, plan string) (*model.InsuranceStatus, error)
	Refund(ctx context.Context, status *model.InsuranceStatus) error
}

type Service struct {
	patients repository.PatientDirectory
}

func NewService(patients repository.PatientDirectory) *Service {
	return &Service{patients: patients}
}

// Bill charges one consultation. International patients have half the cost
// covered from their insurance balance, capped at what remains; the balance is
// drawn down through the directory. Others are reported without mutation.
// The plan does not influence the amount.
func (s *Service) Bill(ctx context.Context, patientID, plan string) (*model.InsuranceStatus, error) {
	patient, err := s.patients.Get(ctx, patientID)
	if err != nil {
		return nil, lookupError(patientID, err)
	}

	status := &model.InsuranceStatus{
		PatientID:       patient.ID,
		International:   patient.IsInternational,
		ServiceCost:     ServiceCost,
		PreviousBalance: patient.InsuranceBalance,
		Balance:         patient.InsuranceBalance,
		OutOfPocket:     ServiceCost,
	}

	if !patient.IsInternational {
		status.Message = fmt.Sprintf("Non-international patient. Insurance balance: $%.2f.", status.Balance)
		return status, nil
	}

	var covered float64
	updated, err := s.patients.UpdateBalance(ctx, patientID, func(balance float64) float64 {
		status.PreviousBalance = balance
		covered = math.Min(math.Max(balance, 0), ServiceCost*CoverageRate)
		return balance - covered
	})
	if err != nil {
		return nil, lookupError(patientID, err)
	}

	status.Covered = covered
	status.OutOfPocket = ServiceCost - covered
	status.Balance = updated.InsuranceBalance
	status.Message = fmt.Sprintf("International student. Insurance balance: $%.2f. Out-of-pocket: $%.2f.",
		status.Balance, status.OutOfPocket)
	return status, nil
}

// Refund restores the amount covered by a previous Bill.
func (s *Service) Refund(ctx context.Context, status *model.InsuranceStatus) error {
	if status == nil || status.Covered == 0 {
		return nil
	}
	_, err := s.patients.UpdateBalance(ctx, status.PatientID, func(balance float64) float64 {
		return balance + status.Covered
	})
	if err != nil {
		return lookupError(status.PatientID, err)
	}
	return nil
}

func lookupError(patientID string, err error) error {
	if errors.Is(err, repository.ErrPatientNotFound) {
		return apperrors.NewUnknownPatient(patientID)
	}
	return fmt.Errorf("failed to access patient directory: %w", err)
}
