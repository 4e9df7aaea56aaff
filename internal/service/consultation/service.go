package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/service/advisory"
	"github.com/jwalitptl/consult-api/internal/service/billing"
	"github.com/jwalitptl/consult-api/internal/service/interpreter"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/logger"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

type ConsultationService interface {
	Consult(ctx context.Context, req *model.ConsultationRequest) (*model.Consultation, error)
	History(ctx context.Context, patientID string) ([]model.HistoryRow, error)
}

type Service struct {
	interpreter *interpreter.Interpreter
	advisor     advisory.AdvisoryService
	biller      billing.BillingService
	patients    repository.PatientDirectory
	visits      repository.VisitRepository
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(
	interp *interpreter.Interpreter,
	advisor advisory.AdvisoryService,
	biller billing.BillingService,
	patients repository.PatientDirectory,
	visits repository.VisitRepository,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	return &Service{
		interpreter: interp,
		advisor:     advisor,
		biller:      biller,
		patients:    patients,
		visits:      visits,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

// patientLock serializes the read-advise-bill-append sequence per patient.
func (s *Service) patientLock(patientID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[patientID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[patientID] = l
	}
	return l
}

// Consult runs one transcript through interpretation, advisories and billing,
// stores the visit and returns it with the patient's refreshed history.
// Unknown patients are rejected before any step runs. When the visit cannot
// be stored the insurance draw is refunded.
func (s *Service) Consult(ctx context.Context, req *model.ConsultationRequest) (*model.Consultation, error) {
	start := time.Now()
	result, err := s.consult(ctx, req)
	s.metrics.ConsultationLatency.Observe(time.Since(start).Seconds())
	s.metrics.Consultations.WithLabelValues(outcome(err)).Inc()
	return result, err
}

func (s *Service) consult(ctx context.Context, req *model.ConsultationRequest) (*model.Consultation, error) {
	if req == nil || strings.TrimSpace(req.PatientID) == "" {
		return nil, apperrors.NewBadRequest("patient_id is required", nil)
	}
	patientID := strings.TrimSpace(req.PatientID)

	patient, err := s.lookup(ctx, patientID)
	if err != nil {
		return nil, err
	}

	lock := s.patientLock(patientID)
	lock.Lock()
	defer lock.Unlock()

	note := s.interpreter.Interpret(req.Transcript)

	advice, err := s.advisor.Advise(ctx, patientID, note.Assessment)
	if err != nil {
		return nil, apperrors.NewStorage("advisory lookup", err)
	}

	status, err := s.biller.Bill(ctx, patientID, note.Plan)
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, apperrors.NewStorage("billing", err)
	}

	visit := &model.Visit{
		ID:               uuid.New(),
		PatientID:        patient.ID,
		PatientName:      patient.Name,
		IsInternational:  model.Flag(patient.IsInternational),
		InsuranceBalance: status.Balance,
		Subjective:       note.Subjective,
		Objective:        note.Objective,
		Assessment:       note.Assessment,
		Plan:             note.Plan,
		FollowUp:         advice.FollowUp,
		CreatedAt:        s.now().UTC().Truncate(time.Second),
	}

	if err := s.visits.Append(ctx, visit); err != nil {
		if refundErr := s.biller.Refund(ctx, status); refundErr != nil {
			s.logger.Error(refundErr, "Failed to restore insurance balance",
				"patient_id", patientID,
				"amount", status.Covered)
		}
		return nil, apperrors.NewStorage("visit append", err)
	}

	visits, err := s.visits.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, apperrors.NewStorage("history lookup", err)
	}

	s.record(advice, status)
	s.logger.Info("Consultation recorded",
		"patient_id", patientID,
		"visit_id", visit.ID.String(),
		"assessment", note.Assessment,
		"balance", status.Balance)

	return &model.Consultation{
		Note:      note,
		Advisory:  advice,
		Insurance: *status,
		Visit:     visit,
		History:   model.NewHistoryRows(visits),
	}, nil
}

// History returns the patient's visits in storage order.
func (s *Service) History(ctx context.Context, patientID string) ([]model.HistoryRow, error) {
	if _, err := s.lookup(ctx, patientID); err != nil {
		return nil, err
	}

	visits, err := s.visits.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, apperrors.NewStorage("history lookup", err)
	}
	return model.NewHistoryRows(visits), nil
}

func (s *Service) lookup(ctx context.Context, patientID string) (*model.Patient, error) {
	patient, err := s.patients.Get(ctx, patientID)
	if err != nil {
		if errors.Is(err, repository.ErrPatientNotFound) {
			return nil, apperrors.NewUnknownPatient(patientID)
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return patient, nil
}

func (s *Service) record(advice model.Advisory, status *model.InsuranceStatus) {
	if advice.FollowUp != advisory.NoFollowUpMessage {
		s.metrics.Advisories.WithLabelValues("follow_up").Inc()
	}
	if advice.HealthRisk != "" {
		s.metrics.Advisories.WithLabelValues("health_risk").Inc()
	}
	s.metrics.InsuranceCovered.Add(status.Covered)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "recorded"
	case apperrors.HasCode(err, apperrors.ErrUnknownPatient):
		return "unknown_patient"
	case apperrors.HasCode(err, apperrors.ErrBadRequest):
		return "invalid"
	default:
		return "failed"
	}
}
