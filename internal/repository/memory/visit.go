package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

type visitStore struct {
	mu     sync.RWMutex
	visits []model.Visit
}

// NewVisitStore returns a process-local visit store.
func NewVisitStore() repository.VisitRepository {
	return &visitStore{}
}

func (s *visitStore) Append(_ context.Context, visit *model.Visit) error {
	if visit == nil {
		return fmt.Errorf("visit cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, *visit)
	return nil
}

func (s *visitStore) ListByPatient(_ context.Context, patientID string) ([]*model.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visits := make([]*model.Visit, 0)
	for i := range s.visits {
		if s.visits[i].PatientID == patientID {
			v := s.visits[i]
			visits = append(visits, &v)
		}
	}
	return visits, nil
}

func (s *visitStore) ListTimestamps(_ context.Context, patientID string) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stamps []time.Time
	for i := range s.visits {
		if s.visits[i].PatientID == patientID {
			stamps = append(stamps, s.visits[i].CreatedAt)
		}
	}
	return stamps, nil
}

func (s *visitStore) Ping(_ context.Context) error {
	return nil
}
