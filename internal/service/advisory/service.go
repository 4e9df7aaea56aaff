// Package advisory derives follow-up and health-risk messages from a patient's
// visit history, condition history and the pollen forecast.
package advisory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

const (
	FrequentVisitMessage   = "Frequent visits (3+ in 2 weeks). Recommend booking doctor consultation."
	RespiratoryRiskMessage = "Recurring respiratory issues detected. Consider specialist referral for further evaluation."
	PollenReassessMessage  = "Reassess in 7 days due to moderate pollen forecast."
	NoFollowUpMessage      = "No specific follow-up needed."

	frequentVisitCount   = 3
	frequentVisitWindow  = 14 // whole days
	respiratoryRiskCount = 2
	pollenTrigger        = "allergic rhinitis"
	pollenLevel          = "Moderate"
)

type AdvisoryService interface {
	Advise(ctx context.Context, patientID, assessment string) (model.Advisory, error)
}

type Service struct {
	visits     repository.VisitRepository
	conditions repository.ConditionHistoryProvider
	forecast   repository.ForecastProvider
}

func NewService(visits repository.VisitRepository, conditions repository.ConditionHistoryProvider, forecast repository.ForecastProvider) *Service {
	return &Service{
		visits:     visits,
		conditions: conditions,
		forecast:   forecast,
	}
}

// Advise derives follow-up and health-risk messages from the patient's prior
// visits, condition history and the forecast. It reads but never writes.
func (s *Service) Advise(ctx context.Context, patientID, assessment string) (model.Advisory, error) {
	stamps, err := s.visits.ListTimestamps(ctx, patientID)
	if err != nil {
		return model.Advisory{}, fmt.Errorf("failed to read visit timestamps: %w", err)
	}

	var followUp string
	if frequentVisits(stamps) {
		followUp = FrequentVisitMessage
	}

	history, err := s.conditions.ConditionHistory(ctx, patientID)
	if err != nil {
		return model.Advisory{}, fmt.Errorf("failed to read condition history: %w", err)
	}

	var healthRisk string
	if countCategory(history, model.CategoryRespiratory) >= respiratoryRiskCount {
		healthRisk = RespiratoryRiskMessage
	}

	if strings.Contains(strings.ToLower(assessment), pollenTrigger) {
		forecast, err := s.forecast.Forecast(ctx)
		if err != nil {
			return model.Advisory{}, fmt.Errorf("failed to read forecast: %w", err)
		}
		if forecast.InSevenDays == pollenLevel {
			followUp += " " + PollenReassessMessage
		}
	}

	followUp = strings.TrimSpace(followUp)
	if followUp == "" {
		followUp = NoFollowUpMessage
	}

	return model.Advisory{FollowUp: followUp, HealthRisk: healthRisk}, nil
}

// frequentVisits reports whether there are at least three visits whose
// earliest and latest timestamps are at most 14 whole days apart.
func frequentVisits(stamps []time.Time) bool {
	if len(stamps) < frequentVisitCount {
		return false
	}
	earliest, latest := stamps[0], stamps[0]
	for _, ts := range stamps[1:] {
		if ts.Before(earliest) {
			earliest = ts
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	days := int(latest.Sub(earliest) / (24 * time.Hour))
	return days <= frequentVisitWindow
}

func countCategory(entries []model.ConditionEntry, category string) int {
	n := 0
	for _, e := range entries {
		if e.Category == category {
			n++
		}
	}
	return n
}
