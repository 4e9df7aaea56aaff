package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

type visitRepository struct {
	BaseRepository
}

// visitRow carries the TEXT timestamp column alongside the visit fields.
type visitRow struct {
	model.Visit
	Timestamp string `db:"timestamp"`
}

// NewVisitRepository returns a Postgres visit store. Every append also
// writes a CONSULTATION_RECORDED outbox event in the same transaction.
func NewVisitRepository(db *sqlx.DB) repository.VisitRepository {
	return &visitRepository{NewBaseRepository(db)}
}

func (r *visitRepository) Append(ctx context.Context, visit *model.Visit) error {
	if visit == nil {
		return fmt.Errorf("visit cannot be nil")
	}
	if visit.ID == uuid.Nil {
		visit.ID = uuid.New()
	}
	visit.CreatedAt = visit.CreatedAt.UTC().Truncate(time.Second)

	payload, err := json.Marshal(visit)
	if err != nil {
		return fmt.Errorf("failed to marshal visit: %w", err)
	}

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO visits (
				id, patient_id, name, is_international, insurance_balance,
				subjective, objective, assessment, plan, follow_up, timestamp
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		if _, err := tx.ExecContext(ctx, query,
			visit.ID,
			visit.PatientID,
			visit.PatientName,
			visit.IsInternational,
			visit.InsuranceBalance,
			visit.Subjective,
			visit.Objective,
			visit.Assessment,
			visit.Plan,
			visit.FollowUp,
			visit.Timestamp(),
		); err != nil {
			return fmt.Errorf("failed to insert visit: %w", err)
		}

		return insertOutboxEvent(ctx, tx, &model.OutboxEvent{
			EventType: model.EventConsultationRecorded,
			Payload:   payload,
		})
	})
}

func (r *visitRepository) ListByPatient(ctx context.Context, patientID string) ([]*model.Visit, error) {
	query := `
		SELECT id, patient_id, name, is_international, insurance_balance,
			subjective, objective, assessment, plan, follow_up, timestamp
		FROM visits
		WHERE patient_id = $1
		ORDER BY seq ASC
	`

	var rows []visitRow
	if err := r.db.SelectContext(ctx, &rows, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}

	visits := make([]*model.Visit, 0, len(rows))
	for i := range rows {
		createdAt, err := parseTimestamp(rows[i].Timestamp)
		if err != nil {
			return nil, err
		}
		v := rows[i].Visit
		v.CreatedAt = createdAt
		visits = append(visits, &v)
	}
	return visits, nil
}

func (r *visitRepository) ListTimestamps(ctx context.Context, patientID string) ([]time.Time, error) {
	query := `SELECT timestamp FROM visits WHERE patient_id = $1 ORDER BY seq ASC`

	var raw []string
	if err := r.db.SelectContext(ctx, &raw, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list visit timestamps: %w", err)
	}

	stamps := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		ts, err := parseTimestamp(s)
		if err != nil {
			return nil, err
		}
		stamps = append(stamps, ts)
	}
	return stamps, nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(model.VisitTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid visit timestamp %q: %w", s, err)
	}
	return ts, nil
}
