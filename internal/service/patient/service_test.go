package patient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/repository/memory"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
)

func TestService(t *testing.T) {
	svc := NewService(memory.NewPatientDirectory(memory.SeedPatients(memory.SeedConfig{Patients: 30, RandomSeed: 3})...))
	ctx := context.Background()

	patients, err := svc.ListPatients(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 30)
	assert.Equal(t, "P001", patients[0].ID)
	assert.Equal(t, "P030", patients[29].ID)

	p, err := svc.GetPatient(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, "Raj Kumar", p.Name)

	_, err = svc.GetPatient(ctx, "P031")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnknownPatient))
}
