package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
)

// DemoPatientID is the patient with a fixed profile and seeded condition history.
const DemoPatientID = "P001"

// SeedConfig controls the generated population.
type SeedConfig struct {
	Patients   int
	RandomSeed int64
}

type patientDirectory struct {
	mu    sync.Mutex
	store *cache.Cache
}

// NewPatientDirectory returns a directory holding exactly the given patients.
func NewPatientDirectory(patients ...model.Patient) repository.PatientDirectory {
	d := &patientDirectory{
		store: cache.New(cache.NoExpiration, 0),
	}
	for _, p := range patients {
		d.store.Set(p.ID, p, cache.NoExpiration)
	}
	return d
}

// SeedPatients generates P001..Pnnn with random insurance attributes; P001 is
// always Raj Kumar, international, with a 500.00 balance.
func SeedPatients(cfg SeedConfig) []model.Patient {
	n := cfg.Patients
	if n <= 0 {
		n = 30
	}
	rng := rand.New(rand.NewSource(cfg.RandomSeed))

	patients := make([]model.Patient, 0, n)
	for i := 1; i <= n; i++ {
		patients = append(patients, model.Patient{
			ID:               fmt.Sprintf("P%03d", i),
			Name:             fmt.Sprintf("Patient %d", i),
			IsInternational:  rng.Intn(2) == 1,
			InsuranceBalance: 200 + rng.Float64()*800,
			HistoricalVisits: 1 + rng.Intn(5),
		})
	}
	patients[0] = model.Patient{
		ID:               DemoPatientID,
		Name:             "Raj Kumar",
		IsInternational:  true,
		InsuranceBalance: 500.0,
		HistoricalVisits: 3,
	}
	return patients
}

func (d *patientDirectory) Get(_ context.Context, id string) (*model.Patient, error) {
	obj, ok := d.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrPatientNotFound, id)
	}
	p := obj.(model.Patient)
	return &p, nil
}

func (d *patientDirectory) List(_ context.Context) ([]*model.Patient, error) {
	items := d.store.Items()
	patients := make([]*model.Patient, 0, len(items))
	for _, item := range items {
		p := item.Object.(model.Patient)
		patients = append(patients, &p)
	}
	sort.Slice(patients, func(i, j int) bool { return patients[i].ID < patients[j].ID })
	return patients, nil
}

func (d *patientDirectory) UpdateBalance(_ context.Context, id string, fn func(float64) float64) (*model.Patient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrPatientNotFound, id)
	}
	p := obj.(model.Patient)
	p.InsuranceBalance = fn(p.InsuranceBalance)
	d.store.Set(id, p, cache.NoExpiration)
	return &p, nil
}
