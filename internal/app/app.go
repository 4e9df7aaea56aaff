// Package app assembles the consultation pipeline from configuration.
package app

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/consult-api/config"
	consultationHandler "github.com/jwalitptl/consult-api/internal/handler/consultation"
	"github.com/jwalitptl/consult-api/internal/handler/health"
	patientHandler "github.com/jwalitptl/consult-api/internal/handler/patient"
	promHandler "github.com/jwalitptl/consult-api/internal/handler/prometheus"
	"github.com/jwalitptl/consult-api/internal/middleware"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/internal/repository/memory"
	"github.com/jwalitptl/consult-api/internal/repository/postgres"
	"github.com/jwalitptl/consult-api/internal/router"
	"github.com/jwalitptl/consult-api/internal/service/advisory"
	"github.com/jwalitptl/consult-api/internal/service/billing"
	"github.com/jwalitptl/consult-api/internal/service/consultation"
	"github.com/jwalitptl/consult-api/internal/service/interpreter"
	patientService "github.com/jwalitptl/consult-api/internal/service/patient"
	"github.com/jwalitptl/consult-api/pkg/logger"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

const metricsNamespace = "consult"

type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	DB       *sqlx.DB
	Patients repository.PatientDirectory
	Visits   repository.VisitRepository

	PatientService      *patientService.Service
	ConsultationService *consultation.Service
}

// New seeds the patient directory, opens the configured visit store and wires
// the services. Close releases the database pool.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: registry,
		Metrics:  metrics.NewMetrics(registry, metricsNamespace),
		Patients: memory.NewPatientDirectory(memory.SeedPatients(memory.SeedConfig{
			Patients:   cfg.Seed.Patients,
			RandomSeed: cfg.Seed.RandomSeed,
		})...),
	}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		if cfg.Storage.AutoMigrate {
			if err := postgres.MigrateUp(cfg.Database.URL()); err != nil {
				return nil, err
			}
			log.Info("Migrations applied")
		}
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Visits = postgres.NewVisitRepository(db)
	case config.DriverMemory:
		a.Visits = memory.NewVisitStore()
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	forecast := memory.StaticForecast(cfg.Forecast)
	interp := interpreter.NewInterpreter()
	log.Info("Transcript rules loaded", "rules", ruleNames(interp.Rules()))

	a.PatientService = patientService.NewService(a.Patients)
	a.ConsultationService = consultation.NewService(
		interp,
		advisory.NewService(a.Visits, memory.DefaultConditionHistory(), forecast),
		billing.NewService(a.Patients),
		a.Patients,
		a.Visits,
		log.WithFields(map[string]interface{}{"component": "consultation"}),
		a.Metrics,
	)

	log.Info("Application initialized",
		"storage", cfg.Storage.Driver,
		"patients", cfg.Seed.Patients)
	return a, nil
}

// Router builds the HTTP presentation layer.
func (a *App) Router() (*router.Router, error) {
	r, err := router.NewRouter(router.RouterConfig{
		Mode:        a.Config.Server.Mode,
		RateLimited: a.Config.RateLimit.Enabled,
		RateLimit:   rate.Limit(a.Config.RateLimit.RequestsPerSecond),
		RateBurst:   a.Config.RateLimit.Burst,
		CORSConfig: middleware.CORSConfig{
			AllowOrigins:  a.Config.CORS.AllowedOrigins,
			AllowMethods:  a.Config.CORS.AllowedMethods,
			AllowHeaders:  a.Config.CORS.AllowedHeaders,
			ExposeHeaders: []string{"Content-Length", "Content-Type", middleware.HeaderXRequestID},
			MaxAge:        86400,
		},
		Metrics: a.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build router: %w", err)
	}

	r.Setup(
		health.NewHandler(a.Visits),
		promHandler.New(a.Registry),
		consultationHandler.NewHandler(a.ConsultationService),
		patientHandler.NewHandler(a.PatientService, a.ConsultationService),
	)
	return r, nil
}

func ruleNames(rules []interpreter.Rule) []string {
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.Name)
	}
	return names
}

func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
