package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/consult-api/config"
	"github.com/jwalitptl/consult-api/internal/app"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository/memory"
	"github.com/jwalitptl/consult-api/internal/repository/postgres"
	"github.com/jwalitptl/consult-api/pkg/logger"
)

const demoTranscript = "Patient: Stuffy nose, itchy eyes for two weeks. Pharmacist: Any allergies? Patient: No."

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "consult-api",
		Short:        "Pharmacy consultation notes API",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(consultCmd())
	rootCmd.AddCommand(eventsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: "2006-01-02T15:04:05Z07:00",
		JSON:       cfg.Log.JSON,
	})
	log.Logger = l.ZL
	return cfg, l, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := setup()
			if err != nil {
				return err
			}
			return runServer(cfg, l)
		},
	}
}

func runServer(cfg *config.Config, l *logger.Logger) error {
	a, err := app.New(cfg, l)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.Router()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server exited properly")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			if err := postgres.MigrateUp(cfg.Database.URL()); err != nil {
				return err
			}
			log.Info().Str("database", cfg.Database.Name).Msg("migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			if err := postgres.MigrateDown(cfg.Database.URL()); err != nil {
				return err
			}
			log.Info().Str("database", cfg.Database.Name).Msg("migrations rolled back")
			return nil
		},
	})

	return cmd
}

func consultCmd() *cobra.Command {
	var patientID, transcript string

	cmd := &cobra.Command{
		Use:   "consult",
		Short: "Run one consultation through the pipeline and print the result",
		Long: `Runs one transcript through the pipeline against the configured store
and prints the SOAP note, advisories, insurance status and visit history.
Visit timestamps are recorded and shown in UTC, not local time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := setup()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, l)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.ConsultationService.Consult(cmd.Context(), &model.ConsultationRequest{
				PatientID:  patientID,
				Transcript: transcript,
			})
			if err != nil {
				return err
			}
			return printConsultation(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&patientID, "patient", memory.DemoPatientID, "patient identifier")
	cmd.Flags().StringVar(&transcript, "transcript", demoTranscript, "consultation transcript")
	return cmd
}

func printConsultation(w io.Writer, c *model.Consultation) error {
	fmt.Fprintln(w, "SOAP Note")
	fmt.Fprintf(w, "  Subjective: %s\n", c.Note.Subjective)
	fmt.Fprintf(w, "  Objective:  %s\n", c.Note.Objective)
	fmt.Fprintf(w, "  Assessment: %s\n", c.Note.Assessment)
	fmt.Fprintf(w, "  Plan:       %s\n", c.Note.Plan)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Follow-up: %s\n", c.Advisory.FollowUp)
	if c.Advisory.HealthRisk != "" {
		fmt.Fprintf(w, "Health risk: %s\n", c.Advisory.HealthRisk)
	}
	fmt.Fprintf(w, "Insurance: %s\n", c.Insurance.Message)
	fmt.Fprintln(w)

	if len(c.History) == 0 {
		fmt.Fprintln(w, "No prior consultations")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP (UTC)\tSUBJECTIVE\tASSESSMENT\tPLAN\tFOLLOW-UP")
	for _, row := range c.History {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row.Timestamp, row.Subjective, row.Assessment, row.Plan, row.FollowUp)
	}
	return tw.Flush()
}
