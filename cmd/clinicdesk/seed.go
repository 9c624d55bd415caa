package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"clinicdesk/internal/core"
	"clinicdesk/pkg/domain"
)

var errAlreadySeeded = errors.New("store already holds patients; use --force to seed anyway")

func seedCmd(flags *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo patients, visits, appointments and prescriptions",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, _ []string, a *app) error {
			existing, err := a.store.Patients().Read(cmd.Context())
			if err != nil {
				return err
			}
			if len(existing) > 0 && !force {
				return errAlreadySeeded
			}
			n, err := seed(cmd.Context(), a.svc, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d patients\n", n)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "seed even when patients exist")
	return cmd
}

type demoPatient struct {
	patient   domain.Patient
	encounter *domain.Visit
	visits    []domain.Visit
}

// seed registers a small clinic day through the service. Follow-ups and
// prescriptions come from the consistency rules.
func seed(ctx context.Context, svc *core.Service, now time.Time) (int, error) {
	day := func(offset int) string { return now.AddDate(0, 0, offset).Format(domain.DateLayout) }
	age := func(n int) *int { return &n }

	demos := []demoPatient{
		{
			patient: domain.Patient{FirstName: "Asha", LastName: "Patel", DateOfBirth: "1986-04-12", Gender: "Female", Phone: "555-0101", BloodType: "B+"},
			encounter: &domain.Visit{
				DoctorName: "Dr. Priya Sharma",
				Diagnosis:  "Routine antenatal check",
				Medications: []domain.Medication{
					{Name: "Folic acid", Dosage: "5mg", Frequency: []string{"morning"}, Duration: "30 days"},
				},
				FollowUpDate: day(14),
			},
		},
		{
			patient: domain.Patient{FirstName: "Ravi", LastName: "Kumar", Age: age(58), Gender: "Male", Phone: "555-0102", Allergies: "Penicillin"},
			visits: []domain.Visit{
				{
					DoctorName: "Dr. Sarah Johnson",
					Diagnosis:  "Hypertension review",
					Medications: []domain.Medication{
						{Name: "Amlodipine", Dosage: "5mg", Frequency: []string{"morning"}, Duration: "90 days"},
					},
					FollowUpDate: day(30),
				},
			},
		},
		{
			patient: domain.Patient{FirstName: "Meera", LastName: "Iyer", DateOfBirth: "2017-09-03", Gender: "Female", Phone: "555-0103"},
			visits: []domain.Visit{
				{DoctorName: "Dr. Emily Davis", Diagnosis: "Seasonal cough", Symptoms: "cough, mild fever", Medications: []domain.Medication{{Name: "Paracetamol syrup", Dosage: "5ml", Frequency: []string{"morning", "night"}, Duration: "3 days"}}},
			},
		},
		{
			patient: domain.Patient{FirstName: "Arjun", LastName: "Mehta", Age: age(34), Gender: "Male", Phone: "555-0104"},
		},
	}

	n := 0
	for _, d := range demos {
		p, _, err := svc.RegisterPatient(ctx, d.patient, d.encounter)
		if err != nil {
			return n, fmt.Errorf("seed %s: %w", d.patient.FullName(), err)
		}
		n++
		for _, v := range d.visits {
			if _, _, err := svc.RecordVisit(ctx, p.ID, v); err != nil {
				return n, fmt.Errorf("seed visit for %s: %w", p.FullName(), err)
			}
		}
	}

	walkIns := []domain.Appointment{
		{PatientName: "Arjun Mehta", Doctor: "Dr. Robert Wilson", Date: day(0), Time: "11:30", Type: "Consultation", Status: domain.AppointmentConfirmed},
		{PatientName: "Neha Singh", Doctor: "Dr. Ahmed Khan", Date: day(1), Time: "15:00", Type: "Consultation", Phone: "555-0199"},
		{PatientName: "Vikram Rao", Doctor: "Dr. Michael Chen", Date: day(0), Time: "09:00", Type: "Emergency", Status: domain.AppointmentUrgent},
	}
	for _, appt := range walkIns {
		if _, _, err := svc.BookAppointment(ctx, appt); err != nil {
			return n, fmt.Errorf("seed appointment for %s: %w", appt.PatientName, err)
		}
	}
	return n, nil
}
