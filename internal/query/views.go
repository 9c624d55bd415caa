package query

import (
	"context"
	"time"

	"clinicdesk/internal/store"
	"clinicdesk/pkg/domain"
)

// Views reads collections fresh from the store on every call and applies
// the pure query functions.
type Views struct {
	store *store.Store
	nowFn func() time.Time
}

// NewViews wraps st.
func NewViews(st *store.Store) *Views {
	return &Views{store: st, nowFn: time.Now}
}

// Patients returns the patients matching f.
func (v *Views) Patients(ctx context.Context, f PatientFilter) ([]domain.Patient, error) {
	patients, err := v.store.Patients().Read(ctx)
	if err != nil {
		return nil, err
	}
	return FilterPatients(patients, f), nil
}

// Appointments returns the appointments matching f.
func (v *Views) Appointments(ctx context.Context, f AppointmentFilter) ([]domain.Appointment, error) {
	appts, err := v.store.Appointments().Read(ctx)
	if err != nil {
		return nil, err
	}
	return FilterAppointments(appts, f), nil
}

// Prescriptions returns the prescriptions matching f.
func (v *Views) Prescriptions(ctx context.Context, f PrescriptionFilter) ([]domain.Prescription, error) {
	rxs, err := v.store.Prescriptions().Read(ctx)
	if err != nil {
		return nil, err
	}
	return FilterPrescriptions(rxs, f), nil
}

// PatientHistory returns a patient's merged visits and medication lines.
func (v *Views) PatientHistory(ctx context.Context, patientID string) ([]domain.Visit, []MedicationEntry, error) {
	patient, ok, err := v.store.Patients().Find(ctx, patientID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, domain.NotFoundError(domain.CollectionPatients, patientID)
	}
	visits, err := v.store.Visits().Read(ctx)
	if err != nil {
		return nil, nil, err
	}
	rxs, err := v.store.Prescriptions().Read(ctx)
	if err != nil {
		return nil, nil, err
	}
	return VisitsForPatient(patient, visits), MedicationHistory(rxs, patientID), nil
}

type snapshot struct {
	patients []domain.Patient
	appts    []domain.Appointment
	rxs      []domain.Prescription
	visits   []domain.Visit
}

func (v *Views) readAll(ctx context.Context) (snapshot, error) {
	var s snapshot
	var err error
	if s.patients, err = v.store.Patients().Read(ctx); err != nil {
		return s, err
	}
	if s.appts, err = v.store.Appointments().Read(ctx); err != nil {
		return s, err
	}
	if s.rxs, err = v.store.Prescriptions().Read(ctx); err != nil {
		return s, err
	}
	if s.visits, err = v.store.Visits().Read(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Orphans reports dangling patient references.
func (v *Views) Orphans(ctx context.Context) ([]Orphan, error) {
	s, err := v.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return OrphanedReferences(s.patients, s.appts, s.rxs, s.visits), nil
}

// Dashboard returns today's counters.
func (v *Views) Dashboard(ctx context.Context) (Stats, error) {
	s, err := v.readAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	return DashboardStats(s.patients, s.appts, s.rxs, s.visits, v.nowFn().Format(domain.DateLayout)), nil
}
