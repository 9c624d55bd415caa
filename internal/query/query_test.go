package query

import (
	"context"
	"encoding/json"
	"testing"

	"clinicdesk/internal/infra/kv/memory"
	"clinicdesk/internal/store"
	"clinicdesk/pkg/domain"
)

func patients() []domain.Patient {
	return []domain.Patient{
		{ID: "p1", FirstName: "Asha", LastName: "Patel", Email: "asha@example.com", Phone: "555-0101", Gender: "Female", RegistrationDate: "2024-03-01"},
		{ID: "p2", FirstName: "Ravi", LastName: "Kumar", Gender: "male", RegistrationDate: "2024-02-10"},
		{ID: "p3", FirstName: "Lena", LastName: "Ortiz", Phone: "555-0199"},
	}
}

func TestSearchPatientsToleratesMissingFields(t *testing.T) {
	got := SearchPatients(patients(), "  ASHA@")
	if len(got) != 1 || got[0].ID != "p1" {
		t.Fatalf("unexpected email match %+v", got)
	}
	if got := SearchPatients(patients(), "555-01"); len(got) != 2 {
		t.Fatalf("expected phone matches, got %d", len(got))
	}
	if got := SearchPatients(patients(), "kumar"); len(got) != 1 || got[0].ID != "p2" {
		t.Fatalf("unexpected name match %+v", got)
	}
	if got := SearchPatients(patients(), ""); len(got) != 3 {
		t.Fatalf("empty search must match all, got %d", len(got))
	}
	if got := SearchPatients(nil, "x"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result")
	}
}

func TestFilterPatients(t *testing.T) {
	if got := FilterPatients(patients(), PatientFilter{Gender: "MALE"}); len(got) != 1 || got[0].ID != "p2" {
		t.Fatalf("unexpected gender filter %+v", got)
	}
	if got := FilterPatients(patients(), PatientFilter{RegisteredFrom: "2024-03-01"}); len(got) != 1 || got[0].ID != "p1" {
		t.Fatalf("unexpected registration window %+v", got)
	}
}

func appointments() []domain.Appointment {
	return []domain.Appointment{
		{ID: "a1", PatientID: "p1", PatientName: "Asha Patel", Doctor: "Dr. Michael Chen", Department: "Neurology", Date: "2024-03-05", Time: "11:00", Status: domain.AppointmentConfirmed},
		{ID: "a2", PatientName: "Walk In", Doctor: "Dr. Emily Davis", Department: "Pediatrics", Date: "2024-03-05", Time: "09:00", Status: domain.AppointmentPending},
		{ID: "a3", PatientID: "gone", Doctor: "Dr. Michael Chen", Department: "Neurology", Date: "2024-03-07", Status: domain.AppointmentDone},
	}
}

func TestFilterAppointments(t *testing.T) {
	day := AppointmentsOn(appointments(), "2024-03-05")
	if len(day) != 2 || day[0].ID != "a2" || day[1].ID != "a1" {
		t.Fatalf("expected day view ordered by time, got %+v", day)
	}
	if got := AppointmentsOn(appointments(), ""); len(got) != 0 {
		t.Fatalf("expected no day match for empty day")
	}
	got := FilterAppointments(appointments(), AppointmentFilter{Department: "neurology", From: "2024-03-06"})
	if len(got) != 1 || got[0].ID != "a3" {
		t.Fatalf("unexpected window filter %+v", got)
	}
	got = FilterAppointments(appointments(), AppointmentFilter{Status: domain.AppointmentPending, Search: "walk"})
	if len(got) != 1 || got[0].ID != "a2" {
		t.Fatalf("unexpected status/search filter %+v", got)
	}
	if got := FilterAppointments(appointments(), AppointmentFilter{PatientID: "p1", Doctor: "dr. michael chen"}); len(got) != 1 {
		t.Fatalf("unexpected patient filter %+v", got)
	}
}

func prescriptions() []domain.Prescription {
	return []domain.Prescription{
		{ID: "r2", PatientID: "p1", DoctorName: "Dr. Michael Chen", PrescriptionDate: "2024-03-05", Status: domain.PrescriptionActive, Medications: []domain.Medication{{Name: "Sumatriptan"}, {Name: ""}}},
		{ID: "r1", PatientID: "p1", DoctorName: "Dr. James Brown", Diagnosis: "Sinusitis", PrescriptionDate: "2024-02-01", Status: domain.PrescriptionCompleted, Medications: []domain.Medication{{Name: "Amoxicillin", Dosage: "500mg"}}},
		{ID: "r3", PatientID: "p2", DoctorName: "Dr. James Brown", PrescriptionDate: "2024-03-01", Status: domain.PrescriptionCancelled},
	}
}

func TestFilterPrescriptionsAndHistory(t *testing.T) {
	mine := PrescriptionsForPatient(prescriptions(), "p1")
	if len(mine) != 2 || mine[0].ID != "r1" {
		t.Fatalf("expected date-ordered prescriptions, got %+v", mine)
	}
	if got := FilterPrescriptions(prescriptions(), PrescriptionFilter{Search: "amoxi"}); len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("expected medication search, got %+v", got)
	}
	if got := FilterPrescriptions(prescriptions(), PrescriptionFilter{Status: domain.PrescriptionCancelled}); len(got) != 1 {
		t.Fatalf("unexpected status filter %+v", got)
	}
	history := MedicationHistory(prescriptions(), "p1")
	if len(history) != 2 || history[0].Medication.Name != "Amoxicillin" || history[1].PrescriptionID != "r2" {
		t.Fatalf("unexpected history %+v", history)
	}
	if got := MedicationHistory(prescriptions(), "nobody"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty history")
	}
}

func TestVisitsForPatientMergesBothShapes(t *testing.T) {
	p := domain.Patient{ID: "p1", VisitRecords: []domain.Visit{
		{ID: "v2", Date: "2024-03-05", DoctorName: "Dr. Michael Chen"},
		{ID: "v1", Date: "2024-01-10", DoctorName: "Dr. James Brown"},
	}}
	var standalone []domain.Visit
	raw := `[{"id":"s1","patientId":"p1","visitDate":"2024-02-20","visitTime":"10:30","doctorName":"Dr. Emily Davis"},{"id":"s2","patientId":"p9","visitDate":"2024-02-21"}]`
	if err := json.Unmarshal([]byte(raw), &standalone); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := VisitsForPatient(p, standalone)
	if len(got) != 3 {
		t.Fatalf("expected 3 visits, got %+v", got)
	}
	order := []string{"v1", "s1", "v2"}
	for i, id := range order {
		if got[i].ID != id {
			t.Fatalf("expected order %v, got %+v", order, got)
		}
	}
	if got[1].Source != domain.VisitSourceStandalone || got[0].Source != domain.VisitSourceRecord || got[0].PatientID != "p1" {
		t.Fatalf("unexpected sources %+v", got)
	}
}

func TestOrphanedReferences(t *testing.T) {
	visits := []domain.Visit{{ID: "s1", PatientID: "p1"}, {ID: "s2", PatientID: "gone"}, {ID: "s3"}}
	orphans := OrphanedReferences(patients(), appointments(), prescriptions(), visits)
	if len(orphans) != 2 {
		t.Fatalf("expected 2 orphans, got %+v", orphans)
	}
	if orphans[0].EntityID != "a3" || orphans[1].Collection != domain.CollectionVisits {
		t.Fatalf("unexpected orphans %+v", orphans)
	}
}

func TestDashboardStats(t *testing.T) {
	ps := patients()
	ps[0].VisitRecords = []domain.Visit{{ID: "v1", Date: "2024-03-05"}}
	stats := DashboardStats(ps, appointments(), prescriptions(), []domain.Visit{{ID: "s1", Date: "2024-03-05"}}, "2024-03-05")
	if stats.Patients != 3 || stats.AppointmentsToday != 2 || stats.VisitsToday != 2 || stats.ActivePrescriptions != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.AppointmentStatus[domain.AppointmentDone] != 1 {
		t.Fatalf("unexpected status counts %+v", stats.AppointmentStatus)
	}
}

func TestViewsReadFreshCollections(t *testing.T) {
	ctx := context.Background()
	st := store.New(memory.New().Client("tab-a"))
	if err := st.Patients().Write(ctx, patients()); err != nil {
		t.Fatalf("write patients: %v", err)
	}
	if err := st.Prescriptions().Write(ctx, prescriptions()); err != nil {
		t.Fatalf("write prescriptions: %v", err)
	}
	v := NewViews(st)
	got, err := v.Patients(ctx, PatientFilter{Search: "ortiz"})
	if err != nil || len(got) != 1 {
		t.Fatalf("patients: %+v %v", got, err)
	}
	visits, meds, err := v.PatientHistory(ctx, "p1")
	if err != nil || len(visits) != 0 || len(meds) != 2 {
		t.Fatalf("history: %+v %+v %v", visits, meds, err)
	}
	if _, _, err := v.PatientHistory(ctx, "missing"); err == nil {
		t.Fatalf("expected not found")
	}
	orphans, err := v.Orphans(ctx)
	if err != nil || len(orphans) != 0 {
		t.Fatalf("orphans: %+v %v", orphans, err)
	}
	if _, err := v.Dashboard(ctx); err != nil {
		t.Fatalf("dashboard: %v", err)
	}
}
