// Package query derives read views from freshly read collections. Every
// function is pure and tolerates absent optional fields.
package query

import (
	"sort"
	"strings"

	"clinicdesk/pkg/domain"
)

// matches reports whether any field contains term, ignoring case. An empty
// term matches everything.
func matches(term string, fields ...string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

func equalFold(want, got string) bool {
	return want == "" || strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got))
}

// inWindow reports whether date falls in [from, to]. Empty bounds are open.
// ISO calendar dates compare correctly as strings.
func inWindow(date, from, to string) bool {
	if from != "" && date < from {
		return false
	}
	if to != "" && date > to {
		return false
	}
	return true
}

// PatientFilter narrows a patient list.
type PatientFilter struct {
	Search         string
	Gender         string
	BloodType      string
	RegisteredFrom string
	RegisteredTo   string
}

// SearchPatients matches term against name, email, phone and id.
func SearchPatients(patients []domain.Patient, term string) []domain.Patient {
	return FilterPatients(patients, PatientFilter{Search: term})
}

// FilterPatients applies f, keeping input order.
func FilterPatients(patients []domain.Patient, f PatientFilter) []domain.Patient {
	out := make([]domain.Patient, 0, len(patients))
	for _, p := range patients {
		if !matches(f.Search, p.FullName(), p.Email, p.Phone, p.ID) {
			continue
		}
		if !equalFold(f.Gender, p.Gender) || !equalFold(f.BloodType, p.BloodType) {
			continue
		}
		if (f.RegisteredFrom != "" || f.RegisteredTo != "") && !inWindow(p.RegistrationDate, f.RegisteredFrom, f.RegisteredTo) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// AppointmentFilter narrows an appointment list. Day selects one calendar
// date exactly; From and To bound an inclusive window.
type AppointmentFilter struct {
	Department string
	Status     domain.AppointmentStatus
	Doctor     string
	PatientID  string
	Day        string
	From       string
	To         string
	Search     string
}

// FilterAppointments applies f and orders the result by date and time.
func FilterAppointments(appts []domain.Appointment, f AppointmentFilter) []domain.Appointment {
	out := make([]domain.Appointment, 0, len(appts))
	for _, a := range appts {
		if !equalFold(f.Department, a.Department) || !equalFold(string(f.Status), string(a.Status)) || !equalFold(f.Doctor, a.Doctor) {
			continue
		}
		if f.PatientID != "" && a.PatientID != f.PatientID {
			continue
		}
		if f.Day != "" && a.Date != f.Day {
			continue
		}
		if !inWindow(a.Date, f.From, f.To) {
			continue
		}
		if !matches(f.Search, a.PatientName, a.Doctor, a.Department, a.Phone, a.Notes, a.Type) {
			continue
		}
		out = append(out, a)
	}
	SortAppointments(out)
	return out
}

// AppointmentsOn returns the appointments booked on day, ordered by time.
func AppointmentsOn(appts []domain.Appointment, day string) []domain.Appointment {
	if day == "" {
		return []domain.Appointment{}
	}
	return FilterAppointments(appts, AppointmentFilter{Day: day})
}

// SortAppointments orders appts by date then time, keeping ties stable.
func SortAppointments(appts []domain.Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date < appts[j].Date
		}
		return appts[i].Time < appts[j].Time
	})
}

// PrescriptionFilter narrows a prescription list.
type PrescriptionFilter struct {
	Status    domain.PrescriptionStatus
	Doctor    string
	PatientID string
	From      string
	To        string
	Search    string
}

// FilterPrescriptions applies f and orders the result by prescription date.
func FilterPrescriptions(rxs []domain.Prescription, f PrescriptionFilter) []domain.Prescription {
	out := make([]domain.Prescription, 0, len(rxs))
	for _, rx := range rxs {
		if !equalFold(string(f.Status), string(rx.Status)) || !equalFold(f.Doctor, rx.DoctorName) {
			continue
		}
		if f.PatientID != "" && rx.PatientID != f.PatientID {
			continue
		}
		if !inWindow(rx.PrescriptionDate, f.From, f.To) {
			continue
		}
		fields := []string{rx.PatientName, rx.DoctorName, rx.Diagnosis, rx.Investigation, rx.Notes}
		for _, m := range rx.Medications {
			fields = append(fields, m.Name)
		}
		if !matches(f.Search, fields...) {
			continue
		}
		out = append(out, rx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PrescriptionDate < out[j].PrescriptionDate })
	return out
}

// PrescriptionsForPatient returns every prescription issued to patientID.
func PrescriptionsForPatient(rxs []domain.Prescription, patientID string) []domain.Prescription {
	if patientID == "" {
		return []domain.Prescription{}
	}
	return FilterPrescriptions(rxs, PrescriptionFilter{PatientID: patientID})
}

// VisitsForPatient merges the patient's embedded visit records with the
// standalone visits that reference the patient, ordered by date and time.
func VisitsForPatient(patient domain.Patient, visits []domain.Visit) []domain.Visit {
	out := make([]domain.Visit, 0, len(patient.VisitRecords))
	for _, v := range patient.VisitRecords {
		v = v.Clone()
		if v.Source == "" {
			v.Source = domain.VisitSourceRecord
		}
		if v.PatientID == "" {
			v.PatientID = patient.ID
		}
		out = append(out, v)
	}
	for _, v := range visits {
		if patient.ID == "" || v.PatientID != patient.ID {
			continue
		}
		v = v.Clone()
		if v.Source == "" {
			v.Source = domain.VisitSourceStandalone
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out
}

// MedicationEntry is one prescribed line in a patient's history.
type MedicationEntry struct {
	Date           string                    `json:"date"`
	Doctor         string                    `json:"doctor"`
	PrescriptionID string                    `json:"prescriptionId"`
	Status         domain.PrescriptionStatus `json:"status"`
	Medication     domain.Medication         `json:"medication"`
}

// MedicationHistory flattens the patient's prescriptions into medication
// lines, oldest first.
func MedicationHistory(rxs []domain.Prescription, patientID string) []MedicationEntry {
	var out []MedicationEntry
	for _, rx := range PrescriptionsForPatient(rxs, patientID) {
		for _, m := range domain.NamedMedications(rx.Medications) {
			out = append(out, MedicationEntry{
				Date:           rx.PrescriptionDate,
				Doctor:         rx.DoctorName,
				PrescriptionID: rx.ID,
				Status:         rx.Status,
				Medication:     m,
			})
		}
	}
	if out == nil {
		out = []MedicationEntry{}
	}
	return out
}

// Orphan is a record whose patientId matches no patient.
type Orphan struct {
	Collection domain.Collection `json:"collection"`
	EntityID   string            `json:"entityId"`
	PatientID  string            `json:"patientId"`
}

// OrphanedReferences lists appointments, prescriptions and visits that
// reference a patient id that no longer exists. Records without a patient
// id are not reported.
func OrphanedReferences(patients []domain.Patient, appts []domain.Appointment, rxs []domain.Prescription, visits []domain.Visit) []Orphan {
	known := make(map[string]struct{}, len(patients))
	for _, p := range patients {
		known[p.ID] = struct{}{}
	}
	missing := func(id string) bool {
		if id == "" {
			return false
		}
		_, ok := known[id]
		return !ok
	}
	out := []Orphan{}
	for _, a := range appts {
		if missing(a.PatientID) {
			out = append(out, Orphan{Collection: domain.CollectionAppointments, EntityID: a.ID, PatientID: a.PatientID})
		}
	}
	for _, rx := range rxs {
		if missing(rx.PatientID) {
			out = append(out, Orphan{Collection: domain.CollectionPrescriptions, EntityID: rx.ID, PatientID: rx.PatientID})
		}
	}
	for _, v := range visits {
		if missing(v.PatientID) {
			out = append(out, Orphan{Collection: domain.CollectionVisits, EntityID: v.ID, PatientID: v.PatientID})
		}
	}
	return out
}

// Stats summarizes the front desk's day.
type Stats struct {
	Patients            int                              `json:"patients"`
	NewPatientsToday    int                              `json:"newPatientsToday"`
	Appointments        int                              `json:"appointments"`
	AppointmentsToday   int                              `json:"appointmentsToday"`
	AppointmentStatus   map[domain.AppointmentStatus]int `json:"appointmentStatus"`
	Prescriptions       int                              `json:"prescriptions"`
	ActivePrescriptions int                              `json:"activePrescriptions"`
	VisitsToday         int                              `json:"visitsToday"`
}

// DashboardStats counts records overall and for today.
func DashboardStats(patients []domain.Patient, appts []domain.Appointment, rxs []domain.Prescription, visits []domain.Visit, today string) Stats {
	s := Stats{
		Patients:          len(patients),
		Appointments:      len(appts),
		Prescriptions:     len(rxs),
		AppointmentStatus: make(map[domain.AppointmentStatus]int),
	}
	for _, p := range patients {
		if p.RegistrationDate == today {
			s.NewPatientsToday++
		}
		for _, v := range p.VisitRecords {
			if v.Date == today {
				s.VisitsToday++
			}
		}
	}
	for _, v := range visits {
		if v.Date == today {
			s.VisitsToday++
		}
	}
	for _, a := range appts {
		s.AppointmentStatus[a.Status]++
		if a.Date == today {
			s.AppointmentsToday++
		}
	}
	for _, rx := range rxs {
		if rx.Status == domain.PrescriptionActive {
			s.ActivePrescriptions++
		}
	}
	return s
}
