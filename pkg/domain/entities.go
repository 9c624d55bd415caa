// Package domain defines the clinical entities, collection identifiers, change
// records, and rule evaluation primitives shared by clinicdesk.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Collection names one persisted array of entities. Each collection is stored
// under its own key in the key-value backend.
type Collection string

// Persisted collections.
const (
	CollectionPatients      Collection = "patients"
	CollectionAppointments  Collection = "appointments"
	CollectionPrescriptions Collection = "prescriptions"
	CollectionVisits        Collection = "visits"
)

// Collections returns every known collection in a stable order.
func Collections() []Collection {
	return []Collection{CollectionPatients, CollectionAppointments, CollectionPrescriptions, CollectionVisits}
}

// Valid reports whether c names a known collection.
func (c Collection) Valid() bool {
	switch c {
	case CollectionPatients, CollectionAppointments, CollectionPrescriptions, CollectionVisits:
		return true
	}
	return false
}

// ParseCollection converts a storage key into a Collection.
func ParseCollection(s string) (Collection, error) {
	c := Collection(strings.TrimSpace(s))
	if !c.Valid() {
		return "", fmt.Errorf("unknown collection %q", s)
	}
	return c, nil
}

// Calendar layouts used by every entity date and time field.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Record is implemented by every entity kept in a collection.
type Record interface {
	RecordID() string
}

// MaxPatientImages bounds profileImage plus additionalImages.
const MaxPatientImages = 4

// Patient is a registered person. VisitRecords are kept in insertion order,
// which is chronological.
type Patient struct {
	ID               string   `json:"id"`
	FirstName        string   `json:"firstName"`
	LastName         string   `json:"lastName"`
	DateOfBirth      string   `json:"dateOfBirth,omitempty"`
	Age              *int     `json:"age,omitempty"`
	Gender           string   `json:"gender,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	Address          string   `json:"address,omitempty"`
	Email            string   `json:"email,omitempty"`
	BloodType        string   `json:"bloodType,omitempty"`
	Allergies        string   `json:"allergies,omitempty"`
	MedicalHistory   string   `json:"medicalHistory,omitempty"`
	RegistrationDate string   `json:"registrationDate"`
	Visits           int      `json:"visits"`
	VisitRecords     []Visit  `json:"visitRecords"`
	ProfileImage     string   `json:"profileImage,omitempty"`
	AdditionalImages []string `json:"additionalImages,omitempty"`
}

// RecordID implements Record.
func (p Patient) RecordID() string { return p.ID }

// FullName joins first and last name.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ExpectedVisits is the visit counter implied by the embedded records.
func (p Patient) ExpectedVisits() int { return 1 + len(p.VisitRecords) }

// ImageKeys lists the blob keys referenced by the patient.
func (p Patient) ImageKeys() []string {
	keys := make([]string, 0, 1+len(p.AdditionalImages))
	if p.ProfileImage != "" {
		keys = append(keys, p.ProfileImage)
	}
	for _, k := range p.AdditionalImages {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// AgeOn derives the age at t from DateOfBirth, falling back to the stored
// legacy age. The boolean is false when neither is known.
func (p Patient) AgeOn(t time.Time) (int, bool) {
	if p.DateOfBirth != "" {
		dob, err := time.Parse(DateLayout, p.DateOfBirth)
		if err == nil {
			years := t.Year() - dob.Year()
			if t.Month() < dob.Month() || (t.Month() == dob.Month() && t.Day() < dob.Day()) {
				years--
			}
			if years < 0 {
				years = 0
			}
			return years, true
		}
	}
	if p.Age != nil {
		return *p.Age, true
	}
	return 0, false
}

// Validate checks the fields a registration form must provide.
func (p Patient) Validate() error {
	v := &ValidationError{Entity: CollectionPatients}
	if strings.TrimSpace(p.FirstName) == "" {
		v.missing("firstName")
	}
	if strings.TrimSpace(p.LastName) == "" {
		v.missing("lastName")
	}
	if p.DateOfBirth != "" {
		if _, err := time.Parse(DateLayout, p.DateOfBirth); err != nil {
			v.invalid("dateOfBirth must be YYYY-MM-DD")
		}
	}
	if p.Age != nil && *p.Age < 0 {
		v.invalid("age must not be negative")
	}
	if n := len(p.ImageKeys()); n > MaxPatientImages {
		v.invalid(fmt.Sprintf("at most %d images allowed, got %d", MaxPatientImages, n))
	}
	return v.orNil()
}

// UnmarshalJSON accepts age and visits as a number or numeric string. A
// missing visits counter is derived from the embedded records.
func (p *Patient) UnmarshalJSON(data []byte) error {
	type plain Patient
	var aux struct {
		plain
		Age    json.RawMessage `json:"age,omitempty"`
		Visits json.RawMessage `json:"visits"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = Patient(aux.plain)
	age, err := decodeLooseInt(aux.Age)
	if err != nil {
		return fmt.Errorf("patient age: %w", err)
	}
	p.Age = age
	visits, err := decodeLooseInt(aux.Visits)
	if err != nil {
		return fmt.Errorf("patient visits: %w", err)
	}
	if visits == nil || *visits < 1 {
		p.Visits = p.ExpectedVisits()
	} else {
		p.Visits = *visits
	}
	return nil
}

func decodeLooseInt(raw json.RawMessage) (*int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func decodeLooseFloat(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// AppointmentStatus enumerates appointment workflow states.
type AppointmentStatus string

// Appointment statuses.
const (
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentUrgent    AppointmentStatus = "urgent"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentDone      AppointmentStatus = "done"
)

// Valid reports whether s is a known status.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentConfirmed, AppointmentPending, AppointmentUrgent, AppointmentCancelled, AppointmentDone:
		return true
	}
	return false
}

// AppointmentTypeFollowUp marks appointments synthesized from a visit follow-up date.
const AppointmentTypeFollowUp = "Follow-up"

// Appointment is a scheduled slot with a doctor. Either PatientID or
// PatientName identifies the patient; derived appointments carry both.
type Appointment struct {
	ID            string            `json:"id"`
	PatientID     string            `json:"patientId,omitempty"`
	PatientName   string            `json:"patient,omitempty"`
	Doctor        string            `json:"doctor"`
	Department    string            `json:"department,omitempty"`
	Date          string            `json:"date"`
	Time          string            `json:"time,omitempty"`
	Duration      int               `json:"duration,omitempty"`
	Type          string            `json:"type,omitempty"`
	Status        AppointmentStatus `json:"status"`
	Phone         string            `json:"phone,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	SourceVisitID string            `json:"sourceVisitId,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	LastUpdated   time.Time         `json:"lastUpdated"`
}

// RecordID implements Record.
func (a Appointment) RecordID() string { return a.ID }

// UnmarshalJSON accepts duration as a number or numeric string.
func (a *Appointment) UnmarshalJSON(data []byte) error {
	type plain Appointment
	var aux struct {
		plain
		Duration json.RawMessage `json:"duration,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = Appointment(aux.plain)
	d, err := decodeLooseInt(aux.Duration)
	if err != nil {
		return fmt.Errorf("appointment duration: %w", err)
	}
	a.Duration = 0
	if d != nil {
		a.Duration = *d
	}
	return nil
}

// Validate checks required booking fields.
func (a Appointment) Validate() error {
	v := &ValidationError{Entity: CollectionAppointments}
	if strings.TrimSpace(a.PatientID) == "" && strings.TrimSpace(a.PatientName) == "" {
		v.missing("patient")
	}
	if strings.TrimSpace(a.Doctor) == "" {
		v.missing("doctor")
	}
	if a.Date == "" {
		v.missing("date")
	} else if _, err := time.Parse(DateLayout, a.Date); err != nil {
		v.invalid("date must be YYYY-MM-DD")
	}
	if a.Time != "" {
		if _, err := time.Parse(TimeLayout, a.Time); err != nil {
			v.invalid("time must be HH:MM")
		}
	}
	if a.Duration < 0 {
		v.invalid("duration must not be negative")
	}
	if a.Status != "" && !a.Status.Valid() {
		v.invalid(fmt.Sprintf("unknown status %q", a.Status))
	}
	return v.orNil()
}

// PrescriptionStatus enumerates prescription states.
type PrescriptionStatus string

// Prescription statuses.
const (
	PrescriptionActive    PrescriptionStatus = "Active"
	PrescriptionCompleted PrescriptionStatus = "Completed"
	PrescriptionCancelled PrescriptionStatus = "Cancelled"
)

// Valid reports whether s is a known status.
func (s PrescriptionStatus) Valid() bool {
	switch s {
	case PrescriptionActive, PrescriptionCompleted, PrescriptionCancelled:
		return true
	}
	return false
}

// Prescription groups the medication lines issued at one encounter.
// PatientName is denormalized from the patient at creation time.
type Prescription struct {
	ID               string             `json:"id"`
	PatientID        string             `json:"patientId"`
	PatientName      string             `json:"patientName,omitempty"`
	DoctorName       string             `json:"doctorName"`
	Medications      []Medication       `json:"medications"`
	Diagnosis        string             `json:"diagnosis,omitempty"`
	Investigation    string             `json:"investigation,omitempty"`
	Fee              float64            `json:"fee,omitempty"`
	Notes            string             `json:"notes,omitempty"`
	PrescriptionDate string             `json:"prescriptionDate"`
	Status           PrescriptionStatus `json:"status"`
	SourceVisitID    string             `json:"sourceVisitId,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	LastUpdated      time.Time          `json:"lastUpdated"`
}

// RecordID implements Record.
func (p Prescription) RecordID() string { return p.ID }

// UnmarshalJSON accepts fee as a number or numeric string.
func (p *Prescription) UnmarshalJSON(data []byte) error {
	type plain Prescription
	var aux struct {
		plain
		Fee json.RawMessage `json:"fee,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = Prescription(aux.plain)
	fee, err := decodeLooseFloat(aux.Fee)
	if err != nil {
		return fmt.Errorf("prescription fee: %w", err)
	}
	p.Fee = fee
	return nil
}

// Validate checks required prescription fields.
func (p Prescription) Validate() error {
	v := &ValidationError{Entity: CollectionPrescriptions}
	if strings.TrimSpace(p.PatientID) == "" {
		v.missing("patientId")
	}
	if strings.TrimSpace(p.DoctorName) == "" {
		v.missing("doctorName")
	}
	if len(NamedMedications(p.Medications)) == 0 {
		v.missing("medications")
	}
	if p.PrescriptionDate != "" {
		if _, err := time.Parse(DateLayout, p.PrescriptionDate); err != nil {
			v.invalid("prescriptionDate must be YYYY-MM-DD")
		}
	}
	if p.Status != "" && !p.Status.Valid() {
		v.invalid(fmt.Sprintf("unknown status %q", p.Status))
	}
	if p.Fee < 0 {
		v.invalid("fee must not be negative")
	}
	return v.orNil()
}
