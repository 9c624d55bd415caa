package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// VisitSource records which form produced a visit.
type VisitSource string

// Visit sources.
const (
	// VisitSourceRecord marks a visit embedded in Patient.VisitRecords.
	VisitSourceRecord VisitSource = "record"
	// VisitSourceStandalone marks a visit stored in the visits collection.
	VisitSourceStandalone VisitSource = "standalone"
)

// Visit is one clinical encounter. The same shape is embedded inside a
// patient and stored in the visits collection.
type Visit struct {
	ID             string       `json:"id"`
	PatientID      string       `json:"patientId,omitempty"`
	PatientName    string       `json:"patientName,omitempty"`
	Date           string       `json:"date"`
	Time           string       `json:"time,omitempty"`
	Type           string       `json:"type,omitempty"`
	DoctorName     string       `json:"doctorName"`
	Diagnosis      string       `json:"diagnosis,omitempty"`
	Symptoms       string       `json:"symptoms,omitempty"`
	Treatment      string       `json:"treatment,omitempty"`
	Investigation  string       `json:"investigation,omitempty"`
	Medications    []Medication `json:"medications,omitempty"`
	Notes          string       `json:"notes,omitempty"`
	FollowUpDate   string       `json:"followUpDate,omitempty"`
	Status         string       `json:"status,omitempty"`
	Fee            float64      `json:"fee,omitempty"`
	PrescriptionID string       `json:"prescriptionId,omitempty"`
	Source         VisitSource  `json:"source,omitempty"`
}

// RecordID implements Record.
func (v Visit) RecordID() string { return v.ID }

// HasFollowUp reports whether a follow-up date was captured.
func (v Visit) HasFollowUp() bool { return strings.TrimSpace(v.FollowUpDate) != "" }

// Validate checks the fields every encounter must carry.
func (v Visit) Validate() error {
	ve := &ValidationError{Entity: CollectionVisits}
	if strings.TrimSpace(v.PatientID) == "" && strings.TrimSpace(v.PatientName) == "" {
		ve.missing("patient")
	}
	if strings.TrimSpace(v.DoctorName) == "" {
		ve.missing("doctorName")
	}
	if v.Date != "" {
		if _, err := time.Parse(DateLayout, v.Date); err != nil {
			ve.invalid("date must be YYYY-MM-DD")
		}
	}
	if v.HasFollowUp() {
		if _, err := time.Parse(DateLayout, v.FollowUpDate); err != nil {
			ve.invalid("followUpDate must be YYYY-MM-DD")
		}
	}
	if v.Fee < 0 {
		ve.invalid("fee must not be negative")
	}
	return ve.orNil()
}

// Clone returns a deep copy.
func (v Visit) Clone() Visit {
	cp := v
	cp.Medications = CloneMedications(v.Medications)
	return cp
}

// UnmarshalJSON folds the standalone-screen field names (visitDate,
// visitTime, visitType) into the unified shape and accepts fee as a number
// or numeric string.
func (v *Visit) UnmarshalJSON(data []byte) error {
	type plain Visit
	var aux struct {
		plain
		VisitDate string          `json:"visitDate"`
		VisitTime string          `json:"visitTime"`
		VisitType string          `json:"visitType"`
		Fee       json.RawMessage `json:"fee,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	out := Visit(aux.plain)
	fee, err := decodeLooseFloat(aux.Fee)
	if err != nil {
		return fmt.Errorf("visit fee: %w", err)
	}
	out.Fee = fee
	if out.Date == "" {
		out.Date = aux.VisitDate
	}
	if out.Time == "" {
		out.Time = aux.VisitTime
	}
	if out.Type == "" {
		out.Type = aux.VisitType
	}
	*v = out
	return nil
}
