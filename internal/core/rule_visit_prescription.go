package core

import (
	"context"
	"fmt"

	"clinicdesk/pkg/domain"
)

const visitPrescriptionRuleName = "visit_prescription"

// VisitPrescriptionRule issues a prescription for every saved encounter that
// lists medications. A patient edit reuses that patient's prescription from
// the same calendar day; an encounter already linked to a prescription
// updates it; anything else creates a new one.
func VisitPrescriptionRule() domain.Rule {
	return visitPrescriptionRule{}
}

type visitPrescriptionRule struct{}

func (visitPrescriptionRule) Name() string { return visitPrescriptionRuleName }

var prescribingOrigins = map[domain.SaveOrigin]bool{
	domain.OriginRegistration: true,
	domain.OriginPatientEdit:  true,
	domain.OriginVisitRecord:  true,
	domain.OriginVisit:        true,
	domain.OriginVisitDetail:  true,
}

func (visitPrescriptionRule) Evaluate(ctx context.Context, tx domain.RuleTx, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		enc := change.Encounter
		if change.Derived() || change.Action == domain.ActionDelete || enc == nil || !prescribingOrigins[change.Origin] {
			continue
		}
		meds := domain.NamedMedications(enc.Medications)
		if len(meds) == 0 {
			continue
		}
		if enc.PatientID == "" {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:       visitPrescriptionRuleName,
				Severity:   domain.SeverityWarn,
				Message:    "encounter has medications but no patient id; prescription skipped",
				Collection: domain.CollectionVisits,
				EntityID:   enc.ID,
			})
			continue
		}
		date := enc.Date
		if date == "" {
			date = tx.Now().Format(domain.DateLayout)
		}

		existing, err := reusablePrescription(ctx, tx, change.Origin, enc, date)
		if err != nil {
			return res, err
		}
		var rx domain.Prescription
		verb := "issued"
		if existing != "" {
			rx, err = tx.UpdatePrescription(ctx, existing, func(p *domain.Prescription) error {
				applyEncounter(p, enc, meds)
				return nil
			})
			verb = "updated"
		} else {
			draft := domain.Prescription{
				PatientID:        enc.PatientID,
				PatientName:      enc.PatientName,
				PrescriptionDate: date,
				Status:           domain.PrescriptionActive,
				SourceVisitID:    enc.ID,
			}
			applyEncounter(&draft, enc, meds)
			rx, err = tx.CreatePrescription(ctx, draft)
		}
		if err != nil {
			return res, fmt.Errorf("prescription for %s: %w", enc.PatientID, err)
		}
		if enc.ID != "" && enc.PrescriptionID != rx.ID {
			if err := tx.LinkVisitPrescription(ctx, enc.PatientID, enc.ID, rx.ID); err != nil {
				return res, fmt.Errorf("link visit %s: %w", enc.ID, err)
			}
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:       visitPrescriptionRuleName,
			Severity:   domain.SeverityLog,
			Message:    fmt.Sprintf("prescription %s %s with %d medication(s)", rx.ID, verb, len(rx.Medications)),
			Collection: domain.CollectionPrescriptions,
			EntityID:   rx.ID,
		})
	}
	return res, nil
}

// reusablePrescription returns the id of the prescription this encounter
// should update in place, or "" when a new one must be created.
func reusablePrescription(ctx context.Context, tx domain.RuleTx, origin domain.SaveOrigin, enc *domain.Visit, date string) (string, error) {
	if enc.PrescriptionID == "" && origin != domain.OriginPatientEdit {
		return "", nil
	}
	all, err := tx.ListPrescriptions(ctx)
	if err != nil {
		return "", err
	}
	if enc.PrescriptionID != "" {
		for _, rx := range all {
			if rx.ID == enc.PrescriptionID {
				return rx.ID, nil
			}
		}
	}
	if origin != domain.OriginPatientEdit {
		return "", nil
	}
	match := ""
	for _, rx := range all {
		if rx.PatientID == enc.PatientID && rx.PrescriptionDate == date && rx.Status != domain.PrescriptionCancelled {
			match = rx.ID
		}
	}
	return match, nil
}

func applyEncounter(rx *domain.Prescription, enc *domain.Visit, meds []domain.Medication) {
	rx.Medications = domain.CloneMedications(meds)
	if enc.DoctorName != "" {
		rx.DoctorName = enc.DoctorName
	}
	if enc.PatientName != "" {
		rx.PatientName = enc.PatientName
	}
	if enc.Diagnosis != "" {
		rx.Diagnosis = enc.Diagnosis
	}
	if enc.Investigation != "" {
		rx.Investigation = enc.Investigation
	}
	if enc.Fee > 0 {
		rx.Fee = enc.Fee
	}
	if enc.Notes != "" {
		rx.Notes = enc.Notes
	}
}

// NewDefaultRulesEngine registers the clinic's consistency rules.
func NewDefaultRulesEngine(dir DoctorDirectory, slot FollowUpSlot) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(FollowUpAppointmentRule(dir, slot))
	engine.Register(VisitPrescriptionRule())
	return engine
}
