package core

import (
	"context"
	"time"

	"clinicdesk/pkg/domain"
)

var (
	_ domain.RuleTx     = (*ruleTx)(nil)
	_ domain.RuleScoper = (*ruleTx)(nil)
)

// changeLog collects the derived writes performed while rules run.
type changeLog struct {
	changes []domain.Change
}

// ruleTx gives rules read access to the store and records every derived
// write they make. Writes are immediate; nothing is rolled back.
type ruleTx struct {
	svc  *Service
	rule string
	log  *changeLog
}

func newRuleTx(svc *Service) *ruleTx {
	return &ruleTx{svc: svc, log: &changeLog{}}
}

func (tx *ruleTx) ForRule(name string) domain.RuleTx {
	return &ruleTx{svc: tx.svc, rule: name, log: tx.log}
}

func (tx *ruleTx) record(c domain.Change) {
	c.Origin = domain.OriginRule
	c.Rule = tx.rule
	tx.log.changes = append(tx.log.changes, c)
}

func (tx *ruleTx) Now() time.Time { return tx.svc.now() }

func (tx *ruleTx) FindPatient(ctx context.Context, id string) (domain.Patient, bool, error) {
	return tx.svc.store.Patients().Find(ctx, id)
}

func (tx *ruleTx) ListAppointments(ctx context.Context) ([]domain.Appointment, error) {
	return tx.svc.store.Appointments().Read(ctx)
}

func (tx *ruleTx) ListPrescriptions(ctx context.Context) ([]domain.Prescription, error) {
	return tx.svc.store.Prescriptions().Read(ctx)
}

func (tx *ruleTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	appt = tx.svc.prepareAppointment(appt)
	if err := appt.Validate(); err != nil {
		return domain.Appointment{}, err
	}
	if err := tx.svc.store.Appointments().Append(ctx, appt); err != nil {
		return domain.Appointment{}, err
	}
	tx.record(domain.Change{Collection: domain.CollectionAppointments, Action: domain.ActionCreate, EntityID: appt.ID, After: appt})
	return appt, nil
}

func (tx *ruleTx) CreatePrescription(ctx context.Context, rx domain.Prescription) (domain.Prescription, error) {
	rx = tx.svc.preparePrescription(rx)
	if err := rx.Validate(); err != nil {
		return domain.Prescription{}, err
	}
	if err := tx.svc.store.Prescriptions().Append(ctx, rx); err != nil {
		return domain.Prescription{}, err
	}
	tx.record(domain.Change{Collection: domain.CollectionPrescriptions, Action: domain.ActionCreate, EntityID: rx.ID, After: rx})
	return rx, nil
}

func (tx *ruleTx) UpdatePrescription(ctx context.Context, id string, mutator func(*domain.Prescription) error) (domain.Prescription, error) {
	before, after, err := tx.svc.patchPrescription(ctx, id, mutator)
	if err != nil {
		return domain.Prescription{}, err
	}
	tx.record(domain.Change{Collection: domain.CollectionPrescriptions, Action: domain.ActionUpdate, EntityID: id, Before: before, After: after})
	return after, nil
}

// LinkVisitPrescription stores prescriptionID on the visit, looking first in
// the standalone visits collection and then in the patient's embedded records.
func (tx *ruleTx) LinkVisitPrescription(ctx context.Context, patientID, visitID, prescriptionID string) error {
	var linked domain.Visit
	found, err := tx.svc.store.Visits().Update(ctx, visitID, func(v *domain.Visit) error {
		v.PrescriptionID = prescriptionID
		linked = *v
		return nil
	})
	if err != nil {
		return err
	}
	if found {
		tx.record(domain.Change{Collection: domain.CollectionVisits, Action: domain.ActionUpdate, EntityID: visitID, After: linked})
		return nil
	}

	var patient domain.Patient
	embedded := false
	found, err = tx.svc.store.Patients().Update(ctx, patientID, func(p *domain.Patient) error {
		for i := range p.VisitRecords {
			if p.VisitRecords[i].ID == visitID {
				p.VisitRecords[i].PrescriptionID = prescriptionID
				embedded = true
				break
			}
		}
		if !embedded {
			return domain.NotFoundError(domain.CollectionVisits, visitID)
		}
		patient = *p
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return domain.NotFoundError(domain.CollectionPatients, patientID)
	}
	tx.record(domain.Change{Collection: domain.CollectionPatients, Action: domain.ActionUpdate, EntityID: patientID, After: patient})
	return nil
}
