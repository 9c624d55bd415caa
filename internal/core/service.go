// Package core implements the clinic's write path: validation, the primary
// store write, the consistency rules, and event publication, in that order.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinicdesk/internal/blob"
	"clinicdesk/internal/events"
	"clinicdesk/internal/ids"
	"clinicdesk/internal/metrics"
	"clinicdesk/internal/store"
	"clinicdesk/pkg/domain"
)

// ErrImagesDisabled is returned by image operations when no blob store is configured.
var ErrImagesDisabled = errors.New("patient images not configured")

// Service exposes the clinic operations screens use to change records.
type Service struct {
	store  *store.Store
	engine *domain.RulesEngine
	bus    *events.Bus
	ids    *ids.Generator
	images *blob.Images
	dir    DoctorDirectory
	slot   FollowUpSlot
	log    zerolog.Logger
	nowFn  func() time.Time
	// mu serializes saves so rules observe the primary write they follow.
	mu      sync.Mutex
	pending []domain.Change
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option { return func(s *Service) { s.log = log } }

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option { return func(s *Service) { s.nowFn = fn } }

// WithIDs overrides the id generator.
func WithIDs(g *ids.Generator) Option { return func(s *Service) { s.ids = g } }

// WithBus publishes changes on bus.
func WithBus(bus *events.Bus) Option { return func(s *Service) { s.bus = bus } }

// WithRulesEngine replaces the default rule set.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(s *Service) { s.engine = engine }
}

// WithDoctorDirectory sets the doctor -> department table.
func WithDoctorDirectory(dir DoctorDirectory) Option { return func(s *Service) { s.dir = dir } }

// WithFollowUpSlot sets the slot given to synthesized follow-ups.
func WithFollowUpSlot(slot FollowUpSlot) Option { return func(s *Service) { s.slot = slot } }

// WithImages enables patient photo storage.
func WithImages(images *blob.Images) Option { return func(s *Service) { s.images = images } }

// NewService constructs a service over st.
func NewService(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		dir:   DefaultDoctorDirectory(),
		slot:  DefaultFollowUpSlot,
		log:   zerolog.Nop(),
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ids == nil {
		s.ids = ids.New()
	}
	if s.bus == nil {
		s.bus = events.NewBus(events.WithLogger(s.log))
	}
	if s.engine == nil {
		s.engine = NewDefaultRulesEngine(s.dir, s.slot)
	}
	return s
}

// Store returns the record store.
func (s *Service) Store() *store.Store { return s.store }

// Bus returns the event bus changes are published on.
func (s *Service) Bus() *events.Bus { return s.bus }

// Directory returns the doctor directory.
func (s *Service) Directory() DoctorDirectory { return s.dir }

func (s *Service) now() time.Time { return s.nowFn() }

func (s *Service) today() string { return s.now().Format(domain.DateLayout) }

// commit runs the consistency rules over the primary changes and queues
// primary and derived changes for publication once the write lock is released.
func (s *Service) commit(ctx context.Context, primary ...domain.Change) domain.Result {
	tx := newRuleTx(s)
	res := s.engine.Evaluate(ctx, tx, primary)
	for _, v := range res.Violations {
		metrics.RecordRuleOutcome(v.Rule, string(v.Severity))
		ev := s.log.Debug()
		if v.Severity != domain.SeverityLog {
			ev = s.log.Warn()
		}
		ev.Str("rule", v.Rule).Str("entity_id", v.EntityID).Msg(v.Message)
	}
	s.pending = append(s.pending, primary...)
	s.pending = append(s.pending, tx.log.changes...)
	return res
}

// lock serializes writes. The returned func releases the mutex and only then
// publishes the changes committed while it was held, so subscribers may
// write back through the service.
func (s *Service) lock(ctx context.Context) func() {
	s.mu.Lock()
	return func() {
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()
		if len(pending) > 0 {
			s.bus.PublishChanges(ctx, pending)
		}
	}
}

// prepareVisit fills identifiers and defaults on an encounter.
func (s *Service) prepareVisit(v domain.Visit, source domain.VisitSource) domain.Visit {
	v = v.Clone()
	if v.ID == "" {
		v.ID = s.ids.Next(ids.PrefixVisit)
	}
	if v.Date == "" {
		v.Date = s.today()
	}
	v.Medications = domain.NamedMedications(v.Medications)
	v.Source = source
	return v
}

func (s *Service) prepareAppointment(a domain.Appointment) domain.Appointment {
	now := s.now().UTC()
	if a.ID == "" {
		a.ID = s.ids.Next(ids.PrefixAppointment)
	}
	if a.Status == "" {
		a.Status = domain.AppointmentPending
	}
	if a.Department == "" && a.Doctor != "" {
		a.Department = s.dir.Department(a.Doctor)
	}
	if a.Duration == 0 {
		a.Duration = s.slot.Duration
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.LastUpdated = now
	return a
}

func (s *Service) preparePrescription(rx domain.Prescription) domain.Prescription {
	now := s.now().UTC()
	if rx.ID == "" {
		rx.ID = s.ids.Next(ids.PrefixPrescription)
	}
	if rx.Status == "" {
		rx.Status = domain.PrescriptionActive
	}
	if rx.PrescriptionDate == "" {
		rx.PrescriptionDate = s.today()
	}
	rx.Medications = domain.NamedMedications(rx.Medications)
	if rx.CreatedAt.IsZero() {
		rx.CreatedAt = now
	}
	rx.LastUpdated = now
	return rx
}

func clonePatient(p domain.Patient) domain.Patient {
	cp := p
	if p.Age != nil {
		age := *p.Age
		cp.Age = &age
	}
	cp.VisitRecords = make([]domain.Visit, len(p.VisitRecords))
	for i, v := range p.VisitRecords {
		cp.VisitRecords[i] = v.Clone()
	}
	cp.AdditionalImages = append([]string(nil), p.AdditionalImages...)
	return cp
}

// RegisterPatient creates a patient. A non-nil encounter carries the
// clinical part of the registration form (doctor, medications, follow-up);
// it feeds the consistency rules but is not stored as a visit record. The
// registration counts as the patient's first visit.
func (s *Service) RegisterPatient(ctx context.Context, patient domain.Patient, encounter *domain.Visit) (domain.Patient, domain.Result, error) {
	defer s.lock(ctx)()
	if patient.ID == "" {
		patient.ID = s.ids.Next(ids.PrefixPatient)
	}
	if patient.RegistrationDate == "" {
		patient.RegistrationDate = s.today()
	}
	if patient.VisitRecords == nil {
		patient.VisitRecords = []domain.Visit{}
	}
	patient.Visits = patient.ExpectedVisits()
	if err := patient.Validate(); err != nil {
		return domain.Patient{}, domain.Result{}, err
	}
	var enc *domain.Visit
	if encounter != nil {
		e := s.prepareVisit(*encounter, "")
		e.ID = ""
		e.PatientID = patient.ID
		e.PatientName = patient.FullName()
		if e.Date == "" {
			e.Date = patient.RegistrationDate
		}
		if err := e.Validate(); err != nil {
			return domain.Patient{}, domain.Result{}, err
		}
		enc = &e
	}
	if err := s.store.Patients().Append(ctx, patient); err != nil {
		return domain.Patient{}, domain.Result{}, err
	}
	res := s.commit(ctx, domain.Change{
		Collection: domain.CollectionPatients,
		Action:     domain.ActionCreate,
		EntityID:   patient.ID,
		After:      patient,
		Origin:     domain.OriginRegistration,
		Encounter:  enc,
	})
	return patient, res, nil
}

// UpdatePatient applies mutator to a patient. A non-nil encounter is appended
// to the patient's visit records and passed to the consistency rules.
func (s *Service) UpdatePatient(ctx context.Context, id string, mutator func(*domain.Patient) error, encounter *domain.Visit) (domain.Patient, domain.Result, error) {
	defer s.lock(ctx)()
	patient, _, res, err := s.updatePatient(ctx, id, mutator, encounter, domain.OriginPatientEdit)
	return patient, res, err
}

// RecordVisit appends a visit record to a patient and bumps the visit counter.
func (s *Service) RecordVisit(ctx context.Context, patientID string, visit domain.Visit) (domain.Visit, domain.Result, error) {
	defer s.lock(ctx)()
	_, enc, res, err := s.updatePatient(ctx, patientID, nil, &visit, domain.OriginVisitRecord)
	if err != nil {
		return domain.Visit{}, res, err
	}
	return *enc, res, nil
}

func (s *Service) updatePatient(ctx context.Context, id string, mutator func(*domain.Patient) error, encounter *domain.Visit, origin domain.SaveOrigin) (domain.Patient, *domain.Visit, domain.Result, error) {
	var enc *domain.Visit
	if encounter != nil {
		e := s.prepareVisit(*encounter, domain.VisitSourceRecord)
		enc = &e
	}
	var before, after domain.Patient
	found, err := s.store.Patients().Update(ctx, id, func(p *domain.Patient) error {
		before = clonePatient(*p)
		if mutator != nil {
			if err := mutator(p); err != nil {
				return err
			}
		}
		if enc != nil {
			enc.PatientID = p.ID
			enc.PatientName = p.FullName()
			if err := enc.Validate(); err != nil {
				return err
			}
			p.VisitRecords = append(p.VisitRecords, enc.Clone())
			p.Visits = p.ExpectedVisits()
		}
		if err := p.Validate(); err != nil {
			return err
		}
		after = clonePatient(*p)
		return nil
	})
	if err != nil {
		return domain.Patient{}, nil, domain.Result{}, err
	}
	if !found {
		return domain.Patient{}, nil, domain.Result{}, domain.NotFoundError(domain.CollectionPatients, id)
	}
	res := s.commit(ctx, domain.Change{
		Collection: domain.CollectionPatients,
		Action:     domain.ActionUpdate,
		EntityID:   id,
		Before:     before,
		After:      after,
		Origin:     origin,
		Encounter:  enc,
	})
	if enc != nil {
		if current, ok, err := s.store.Patients().Find(ctx, id); err == nil && ok {
			after = current
			for _, v := range current.VisitRecords {
				if v.ID == enc.ID {
					linked := v
					enc = &linked
				}
			}
		}
	}
	return after, enc, res, nil
}

// DeletePatient removes a patient and their stored photos. Appointments and
// prescriptions referencing the patient are left in place.
func (s *Service) DeletePatient(ctx context.Context, id string) (domain.Result, error) {
	defer s.lock(ctx)()
	patient, ok, err := s.store.Patients().Find(ctx, id)
	if err != nil {
		return domain.Result{}, err
	}
	if !ok {
		return domain.Result{}, domain.NotFoundError(domain.CollectionPatients, id)
	}
	removed, err := s.store.Patients().Remove(ctx, id)
	if err != nil {
		return domain.Result{}, err
	}
	if !removed {
		return domain.Result{}, domain.NotFoundError(domain.CollectionPatients, id)
	}
	if s.images != nil {
		if err := s.images.Remove(ctx, patient.ImageKeys()...); err != nil {
			s.log.Warn().Err(err).Str("patient_id", id).Msg("remove patient images")
		}
	}
	return s.commit(ctx, domain.Change{
		Collection: domain.CollectionPatients,
		Action:     domain.ActionDelete,
		EntityID:   id,
		Before:     patient,
		Origin:     domain.OriginPatientEdit,
	}), nil
}

// CreateVisit stores a standalone visit in the visits collection.
func (s *Service) CreateVisit(ctx context.Context, visit domain.Visit) (domain.Visit, domain.Result, error) {
	defer s.lock(ctx)()
	v := s.prepareVisit(visit, domain.VisitSourceStandalone)
	if v.PatientID != "" {
		patient, ok, err := s.store.Patients().Find(ctx, v.PatientID)
		if err != nil {
			return domain.Visit{}, domain.Result{}, err
		}
		if !ok {
			return domain.Visit{}, domain.Result{}, domain.NotFoundError(domain.CollectionPatients, v.PatientID)
		}
		if v.PatientName == "" {
			v.PatientName = patient.FullName()
		}
	}
	if err := v.Validate(); err != nil {
		return domain.Visit{}, domain.Result{}, err
	}
	if err := s.store.Visits().Append(ctx, v); err != nil {
		return domain.Visit{}, domain.Result{}, err
	}
	enc := v.Clone()
	res := s.commit(ctx, domain.Change{
		Collection: domain.CollectionVisits,
		Action:     domain.ActionCreate,
		EntityID:   v.ID,
		After:      v,
		Origin:     domain.OriginVisit,
		Encounter:  &enc,
	})
	if current, ok, err := s.store.Visits().Find(ctx, v.ID); err == nil && ok {
		v = current
	}
	return v, res, nil
}

// UpdateVisit edits a standalone visit from the visit detail screen.
func (s *Service) UpdateVisit(ctx context.Context, id string, mutator func(*domain.Visit) error) (domain.Visit, domain.Result, error) {
	defer s.lock(ctx)()
	var before, after domain.Visit
	found, err := s.store.Visits().Update(ctx, id, func(v *domain.Visit) error {
		before = v.Clone()
		if err := mutator(v); err != nil {
			return err
		}
		v.Medications = domain.NamedMedications(v.Medications)
		v.Source = domain.VisitSourceStandalone
		if err := v.Validate(); err != nil {
			return err
		}
		after = v.Clone()
		return nil
	})
	if err != nil {
		return domain.Visit{}, domain.Result{}, err
	}
	if !found {
		return domain.Visit{}, domain.Result{}, domain.NotFoundError(domain.CollectionVisits, id)
	}
	enc := after.Clone()
	res := s.commit(ctx, domain.Change{
		Collection: domain.CollectionVisits,
		Action:     domain.ActionUpdate,
		EntityID:   id,
		Before:     before,
		After:      after,
		Origin:     domain.OriginVisitDetail,
		Encounter:  &enc,
	})
	if current, ok, err := s.store.Visits().Find(ctx, id); err == nil && ok {
		after = current
	}
	return after, res, nil
}

// BookAppointment schedules an appointment. When PatientID is set the
// patient must exist and supplies the name and phone.
func (s *Service) BookAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, domain.Result, error) {
	defer s.lock(ctx)()
	if appt.PatientID != "" {
		patient, ok, err := s.store.Patients().Find(ctx, appt.PatientID)
		if err != nil {
			return domain.Appointment{}, domain.Result{}, err
		}
		if !ok {
			return domain.Appointment{}, domain.Result{}, domain.NotFoundError(domain.CollectionPatients, appt.PatientID)
		}
		if appt.PatientName == "" {
			appt.PatientName = patient.FullName()
		}
		if appt.Phone == "" {
			appt.Phone = patient.Phone
		}
	}
	appt = s.prepareAppointment(appt)
	if err := appt.Validate(); err != nil {
		return domain.Appointment{}, domain.Result{}, err
	}
	if err := s.store.Appointments().Append(ctx, appt); err != nil {
		return domain.Appointment{}, domain.Result{}, err
	}
	res := s.commit(ctx, domain.Change{
		Collection: domain.CollectionAppointments,
		Action:     domain.ActionCreate,
		EntityID:   appt.ID,
		After:      appt,
		Origin:     domain.OriginAppointment,
	})
	return appt, res, nil
}

// UpdateAppointment applies mutator to an appointment.
func (s *Service) UpdateAppointment(ctx context.Context, id string, mutator func(*domain.Appointment) error) (domain.Appointment, domain.Result, error) {
	defer s.lock(ctx)()
	var before, after domain.Appointment
	found, err := s.store.Appointments().Update(ctx, id, func(a *domain.Appointment) error {
		before = *a
		if err := mutator(a); err != nil {
			return err
		}
		a.LastUpdated = s.now().UTC()
		if err := a.Validate(); err != nil {
			return err
		}
		after = *a
		return nil
	})
	if err != nil {
		return domain.Appointment{}, domain.Result{}, err
	}
	if !found {
		return domain.Appointment{}, domain.Result{}, domain.NotFoundError(domain.CollectionAppointments, id)
	}
	res := s.commit(ctx, domain.Change{
		Collection: domain.CollectionAppointments,
		Action:     domain.ActionUpdate,
		EntityID:   id,
		Before:     before,
		After:      after,
		Origin:     domain.OriginAppointment,
	})
	return after, res, nil
}

// UpdateAppointmentStatus moves an appointment to status.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id string, status domain.AppointmentStatus) (domain.Appointment, domain.Result, error) {
	if !status.Valid() {
		ve := domain.NewValidationError(domain.CollectionAppointments)
		ve.Problems = append(ve.Problems, fmt.Sprintf("unknown status %q", status))
		return domain.Appointment{}, domain.Result{}, ve
	}
	return s.UpdateAppointment(ctx, id, func(a *domain.Appointment) error {
		a.Status = status
		return nil
	})
}

// MarkAppointmentDone moves an appointment to done. No other record changes.
func (s *Service) MarkAppointmentDone(ctx context.Context, id string) (domain.Appointment, domain.Result, error) {
	return s.UpdateAppointmentStatus(ctx, id, domain.AppointmentDone)
}

// CreatePrescription issues a prescription for an existing patient.
func (s *Service) CreatePrescription(ctx context.Context, rx domain.Prescription) (domain.Prescription, domain.Result, error) {
	defer s.lock(ctx)()
	if rx.PatientID != "" {
		patient, ok, err := s.store.Patients().Find(ctx, rx.PatientID)
		if err != nil {
			return domain.Prescription{}, domain.Result{}, err
		}
		if !ok {
			return domain.Prescription{}, domain.Result{}, domain.NotFoundError(domain.CollectionPatients, rx.PatientID)
		}
		if rx.PatientName == "" {
			rx.PatientName = patient.FullName()
		}
	}
	rx = s.preparePrescription(rx)
	if err := rx.Validate(); err != nil {
		return domain.Prescription{}, domain.Result{}, err
	}
	if err := s.store.Prescriptions().Append(ctx, rx); err != nil {
		return domain.Prescription{}, domain.Result{}, err
	}
	res := s.commit(ctx, domain.Change{
		Collection: domain.CollectionPrescriptions,
		Action:     domain.ActionCreate,
		EntityID:   rx.ID,
		After:      rx,
		Origin:     domain.OriginPrescription,
	})
	return rx, res, nil
}

func (s *Service) patchPrescription(ctx context.Context, id string, mutator func(*domain.Prescription) error) (domain.Prescription, domain.Prescription, error) {
	var before, after domain.Prescription
	found, err := s.store.Prescriptions().Update(ctx, id, func(p *domain.Prescription) error {
		before = *p
		before.Medications = domain.CloneMedications(p.Medications)
		if err := mutator(p); err != nil {
			return err
		}
		p.Medications = domain.NamedMedications(p.Medications)
		p.LastUpdated = s.now().UTC()
		if err := p.Validate(); err != nil {
			return err
		}
		after = *p
		return nil
	})
	if err != nil {
		return domain.Prescription{}, domain.Prescription{}, err
	}
	if !found {
		return domain.Prescription{}, domain.Prescription{}, domain.NotFoundError(domain.CollectionPrescriptions, id)
	}
	return before, after, nil
}

// UpdatePrescription applies mutator to a prescription.
func (s *Service) UpdatePrescription(ctx context.Context, id string, mutator func(*domain.Prescription) error) (domain.Prescription, domain.Result, error) {
	defer s.lock(ctx)()
	before, after, err := s.patchPrescription(ctx, id, mutator)
	if err != nil {
		return domain.Prescription{}, domain.Result{}, err
	}
	res := s.commit(ctx, domain.Change{
		Collection: domain.CollectionPrescriptions,
		Action:     domain.ActionUpdate,
		EntityID:   id,
		Before:     before,
		After:      after,
		Origin:     domain.OriginPrescription,
	})
	return after, res, nil
}

// UpdatePrescriptionStatus moves a prescription to status. Cancelling is the
// only way to retire a prescription.
func (s *Service) UpdatePrescriptionStatus(ctx context.Context, id string, status domain.PrescriptionStatus) (domain.Prescription, domain.Result, error) {
	if !status.Valid() {
		ve := domain.NewValidationError(domain.CollectionPrescriptions)
		ve.Problems = append(ve.Problems, fmt.Sprintf("unknown status %q", status))
		return domain.Prescription{}, domain.Result{}, ve
	}
	return s.UpdatePrescription(ctx, id, func(p *domain.Prescription) error {
		p.Status = status
		return nil
	})
}
