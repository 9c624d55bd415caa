package core

import (
	"context"
	"fmt"

	"clinicdesk/pkg/domain"
)

const followUpRuleName = "follow_up_appointment"

// FollowUpSlot is the time and length given to synthesized follow-ups.
type FollowUpSlot struct {
	Time     string
	Duration int
}

// DefaultFollowUpSlot books follow-ups at 10:00 for 30 minutes.
var DefaultFollowUpSlot = FollowUpSlot{Time: "10:00", Duration: 30}

// FollowUpAppointmentRule books a confirmed "Follow-up" appointment for every
// saved encounter that carries a follow-up date.
func FollowUpAppointmentRule(dir DoctorDirectory, slot FollowUpSlot) domain.Rule {
	if slot.Time == "" {
		slot.Time = DefaultFollowUpSlot.Time
	}
	if slot.Duration <= 0 {
		slot.Duration = DefaultFollowUpSlot.Duration
	}
	return followUpAppointmentRule{dir: dir, slot: slot}
}

type followUpAppointmentRule struct {
	dir  DoctorDirectory
	slot FollowUpSlot
}

func (followUpAppointmentRule) Name() string { return followUpRuleName }

func (r followUpAppointmentRule) Evaluate(ctx context.Context, tx domain.RuleTx, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	var booked []domain.Appointment
	loaded := false
	for _, change := range changes {
		enc := change.Encounter
		if change.Derived() || change.Action == domain.ActionDelete || enc == nil || !enc.HasFollowUp() {
			continue
		}
		if !loaded {
			appts, err := tx.ListAppointments(ctx)
			if err != nil {
				return res, err
			}
			booked, loaded = appts, true
		}
		if enc.ID != "" && alreadyBooked(booked, enc.ID, enc.FollowUpDate) {
			continue
		}
		appt := domain.Appointment{
			PatientID:     enc.PatientID,
			PatientName:   enc.PatientName,
			Doctor:        enc.DoctorName,
			Department:    r.dir.Department(enc.DoctorName),
			Date:          enc.FollowUpDate,
			Time:          r.slot.Time,
			Duration:      r.slot.Duration,
			Type:          domain.AppointmentTypeFollowUp,
			Status:        domain.AppointmentConfirmed,
			SourceVisitID: enc.ID,
		}
		if enc.Date != "" {
			appt.Notes = "Follow-up for visit on " + enc.Date
		}
		if enc.PatientID != "" {
			patient, ok, err := tx.FindPatient(ctx, enc.PatientID)
			if err != nil {
				return res, err
			}
			if ok {
				appt.PatientName = patient.FullName()
				appt.Phone = patient.Phone
			}
		}
		created, err := tx.CreateAppointment(ctx, appt)
		if err != nil {
			return res, fmt.Errorf("book follow-up on %s: %w", enc.FollowUpDate, err)
		}
		booked = append(booked, created)
		res.Violations = append(res.Violations, domain.Violation{
			Rule:       followUpRuleName,
			Severity:   domain.SeverityLog,
			Message:    fmt.Sprintf("follow-up appointment booked for %s with %s", created.Date, created.Doctor),
			Collection: domain.CollectionAppointments,
			EntityID:   created.ID,
		})
	}
	return res, nil
}

func alreadyBooked(appts []domain.Appointment, visitID, date string) bool {
	for _, a := range appts {
		if a.SourceVisitID == visitID && a.Date == date {
			return true
		}
	}
	return false
}
